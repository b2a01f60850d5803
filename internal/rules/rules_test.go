package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/pkg/money"
)

type fakeContext struct {
	now         time.Time
	positions   map[string][]domain.Position
	lockedOut   map[string]bool
	dailyPnL    map[string]money.Money
	lastPrice   map[string]money.Money
	tickInfo    map[string]domain.TickInfo
	stopLoss    map[string]*protective.Entry
	tradeCounts map[string]int
	timers      map[string]bool
	applied     []events.Violation
}

func newFakeContext(now time.Time) *fakeContext {
	return &fakeContext{
		now:         now,
		positions:   make(map[string][]domain.Position),
		lockedOut:   make(map[string]bool),
		dailyPnL:    make(map[string]money.Money),
		lastPrice:   make(map[string]money.Money),
		tickInfo:    make(map[string]domain.TickInfo),
		stopLoss:    make(map[string]*protective.Entry),
		tradeCounts: make(map[string]int),
		timers:      make(map[string]bool),
	}
}

func (f *fakeContext) Now() time.Time { return f.now }

func (f *fakeContext) OpenPositions(accountID string) []domain.Position { return f.positions[accountID] }

func (f *fakeContext) PositionByContract(accountID, contractID string) (domain.Position, bool) {
	for _, p := range f.positions[accountID] {
		if p.ContractID == contractID {
			return p, true
		}
	}
	return domain.Position{}, false
}

func (f *fakeContext) IsLockedOut(ctx context.Context, accountID string) (bool, error) {
	return f.lockedOut[accountID], nil
}

func (f *fakeContext) DailyRealizedPnL(ctx context.Context, accountID string) (money.Money, error) {
	return f.dailyPnL[accountID], nil
}

func (f *fakeContext) LastPrice(symbolRoot string) (money.Money, bool) {
	p, ok := f.lastPrice[symbolRoot]
	return p, ok
}

func (f *fakeContext) TickInfo(symbolRoot string) (domain.TickInfo, bool) {
	t, ok := f.tickInfo[symbolRoot]
	return t, ok
}

func (f *fakeContext) StopLossFor(ctx context.Context, contractID string, position domain.Position) (*protective.Entry, error) {
	return f.stopLoss[contractID], nil
}

func (f *fakeContext) TradeCountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	return f.tradeCounts[accountID], nil
}

func (f *fakeContext) StartTimer(ctx context.Context, name, accountID, kind, payload string, d time.Duration, cb func()) error {
	f.timers[name] = true
	return nil
}

func (f *fakeContext) CancelTimer(ctx context.Context, name string) error {
	delete(f.timers, name)
	return nil
}

func (f *fakeContext) HasTimer(name string) bool { return f.timers[name] }

func (f *fakeContext) ApplyViolation(ctx context.Context, v events.Violation) {
	f.applied = append(f.applied, v)
}

func TestMaxContractsRule_S1_FlattenAndCancelOnBreach(t *testing.T) {
	// S1: limit 5, positions sum to 6 contracts -> flatten_and_cancel.
	ec := newFakeContext(time.Now())
	ec.positions["A1"] = []domain.Position{
		{AccountID: "A1", SymbolRoot: "ES", ContractID: "C1", Quantity: 4},
		{AccountID: "A1", SymbolRoot: "NQ", ContractID: "C2", Quantity: 2},
	}
	rule := NewMaxContractsRule(MaxContractsConfig{Enabled: true, Limit: 5})

	evt := events.Event{Kind: events.PositionUpdated, Data: events.PositionData{
		AccountID: "A1", Position: domain.Position{AccountID: "A1", ContractID: "C2", SymbolRoot: "NQ", Quantity: 2},
	}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, events.ActionFlattenAndCancel, v.Action)
}

func TestMaxContractsRule_AtLimitIsNotABreach(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.positions["A1"] = []domain.Position{{AccountID: "A1", ContractID: "C1", Quantity: 5}}
	rule := NewMaxContractsRule(MaxContractsConfig{Enabled: true, Limit: 5})

	evt := events.Event{Kind: events.PositionUpdated, Data: events.PositionData{AccountID: "A1", Position: ec.positions["A1"][0]}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDailyRealizedLossRule_S2_HardLockoutOnBreach(t *testing.T) {
	// S2: limit -1000.00, new total -1050.00 -> flatten_and_cancel + hard lockout.
	ec := newFakeContext(time.Now())
	ec.dailyPnL["A1"] = money.New(-1050.00)
	rule := NewDailyRealizedLossRule(RealizedPnLLimitConfig{Enabled: true, Limit: money.New(-1000.00)})

	pnl := money.New(-50.00)
	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{
		AccountID: "A1",
		Trade:     domain.Trade{AccountID: "A1", RealizedPnL: &pnl},
	}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, events.ActionFlattenAndCancel, v.Action)
	assert.True(t, v.LockoutRequired)
	assert.Equal(t, "daily", v.LockoutCategory)
}

func TestDailyRealizedLossRule_HalfTurnIgnored(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.dailyPnL["A1"] = money.New(-5000.00)
	rule := NewDailyRealizedLossRule(RealizedPnLLimitConfig{Enabled: true, Limit: money.New(-1000.00)})

	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{
		AccountID: "A1", Trade: domain.Trade{AccountID: "A1", RealizedPnL: nil},
	}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDailyRealizedLossRule_AlreadyLockedOutShortCircuits(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.dailyPnL["A1"] = money.New(-5000.00)
	ec.lockedOut["A1"] = true
	rule := NewDailyRealizedLossRule(RealizedPnLLimitConfig{Enabled: true, Limit: money.New(-1000.00)})

	pnl := money.New(-50.00)
	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{AccountID: "A1", Trade: domain.Trade{AccountID: "A1", RealizedPnL: &pnl}}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTradeFrequencyLimitRule_S5_ShortestTierWinsFirst(t *testing.T) {
	// S5: per_minute limit 3 breached (count 4); per_hour tier never reached.
	ec := newFakeContext(time.Now())
	ec.tradeCounts["A1"] = 4
	rule := NewTradeFrequencyLimitRule(TradeFrequencyConfig{
		Enabled: true,
		Tiers: []FrequencyTier{
			{Name: "per_minute", Window: time.Minute, Limit: 3, CooldownDuration: 5 * time.Minute},
			{Name: "per_hour", Window: time.Hour, Limit: 20, CooldownDuration: 30 * time.Minute},
		},
	})

	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{AccountID: "A1", Trade: domain.Trade{AccountID: "A1"}}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, events.ActionFlatten, v.Action)
	assert.Equal(t, 5*time.Minute, v.LockoutDuration)
	assert.Equal(t, "trade_frequency", v.LockoutCategory)
}

func TestTradeFrequencyLimitRule_NoBreachIsNil(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.tradeCounts["A1"] = 2
	rule := NewTradeFrequencyLimitRule(TradeFrequencyConfig{
		Enabled: true,
		Tiers:   []FrequencyTier{{Name: "per_minute", Window: time.Minute, Limit: 3}},
	})
	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{AccountID: "A1"}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCooldownAfterLossRule_HighestApplicableTierWins(t *testing.T) {
	ec := newFakeContext(time.Now())
	rule := NewCooldownAfterLossRule(CooldownAfterLossConfig{
		Enabled: true,
		Tiers: []LossTier{
			{LossAmount: money.New(100), CooldownDuration: 5 * time.Minute},
			{LossAmount: money.New(200), CooldownDuration: 15 * time.Minute},
			{LossAmount: money.New(300), CooldownDuration: 30 * time.Minute},
		},
	})

	loss := money.New(-250) // >= 200 tier, < 300 tier
	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{AccountID: "A1", Trade: domain.Trade{AccountID: "A1", RealizedPnL: &loss}}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 15*time.Minute, v.LockoutDuration)
}

func TestCooldownAfterLossRule_SkipsWhenAlreadyInCooldown(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.lockedOut["A1"] = true
	rule := NewCooldownAfterLossRule(CooldownAfterLossConfig{Enabled: true, Tiers: []LossTier{{LossAmount: money.New(1), CooldownDuration: time.Minute}}})

	loss := money.New(-500)
	evt := events.Event{Kind: events.TradeExecuted, Data: events.TradeData{AccountID: "A1", Trade: domain.Trade{AccountID: "A1", RealizedPnL: &loss}}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNoStopLossGraceRule_OrderPlacedCancelsTimer(t *testing.T) {
	ec := newFakeContext(time.Now())
	rule := NewNoStopLossGraceRule(NoStopLossGraceConfig{Enabled: true, RequireWithinSeconds: 60})

	position := domain.Position{AccountID: "A1", ContractID: "C1", SymbolRoot: "ES", Side: domain.SideLong, EntryPrice: money.New(5000)}
	opened := events.Event{Kind: events.PositionOpened, Data: events.PositionData{AccountID: "A1", Position: position}}
	_, err := rule.Evaluate(context.Background(), opened, ec)
	require.NoError(t, err)
	assert.True(t, ec.HasTimer(timerName("C1")))

	ec.positions["A1"] = []domain.Position{position}
	stopPrice := money.New(4990)
	orderPlaced := events.Event{Kind: events.OrderPlaced, Data: events.OrderData{
		AccountID: "A1",
		Order:     domain.Order{OrderID: "O1", ContractID: "C1", Type: domain.OrderTypeStop, StopPrice: &stopPrice},
	}}
	_, err = rule.Evaluate(context.Background(), orderPlaced, ec)
	require.NoError(t, err)
	assert.False(t, ec.HasTimer(timerName("C1")))
}

func TestNoStopLossGraceRule_NonStopOrderDoesNotCancelTimer(t *testing.T) {
	ec := newFakeContext(time.Now())
	rule := NewNoStopLossGraceRule(NoStopLossGraceConfig{Enabled: true, RequireWithinSeconds: 60})

	position := domain.Position{AccountID: "A1", ContractID: "C1", SymbolRoot: "ES", Side: domain.SideLong, EntryPrice: money.New(5000)}
	opened := events.Event{Kind: events.PositionOpened, Data: events.PositionData{AccountID: "A1", Position: position}}
	_, _ = rule.Evaluate(context.Background(), opened, ec)
	ec.positions["A1"] = []domain.Position{position}

	limitAbove := money.New(5050) // LONG, limit above entry -> take_profit, not stop_loss
	orderPlaced := events.Event{Kind: events.OrderPlaced, Data: events.OrderData{
		AccountID: "A1",
		Order:     domain.Order{OrderID: "O2", ContractID: "C1", Type: domain.OrderTypeLimit, LimitPrice: &limitAbove},
	}}
	_, _ = rule.Evaluate(context.Background(), orderPlaced, ec)
	assert.True(t, ec.HasTimer(timerName("C1")))
}

func TestSessionBlockOutsideRule_OutsideWindowCloses(t *testing.T) {
	clk := clock.New(clock.Frozen{At: time.Now()})
	rule := NewSessionBlockOutsideRule(SessionBlockConfig{
		Enabled: true, Start: "09:30", End: "16:00", Timezone: "America/New_York",
	}, clk)

	ny, _ := time.LoadLocation("America/New_York")
	afterHours := time.Date(2026, 7, 29, 20, 0, 0, 0, ny)
	ec := newFakeContext(afterHours)
	evt := events.Event{
		Kind:      events.PositionUpdated,
		Timestamp: afterHours,
		Data:      events.PositionData{AccountID: "A1", Position: domain.Position{AccountID: "A1", SymbolRoot: "ES", ContractID: "C1"}},
	}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, events.ActionClosePosition, v.Action)
}

func TestSymbolBlocksRule_WildcardMatch(t *testing.T) {
	ec := newFakeContext(time.Now())
	rule := NewSymbolBlocksRule(SymbolBlocksConfig{Enabled: true, BlockedSymbols: []string{"MN*"}})

	evt := events.Event{Kind: events.PositionOpened, Data: events.PositionData{
		AccountID: "A1", Position: domain.Position{AccountID: "A1", SymbolRoot: "MNQ", ContractID: "C1"},
	}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, events.ActionClosePosition, v.Action)
}

func TestSymbolBlocksRule_NoMatchIsNil(t *testing.T) {
	ec := newFakeContext(time.Now())
	rule := NewSymbolBlocksRule(SymbolBlocksConfig{Enabled: true, BlockedSymbols: []string{"MN*"}})
	evt := events.Event{Kind: events.PositionOpened, Data: events.PositionData{
		AccountID: "A1", Position: domain.Position{AccountID: "A1", SymbolRoot: "ES", ContractID: "C1"},
	}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAuthLossGuardRule_AlertOnlyNeverDestructive(t *testing.T) {
	ec := newFakeContext(time.Now())
	rule := NewAuthLossGuardRule(SimpleToggleConfig{Enabled: true})

	evt := events.Event{Kind: events.SDKDisconnected, Data: events.ConnectionData{AccountID: "A1", Reason: "network"}}
	v, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, events.ActionAlertOnly, v.Action)

	connected, reason, _ := rule.ConnectionState("A1")
	assert.False(t, connected)
	assert.Equal(t, "network", reason)
}

func TestTradeManagementRule_PlacesbracketOnOpen(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.tickInfo["ES"] = domain.TickInfo{TickSize: money.New(0.25), TickValue: money.New(12.50)}
	rule := NewTradeManagementRule(TradeManagementConfig{
		Enabled:      true,
		AutoStopLoss: DistanceConfig{Enabled: true, DistanceTicks: 40},
		TakeProfit:   DistanceConfig{Enabled: true, DistanceTicks: 80},
	})

	position := domain.Position{AccountID: "A1", SymbolRoot: "ES", ContractID: "C1", Side: domain.SideLong, EntryPrice: money.New(5000)}
	evt := events.Event{Kind: events.PositionOpened, Data: events.PositionData{AccountID: "A1", Position: position}}
	action, err := rule.Evaluate(context.Background(), evt, ec)
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, events.ActionPlaceBracketOrder, action.Kind)
	assert.Equal(t, "4990.00", action.StopPrice.String())   // 40 ticks * 0.25 below entry
	assert.Equal(t, "5020.00", action.TargetPrice.String()) // 80 ticks * 0.25 above entry
}

func TestTradeManagementRule_TrailingStopNeverLoosens(t *testing.T) {
	ec := newFakeContext(time.Now())
	ec.tickInfo["ES"] = domain.TickInfo{TickSize: money.New(0.25), TickValue: money.New(12.50)}
	rule := NewTradeManagementRule(TradeManagementConfig{
		Enabled:      true,
		TrailingStop: DistanceConfig{Enabled: true, DistanceTicks: 40},
	})

	pos1 := domain.Position{AccountID: "A1", SymbolRoot: "ES", ContractID: "C1", Side: domain.SideLong, EntryPrice: money.New(5020)}
	evt1 := events.Event{Kind: events.PositionUpdated, Data: events.PositionData{AccountID: "A1", Position: pos1}}
	a1, err := rule.Evaluate(context.Background(), evt1, ec)
	require.NoError(t, err)
	require.NotNil(t, a1)
	assert.Equal(t, "5010.00", a1.TrailPrice.String())

	// Price pulls back (entry "moves down" for this synthetic test) — trail must not loosen.
	pos2 := domain.Position{AccountID: "A1", SymbolRoot: "ES", ContractID: "C1", Side: domain.SideLong, EntryPrice: money.New(5005)}
	evt2 := events.Event{Kind: events.PositionUpdated, Data: events.PositionData{AccountID: "A1", Position: pos2}}
	a2, err := rule.Evaluate(context.Background(), evt2, ec)
	require.NoError(t, err)
	assert.Nil(t, a2)
}
