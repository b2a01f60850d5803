// Package engine implements the Risk Engine (C12): the single dispatch
// loop that receives bus events, maintains engine-owned position state,
// runs every enabled rule in registration order, and drives the
// Enforcement Executor off the returned violations/automation actions
// (spec §4.12).
//
// Grounded on the teacher's internal/scheduler's single-worker-goroutine
// shape, generalized from "run cron jobs on a worker" to "run event
// handlers on a worker" — there is no teacher equivalent of a rule
// engine, so the orchestration here is built directly from spec §4.12
// and §5's single-threaded cooperative scheduling model.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/lockout"
	"github.com/aristath/risk-manager/internal/marketdata"
	"github.com/aristath/risk-manager/internal/pnl"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/internal/rules"
	"github.com/aristath/risk-manager/internal/store"
	"github.com/aristath/risk-manager/internal/timers"
)

// dispatchedKinds is every event kind the engine's dispatch loop
// subscribes to. Kinds not listed here never reach rule evaluation
// (SYSTEM_STARTED, RULE_VIOLATED, ENFORCEMENT_ACTION are outputs, not
// inputs).
var dispatchedKinds = []events.Kind{
	events.PositionOpened,
	events.PositionUpdated,
	events.PositionClosed,
	events.OrderPlaced,
	events.OrderFilled,
	events.OrderCancelled,
	events.OrderRejected,
	events.TradeExecuted,
	events.UnrealizedPnLUpdate,
	events.MarketDataUpdated,
	events.SDKConnected,
	events.SDKDisconnected,
	events.AuthFailed,
	events.AuthSuccess,
}

// Config carries the non-injected settings the engine needs directly
// (the reset scheduler's own time/zone, duplicated here in config form
// rather than a shared pointer, since applyLockout only ever needs to
// read it).
type Config struct {
	ResetTime string // "HH:MM", e.g. "17:00"
	Timezone  string // e.g. "America/New_York"
	Ticks     map[string]domain.TickInfo
}

// Engine is the Risk Engine (C12).
type Engine struct {
	log   zerolog.Logger
	bus   *events.Bus
	clock *clock.Service

	registry        atomic.Pointer[rules.Registry]
	pnlTracker      *pnl.Tracker
	lockouts        *lockout.Manager
	timerMgr        *timers.Manager
	protectiveCache *protective.Cache
	marketData      *marketdata.Subsystem
	trades          *store.TradeRepository

	enforcer           Enforcer
	automationExecutor AutomationExecutor

	positions *positionTable
	tickTable map[string]domain.TickInfo

	resetTime     string
	resetTimezone string
}

// New wires the Risk Engine from its already-built supporting components
// (spec §9: the engine owns no infrastructure of its own, only
// orchestration).
func New(
	log zerolog.Logger,
	bus *events.Bus,
	clk *clock.Service,
	registry *rules.Registry,
	pnlTracker *pnl.Tracker,
	lockouts *lockout.Manager,
	timerMgr *timers.Manager,
	protectiveCache *protective.Cache,
	marketData *marketdata.Subsystem,
	trades *store.TradeRepository,
	enforcer Enforcer,
	automationExecutor AutomationExecutor,
	cfg Config,
) *Engine {
	ticks := cfg.Ticks
	if ticks == nil {
		ticks = make(map[string]domain.TickInfo)
	}
	e := &Engine{
		log:                log.With().Str("component", "risk_engine").Logger(),
		bus:                bus,
		clock:              clk,
		pnlTracker:         pnlTracker,
		lockouts:           lockouts,
		timerMgr:           timerMgr,
		protectiveCache:    protectiveCache,
		marketData:         marketData,
		trades:             trades,
		enforcer:           enforcer,
		automationExecutor: automationExecutor,
		positions:          newPositionTable(),
		tickTable:          ticks,
		resetTime:          cfg.ResetTime,
		resetTimezone:      cfg.Timezone,
	}
	e.registry.Store(registry)
	return e
}

// PositionsFor implements internal/marketdata.PositionProvider.
func (e *Engine) PositionsFor(symbolRoot string) []domain.Position {
	return e.positions.forSymbolRoot(symbolRoot)
}

// SetRegistry atomically swaps the enabled rule set, used by the
// operational `config reload` command (spec §6) to apply a newly
// validated YAML document without restarting the process. Safe to call
// concurrently with Dispatch: every Dispatch call loads the registry
// pointer once per evaluation pass, so an in-flight pass finishes against
// whichever registry it started with.
func (e *Engine) SetRegistry(r *rules.Registry) {
	e.registry.Store(r)
}

// SetMarketData wires the market data subsystem after construction. The
// subsystem depends on the engine as its PositionProvider, so cmd/server
// builds the Engine with a nil marketData, constructs the subsystem with
// the Engine as its position source, then calls this once before Start —
// breaking what would otherwise be a constructor cycle between the two.
// Not safe to call after Start.
func (e *Engine) SetMarketData(m *marketdata.Subsystem) {
	e.marketData = m
}

// Start subscribes the dispatch loop to every relevant bus kind. The bus
// itself serializes delivery onto one worker goroutine (spec §5: "the
// engine runs on one event loop"), so Dispatch never needs its own
// locking around engine state.
func (e *Engine) Start(ctx context.Context) {
	for _, kind := range dispatchedKinds {
		k := kind
		e.bus.Subscribe(k, func(evt events.Event) {
			e.Dispatch(ctx, evt)
		})
	}
	e.log.Info().Msg("risk engine started")
}

// Dispatch runs spec §4.12's per-event algorithm: update engine-owned
// state, evaluate every enabled rule, then enforce the results. Errors
// from any one rule are logged and do not abort the pipeline (spec
// §4.12 step 5); a panicking rule is treated the same way (KindRuleBug)
// via evaluateViolations/evaluateAutomations' own recovery.
func (e *Engine) Dispatch(ctx context.Context, evt events.Event) {
	e.updateState(ctx, evt)

	violations := coalesce(e.evaluateViolations(ctx, evt))
	for _, v := range violations {
		e.handleViolation(ctx, v)
	}

	for _, a := range e.evaluateAutomations(ctx, evt) {
		e.handleAutomation(ctx, a)
	}
}

// evaluateViolations calls every enabled violation rule in registration
// order (spec §4.12 step 3: "evaluation of a single rule is sequential
// with respect to others").
func (e *Engine) evaluateViolations(ctx context.Context, evt events.Event) []events.Violation {
	var out []events.Violation
	for _, rule := range e.registry.Load().EnabledViolationRules() {
		v, err := e.evaluateOneRule(ctx, rule, evt)
		if err != nil {
			e.log.Error().Err(err).Str("rule", rule.ID()).Str("kind", string(evt.Kind)).
				Msg("rule evaluation failed")
			continue
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// evaluateOneRule isolates a single rule's Evaluate call behind a
// recover so a panicking rule (KindRuleBug) never takes down the
// dispatch loop or blocks evaluation of the remaining rules (spec §7
// RuleBug policy: "log with full context, continue... rule remains
// enabled").
func (e *Engine) evaluateOneRule(ctx context.Context, rule rules.Rule, evt events.Event) (v *events.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrapErr(KindRuleBug, rule.ID()+".evaluate", panicErr(r))
		}
	}()
	v, err = rule.Evaluate(ctx, evt, e)
	if err != nil {
		err = wrapErr(KindRuleBug, rule.ID()+".evaluate", err)
	}
	return v, err
}

func (e *Engine) evaluateAutomations(ctx context.Context, evt events.Event) []rules.AutomationAction {
	var out []rules.AutomationAction
	for _, rule := range e.registry.Load().EnabledAutomationRules() {
		a, err := e.evaluateOneAutomation(ctx, rule, evt)
		if err != nil {
			e.log.Error().Err(err).Str("rule", rule.ID()).Str("kind", string(evt.Kind)).
				Msg("automation rule evaluation failed")
			continue
		}
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func (e *Engine) evaluateOneAutomation(ctx context.Context, rule rules.AutomationRule, evt events.Event) (a *rules.AutomationAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrapErr(KindRuleBug, rule.ID()+".evaluate", panicErr(r))
		}
	}()
	a, err = rule.Evaluate(ctx, evt, e)
	if err != nil {
		err = wrapErr(KindRuleBug, rule.ID()+".evaluate", err)
	}
	return a, err
}

func panicErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{v: r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return "non-string panic value"
}

// updateState implements spec §4.12 step 2: maintain current_positions,
// the Protective-Order Cache, the trade store, and the P&L tracker
// before any rule reads them for this event.
func (e *Engine) updateState(ctx context.Context, evt events.Event) {
	switch data := evt.Data.(type) {
	case events.PositionData:
		e.onPosition(evt.Kind, data)
	case events.OrderData:
		e.onOrder(evt.Kind, data)
	case events.TradeData:
		e.onTrade(ctx, data)
	case events.UnrealizedPnLData:
		e.onUnrealizedPnL(data)
	}
}

func (e *Engine) onPosition(kind events.Kind, data events.PositionData) {
	switch kind {
	case events.PositionOpened:
		e.positions.upsert(data.Position)
	case events.PositionUpdated:
		e.positions.upsert(data.Position)
		// Critical invalidation rule (internal/protective doc): the cache
		// must be invalidated on every POSITION_UPDATED before rules read
		// it, since a stop/target may have moved or been replaced.
		e.protectiveCache.Invalidate(data.Position.ContractID)
	case events.PositionClosed:
		e.positions.remove(data.AccountID, data.Position.ContractID)
		e.protectiveCache.Invalidate(data.Position.ContractID)
		_ = e.timerMgr.CancelTimer(context.Background(), rules.TimerKind+"_"+data.Position.ContractID)
	}
}

func (e *Engine) onOrder(kind events.Kind, data events.OrderData) {
	switch kind {
	case events.OrderPlaced:
		position, ok := e.positions.byContractID(data.AccountID, data.Order.ContractID)
		if ok {
			e.protectiveCache.OnOrderPlaced(data.Order, position)
		}
	case events.OrderFilled, events.OrderCancelled, events.OrderRejected:
		e.protectiveCache.OnOrderRemoved(data.Order.ContractID, data.Order.OrderID)
	}
}

// onTrade records the fill and applies realized P&L exactly once, even
// under at-least-once bus redelivery (spec §4.3): the trade store's
// insert reports whether this call actually inserted the row.
func (e *Engine) onTrade(ctx context.Context, data events.TradeData) {
	inserted, err := e.trades.Insert(ctx, store.TradeRow{
		AccountID: data.Trade.AccountID,
		TradeID:   data.Trade.TradeID,
		Symbol:    data.Trade.SymbolRoot,
		Side:      string(data.Trade.Side),
		Quantity:  data.Trade.Quantity,
		Price:     data.Trade.Price,
		Timestamp: data.Trade.Timestamp,
	})
	if err != nil {
		e.log.Error().Err(err).Str("trade_id", data.Trade.TradeID).Msg("failed to record trade")
		return
	}
	if !inserted || !data.Trade.HasRealizedPnL() {
		return
	}
	if _, err := e.pnlTracker.AddTradePnL(ctx, data.Trade.AccountID, *data.Trade.RealizedPnL); err != nil {
		e.log.Error().Err(err).Str("account_id", data.Trade.AccountID).Msg("failed to apply realized pnl")
	}
}

// onUnrealizedPnL keeps the position table's display copy of
// UnrealizedPnL current for the operational `status` surface; rules
// themselves read the event payload directly, not this cached field.
func (e *Engine) onUnrealizedPnL(data events.UnrealizedPnLData) {
	position, ok := e.positions.byContractID(data.AccountID, data.ContractID)
	if !ok {
		return
	}
	position.UnrealizedPnL = data.UnrealizedPnL
	e.positions.upsert(position)
}
