package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// DailyRealizedProfitRule locks in gains once the daily realized total
// reaches a target, with enforcement identical to DailyRealizedLossRule
// but success-framed (spec §4.11 rule 13).
type DailyRealizedProfitRule struct {
	cfg RealizedPnLLimitConfig
}

func NewDailyRealizedProfitRule(cfg RealizedPnLLimitConfig) *DailyRealizedProfitRule {
	return &DailyRealizedProfitRule{cfg: cfg}
}

func (r *DailyRealizedProfitRule) ID() string    { return "daily_realized_profit" }
func (r *DailyRealizedProfitRule) Enabled() bool { return r.cfg.Enabled }

func (r *DailyRealizedProfitRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.TradeExecuted {
		return nil, nil
	}
	data, ok := event.Data.(events.TradeData)
	if !ok || !data.Trade.HasRealizedPnL() {
		return nil, nil
	}

	lockedOut, err := ec.IsLockedOut(ctx, data.AccountID)
	if err != nil {
		return nil, fmt.Errorf("daily_realized_profit: check lockout: %w", err)
	}
	if lockedOut {
		return nil, nil
	}

	total, err := ec.DailyRealizedPnL(ctx, data.AccountID)
	if err != nil {
		return nil, fmt.Errorf("daily_realized_profit: read daily pnl: %w", err)
	}

	if !total.GreaterThanOrEqual(r.cfg.Limit) {
		return nil, nil
	}

	return &events.Violation{
		Rule:            r.ID(),
		AccountID:       data.AccountID,
		Action:          events.ActionFlattenAndCancel,
		Severity:        "info",
		Message:         fmt.Sprintf("daily realized profit %s reached target %s — locking in gains", total.String(), r.cfg.Limit.String()),
		Timestamp:       ec.Now(),
		LockoutRequired: true,
		LockoutReason:   "daily realized profit target reached",
		LockoutCategory: "daily",
	}, nil
}
