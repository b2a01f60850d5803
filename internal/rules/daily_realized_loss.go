package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// DailyRealizedLossRule hard-locks an account once its tracker's daily
// realized total breaches a configured loss limit (spec §4.11 rule 3).
// Scenario S2 in spec §8 exercises this rule.
type DailyRealizedLossRule struct {
	cfg RealizedPnLLimitConfig
}

func NewDailyRealizedLossRule(cfg RealizedPnLLimitConfig) *DailyRealizedLossRule {
	return &DailyRealizedLossRule{cfg: cfg}
}

func (r *DailyRealizedLossRule) ID() string    { return "daily_realized_loss" }
func (r *DailyRealizedLossRule) Enabled() bool { return r.cfg.Enabled }

func (r *DailyRealizedLossRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.TradeExecuted {
		return nil, nil
	}
	data, ok := event.Data.(events.TradeData)
	if !ok || !data.Trade.HasRealizedPnL() {
		return nil, nil // half-turn trades are ignored
	}

	lockedOut, err := ec.IsLockedOut(ctx, data.AccountID)
	if err != nil {
		return nil, fmt.Errorf("daily_realized_loss: check lockout: %w", err)
	}
	if lockedOut {
		return nil, nil // already locked out: short-circuit (spec §4.11 "Priority & interaction rules")
	}

	total, err := ec.DailyRealizedPnL(ctx, data.AccountID)
	if err != nil {
		return nil, fmt.Errorf("daily_realized_loss: read daily pnl: %w", err)
	}

	if !total.LessThanOrEqual(r.cfg.Limit) {
		return nil, nil
	}

	return &events.Violation{
		Rule:            r.ID(),
		AccountID:       data.AccountID,
		Action:          events.ActionFlattenAndCancel,
		Severity:        "critical",
		Message:         fmt.Sprintf("daily realized loss %s breaches limit %s", total.String(), r.cfg.Limit.String()),
		Timestamp:       ec.Now(),
		LockoutRequired: true,
		LockoutReason:   "daily realized loss limit breached",
		LockoutCategory: "daily",
	}, nil
}
