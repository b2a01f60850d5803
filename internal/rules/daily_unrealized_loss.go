package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// DailyUnrealizedLossRule closes a single position once its unrealized
// P&L breaches a loss limit; no lockout (spec §4.11 rule 4). Evaluates
// directly on UNREALIZED_PNL_UPDATE, which already carries a
// significant-change-gated, per-contract figure computed by
// internal/marketdata — this satisfies "requires a current price for the
// symbol; no evaluation without one" since the event only exists once a
// price has produced a computable figure.
type DailyUnrealizedLossRule struct {
	cfg UnrealizedLimitConfig
}

func NewDailyUnrealizedLossRule(cfg UnrealizedLimitConfig) *DailyUnrealizedLossRule {
	return &DailyUnrealizedLossRule{cfg: cfg}
}

func (r *DailyUnrealizedLossRule) ID() string    { return "daily_unrealized_loss" }
func (r *DailyUnrealizedLossRule) Enabled() bool { return r.cfg.Enabled }

func (r *DailyUnrealizedLossRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.UnrealizedPnLUpdate {
		return nil, nil
	}
	data, ok := event.Data.(events.UnrealizedPnLData)
	if !ok || !data.UnrealizedPnL.LessThanOrEqual(r.cfg.Limit) {
		return nil, nil
	}

	return &events.Violation{
		Rule:       r.ID(),
		AccountID:  data.AccountID,
		SymbolRoot: data.SymbolRoot,
		ContractID: data.ContractID,
		Action:     events.ActionClosePosition,
		Severity:   "critical",
		Message:    fmt.Sprintf("%s unrealized loss %s breaches limit %s", data.SymbolRoot, data.UnrealizedPnL.String(), r.cfg.Limit.String()),
		Timestamp:  ec.Now(),
	}, nil
}
