package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// MaxUnrealizedProfitRule closes a single position once its unrealized
// P&L reaches a target; no lockout (spec §4.11 rule 5).
type MaxUnrealizedProfitRule struct {
	cfg UnrealizedLimitConfig
}

func NewMaxUnrealizedProfitRule(cfg UnrealizedLimitConfig) *MaxUnrealizedProfitRule {
	return &MaxUnrealizedProfitRule{cfg: cfg}
}

func (r *MaxUnrealizedProfitRule) ID() string    { return "max_unrealized_profit" }
func (r *MaxUnrealizedProfitRule) Enabled() bool { return r.cfg.Enabled }

func (r *MaxUnrealizedProfitRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.UnrealizedPnLUpdate {
		return nil, nil
	}
	data, ok := event.Data.(events.UnrealizedPnLData)
	if !ok || !data.UnrealizedPnL.GreaterThanOrEqual(r.cfg.Limit) {
		return nil, nil
	}

	return &events.Violation{
		Rule:       r.ID(),
		AccountID:  data.AccountID,
		SymbolRoot: data.SymbolRoot,
		ContractID: data.ContractID,
		Action:     events.ActionClosePosition,
		Severity:   "info",
		Message:    fmt.Sprintf("%s unrealized profit %s reached target %s", data.SymbolRoot, data.UnrealizedPnL.String(), r.cfg.Limit.String()),
		Timestamp:  ec.Now(),
	}, nil
}
