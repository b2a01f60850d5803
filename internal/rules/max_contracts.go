package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// MaxContractsRule caps the sum of absolute sizes across every open
// position for an account (spec §4.11 rule 1).
type MaxContractsRule struct {
	cfg MaxContractsConfig
}

func NewMaxContractsRule(cfg MaxContractsConfig) *MaxContractsRule {
	return &MaxContractsRule{cfg: cfg}
}

func (r *MaxContractsRule) ID() string      { return "max_contracts" }
func (r *MaxContractsRule) Enabled() bool   { return r.cfg.Enabled }

func (r *MaxContractsRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	accountID, _, _, ok := subject(event)
	if !ok || (event.Kind != events.PositionOpened && event.Kind != events.PositionUpdated) {
		return nil, nil
	}

	var total int64
	for _, p := range ec.OpenPositions(accountID) {
		total += p.Quantity
	}

	if total <= r.cfg.Limit {
		return nil, nil
	}

	return &events.Violation{
		Rule:      r.ID(),
		AccountID: accountID,
		Action:    events.ActionFlattenAndCancel,
		Severity:  "critical",
		Message:   fmt.Sprintf("total open contracts %d exceeds limit %d", total, r.cfg.Limit),
		Timestamp: ec.Now(),
	}, nil
}
