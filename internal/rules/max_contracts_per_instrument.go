package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// MaxContractsPerInstrumentRule caps the size of a single symbol root's
// position, falling back to a default limit (spec §4.11 rule 2). Ties
// (multiple instruments breaching at once) are broken naturally — each
// event only concerns the instrument it's about, so "most recent event"
// is simply whichever POSITION_OPENED/UPDATED the engine is processing.
type MaxContractsPerInstrumentRule struct {
	cfg MaxContractsPerInstrumentConfig
}

func NewMaxContractsPerInstrumentRule(cfg MaxContractsPerInstrumentConfig) *MaxContractsPerInstrumentRule {
	return &MaxContractsPerInstrumentRule{cfg: cfg}
}

func (r *MaxContractsPerInstrumentRule) ID() string    { return "max_contracts_per_instrument" }
func (r *MaxContractsPerInstrumentRule) Enabled() bool { return r.cfg.Enabled }

func (r *MaxContractsPerInstrumentRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.PositionOpened && event.Kind != events.PositionUpdated {
		return nil, nil
	}
	data, ok := event.Data.(events.PositionData)
	if !ok {
		return nil, nil
	}

	limit := r.cfg.DefaultLimit
	if instrumentLimit, found := r.cfg.InstrumentLimits[data.Position.SymbolRoot]; found {
		limit = instrumentLimit
	}

	if data.Position.Quantity <= limit {
		return nil, nil
	}

	return &events.Violation{
		Rule:       r.ID(),
		AccountID:  data.AccountID,
		SymbolRoot: data.Position.SymbolRoot,
		ContractID: data.Position.ContractID,
		Action:     events.ActionFlattenAndCancel,
		Severity:   "critical",
		Message:    fmt.Sprintf("%s size %d exceeds per-instrument limit %d", data.Position.SymbolRoot, data.Position.Quantity, limit),
		Timestamp:  ec.Now(),
	}, nil
}
