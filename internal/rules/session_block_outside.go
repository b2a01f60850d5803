package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/events"
)

// SessionBlockOutsideRule blocks/closes activity outside a configured
// local-time trading window, with an optional weekday mask (spec §4.11
// rule 9). Reads the event's own timestamp through the Clock Service's
// zone conversion rather than wall-clock "now", so a delayed dispatch
// still evaluates against when the event actually happened.
type SessionBlockOutsideRule struct {
	cfg   SessionBlockConfig
	clock *clock.Service
}

func NewSessionBlockOutsideRule(cfg SessionBlockConfig, clk *clock.Service) *SessionBlockOutsideRule {
	return &SessionBlockOutsideRule{cfg: cfg, clock: clk}
}

func (r *SessionBlockOutsideRule) ID() string    { return "session_block_outside" }
func (r *SessionBlockOutsideRule) Enabled() bool { return r.cfg.Enabled }

func (r *SessionBlockOutsideRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	accountID, symbolRoot, contractID, ok := subject(event)
	if !ok {
		return nil, nil
	}

	within, err := r.clock.WithinWindow(event.Timestamp, r.cfg.Timezone, r.cfg.Start, r.cfg.End, r.cfg.Weekdays)
	if err != nil {
		return nil, fmt.Errorf("session_block_outside: evaluate window: %w", err)
	}
	if within {
		return nil, nil
	}

	return &events.Violation{
		Rule:       r.ID(),
		AccountID:  accountID,
		SymbolRoot: symbolRoot,
		ContractID: contractID,
		Action:     events.ActionClosePosition,
		Severity:   "warning",
		Message:    fmt.Sprintf("activity outside allowed session %s-%s %s", r.cfg.Start, r.cfg.End, r.cfg.Timezone),
		Timestamp:  ec.Now(),
	}, nil
}
