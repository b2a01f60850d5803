package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// TradeFrequencyLimitRule enforces multi-tier rolling-window trade-count
// ceilings, selecting the shortest-window breached tier (spec §4.11 rule
// 6). Counts come from the persistent trade store, not event-local
// counters, so they survive a restart mid-window. Scenario S5 exercises
// this rule.
type TradeFrequencyLimitRule struct {
	cfg TradeFrequencyConfig
}

func NewTradeFrequencyLimitRule(cfg TradeFrequencyConfig) *TradeFrequencyLimitRule {
	return &TradeFrequencyLimitRule{cfg: cfg}
}

func (r *TradeFrequencyLimitRule) ID() string    { return "trade_frequency_limit" }
func (r *TradeFrequencyLimitRule) Enabled() bool { return r.cfg.Enabled }

func (r *TradeFrequencyLimitRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.TradeExecuted {
		return nil, nil
	}
	data, ok := event.Data.(events.TradeData)
	if !ok {
		return nil, nil
	}

	now := ec.Now()
	for _, tier := range r.cfg.Tiers { // pre-sorted shortest window first
		count, err := ec.TradeCountSince(ctx, data.AccountID, now.Add(-tier.Window))
		if err != nil {
			return nil, fmt.Errorf("trade_frequency_limit: count trades for tier %s: %w", tier.Name, err)
		}
		if count <= tier.Limit {
			continue
		}

		return &events.Violation{
			Rule:            r.ID(),
			AccountID:       data.AccountID,
			Action:          events.ActionFlatten,
			Severity:        "warning",
			Message:         fmt.Sprintf("%d trades in %s exceeds tier %q limit %d", count, tier.Window, tier.Name, tier.Limit),
			Timestamp:       now,
			LockoutRequired: true,
			LockoutReason:   fmt.Sprintf("trade frequency tier %q breached", tier.Name),
			LockoutCategory: "trade_frequency",
			LockoutDuration: tier.CooldownDuration,
		}, nil
	}

	return nil, nil
}
