package rules

import (
	"context"
	"fmt"

	"github.com/aristath/risk-manager/internal/events"
)

// CooldownAfterLossRule starts a cooldown tiered by the magnitude of a
// single realized loss, with the highest applicable tier winning (spec
// §4.11 rule 7). Half-turn fills are ignored; skipped entirely when the
// account is already in cooldown.
type CooldownAfterLossRule struct {
	cfg CooldownAfterLossConfig
}

func NewCooldownAfterLossRule(cfg CooldownAfterLossConfig) *CooldownAfterLossRule {
	return &CooldownAfterLossRule{cfg: cfg}
}

func (r *CooldownAfterLossRule) ID() string    { return "cooldown_after_loss" }
func (r *CooldownAfterLossRule) Enabled() bool { return r.cfg.Enabled }

func (r *CooldownAfterLossRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	if event.Kind != events.TradeExecuted {
		return nil, nil
	}
	data, ok := event.Data.(events.TradeData)
	if !ok || !data.Trade.HasRealizedPnL() {
		return nil, nil
	}
	if !data.Trade.RealizedPnL.IsNegative() {
		return nil, nil // only losses start a cooldown
	}

	inCooldown, err := ec.IsLockedOut(ctx, data.AccountID)
	if err != nil {
		return nil, fmt.Errorf("cooldown_after_loss: check lockout: %w", err)
	}
	if inCooldown {
		return nil, nil
	}

	magnitude := data.Trade.RealizedPnL.Abs()

	var chosen *LossTier
	for i := range r.cfg.Tiers {
		tier := &r.cfg.Tiers[i]
		if magnitude.LessThan(tier.LossAmount) {
			continue
		}
		if chosen == nil || tier.LossAmount.GreaterThan(chosen.LossAmount) {
			chosen = tier
		}
	}
	if chosen == nil {
		return nil, nil
	}

	return &events.Violation{
		Rule:            r.ID(),
		AccountID:       data.AccountID,
		Action:          events.ActionCooldown,
		Severity:        "warning",
		Message:         fmt.Sprintf("loss %s triggers %s cooldown", magnitude.String(), chosen.CooldownDuration),
		Timestamp:       ec.Now(),
		LockoutRequired: true,
		LockoutReason:   "cooldown after loss",
		LockoutCategory: "cooldown_after_loss",
		LockoutDuration: chosen.CooldownDuration,
	}, nil
}
