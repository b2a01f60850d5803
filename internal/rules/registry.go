package rules

import (
	"github.com/aristath/risk-manager/internal/clock"
)

// Registry holds every rule in registration order (spec §4.11: "Rules
// evaluate in registration order"). Violation-producing rules and the
// automation rule are tracked separately since they return different
// types, but registration order within each list is preserved.
type Registry struct {
	Violations  []Rule
	Automations []AutomationRule
}

// Build constructs the full, fixed rule set from configuration — a
// closed list, not a dynamic plugin registry (spec §9: the rule set is
// config-tunable, not reflection-loaded).
func Build(cfg Config, clk *clock.Service) *Registry {
	return &Registry{
		Violations: []Rule{
			NewMaxContractsRule(cfg.MaxContracts),
			NewMaxContractsPerInstrumentRule(cfg.MaxContractsPerInstrument),
			NewDailyRealizedLossRule(cfg.DailyRealizedLoss),
			NewDailyUnrealizedLossRule(cfg.DailyUnrealizedLoss),
			NewMaxUnrealizedProfitRule(cfg.MaxUnrealizedProfit),
			NewTradeFrequencyLimitRule(cfg.TradeFrequencyLimit),
			NewCooldownAfterLossRule(cfg.CooldownAfterLoss),
			NewNoStopLossGraceRule(cfg.NoStopLossGrace),
			NewSessionBlockOutsideRule(cfg.SessionBlockOutside, clk),
			NewAuthLossGuardRule(cfg.AuthLossGuard),
			NewSymbolBlocksRule(cfg.SymbolBlocks),
			NewDailyRealizedProfitRule(cfg.DailyRealizedProfit),
		},
		Automations: []AutomationRule{
			NewTradeManagementRule(cfg.TradeManagement),
		},
	}
}

// Enabled filters to only the rules currently enabled by config.
func (r *Registry) EnabledViolationRules() []Rule {
	out := make([]Rule, 0, len(r.Violations))
	for _, rule := range r.Violations {
		if rule.Enabled() {
			out = append(out, rule)
		}
	}
	return out
}

func (r *Registry) EnabledAutomationRules() []AutomationRule {
	out := make([]AutomationRule, 0, len(r.Automations))
	for _, rule := range r.Automations {
		if rule.Enabled() {
			out = append(out, rule)
		}
	}
	return out
}
