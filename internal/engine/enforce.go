package engine

import (
	"context"

	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/rules"
)

// EnforcementResult is the shape every executor operation returns (spec
// §4.13: "{success, closed/cancelled_count, errors[]}").
type EnforcementResult struct {
	Success bool
	Count   int
	Errors  []string
}

// Enforcer is the Enforcement Executor's (C13) boundary as the engine
// sees it. Declared here rather than imported from internal/enforcement
// so the engine package depends only on the shape it needs; main wiring
// passes a *enforcement.Executor in, which satisfies this structurally.
type Enforcer interface {
	Enforce(ctx context.Context, v events.Violation) EnforcementResult
}

// AutomationExecutor is trade_management's counterpart to Enforcer.
type AutomationExecutor interface {
	Execute(ctx context.Context, a rules.AutomationAction) EnforcementResult
}

// actionPriority ranks violation actions so that when more than one rule
// fires on the same (account, contract) for one event, the engine
// enforces only the highest-priority action instead of issuing redundant
// or conflicting calls (spec §4.11 "Priority & interaction rules":
// flatten_and_cancel supersedes close_position/cancel, which supersede
// alert_only). Every violation is still published on RULE_VIOLATED for
// audit regardless of which one wins enforcement.
func actionPriority(a events.ViolationAction) int {
	switch a {
	case events.ActionFlattenAndCancel:
		return 4
	case events.ActionFlatten, events.ActionClosePosition, events.ActionCancel:
		return 3
	case events.ActionCooldown:
		return 2
	case events.ActionAlertOnly:
		return 1
	default:
		return 0
	}
}

type coalesceKey struct {
	accountID  string
	contractID string
}

// coalesce groups one event's violations by subject (account + contract)
// and keeps only the highest-priority violation per group, preserving
// registration order on ties.
func coalesce(violations []events.Violation) []events.Violation {
	if len(violations) <= 1 {
		return violations
	}
	winners := make(map[coalesceKey]events.Violation, len(violations))
	order := make([]coalesceKey, 0, len(violations))
	for _, v := range violations {
		k := coalesceKey{accountID: v.AccountID, contractID: v.ContractID}
		cur, ok := winners[k]
		if !ok {
			winners[k] = v
			order = append(order, k)
			continue
		}
		if actionPriority(v.Action) > actionPriority(cur.Action) {
			winners[k] = v
		}
	}
	out := make([]events.Violation, 0, len(order))
	for _, k := range order {
		out = append(out, winners[k])
	}
	return out
}

// handleViolation runs spec §4.12 step 4 for one violation: publish
// RULE_VIOLATED, apply any requested lockout, invoke the executor,
// publish ENFORCEMENT_ACTION with the resolved outcome.
func (e *Engine) handleViolation(ctx context.Context, v events.Violation) {
	if v.Timestamp.IsZero() {
		v.Timestamp = e.clock.Now()
	}

	e.bus.Publish(events.Event{
		Kind:   events.RuleViolated,
		Data:   events.RuleViolatedData{Violation: v},
		Source: v.Rule,
	})

	e.applyLockout(ctx, v)

	result := EnforcementResult{Success: true}
	if e.enforcer != nil {
		result = e.enforcer.Enforce(ctx, v)
	}

	e.bus.Publish(events.Event{
		Kind:   events.EnforcementAction,
		Data:   events.EnforcementActionData{Violation: v, Success: result.Success, Errors: result.Errors},
		Source: v.Rule,
	})
}

// applyLockout resolves a violation's lockout request into a call on the
// Lockout Manager. A rule sets exactly one of LockoutDuration (a
// cooldown), LockoutUntil (an explicit hard-lockout expiry), or
// LockoutCategory == "daily" with both left zero (DESIGN.md Open
// Question resolution #6: only the engine can compute "next reset"
// since only it holds the reset scheduler's configured time/zone).
func (e *Engine) applyLockout(ctx context.Context, v events.Violation) {
	if !v.LockoutRequired {
		return
	}

	switch {
	case v.LockoutDuration > 0:
		if err := e.lockouts.SetCooldown(ctx, v.AccountID, v.Rule, v.LockoutReason, v.LockoutCategory, v.LockoutDuration); err != nil {
			e.log.Error().Err(err).Str("account_id", v.AccountID).Str("rule", v.Rule).Msg("failed to set cooldown")
		}
	case !v.LockoutUntil.IsZero():
		if err := e.lockouts.SetLockout(ctx, v.AccountID, v.Rule, v.LockoutReason, v.LockoutCategory, v.LockoutUntil); err != nil {
			e.log.Error().Err(err).Str("account_id", v.AccountID).Str("rule", v.Rule).Msg("failed to set lockout")
		}
	case v.LockoutCategory == "daily":
		until, err := e.clock.NextDailyTarget(e.resetTime, e.resetTimezone)
		if err != nil {
			e.log.Error().Err(err).Str("account_id", v.AccountID).Msg("failed to compute next reset target for daily lockout")
			return
		}
		if err := e.lockouts.SetLockout(ctx, v.AccountID, v.Rule, v.LockoutReason, v.LockoutCategory, until); err != nil {
			e.log.Error().Err(err).Str("account_id", v.AccountID).Str("rule", v.Rule).Msg("failed to set daily lockout")
		}
	default:
		e.log.Warn().Str("rule", v.Rule).Str("account_id", v.AccountID).
			Msg("violation requested a lockout with no duration, until, or daily category — rule bug, ignoring")
	}
}

// handleAutomation runs trade_management's counterpart to
// handleViolation: no RULE_VIOLATED (automation never produces a
// Violation), but the same resolved-action -> ENFORCEMENT_ACTION
// publication so the operational surface sees bracket orders and
// trailing-stop adjustments the same way it sees enforcement.
func (e *Engine) handleAutomation(ctx context.Context, a rules.AutomationAction) {
	if a.Timestamp.IsZero() {
		a.Timestamp = e.clock.Now()
	}

	result := EnforcementResult{Success: true}
	if e.automationExecutor != nil {
		result = e.automationExecutor.Execute(ctx, a)
	}

	synthetic := events.Violation{
		Rule:       a.Rule,
		AccountID:  a.AccountID,
		SymbolRoot: a.SymbolRoot,
		ContractID: a.ContractID,
		Action:     a.Kind,
		Severity:   "info",
		Message:    "automation action",
		Timestamp:  a.Timestamp,
	}
	e.bus.Publish(events.Event{
		Kind:   events.EnforcementAction,
		Data:   events.EnforcementActionData{Violation: synthetic, Success: result.Success, Errors: result.Errors},
		Source: a.Rule,
	})
}
