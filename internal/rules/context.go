// Package rules implements the Rule Set (C11): a closed, registration-
// ordered list of concrete rule types (no reflection-based plugin
// loading — spec §9 treats the rule set as fixed and config-tunable, not
// dynamically extensible), each evaluating one event against
// engine-owned state and returning a Violation the engine publishes and
// enforces.
//
// Grounded on spec §4.11's thirteen per-rule contracts; there is no
// teacher equivalent (aristath-sentinel has no risk-rule concept), so
// each rule's shape is built directly from the spec text plus
// original_source's rule implementations for exact threshold semantics.
package rules

import (
	"context"
	"time"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/pkg/money"
)

// Context is the read/write surface the engine exposes to rules during
// evaluation (spec §4.11 "engine_context"). Implemented by
// internal/engine.Engine; kept as an interface here so rules can be unit
// tested against a fake.
type Context interface {
	// Now returns the current time from the Clock Service.
	Now() time.Time

	// OpenPositions returns every position the engine currently holds
	// open for accountID (spec §4.12 "engine-owned position state").
	OpenPositions(accountID string) []domain.Position

	// PositionByContract looks up a single open position.
	PositionByContract(accountID, contractID string) (domain.Position, bool)

	// IsLockedOut reports whether accountID is currently under a hard
	// lockout or cooldown (spec §4.11: "P&L rules must test
	// is_locked_out first").
	IsLockedOut(ctx context.Context, accountID string) (bool, error)

	// DailyRealizedPnL returns the tracker's current total for accountID,
	// reflecting any trade already applied by the engine before rule
	// evaluation runs for that trade's event (spec §4.11 rule 3/13).
	DailyRealizedPnL(ctx context.Context, accountID string) (money.Money, error)

	// LastPrice and TickInfo expose the Market Data Subsystem's state.
	LastPrice(symbolRoot string) (money.Money, bool)
	TickInfo(symbolRoot string) (domain.TickInfo, bool)

	// StopLossFor reads the Protective-Order Cache (spec §4.8).
	StopLossFor(ctx context.Context, contractID string, position domain.Position) (*protective.Entry, error)

	// TradeCountSince returns the number of fills recorded for accountID
	// at or after since, read from the persistent trade store (spec
	// §4.11 rule 6: "rolling counts come from the trade store, not
	// event-local counters").
	TradeCountSince(ctx context.Context, accountID string, since time.Time) (int, error)

	// StartTimer/CancelTimer/HasTimer expose the Timer Manager (spec §4.4).
	StartTimer(ctx context.Context, name, accountID, kind, payload string, d time.Duration, cb func()) error
	CancelTimer(ctx context.Context, name string) error
	HasTimer(name string) bool

	// ApplyViolation runs the same publish -> enforce -> publish pipeline
	// the engine runs for a rule's direct Evaluate return, for use by
	// asynchronous callers (a fired timer callback) that are not
	// themselves inside an Evaluate call (spec §4.11 rule 8's grace-
	// period timer firing outside the normal per-event flow).
	ApplyViolation(ctx context.Context, v events.Violation)
}

// Rule is a violation-producing rule: one of the twelve enforcement rules
// in spec §4.11 (everything except trade_management, which is an
// AutomationRule).
type Rule interface {
	ID() string
	Enabled() bool
	Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error)
}

// AutomationAction is what trade_management (spec §4.11 rule 12) produces
// instead of a Violation — carried on a distinct channel the Enforcement
// Executor recognizes (place_bracket_order / adjust_trailing_stop).
type AutomationAction struct {
	Rule        string
	AccountID   string
	SymbolRoot  string
	ContractID  string
	Kind        events.ViolationAction
	StopPrice   *money.Money
	TargetPrice *money.Money
	TrailPrice  *money.Money
	Timestamp   time.Time
}

// AutomationRule is trade_management's shape.
type AutomationRule interface {
	ID() string
	Enabled() bool
	Evaluate(ctx context.Context, event events.Event, ec Context) (*AutomationAction, error)
}

// subject extracts the (account, symbol_root, contract_id) an event
// concerns, for rules that react to any position/order/trade event
// generically (session_block_outside, symbol_blocks, max_contracts).
func subject(e events.Event) (accountID, symbolRoot, contractID string, ok bool) {
	switch d := e.Data.(type) {
	case events.PositionData:
		return d.AccountID, d.Position.SymbolRoot, d.Position.ContractID, true
	case events.OrderData:
		return d.AccountID, d.Order.SymbolRoot, d.Order.ContractID, true
	case events.TradeData:
		return d.AccountID, d.Trade.SymbolRoot, d.Trade.ContractID, true
	default:
		return "", "", "", false
	}
}
