package events

import (
	"time"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/pkg/money"
)

// Kind is the closed set of event variants the bus carries (spec §4.3).
type Kind string

const (
	PositionOpened      Kind = "POSITION_OPENED"
	PositionUpdated     Kind = "POSITION_UPDATED"
	PositionClosed      Kind = "POSITION_CLOSED"
	OrderPlaced         Kind = "ORDER_PLACED"
	OrderFilled         Kind = "ORDER_FILLED"
	OrderCancelled      Kind = "ORDER_CANCELLED"
	OrderRejected       Kind = "ORDER_REJECTED"
	TradeExecuted       Kind = "TRADE_EXECUTED"
	QuoteUpdate         Kind = "QUOTE_UPDATE"
	UnrealizedPnLUpdate Kind = "UNREALIZED_PNL_UPDATE"
	MarketDataUpdated   Kind = "MARKET_DATA_UPDATED"
	PnLUpdated          Kind = "PNL_UPDATED"
	SDKConnected        Kind = "SDK_CONNECTED"
	SDKDisconnected     Kind = "SDK_DISCONNECTED"
	AuthFailed          Kind = "AUTH_FAILED"
	AuthSuccess         Kind = "AUTH_SUCCESS"
	RuleViolated        Kind = "RULE_VIOLATED"
	EnforcementAction   Kind = "ENFORCEMENT_ACTION"
	SystemStarted       Kind = "SYSTEM_STARTED"
)

// Data is the marker interface every per-kind payload implements, mirroring
// the teacher's EventData pattern (aristath-sentinel internal/events) of
// typed payload structs behind one event envelope instead of a bag of
// interface{} fields.
type Data interface {
	eventData()
}

// Event is the bus's single typed envelope (spec §4.3: "a single typed
// variant Event = { kind, data, timestamp, source }").
type Event struct {
	Kind      Kind
	Data      Data
	Timestamp time.Time
	Source    string // e.g. account id or "reset_scheduler", "timer_manager"
}

// PositionData carries a position lifecycle change (opened/updated/closed).
type PositionData struct {
	AccountID string
	Position  domain.Position
}

func (PositionData) eventData() {}

// OrderData carries an order lifecycle change.
type OrderData struct {
	AccountID string
	Order     domain.Order
}

func (OrderData) eventData() {}

// TradeData carries an executed fill.
type TradeData struct {
	AccountID string
	Trade     domain.Trade
}

func (TradeData) eventData() {}

// QuoteData carries a raw quote tick.
type QuoteData struct {
	SymbolRoot string
	LastPrice  *money.Money
	Bid        *money.Money
	Ask        *money.Money
}

func (QuoteData) eventData() {}

// UnrealizedPnLData carries a significant-change unrealized P&L update
// for one contract (spec §4.9).
type UnrealizedPnLData struct {
	AccountID     string
	ContractID    string
	SymbolRoot    string
	UnrealizedPnL money.Money
}

func (UnrealizedPnLData) eventData() {}

// MarketDataUpdatedData carries every valid quote, regardless of the
// significant-change gate (spec §4.9: "published on every valid quote").
type MarketDataUpdatedData struct {
	SymbolRoot string
	LastPrice  money.Money
}

func (MarketDataUpdatedData) eventData() {}

// PnLUpdatedData carries a new realized daily P&L total.
type PnLUpdatedData struct {
	AccountID   string
	RealizedPnL money.Money
	TradeCount  int
}

func (PnLUpdatedData) eventData() {}

// ConnectionData carries an SDK connection-state transition.
type ConnectionData struct {
	AccountID string
	Reason    string
}

func (ConnectionData) eventData() {}

// ViolationAction enumerates the enforcement actions a rule Violation can
// request (spec §4.11).
type ViolationAction string

const (
	ActionClosePosition     ViolationAction = "close_position"
	ActionFlatten           ViolationAction = "flatten"
	ActionFlattenAndCancel  ViolationAction = "flatten_and_cancel"
	ActionCancel            ViolationAction = "cancel"
	ActionCooldown          ViolationAction = "cooldown"
	ActionAlertOnly         ViolationAction = "alert_only"
	ActionPlaceBracketOrder ViolationAction = "place_bracket_order"
	ActionAdjustTrailing    ViolationAction = "adjust_trailing_stop"
)

// Violation is what a rule's evaluate returns on a hit (spec §4.11).
type Violation struct {
	Rule            string
	AccountID       string
	SymbolRoot      string
	ContractID      string
	Action          ViolationAction
	Severity        string
	Message         string
	Timestamp       time.Time
	LockoutRequired bool
	LockoutReason   string
	LockoutCategory string // e.g. "daily" (cleared by the reset scheduler), "cooldown_after_loss", "trade_frequency"
	LockoutUntil    time.Time
	LockoutDuration time.Duration // nonzero selects a cooldown instead of a fixed-until hard lockout
}

// RuleViolatedData wraps a Violation for publication on the bus.
type RuleViolatedData struct {
	Violation Violation
}

func (RuleViolatedData) eventData() {}

// EnforcementActionData carries the resolved action and its outcome.
type EnforcementActionData struct {
	Violation Violation
	Success   bool
	Errors    []string
}

func (EnforcementActionData) eventData() {}

// SystemStartedData marks process start, useful for admin/log correlation.
type SystemStartedData struct {
	Version string
}

func (SystemStartedData) eventData() {}
