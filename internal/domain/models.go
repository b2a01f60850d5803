// Package domain holds the shared position/order vocabulary types that
// flow through the event bus, the rule set, and the enforcement executor.
package domain

import (
	"time"

	"github.com/aristath/risk-manager/pkg/money"
)

// Side is long or short. Event payloads also carry a signed size; rules
// must read Side explicitly and never infer it from the sign (spec §3).
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderType enumerates the order types the SDK can report (spec §3
// Order).
type OrderType string

const (
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

// OrderStatus enumerates the lifecycle states of a broker order.
type OrderStatus string

const (
	OrderStatusWorking   OrderStatus = "WORKING"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// TickInfo is the per-symbol-root tick economics the rewrite treats as a
// configuration input (spec §9: "not a broker lookup, to keep P&L
// computation deterministic and unit-testable offline").
type TickInfo struct {
	TickSize  money.Money
	TickValue money.Money
}

// Position is the engine's in-memory view of an open position for one
// symbol root (spec §3 Position).
type Position struct {
	AccountID       string
	SymbolRoot      string
	ContractID      string
	Side            Side
	Quantity        int64
	EntryPrice      money.Money
	UnrealizedPnL   money.Money
	LastMarketPrice money.Money
	StopOrderID     string
	TargetOrderID   string
}

// Order is the shape an event carries for an order-lifecycle update
// (spec §3 Order).
type Order struct {
	OrderID         string
	ContractID      string
	SymbolRoot      string
	Type            OrderType
	Side            Side
	Size            int64
	StopPrice       *money.Money
	LimitPrice      *money.Money
	Status          OrderStatus
	FilledQuantity  int64
}

// Trade is a single executed fill, carrying realized P&L when the broker
// reports one (spec §3 Trade record; "half-turn" trades have no realized
// amount — see HasRealizedPnL).
type Trade struct {
	AccountID   string
	TradeID     string
	SymbolRoot  string
	ContractID  string
	Side        Side
	Quantity    int64
	Price       money.Money
	RealizedPnL *money.Money
	Timestamp   time.Time
}

// HasRealizedPnL reports whether this trade closed a position (as
// opposed to a half-turn open) — spec §3/§4.11: "half-turn trades (null
// P&L) are ignored" by the realized-P&L rules.
func (t Trade) HasRealizedPnL() bool {
	return t.RealizedPnL != nil
}
