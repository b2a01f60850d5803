// Package sdkbridge implements the SDK Event Bridge (C10): translates
// already-received broker SDK callbacks into the engine's typed bus
// events. The concrete broker transport (sockets, auth, reconnection) is
// explicitly out of scope (spec §1) — this package only depends on the
// small Raw* payload shapes a real adapter would populate from its own
// SDK client, grounded on original_source's bridge adapters (sign/side
// normalization, symbol-prefix stripping, and size==0-means-closed).
package sdkbridge

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/pkg/money"
)

// SideResolver derives LONG/SHORT from the SDK's explicit direction flag.
// Sign of quantity is never used for this (spec §4.10: "side derived from
// the SDK's explicit type flag", not inferred from size's sign).
type SideResolver func(directionFlag int) domain.Side

// OrderTypeResolver maps a broker-specific order-type flag onto the
// engine's closed OrderType set.
type OrderTypeResolver func(raw int) domain.OrderType

// OrderStatusResolver maps a broker-specific status flag onto the
// engine's closed OrderStatus set.
type OrderStatusResolver func(raw string) domain.OrderStatus

// QuoteSink receives a resolved quote, in the same shape
// internal/marketdata.Subsystem.OnQuote expects. Declared locally so this
// package depends only on an interface, not on internal/marketdata.
type QuoteSink interface {
	OnQuote(symbolRoot string, lastPrice, bid, ask *money.Money)
}

// AccountSuite bundles one account's identity plus the broker-specific
// parsing helpers the bridge needs to normalize that account's callbacks
// (spec §9 Open Question #2: a single process may legally bridge N
// accounts; nothing requires more than one).
type AccountSuite struct {
	AccountID         string
	SymbolExtractor   protective.SymbolExtractor
	SideResolver      SideResolver
	OrderTypeResolver OrderTypeResolver
	StatusResolver    OrderStatusResolver
}

// RawPosition is the broker's position-update callback payload, prior to
// sign/side normalization and symbol-prefix stripping.
type RawPosition struct {
	ContractID      string
	RawSymbol       string // e.g. "F.US.MNQ"
	Size            int64  // signed; never used to derive Side
	DirectionFlag   int
	EntryPrice      money.Money
	LastMarketPrice money.Money
	UnrealizedPnL   money.Money
	StopOrderID     string
	TargetOrderID   string
	Removed         bool // explicit SDK "remove" action
}

// RawOrder is the broker's order-update callback payload.
type RawOrder struct {
	OrderID        string
	ContractID     string
	RawSymbol      string
	TypeFlag       int
	DirectionFlag  int
	Size           int64
	StopPrice      *money.Money
	LimitPrice     *money.Money
	StatusFlag     string
	FilledQuantity int64
}

// RawTrade is the broker's trade-update (fill) callback payload.
type RawTrade struct {
	TradeID       string
	ContractID    string
	RawSymbol     string
	DirectionFlag int
	Quantity      int64
	Price         money.Money
	RealizedPnL   *money.Money // nil on a half-turn fill
	Timestamp     time.Time
}

// RawQuote is the broker's quote/market-data callback payload.
type RawQuote struct {
	RawSymbol string
	LastPrice *money.Money
	Bid       *money.Money
	Ask       *money.Money
}

// ConnectionState enumerates the SDK connection transitions the bridge
// turns into SDK_CONNECTED / SDK_DISCONNECTED / AUTH_FAILED / AUTH_SUCCESS.
type ConnectionState string

const (
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnAuthFailed   ConnectionState = "auth_failed"
	ConnAuthSuccess  ConnectionState = "auth_success"
)

// Bridge is the SDK Event Bridge (C10).
type Bridge struct {
	log      zerolog.Logger
	bus      *events.Bus
	accounts map[string]AccountSuite

	mu    sync.Mutex
	known map[string]bool // "accountID|contractID" -> position currently open
}

// New creates a Bridge for the given account suites.
func New(log zerolog.Logger, bus *events.Bus, suites []AccountSuite) *Bridge {
	accounts := make(map[string]AccountSuite, len(suites))
	for _, s := range suites {
		accounts[s.AccountID] = s
	}
	return &Bridge{
		log:      log.With().Str("component", "sdk_bridge").Logger(),
		bus:      bus,
		accounts: accounts,
		known:    make(map[string]bool),
	}
}

func (b *Bridge) suite(accountID string) (AccountSuite, bool) {
	s, ok := b.accounts[accountID]
	return s, ok
}

func key(accountID, contractID string) string { return accountID + "|" + contractID }

// OnPositionUpdate handles the SDK's position_update callback. It always
// emits POSITION_CLOSED on an explicit remove action or size == 0 (spec
// §4.10), regardless of whether the bridge had previously seen the
// contract open.
func (b *Bridge) OnPositionUpdate(accountID string, raw RawPosition) {
	suite, ok := b.suite(accountID)
	if !ok {
		b.log.Warn().Str("account_id", accountID).Msg("position update for unknown account suite")
		return
	}

	symbolRoot := suite.SymbolExtractor(raw.RawSymbol)
	k := key(accountID, raw.ContractID)

	if raw.Removed || raw.Size == 0 {
		b.mu.Lock()
		delete(b.known, k)
		b.mu.Unlock()
		b.publish(events.PositionClosed, accountID, events.PositionData{
			AccountID: accountID,
			Position:  domain.Position{AccountID: accountID, SymbolRoot: symbolRoot, ContractID: raw.ContractID},
		})
		return
	}

	side := suite.SideResolver(raw.DirectionFlag)
	position := domain.Position{
		AccountID:       accountID,
		SymbolRoot:      symbolRoot,
		ContractID:      raw.ContractID,
		Side:            side,
		Quantity:        abs64(raw.Size),
		EntryPrice:      raw.EntryPrice,
		UnrealizedPnL:   raw.UnrealizedPnL,
		LastMarketPrice: raw.LastMarketPrice,
		StopOrderID:     raw.StopOrderID,
		TargetOrderID:   raw.TargetOrderID,
	}

	b.mu.Lock()
	wasOpen := b.known[k]
	b.known[k] = true
	b.mu.Unlock()

	kind := events.PositionUpdated
	if !wasOpen {
		kind = events.PositionOpened
	}
	b.publish(kind, accountID, events.PositionData{AccountID: accountID, Position: position})
}

// OnOrderUpdate handles the SDK's order_update callback, classifying the
// lifecycle event kind from the broker's status flag.
func (b *Bridge) OnOrderUpdate(accountID string, raw RawOrder) {
	suite, ok := b.suite(accountID)
	if !ok {
		b.log.Warn().Str("account_id", accountID).Msg("order update for unknown account suite")
		return
	}

	order := domain.Order{
		OrderID:        raw.OrderID,
		ContractID:     raw.ContractID,
		SymbolRoot:     suite.SymbolExtractor(raw.RawSymbol),
		Type:           suite.OrderTypeResolver(raw.TypeFlag),
		Side:           suite.SideResolver(raw.DirectionFlag),
		Size:           abs64(raw.Size),
		StopPrice:      raw.StopPrice,
		LimitPrice:     raw.LimitPrice,
		Status:         suite.StatusResolver(raw.StatusFlag),
		FilledQuantity: raw.FilledQuantity,
	}

	var kind events.Kind
	switch order.Status {
	case domain.OrderStatusWorking, domain.OrderStatusAccepted:
		kind = events.OrderPlaced
	case domain.OrderStatusFilled:
		kind = events.OrderFilled
	case domain.OrderStatusCancelled:
		kind = events.OrderCancelled
	case domain.OrderStatusRejected:
		kind = events.OrderRejected
	default:
		b.log.Warn().Str("status", string(order.Status)).Msg("order update with unrecognized status, dropping")
		return
	}

	b.publish(kind, accountID, events.OrderData{AccountID: accountID, Order: order})
}

// OnTradeUpdate handles the SDK's trade_update (fill) callback.
func (b *Bridge) OnTradeUpdate(accountID string, raw RawTrade) {
	suite, ok := b.suite(accountID)
	if !ok {
		b.log.Warn().Str("account_id", accountID).Msg("trade update for unknown account suite")
		return
	}

	trade := domain.Trade{
		AccountID:   accountID,
		TradeID:     raw.TradeID,
		SymbolRoot:  suite.SymbolExtractor(raw.RawSymbol),
		ContractID:  raw.ContractID,
		Side:        suite.SideResolver(raw.DirectionFlag),
		Quantity:    abs64(raw.Quantity),
		Price:       raw.Price,
		RealizedPnL: raw.RealizedPnL,
		Timestamp:   raw.Timestamp,
	}
	b.publish(events.TradeExecuted, accountID, events.TradeData{AccountID: accountID, Trade: trade})
}

// OnQuoteUpdate routes a quote callback to sink (normally
// internal/marketdata.Subsystem), after stripping the broker symbol
// prefix. The bridge does not publish a bus event itself here — the
// market-data subsystem owns MARKET_DATA_UPDATED / UNREALIZED_PNL_UPDATE
// publication (spec §4.9).
func (b *Bridge) OnQuoteUpdate(raw RawQuote, sink QuoteSink, extractor protective.SymbolExtractor) {
	if sink == nil {
		return
	}
	symbolRoot := raw.RawSymbol
	if extractor != nil {
		symbolRoot = extractor(raw.RawSymbol)
	}
	sink.OnQuote(symbolRoot, raw.LastPrice, raw.Bid, raw.Ask)
}

// OnAccountUpdate drops account-update callbacks entirely (spec §4.10:
// "they carry balance snapshots the engine does not need").
func (b *Bridge) OnAccountUpdate(accountID string, _ map[string]any) {
	b.log.Debug().Str("account_id", accountID).Msg("account update dropped")
}

// OnConnectionStateChange translates an SDK connection transition into
// SDK_CONNECTED / SDK_DISCONNECTED / AUTH_FAILED / AUTH_SUCCESS.
func (b *Bridge) OnConnectionStateChange(accountID string, state ConnectionState, reason string) {
	var kind events.Kind
	switch state {
	case ConnConnected:
		kind = events.SDKConnected
	case ConnDisconnected:
		kind = events.SDKDisconnected
	case ConnAuthFailed:
		kind = events.AuthFailed
	case ConnAuthSuccess:
		kind = events.AuthSuccess
	default:
		b.log.Warn().Str("state", string(state)).Msg("unrecognized connection state, dropping")
		return
	}
	b.publish(kind, accountID, events.ConnectionData{AccountID: accountID, Reason: reason})
}

func (b *Bridge) publish(kind events.Kind, source string, data events.Data) {
	b.bus.Publish(events.Event{Kind: kind, Data: data, Source: source})
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// StripPrefix is a ready-made SymbolExtractor for the common
// "EXCHANGE.COUNTRY.ROOT" broker convention (e.g. "F.US.MNQ" -> "MNQ"),
// offered as a default so every account suite doesn't have to hand-write
// one (spec §4.10 example).
func StripPrefix(raw string) string {
	if i := strings.LastIndex(raw, "."); i >= 0 && i+1 < len(raw) {
		return raw[i+1:]
	}
	return raw
}
