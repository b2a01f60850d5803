// Package protective implements the Protective-Order Cache (C8):
// per-contract working stop-loss / take-profit lookup in O(1) for rule
// evaluation, with a live-query fallback and semantic classification of
// ambiguous limit orders.
//
// Grounded on original_source's integrations/sdk/protective_orders.py —
// specifically its cache-then-SDK-fallback query shape and its
// set_helpers(symbol_extractor, side_name) injection, which this package
// carries as constructor options (SPEC_FULL.md "Supplemented features")
// instead of hardcoding a broker's symbol/side conventions.
package protective

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/pkg/money"
)

// Kind classifies a working order's purpose relative to a position.
type Kind string

const (
	KindStopLoss   Kind = "stop_loss"
	KindTakeProfit Kind = "take_profit"
	KindEntry      Kind = "entry"
	KindUnknown    Kind = "unknown"
)

// Entry is a cached protective order (spec §3 "Protective-order cache
// entries").
type Entry struct {
	OrderID  string
	Price    money.Money
	Side     domain.Side
	Quantity int64
	CachedAt time.Time
}

// WorkingOrderSource is the on-demand fallback: a live SDK query for
// every working order on a contract, used when the cache is empty
// (spec §4.8 population path 2). The concrete broker adapter implements
// this; the cache only depends on the interface (spec §1).
type WorkingOrderSource interface {
	WorkingOrders(ctx context.Context, contractID string) ([]domain.Order, error)
}

// SymbolExtractor pulls a bare symbol root out of a broker-specific
// instrument identifier (e.g. "F.US.MNQ" -> "MNQ"). Optional; the cache
// itself never needs it, but it is threaded through so a concrete SDK
// adapter sharing this Cache's construction can reuse one helper set
// (original_source's set_helpers).
type SymbolExtractor func(raw string) string

// SideName renders a broker-specific numeric/flag side into a display
// string. Same rationale as SymbolExtractor.
type SideName func(raw int) string

// Option configures optional helper injection on a Cache.
type Option func(*Cache)

// WithSymbolExtractor installs a SymbolExtractor helper.
func WithSymbolExtractor(f SymbolExtractor) Option {
	return func(c *Cache) { c.symbolExtractor = f }
}

// WithSideName installs a SideName helper.
func WithSideName(f SideName) Option {
	return func(c *Cache) { c.sideName = f }
}

// Cache is the Protective-Order Cache (C8).
type Cache struct {
	log zerolog.Logger
	sdk WorkingOrderSource

	mu          sync.Mutex
	stopLosses  map[string]Entry // keyed by contract_id
	takeProfits map[string]Entry

	symbolExtractor SymbolExtractor
	sideName        SideName
}

// New creates a Cache. sdk may be nil if the caller never needs the
// on-demand fallback (e.g. pure unit tests that only drive the
// event-driven path).
func New(log zerolog.Logger, sdk WorkingOrderSource, opts ...Option) *Cache {
	c := &Cache{
		log:         log.With().Str("component", "protective_cache").Logger(),
		sdk:         sdk,
		stopLosses:  make(map[string]Entry),
		takeProfits: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify determines a working order's semantic purpose given the
// position it belongs to (spec §4.8 classification table).
func Classify(order domain.Order, position domain.Position) Kind {
	switch order.Type {
	case domain.OrderTypeStop, domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop:
		return KindStopLoss
	case domain.OrderTypeLimit:
		if order.LimitPrice == nil {
			return KindUnknown
		}
		limit := *order.LimitPrice
		switch position.Side {
		case domain.SideLong:
			if limit.GreaterThan(position.EntryPrice) {
				return KindTakeProfit
			}
			return KindEntry
		case domain.SideShort:
			if limit.LessThan(position.EntryPrice) {
				return KindTakeProfit
			}
			return KindEntry
		}
	}
	return KindUnknown
}

// OnOrderPlaced handles ORDER_PLACED: classifies the order and inserts
// it into the appropriate map (spec §4.8 population path 1).
func (c *Cache) OnOrderPlaced(order domain.Order, position domain.Position) {
	kind := Classify(order, position)
	if kind != KindStopLoss && kind != KindTakeProfit {
		return
	}

	entry := Entry{OrderID: order.OrderID, Side: order.Side, Quantity: order.Size, CachedAt: time.Now().UTC()}
	if order.StopPrice != nil {
		entry.Price = *order.StopPrice
	} else if order.LimitPrice != nil {
		entry.Price = *order.LimitPrice
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindStopLoss:
		c.stopLosses[order.ContractID] = entry
	case KindTakeProfit:
		c.takeProfits[order.ContractID] = entry
	}
}

// OnOrderRemoved handles ORDER_FILLED/CANCELLED/REJECTED: removes the
// order from whichever map holds it.
func (c *Cache) OnOrderRemoved(contractID, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.stopLosses[contractID]; ok && e.OrderID == orderID {
		delete(c.stopLosses, contractID)
	}
	if e, ok := c.takeProfits[contractID]; ok && e.OrderID == orderID {
		delete(c.takeProfits, contractID)
	}
}

// Invalidate clears both cache entries for contractID. Must be called on
// every POSITION_UPDATED event before rules read the cache (spec §4.8
// "critical" invalidation rule).
func (c *Cache) Invalidate(contractID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stopLosses, contractID)
	delete(c.takeProfits, contractID)
}

// StopLoss returns the working stop-loss for contractID, falling back to
// a live SDK query (and repopulating both maps) when the cache has no
// entry.
func (c *Cache) StopLoss(ctx context.Context, contractID string, position domain.Position) (*Entry, error) {
	c.mu.Lock()
	e, ok := c.stopLosses[contractID]
	c.mu.Unlock()
	if ok {
		return &e, nil
	}
	if err := c.refresh(ctx, contractID, position); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.stopLosses[contractID]; ok {
		return &e, nil
	}
	return nil, nil
}

// TakeProfit is StopLoss's counterpart for the take-profit map.
func (c *Cache) TakeProfit(ctx context.Context, contractID string, position domain.Position) (*Entry, error) {
	c.mu.Lock()
	e, ok := c.takeProfits[contractID]
	c.mu.Unlock()
	if ok {
		return &e, nil
	}
	if err := c.refresh(ctx, contractID, position); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.takeProfits[contractID]; ok {
		return &e, nil
	}
	return nil, nil
}

// refresh runs the on-demand SDK query and applies semantic
// classification, populating both maps (spec §4.8 population path 2).
func (c *Cache) refresh(ctx context.Context, contractID string, position domain.Position) error {
	if c.sdk == nil {
		return nil
	}
	orders, err := c.sdk.WorkingOrders(ctx, contractID)
	if err != nil {
		return fmt.Errorf("query working orders for %s: %w", contractID, err)
	}

	for _, order := range orders {
		c.OnOrderPlaced(order, position)
	}
	return nil
}
