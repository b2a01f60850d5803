// Package marketdata implements the Market Data Subsystem (C9):
// maintains last price per symbol root, computes unrealized P&L from
// quote updates and tick economics, gates publication on a
// significant-change threshold, and drives a low-frequency polling
// fallback that runs alongside the quote stream.
//
// Grounded on original_source's integrations/sdk/market_data.py: the
// "use last_price, else bid/ask midpoint, else skip" precedence, the
// significant-change gate, the status-bar display, and the 0.5s poll
// cadence are all carried from there (SPEC_FULL.md "Supplemented
// features"), expressed as a struct taking a zerolog.Logger and an
// *events.Bus instead of the source's asyncio task + loguru.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/pkg/money"
)

var half = decimal.NewFromFloat(0.5)

// defaultSignificantChange is the $10 default gate (spec §4.9).
var defaultSignificantChange = money.New(10)

// QuoteSource is the SDK's "last price" accessor used by the polling
// fallback (spec §4.9, §6).
type QuoteSource interface {
	LastPrice(ctx context.Context, symbolRoot string) (money.Money, bool, error)
}

// PositionProvider gives the subsystem read-only access to open
// positions and tick economics so it can compute unrealized P&L without
// owning position state itself — positions remain engine-owned (spec §5).
type PositionProvider interface {
	PositionsFor(symbolRoot string) []domain.Position
	TickInfo(symbolRoot string) (domain.TickInfo, bool)
}

// Subsystem is the Market Data Subsystem (C9).
type Subsystem struct {
	log       zerolog.Logger
	bus       *events.Bus
	positions PositionProvider
	pollSrc   QuoteSource

	significantChange money.Money

	mu            sync.Mutex
	lastPrice     map[string]money.Money // symbol_root -> price
	lastEmitted   map[string]money.Money // contract_id -> last published unrealized pnl
	statusEnabled bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures optional Subsystem behavior.
type Option func(*Subsystem)

// WithSignificantChange overrides the default $10 gate.
func WithSignificantChange(threshold money.Money) Option {
	return func(s *Subsystem) { s.significantChange = threshold }
}

// WithStatusReporter enables the optional half-second console status
// line (SPEC_FULL.md "Status bar / live P&L", disabled by default).
func WithStatusReporter(enabled bool) Option {
	return func(s *Subsystem) { s.statusEnabled = enabled }
}

// New creates a Subsystem.
func New(log zerolog.Logger, bus *events.Bus, positions PositionProvider, pollSrc QuoteSource, opts ...Option) *Subsystem {
	s := &Subsystem{
		log:               log.With().Str("component", "market_data").Logger(),
		bus:               bus,
		positions:         positions,
		pollSrc:           pollSrc,
		significantChange: defaultSignificantChange,
		lastPrice:         make(map[string]money.Money),
		lastEmitted:       make(map[string]money.Money),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnQuote handles a QUOTE_UPDATE: resolves the effective price from
// last/bid/ask per spec §4.9 precedence, updates the symbol's last
// price, publishes MARKET_DATA_UPDATED unconditionally, then recomputes
// unrealized P&L for every open position on that root and publishes
// UNREALIZED_PNL_UPDATE for any contract whose change clears the
// significant-change gate.
func (s *Subsystem) OnQuote(symbolRoot string, lastPrice, bid, ask *money.Money) {
	effective, ok := resolvePrice(lastPrice, bid, ask)
	if !ok {
		return // neither side usable; ignore the quote (spec §4.9)
	}

	s.mu.Lock()
	s.lastPrice[symbolRoot] = effective
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Kind:   events.MarketDataUpdated,
			Source: symbolRoot,
			Data:   events.MarketDataUpdatedData{SymbolRoot: symbolRoot, LastPrice: effective},
		})
	}

	s.recomputePositions(symbolRoot, effective)
}

func resolvePrice(lastPrice, bid, ask *money.Money) (money.Money, bool) {
	if lastPrice != nil {
		return *lastPrice, true
	}
	if bid != nil && ask != nil {
		mid := bid.Add(*ask).MulDecimal(half)
		return mid, true
	}
	return money.Zero, false
}

func (s *Subsystem) recomputePositions(symbolRoot string, currentPrice money.Money) {
	if s.positions == nil {
		return
	}
	tick, ok := s.positions.TickInfo(symbolRoot)
	if !ok {
		return
	}

	for _, pos := range s.positions.PositionsFor(symbolRoot) {
		pnl := UnrealizedPnL(pos, currentPrice, tick)

		if s.significant(pos.ContractID, pnl) && s.bus != nil {
			s.bus.Publish(events.Event{
				Kind:   events.UnrealizedPnLUpdate,
				Source: pos.ContractID,
				Data: events.UnrealizedPnLData{
					AccountID:     pos.AccountID,
					ContractID:    pos.ContractID,
					SymbolRoot:    symbolRoot,
					UnrealizedPnL: pnl,
				},
			})
		}
	}
}

// significant reports whether pnl differs from the last value published
// for contractID by more than the configured threshold, and records pnl
// as the new baseline when it does (spec §4.9).
func (s *Subsystem) significant(contractID string, pnl money.Money) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.lastEmitted[contractID]
	if had && prev.Sub(pnl).Abs().LessThanOrEqual(s.significantChange) {
		return false
	}
	s.lastEmitted[contractID] = pnl
	return true
}

// UnrealizedPnL implements the formula from spec §4.9:
//
//	ticks = (current_price − entry_price) / tick_size
//	sign  = +1 if side = LONG else −1
//	pnl   = sign × ticks × quantity × tick_value
func UnrealizedPnL(pos domain.Position, currentPrice money.Money, tick domain.TickInfo) money.Money {
	delta := currentPrice.Sub(pos.EntryPrice)
	ticks := delta.Div(tick.TickSize.Decimal())

	sign := int64(1)
	if pos.Side == domain.SideShort {
		sign = -1
	}

	return tick.TickValue.MulDecimal(ticks).Mul(pos.Quantity * sign)
}

// StartPolling drives the ≤2Hz polling fallback (spec §4.9): on every
// interval, whether or not push quotes are arriving, fetch the SDK's last
// price for each subscribed symbol and feed it through the same OnQuote
// path. Duplicate
// updates for an unchanged price are idempotent via the significant-
// change gate.
func (s *Subsystem) StartPolling(ctx context.Context, symbols []string, interval time.Duration) error {
	if s.pollSrc == nil {
		return fmt.Errorf("start polling: no QuoteSource configured")
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond // 2Hz
	}
	if interval < 500*time.Millisecond {
		return fmt.Errorf("start polling: interval %s exceeds the 2Hz ceiling", interval)
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if err := limiter.Wait(ctx); err != nil {
				return // context cancelled or stopped
			}
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.pollOnce(ctx, symbols)
		}
	}()
	return nil
}

func (s *Subsystem) pollOnce(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		price, ok, err := s.pollSrc.LastPrice(ctx, sym)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("poll fallback: last price query failed")
			continue
		}
		if !ok {
			continue
		}
		s.OnQuote(sym, &price, nil, nil)
	}
}

// StopPolling halts the polling goroutine.
func (s *Subsystem) StopPolling() {
	close(s.stopCh)
	s.wg.Wait()
}

// StartStatusReporter launches the optional console status line
// (SPEC_FULL.md "Status bar / live P&L", grounded on original_source's
// market_data.py status-bar loop). No-op unless WithStatusReporter(true)
// was passed to New.
func (s *Subsystem) StartStatusReporter(ctx context.Context) {
	if !s.statusEnabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.logStatus()
			}
		}
	}()
}

func (s *Subsystem) logStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, price := range s.lastPrice {
		s.log.Debug().Str("symbol", symbol).Str("last_price", price.String()).Msg("status")
	}
}

// LastPrice returns the most recently resolved price for symbolRoot.
func (s *Subsystem) LastPrice(symbolRoot string) (money.Money, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lastPrice[symbolRoot]
	return p, ok
}
