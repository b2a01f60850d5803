// Package pnl implements the P&L Tracker (C6): accumulates realized
// per-account daily P&L, persisted on every mutation, reset-aware.
package pnl

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/store"
	"github.com/aristath/risk-manager/pkg/money"
)

// Tracker is the P&L Tracker (C6).
type Tracker struct {
	log      zerolog.Logger
	clock    *clock.Service
	repo     *store.PnLRepository
	timezone string
}

// New creates a Tracker. timezone names the IANA zone whose local
// calendar date defines a "session" (spec §4.6: "Session date =
// wall-clock date in the configured timezone").
func New(log zerolog.Logger, clk *clock.Service, repo *store.PnLRepository, timezone string) *Tracker {
	return &Tracker{
		log:      log.With().Str("component", "pnl_tracker").Logger(),
		clock:    clk,
		repo:     repo,
		timezone: timezone,
	}
}

// AddTradePnL applies delta to account's running total for the current
// session date and returns the new total (spec §4.6). The tracker never
// derives delta itself — it only ever applies broker-reported amounts.
func (t *Tracker) AddTradePnL(ctx context.Context, account string, delta money.Money) (money.Money, error) {
	sessionDate, err := t.clock.SessionDate(t.timezone)
	if err != nil {
		return money.Zero, fmt.Errorf("pnl tracker session date: %w", err)
	}
	total, err := t.repo.AddTradePnL(ctx, account, sessionDate, delta)
	if err != nil {
		return money.Zero, fmt.Errorf("add trade pnl: %w", err)
	}
	return total, nil
}

// GetDailyPnL returns the current realized total for account's current
// session date.
func (t *Tracker) GetDailyPnL(ctx context.Context, account string) (money.Money, error) {
	sessionDate, err := t.clock.SessionDate(t.timezone)
	if err != nil {
		return money.Zero, fmt.Errorf("pnl tracker session date: %w", err)
	}
	row, err := t.repo.Get(ctx, account, sessionDate)
	if err != nil {
		return money.Zero, fmt.Errorf("get daily pnl: %w", err)
	}
	return row.RealizedPnL, nil
}

// GetTradeCount returns the number of P&L-mutating trades recorded for
// account's current session date.
func (t *Tracker) GetTradeCount(ctx context.Context, account string) (int, error) {
	sessionDate, err := t.clock.SessionDate(t.timezone)
	if err != nil {
		return 0, fmt.Errorf("pnl tracker session date: %w", err)
	}
	row, err := t.repo.Get(ctx, account, sessionDate)
	if err != nil {
		return 0, fmt.Errorf("get trade count: %w", err)
	}
	return row.TradeCount, nil
}

// ResetDailyPnL zeroes account's row for the current session date (used
// directly by tests; the Reset Scheduler goes through ResetForDate with
// the session date it computed at reset time instead).
func (t *Tracker) ResetDailyPnL(ctx context.Context, account string) error {
	sessionDate, err := t.clock.SessionDate(t.timezone)
	if err != nil {
		return fmt.Errorf("pnl tracker session date: %w", err)
	}
	return t.resetForDate(ctx, account, sessionDate)
}

// ResetForDate zeroes account's row for an explicit session date — what
// the Reset Scheduler calls, since its "today" is computed against the
// reset's own timezone/time rather than t.clock.Now() at call time.
func (t *Tracker) ResetForDate(ctx context.Context, account, sessionDate string) error {
	return t.resetForDate(ctx, account, sessionDate)
}

func (t *Tracker) resetForDate(ctx context.Context, account, sessionDate string) error {
	if err := t.repo.Reset(ctx, account, sessionDate); err != nil {
		return fmt.Errorf("reset daily pnl: %w", err)
	}
	return nil
}

// KnownAccounts lists every account with a P&L row, for the reset
// scheduler to iterate without a separate account registry.
func (t *Tracker) KnownAccounts(ctx context.Context) ([]string, error) {
	return t.repo.KnownAccounts(ctx)
}
