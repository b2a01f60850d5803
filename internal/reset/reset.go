// Package reset implements the Reset Scheduler (C7): triggers the daily
// reset at a configured local wall-clock time, clearing "daily"-category
// lockouts and zeroing realized P&L, with idempotence guaranteed by a
// ledger row rather than by clock comparison (spec §4.7 — this is the
// part that must stay correct across DST transitions).
//
// Grounded on the teacher's internal/scheduler.Scheduler (cron.New with
// seconds enabled, a Job interface, structured start/stop logging).
package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/lockout"
	"github.com/aristath/risk-manager/internal/pnl"
	"github.com/aristath/risk-manager/internal/store"
)

// dailyCategory is the lockout category daily-reset-eligible rules use
// (daily_realized_loss, daily_realized_profit).
const dailyCategory = "daily"

const resetKindDaily = "daily"

// AccountLister supplies the set of accounts with any recorded P&L or
// trade history, since the engine keeps no separate account registry.
type AccountLister func(ctx context.Context) ([]string, error)

// Scheduler is the Reset Scheduler (C7).
type Scheduler struct {
	log      zerolog.Logger
	clock    *clock.Service
	cron     *cron.Cron
	ledger   *store.ResetLedgerRepository
	pnl      *pnl.Tracker
	lockouts *lockout.Manager
	accounts AccountLister

	resetTime string
	timezone  string
}

// Config configures the reset time and timezone (spec §6
// `timers.daily_reset: {time, timezone}`).
type Config struct {
	ResetTime string // "HH:MM", default "17:00"
	Timezone  string // default "America/New_York"
}

// New creates a Scheduler.
func New(log zerolog.Logger, clk *clock.Service, ledger *store.ResetLedgerRepository, tracker *pnl.Tracker, lockouts *lockout.Manager, accounts AccountLister, cfg Config) *Scheduler {
	if cfg.ResetTime == "" {
		cfg.ResetTime = "17:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	return &Scheduler{
		log:       log.With().Str("component", "reset_scheduler").Logger(),
		clock:     clk,
		cron:      cron.New(cron.WithSeconds()),
		ledger:    ledger,
		pnl:       tracker,
		lockouts:  lockouts,
		accounts:  accounts,
		resetTime: cfg.ResetTime,
		timezone:  cfg.Timezone,
	}
}

// Start registers the top-of-minute check and starts the cron runner.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("0 * * * * *", func() {
		if err := s.checkAndReset(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("reset check failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register reset job: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("reset_time", s.resetTime).Str("timezone", s.timezone).Msg("reset scheduler started")
	return nil
}

// Stop drains the cron runner.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("reset scheduler stopped")
}

// checkAndReset implements spec §4.7's algorithm. It is safe to call
// every minute, every DST transition, and manually (TriggerManually
// funnels through here too) because the only gate against repeating is
// the reset ledger.
func (s *Scheduler) checkAndReset(ctx context.Context) error {
	now := s.clock.Now()
	target, err := s.clock.TodayTarget(s.resetTime, s.timezone)
	if err != nil {
		return fmt.Errorf("compute reset target: %w", err)
	}

	if abs(now.Sub(target)) > 30*time.Second {
		return nil
	}

	sessionDate, err := s.clock.SessionDate(s.timezone)
	if err != nil {
		return fmt.Errorf("compute session date: %w", err)
	}

	return s.applyReset(ctx, sessionDate)
}

// TriggerManually runs the same reset path immediately, still gated by
// the ledger (spec §4.7: "Manual reset takes the same path and respects
// the ledger").
func (s *Scheduler) TriggerManually(ctx context.Context) error {
	sessionDate, err := s.clock.SessionDate(s.timezone)
	if err != nil {
		return fmt.Errorf("compute session date: %w", err)
	}
	return s.applyReset(ctx, sessionDate)
}

func (s *Scheduler) applyReset(ctx context.Context, sessionDate string) error {
	accounts, err := s.accounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts for reset: %w", err)
	}

	applied := 0
	for _, account := range accounts {
		done, err := s.ledger.AlreadyApplied(ctx, account, sessionDate, resetKindDaily)
		if err != nil {
			return fmt.Errorf("check reset ledger for %s: %w", account, err)
		}
		if done {
			continue
		}

		if err := s.pnl.ResetForDate(ctx, account, sessionDate); err != nil {
			return fmt.Errorf("reset pnl for %s: %w", account, err)
		}
		if err := s.lockouts.ClearCategory(ctx, dailyCategory); err != nil {
			return fmt.Errorf("clear daily lockouts: %w", err)
		}
		if err := s.ledger.Record(ctx, account, sessionDate, resetKindDaily, s.clock.Now()); err != nil {
			return fmt.Errorf("record reset ledger for %s: %w", account, err)
		}
		applied++
	}

	if applied > 0 {
		s.log.Info().Int("accounts", applied).Str("session_date", sessionDate).Msg("daily reset applied")
	}
	return nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
