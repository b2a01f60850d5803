// Package lockout implements the Lockout Manager (C5): per-account hard
// lockouts and duration cooldowns, persistent, with auto-expiry.
//
// Grounded directly on original_source's state/lockout_manager.py
// (set_lockout/set_cooldown/is_locked_out/clear_lockout/
// check_expired_lockouts/load_lockouts_from_db and its background sweep
// loop) — expressed in the teacher's idiom: a store-backed manager type
// taking a zerolog.Logger, not the source's asyncio task.
package lockout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/store"
	"github.com/aristath/risk-manager/internal/timers"
)

// Info is the richer read model original_source exposes via
// get_lockout_info, beyond the bare is_locked_out bool (SPEC_FULL.md
// "Supplemented features").
type Info struct {
	AccountID        string
	Reason           string
	Kind             store.LockoutKind
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RemainingSeconds int64
}

// Manager is the Lockout Manager (C5).
type Manager struct {
	log    zerolog.Logger
	clock  *clock.Service
	repo   *store.LockoutRepository
	timers *timers.Manager

	sweepInterval time.Duration

	mu    sync.RWMutex
	cache map[string]store.LockoutRow

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Manager. timerMgr may be nil if the caller does not want
// delegated auto-unlock via the Timer Manager; the 1s sweep is always the
// authoritative fallback regardless (spec §4.5).
func New(log zerolog.Logger, clk *clock.Service, repo *store.LockoutRepository, timerMgr *timers.Manager, sweepInterval time.Duration) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	return &Manager{
		log:           log.With().Str("component", "lockout_manager").Logger(),
		clock:         clk,
		repo:          repo,
		timers:        timerMgr,
		sweepInterval: sweepInterval,
		cache:         make(map[string]store.LockoutRow),
		stopCh:        make(chan struct{}),
	}
}

// Start reloads active, unexpired lockouts from the store and launches
// the background sweep (spec §4.5: "On process start, the manager
// reloads all active, non-expired lockouts from the store; expired rows
// are marked inactive").
func (m *Manager) Start(ctx context.Context) error {
	now := m.clock.Now()

	if _, err := m.repo.DeactivateExpired(ctx, now); err != nil {
		return fmt.Errorf("lockout manager start: %w", err)
	}

	rows, err := m.repo.ActiveUnexpired(ctx, now)
	if err != nil {
		return fmt.Errorf("lockout manager start: %w", err)
	}

	m.mu.Lock()
	for _, row := range rows {
		m.cache[row.AccountID] = row
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sweepLoop()
	return nil
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.stopCh:
			return
		}
	}
}

// sweepOnce is the authoritative 1s fallback that unlocks accounts even
// if a delegated Timer Manager callback was lost (spec §4.5: "Timer
// callback errors do not unlock the account — the 1 s sweep will").
func (m *Manager) sweepOnce() {
	now := m.clock.Now()
	ids, err := m.repo.DeactivateExpired(context.Background(), now)
	if err != nil {
		m.log.Error().Err(err).Msg("lockout sweep failed")
		return
	}
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range ids {
		delete(m.cache, id)
	}
	m.mu.Unlock()
}

// SetLockout installs a hard lockout expiring at until, replacing any
// existing lockout for the account (spec §4.5).
func (m *Manager) SetLockout(ctx context.Context, account, ruleID, reason, category string, until time.Time) error {
	return m.set(ctx, store.LockoutRow{
		AccountID: account,
		RuleID:    ruleID,
		Reason:    reason,
		Category:  category,
		Kind:      store.LockoutKindHard,
		LockedAt:  m.clock.Now(),
		ExpiresAt: until.UTC(),
	})
}

// SetCooldown installs a duration-based lockout, stored internally as a
// hard lockout whose expires_at = now + duration (spec §4.5).
func (m *Manager) SetCooldown(ctx context.Context, account, ruleID, reason, category string, duration time.Duration) error {
	now := m.clock.Now()
	return m.set(ctx, store.LockoutRow{
		AccountID: account,
		RuleID:    ruleID,
		Reason:    reason,
		Category:  category,
		Kind:      store.LockoutKindCooldown,
		LockedAt:  now,
		ExpiresAt: now.Add(duration),
	})
}

func (m *Manager) set(ctx context.Context, row store.LockoutRow) error {
	// Store write errors abort the lockout set entirely (spec §4.5
	// failure model: "store write errors abort the lockout set and
	// surface as a fatal violation").
	if err := m.repo.Upsert(ctx, row); err != nil {
		return fmt.Errorf("set lockout: %w", err)
	}

	m.mu.Lock()
	m.cache[row.AccountID] = row
	m.mu.Unlock()

	if m.timers != nil {
		remaining := row.ExpiresAt.Sub(m.clock.Now())
		if remaining > 0 {
			name := "lockout_auto_unlock_" + row.AccountID
			_ = m.timers.StartTimer(ctx, name, row.AccountID, "lockout_auto_unlock", "", remaining, func() {
				_ = m.ClearLockout(context.Background(), row.AccountID)
			})
		}
	}
	return nil
}

// IsLockedOut returns true iff an active, unexpired lockout exists. An
// expired cached lockout is cleared transactionally before returning
// false (spec §4.5).
func (m *Manager) IsLockedOut(ctx context.Context, account string) (bool, error) {
	m.mu.RLock()
	row, ok := m.cache[account]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}

	now := m.clock.Now()
	if row.ExpiresAt.After(now) {
		return true, nil
	}

	if err := m.repo.Deactivate(ctx, account); err != nil {
		return false, fmt.Errorf("clear expired lockout: %w", err)
	}
	m.mu.Lock()
	delete(m.cache, account)
	m.mu.Unlock()
	return false, nil
}

// ClearLockout marks the account's lockout inactive and cancels any
// associated auto-unlock timer (spec §4.5).
func (m *Manager) ClearLockout(ctx context.Context, account string) error {
	if err := m.repo.Deactivate(ctx, account); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	m.mu.Lock()
	delete(m.cache, account)
	m.mu.Unlock()

	if m.timers != nil {
		_ = m.timers.CancelTimer(ctx, "lockout_auto_unlock_"+account)
	}
	return nil
}

// ClearCategory clears every active lockout in the given category across
// all accounts — used by the reset scheduler to clear "daily" lockouts.
func (m *Manager) ClearCategory(ctx context.Context, category string) error {
	if err := m.repo.ClearCategory(ctx, category); err != nil {
		return err
	}
	m.mu.Lock()
	for id, row := range m.cache {
		if row.Category == category {
			delete(m.cache, id)
		}
	}
	m.mu.Unlock()
	return nil
}

// Info returns the richer read model for the operational `lockout list`
// surface (SPEC_FULL.md).
func (m *Manager) Info(account string) (*Info, bool) {
	m.mu.RLock()
	row, ok := m.cache[account]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	remaining := row.ExpiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return &Info{
		AccountID:        row.AccountID,
		Reason:           row.Reason,
		Kind:             row.Kind,
		CreatedAt:        row.LockedAt,
		ExpiresAt:        row.ExpiresAt,
		RemainingSeconds: int64(remaining / time.Second),
	}, true
}

// All returns the in-memory Info for every currently locked-out account,
// for the `lockout list` admin command.
func (m *Manager) All() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.cache))
	now := m.clock.Now()
	for _, row := range m.cache {
		remaining := row.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Info{
			AccountID:        row.AccountID,
			Reason:           row.Reason,
			Kind:             row.Kind,
			CreatedAt:        row.LockedAt,
			ExpiresAt:        row.ExpiresAt,
			RemainingSeconds: int64(remaining / time.Second),
		})
	}
	return out
}

// Stop halts the background sweep.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
