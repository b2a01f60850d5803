// Package timers implements the Timer Manager (C4): named, one-shot
// countdown timers with callbacks, backed by the persistent store so a
// grace-period or cooldown timer survives a process restart.
//
// Grounded on the teacher's internal/scheduler.Scheduler (cron-driven
// background job runner) generalized from "run job on a cron schedule"
// to "run a named one-shot callback when its deadline passes", since the
// spec's timers are ad hoc per-contract/per-account deadlines rather than
// fixed cron expressions.
package timers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/store"
)

// Callback runs when a timer fires. Errors are logged; they do not retry
// and do not crash the sweep (spec §4.4: "exceptions are logged").
type Callback func()

// Factory reconstructs a Callback for a timer reloaded from the store
// after a restart, given the timer's account id and payload; the Manager
// picks the Factory by the timer's kind. Rule
// implementations that start timers register a Factory for their kind so
// their timers survive a restart without the engine needing to know rule
// internals.
type Factory func(accountID, payload string) Callback

type entry struct {
	name      string
	accountID string
	firesAt   time.Time
	kind      string
	payload   string
	callback  Callback
}

// Manager is the Timer Manager (C4).
type Manager struct {
	log   zerolog.Logger
	clock *clock.Service
	store *store.TimerRepository

	sweepInterval time.Duration

	mu       sync.Mutex
	timers   map[string]*entry
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	factories map[string]Factory
}

// New creates a Manager. sweepInterval should be ≤ 1s per spec §4.4; pass
// 0 to use the default (1s).
func New(log zerolog.Logger, clk *clock.Service, repo *store.TimerRepository, sweepInterval time.Duration) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	return &Manager{
		log:           log.With().Str("component", "timer_manager").Logger(),
		clock:         clk,
		store:         repo,
		sweepInterval: sweepInterval,
		timers:        make(map[string]*entry),
		stopCh:        make(chan struct{}),
		factories:     make(map[string]Factory),
	}
}

// RegisterFactory associates a timer kind with the Factory that can
// rebuild its Callback after a restart. Call before Start.
func (m *Manager) RegisterFactory(kind string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[kind] = f
}

// Start reloads persisted timers (reconstructing callbacks via the
// registered factories) and launches the sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	rows, err := m.store.All(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, row := range rows {
		factory, ok := m.factories[row.Kind]
		if !ok {
			m.log.Warn().Str("name", row.Name).Str("kind", row.Kind).
				Msg("no factory registered for persisted timer kind, dropping")
			continue
		}
		m.timers[row.Name] = &entry{
			name:      row.Name,
			accountID: row.AccountID,
			firesAt:   row.FiresAt,
			kind:      row.Kind,
			payload:   row.Payload,
			callback:  factory(row.AccountID, row.Payload),
		}
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

func (m *Manager) sweepOnce() {
	now := m.clock.Now()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	var fired []*entry
	for name, e := range m.timers {
		if !e.firesAt.After(now) {
			fired = append(fired, e)
			delete(m.timers, name)
		}
	}
	m.mu.Unlock()

	for _, e := range fired {
		m.runCallback(e)
		if err := m.store.Delete(context.Background(), e.name); err != nil {
			// best-effort cleanup only; the in-memory map is authoritative
			// for "has this timer already fired"
			m.log.Debug().Err(err).Msg("failed to delete fired timer row")
		}
	}
}

func (m *Manager) runCallback(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("kind", e.kind).Msg("timer callback panicked")
		}
	}()
	if e.callback != nil {
		e.callback()
	}
}

// StartTimer registers a one-shot fire for name after duration, replacing
// any existing timer with the same name (spec §4.4: idempotent by name).
func (m *Manager) StartTimer(ctx context.Context, name, accountID, kind, payload string, duration time.Duration, cb Callback) error {
	firesAt := m.clock.Now().Add(duration)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.timers[name] = &entry{name: name, accountID: accountID, firesAt: firesAt, kind: kind, payload: payload, callback: cb}
	m.mu.Unlock()

	return m.store.Upsert(ctx, store.TimerRow{
		Name: name, AccountID: accountID, FiresAt: firesAt, Kind: kind, Payload: payload,
	})
}

// CancelTimer removes a timer; no-op if not present (spec §4.4).
func (m *Manager) CancelTimer(ctx context.Context, name string) error {
	m.mu.Lock()
	_, existed := m.timers[name]
	delete(m.timers, name)
	m.mu.Unlock()

	if !existed {
		return nil
	}
	return m.store.Delete(ctx, name)
}

// HasTimer reports whether name is currently pending.
func (m *Manager) HasTimer(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// GetRemaining returns the time left before name fires.
func (m *Manager) GetRemaining(name string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[name]
	if !ok {
		return 0, false
	}
	remaining := e.firesAt.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Stop cancels all pending timers; no callback fires after shutdown
// returns (spec §4.4/§5).
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.timers = make(map[string]*entry)
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}
