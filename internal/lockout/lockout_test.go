package lockout

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "risk.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })

	repo := store.NewLockoutRepository(s.Conn(), zerolog.Nop())
	clk := clock.New(clock.Real{})
	m := New(zerolog.Nop(), clk, repo, nil, 20*time.Millisecond)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestSetLockoutThenIsLockedOut(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	locked, err := m.IsLockedOut(ctx, "A1")
	require.NoError(t, err)
	require.False(t, locked)

	require.NoError(t, m.SetLockout(ctx, "A1", "daily_realized_loss", "loss limit breached", "daily", time.Now().Add(time.Hour)))

	locked, err = m.IsLockedOut(ctx, "A1")
	require.NoError(t, err)
	require.True(t, locked)
}

func TestSetLockoutReplacesPrevious(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetLockout(ctx, "A1", "rule1", "first", "daily", time.Now().Add(time.Hour)))
	require.NoError(t, m.SetCooldown(ctx, "A1", "rule2", "second", "cooldown", time.Minute))

	info, ok := m.Info("A1")
	require.True(t, ok)
	require.Equal(t, "second", info.Reason)
	require.Equal(t, store.LockoutKindCooldown, info.Kind)
}

func TestClearLockoutRestoresFalse(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetLockout(ctx, "A1", "r", "x", "daily", time.Now().Add(time.Hour)))
	require.NoError(t, m.ClearLockout(ctx, "A1"))

	locked, err := m.IsLockedOut(ctx, "A1")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestIsLockedOutClearsExpiredTransactionally(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetLockout(ctx, "A1", "r", "x", "daily", time.Now().Add(10*time.Millisecond)))
	time.Sleep(30 * time.Millisecond)

	locked, err := m.IsLockedOut(ctx, "A1")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestClearCategoryOnlyClearsMatching(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetLockout(ctx, "A1", "daily_realized_loss", "x", "daily", time.Now().Add(time.Hour)))
	require.NoError(t, m.SetLockout(ctx, "A2", "trade_frequency_limit", "y", "cooldown", time.Now().Add(time.Hour)))

	require.NoError(t, m.ClearCategory(ctx, "daily"))

	locked1, _ := m.IsLockedOut(ctx, "A1")
	locked2, _ := m.IsLockedOut(ctx, "A2")
	require.False(t, locked1)
	require.True(t, locked2)
}

func TestReloadOnStart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "risk.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())

	repo := store.NewLockoutRepository(s.Conn(), zerolog.Nop())
	clk := clock.New(clock.Real{})
	m1 := New(zerolog.Nop(), clk, repo, nil, time.Hour)
	require.NoError(t, m1.Start(context.Background()))
	require.NoError(t, m1.SetLockout(context.Background(), "A1", "r", "x", "daily", time.Now().Add(time.Hour)))
	m1.Stop()
	require.NoError(t, s.Close())

	s2, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()
	repo2 := store.NewLockoutRepository(s2.Conn(), zerolog.Nop())
	m2 := New(zerolog.Nop(), clk, repo2, nil, time.Hour)
	require.NoError(t, m2.Start(context.Background()))
	defer m2.Stop()

	locked, err := m2.IsLockedOut(context.Background(), "A1")
	require.NoError(t, err)
	require.True(t, locked)
}
