package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/risk-manager/pkg/money"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLockoutRepository_UpsertReplacesPrevious(t *testing.T) {
	s := newTestStore(t)
	repo := NewLockoutRepository(s.Conn(), zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, LockoutRow{
		AccountID: "A1", RuleID: "daily_realized_loss", Reason: "loss limit",
		Category: "daily", Kind: LockoutKindHard, LockedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, repo.Upsert(ctx, LockoutRow{
		AccountID: "A1", RuleID: "trade_frequency_limit", Reason: "too many trades",
		Category: "cooldown", Kind: LockoutKindCooldown, LockedAt: now, ExpiresAt: now.Add(2 * time.Minute),
	}))

	got, err := repo.Get(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, "trade_frequency_limit", got.RuleID)
	require.True(t, got.Active)
}

func TestLockoutRepository_DeactivateExpired(t *testing.T) {
	s := newTestStore(t)
	repo := NewLockoutRepository(s.Conn(), zerolog.Nop())
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Upsert(ctx, LockoutRow{
		AccountID: "A1", RuleID: "r", Reason: "x", Category: "daily",
		Kind: LockoutKindHard, LockedAt: past, ExpiresAt: past.Add(time.Minute),
	}))

	ids, err := repo.DeactivateExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, []string{"A1"}, ids)

	got, err := repo.Get(ctx, "A1")
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestPnLRepository_AddTradePnLAccumulates(t *testing.T) {
	s := newTestStore(t)
	repo := NewPnLRepository(s.Conn(), zerolog.Nop())
	ctx := context.Background()

	total, err := repo.AddTradePnL(ctx, "A1", "2026-07-29", money.New(-700))
	require.NoError(t, err)
	require.Equal(t, "-700.00", total.String())

	total, err = repo.AddTradePnL(ctx, "A1", "2026-07-29", money.New(-400))
	require.NoError(t, err)
	require.Equal(t, "-1100.00", total.String())

	row, err := repo.Get(ctx, "A1", "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, 2, row.TradeCount)
}

func TestResetLedger_IdempotentAcrossDuplicateApply(t *testing.T) {
	s := newTestStore(t)
	repo := NewResetLedgerRepository(s.Conn(), zerolog.Nop())
	ctx := context.Background()

	applied, err := repo.AlreadyApplied(ctx, "A1", "2026-07-29", "daily")
	require.NoError(t, err)
	require.False(t, applied)

	require.NoError(t, repo.Record(ctx, "A1", "2026-07-29", "daily", time.Now()))
	require.NoError(t, repo.Record(ctx, "A1", "2026-07-29", "daily", time.Now()))

	applied, err = repo.AlreadyApplied(ctx, "A1", "2026-07-29", "daily")
	require.NoError(t, err)
	require.True(t, applied)
}

func TestTradeRepository_InsertIdempotentOnTradeID(t *testing.T) {
	s := newTestStore(t)
	repo := NewTradeRepository(s.Conn(), zerolog.Nop())
	ctx := context.Background()

	row := TradeRow{
		AccountID: "A1", TradeID: "T1", Symbol: "MNQ", Side: "LONG",
		Quantity: 2, Price: money.New(21000), Timestamp: time.Now(),
	}
	inserted, err := repo.Insert(ctx, row)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = repo.Insert(ctx, row)
	require.NoError(t, err)
	require.False(t, inserted)

	count, err := repo.CountSince(ctx, "A1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTimerRepository_UpsertAndReload(t *testing.T) {
	s := newTestStore(t)
	repo := NewTimerRepository(s.Conn(), zerolog.Nop())
	ctx := context.Background()

	fires := time.Now().Add(time.Minute)
	require.NoError(t, repo.Upsert(ctx, TimerRow{
		Name: "no_stop_loss_grace_C1", AccountID: "A1", FiresAt: fires, Kind: "no_stop_loss_grace",
	}))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "no_stop_loss_grace_C1", all[0].Name)

	require.NoError(t, repo.Delete(ctx, "no_stop_loss_grace_C1"))
	all, err = repo.All(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
