package pnl

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/store"
	"github.com/aristath/risk-manager/pkg/money"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "risk.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })

	repo := store.NewPnLRepository(s.Conn(), zerolog.Nop())
	clk := clock.New(clock.Real{})
	return New(zerolog.Nop(), clk, repo, "America/New_York")
}

func TestAddTradePnLAccumulatesAcrossCalls(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	total, err := tr.AddTradePnL(ctx, "A1", money.New(-700))
	require.NoError(t, err)
	require.Equal(t, "-700.00", total.String())

	total, err = tr.AddTradePnL(ctx, "A1", money.New(-400))
	require.NoError(t, err)
	require.Equal(t, "-1100.00", total.String())

	count, err := tr.GetTradeCount(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestResetDailyPnLZeroes(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.AddTradePnL(ctx, "A1", money.New(500))
	require.NoError(t, err)

	require.NoError(t, tr.ResetDailyPnL(ctx, "A1"))

	total, err := tr.GetDailyPnL(ctx, "A1")
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestKnownAccounts(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.AddTradePnL(ctx, "A1", money.New(10))
	require.NoError(t, err)
	_, err = tr.AddTradePnL(ctx, "A2", money.New(-10))
	require.NoError(t, err)

	accounts, err := tr.KnownAccounts(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A1", "A2"}, accounts)
}
