package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/config"
	"github.com/aristath/risk-manager/internal/lockout"
	"github.com/aristath/risk-manager/internal/pnl"
	"github.com/aristath/risk-manager/internal/store"
	"github.com/aristath/risk-manager/internal/timers"
	"github.com/aristath/risk-manager/pkg/money"
)

const testRulesYAML = `
general:
  instruments: [ES]
  timezone: America/New_York
  ticks:
    ES:
      tick_size: 0.25
      tick_value: 12.50
rules:
  max_contracts:
    enabled: true
    limit: 5
timers:
  daily_reset:
    time: "17:00"
    timezone: America/New_York
`

func newTestServer(t *testing.T) (*Server, *pnl.Tracker) {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.New(clock.Frozen{At: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)})

	path := filepath.Join(t.TempDir(), "risk.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	timerMgr := timers.New(log, clk, store.NewTimerRepository(st.Conn(), log), time.Hour)
	lockoutMgr := lockout.New(log, clk, store.NewLockoutRepository(st.Conn(), log), timerMgr, time.Hour)
	pnlTrk := pnl.New(log, clk, store.NewPnLRepository(st.Conn(), log), "America/New_York")

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRulesYAML), 0o644))
	doc, err := config.LoadRules(rulesPath)
	require.NoError(t, err)

	srv := New(Config{
		Port:      0,
		Log:       log,
		Lockouts:  lockoutMgr,
		PnL:       pnlTrk,
		Clock:     clk,
		RulesPath: rulesPath,
		Rules:     doc,
	})
	return srv, pnlTrk
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestHandleStatus_ReportsKnownAccountPnL(t *testing.T) {
	srv, pnlTrk := newTestServer(t)
	_, err := pnlTrk.AddTradePnL(context.Background(), "A1", money.New(-700))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	pnlMap := body["daily_pnl"].(map[string]any)
	require.Equal(t, "-700.00", pnlMap["A1"])
}

func TestHandleConfigView(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/config/", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc config.RulesDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.True(t, doc.Rules.MaxContracts.Enabled)
}

func TestHandleConfigValidate_ReportsInvalidDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, os.WriteFile(srv.rulesPath, []byte("general:\n  timezone: \"\"\n"), 0o644))

	req := httptest.NewRequest(http.MethodPost, "/api/config/validate", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body["valid"].(bool))
}

func TestHandleLockoutClear(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.lockouts.SetLockout(context.Background(), "A1", "daily_realized_loss", "breach", "daily", time.Now().Add(time.Hour)))

	req := httptest.NewRequest(http.MethodPost, "/api/lockouts/A1/clear", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	locked, err := srv.lockouts.IsLockedOut(context.Background(), "A1")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestHandlePnLShow(t *testing.T) {
	srv, pnlTrk := newTestServer(t)
	_, err := pnlTrk.AddTradePnL(context.Background(), "A2", money.New(-700))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/pnl/A2", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "-700.00", body["daily_realized_pnl"])
}
