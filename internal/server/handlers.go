package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/risk-manager/internal/config"
	"github.com/aristath/risk-manager/internal/lockout"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "risk-manager",
	})
}

// handleStatus implements spec §6's `status` command: summary of running
// state, lockouts, daily P&L per account.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := s.pnlTrk.KnownAccounts(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list accounts: "+err.Error())
		return
	}

	pnlByAccount := make(map[string]string, len(accounts))
	for _, account := range accounts {
		total, err := s.pnlTrk.GetDailyPnL(ctx, account)
		if err != nil {
			s.log.Error().Err(err).Str("account_id", account).Msg("failed to read daily pnl for status")
			continue
		}
		pnlByAccount[account] = total.String()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "running",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"accounts":      accounts,
		"daily_pnl":     pnlByAccount,
		"lockouts":      lockoutInfos(s.lockouts.All()),
	})
}

func (s *Server) handleConfigView(w http.ResponseWriter, r *http.Request) {
	doc := s.currentRules.Load()
	if doc == nil {
		s.writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleConfigReload re-reads the YAML rule file from disk, validates it,
// and swaps the engine's live rule registry on success (spec §6: "config
// reload"). The prior configuration stays active on validation failure.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	doc, err := config.LoadRules(s.rulesPath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "reload failed: "+err.Error())
		return
	}
	if err := s.applyDocument(doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "reload failed validation: "+err.Error())
		return
	}
	s.log.Info().Str("path", s.rulesPath).Msg("configuration reloaded")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// handleConfigValidate checks the on-disk YAML file without applying it,
// for `config validate` (spec §6).
func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	doc, err := config.LoadRules(s.rulesPath)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	_ = doc
	s.writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleLockoutList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, lockoutInfos(s.lockouts.All()))
}

func (s *Server) handleLockoutClear(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if account == "" {
		s.writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if err := s.lockouts.ClearLockout(r.Context(), account); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear lockout: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "account_id": account})
}

func (s *Server) handlePnLShow(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if account == "" {
		s.writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	total, err := s.pnlTrk.GetDailyPnL(r.Context(), account)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read daily pnl: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"account_id": account, "daily_realized_pnl": total.String()})
}

// lockoutInfo is the JSON-friendly projection of lockout.Info.
type lockoutInfo struct {
	AccountID        string `json:"account_id"`
	Reason           string `json:"reason"`
	Kind             string `json:"kind"`
	ExpiresAt        string `json:"expires_at"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

func lockoutInfos(infos []lockout.Info) []lockoutInfo {
	out := make([]lockoutInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, lockoutInfo{
			AccountID:        i.AccountID,
			Reason:           i.Reason,
			Kind:             string(i.Kind),
			ExpiresAt:        i.ExpiresAt.Format(time.RFC3339),
			RemainingSeconds: i.RemainingSeconds,
		})
	}
	return out
}

// writeJSON writes a JSON response, matching the teacher's
// handlers.go writeJSON/writeError helpers.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
