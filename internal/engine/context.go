package engine

import (
	"context"
	"time"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/pkg/money"
)

// The following methods satisfy rules.Context. Engine is kept as the
// single concrete implementation rather than a separate adapter type,
// since every field it reads is already engine-owned state (spec §5
// "shared state policy": in-memory state is owned by the engine task and
// mutated only by it).

func (e *Engine) Now() time.Time { return e.clock.Now() }

func (e *Engine) OpenPositions(accountID string) []domain.Position {
	return e.positions.openForAccount(accountID)
}

func (e *Engine) PositionByContract(accountID, contractID string) (domain.Position, bool) {
	return e.positions.byContractID(accountID, contractID)
}

func (e *Engine) IsLockedOut(ctx context.Context, accountID string) (bool, error) {
	locked, err := e.lockouts.IsLockedOut(ctx, accountID)
	if err != nil {
		return false, wrapErr(KindStoreFailure, "is_locked_out", err)
	}
	return locked, nil
}

func (e *Engine) DailyRealizedPnL(ctx context.Context, accountID string) (money.Money, error) {
	total, err := e.pnlTracker.GetDailyPnL(ctx, accountID)
	if err != nil {
		return money.Zero, wrapErr(KindStoreFailure, "daily_realized_pnl", err)
	}
	return total, nil
}

func (e *Engine) LastPrice(symbolRoot string) (money.Money, bool) {
	return e.marketData.LastPrice(symbolRoot)
}

func (e *Engine) TickInfo(symbolRoot string) (domain.TickInfo, bool) {
	tick, ok := e.tickTable[symbolRoot]
	return tick, ok
}

func (e *Engine) StopLossFor(ctx context.Context, contractID string, position domain.Position) (*protective.Entry, error) {
	entry, err := e.protectiveCache.StopLoss(ctx, contractID, position)
	if err != nil {
		return nil, wrapErr(KindTransientSDK, "stop_loss_for", err)
	}
	return entry, nil
}

func (e *Engine) TradeCountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	count, err := e.trades.CountSince(ctx, accountID, since)
	if err != nil {
		return 0, wrapErr(KindStoreFailure, "trade_count_since", err)
	}
	return count, nil
}

func (e *Engine) StartTimer(ctx context.Context, name, accountID, kind, payload string, d time.Duration, cb func()) error {
	if err := e.timerMgr.StartTimer(ctx, name, accountID, kind, payload, d, cb); err != nil {
		return wrapErr(KindStoreFailure, "start_timer", err)
	}
	return nil
}

func (e *Engine) CancelTimer(ctx context.Context, name string) error {
	if err := e.timerMgr.CancelTimer(ctx, name); err != nil {
		return wrapErr(KindStoreFailure, "cancel_timer", err)
	}
	return nil
}

func (e *Engine) HasTimer(name string) bool {
	return e.timerMgr.HasTimer(name)
}

// ApplyViolation runs the same publish -> enforce -> publish pipeline
// Dispatch runs for a rule's direct return, for callers outside the
// normal per-event flow (a fired grace-period timer callback). It is
// safe to call from any goroutine: it only touches engine state through
// the same methods Dispatch uses, and those are safe for concurrent
// readers (writes all originate on the dispatch loop except this path,
// which is exactly the one spec §4.11 rule 8 carves out).
func (e *Engine) ApplyViolation(ctx context.Context, v events.Violation) {
	e.handleViolation(ctx, v)
}
