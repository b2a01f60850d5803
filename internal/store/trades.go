package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/pkg/money"
)

// TradeRow is an append-only execution record (spec §3 Trade record).
type TradeRow struct {
	AccountID string
	TradeID   string
	Symbol    string
	Side      string
	Quantity  int64
	Price     money.Money
	Timestamp time.Time
}

// TradeRepository is the append-only trade history store. Unlike the
// teacher's trading.TradeRepository (built for portfolio reporting and
// carrying dozens of query methods for that domain), this repository
// exposes only what the rule set needs: idempotent insertion and rolling
// counts for trade_frequency_limit (spec §4.11 rule 6).
type TradeRepository struct {
	base
}

func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{base: newBase(db, log, "trades")}
}

// Insert records a trade. Idempotent on trade_id: a redelivered
// TRADE_EXECUTED event (at-least-once bus delivery, spec §4.3) is a
// no-op. Returns inserted=false on a duplicate so the caller (the engine,
// applying realized P&L) knows not to double-count the delta.
func (r *TradeRepository) Insert(ctx context.Context, row TradeRow) (inserted bool, err error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (trade_id, account_id, symbol, side, quantity, price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO NOTHING
	`, row.TradeID, row.AccountID, row.Symbol, row.Side, row.Quantity, row.Price.String(),
		row.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert trade rows affected: %w", err)
	}
	return n > 0, nil
}

// CountSince returns the number of trades for account since the given
// instant — the rolling-window counter trade_frequency_limit reads (spec
// §4.11 rule 6: "rolling counts come from the trade store, not
// event-local counters").
func (r *TradeRepository) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades WHERE account_id = ? AND timestamp >= ?
	`, accountID, since.UTC().Format(time.RFC3339Nano))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades since: %w", err)
	}
	return n, nil
}
