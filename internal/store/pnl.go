package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/pkg/money"
)

// DailyPnLRow is the persisted shape of a daily P&L accumulator row
// (spec §3 Daily P&L row).
type DailyPnLRow struct {
	AccountID   string
	SessionDate string
	RealizedPnL money.Money
	TradeCount  int
}

// PnLRepository persists realized daily P&L, one row per
// (account_id, session_date).
type PnLRepository struct {
	base
}

func NewPnLRepository(db *sql.DB, log zerolog.Logger) *PnLRepository {
	return &PnLRepository{base: newBase(db, log, "daily_pnl")}
}

// AddTradePnL atomically adds delta to the account's running total for
// sessionDate, creating the row lazily on first trade, and returns the
// new total.
func (r *PnLRepository) AddTradePnL(ctx context.Context, accountID, sessionDate string, delta money.Money) (money.Money, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return money.Zero, fmt.Errorf("begin add trade pnl: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_pnl (account_id, session_date, realized_pnl, trade_count)
		VALUES (?, ?, '0', 0)
		ON CONFLICT (account_id, session_date) DO NOTHING
	`, accountID, sessionDate)
	if err != nil {
		return money.Zero, fmt.Errorf("seed daily pnl row: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT realized_pnl FROM daily_pnl WHERE account_id = ? AND session_date = ?
	`, accountID, sessionDate)
	var current money.Money
	if err := row.Scan(&current); err != nil {
		return money.Zero, fmt.Errorf("read daily pnl: %w", err)
	}

	newTotal := current.Add(delta)
	_, err = tx.ExecContext(ctx, `
		UPDATE daily_pnl SET realized_pnl = ?, trade_count = trade_count + 1
		WHERE account_id = ? AND session_date = ?
	`, newTotal.String(), accountID, sessionDate)
	if err != nil {
		return money.Zero, fmt.Errorf("update daily pnl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return money.Zero, fmt.Errorf("commit add trade pnl: %w", err)
	}
	return newTotal, nil
}

// Get returns the current row for (account, sessionDate), or a zeroed row
// if none exists yet.
func (r *PnLRepository) Get(ctx context.Context, accountID, sessionDate string) (DailyPnLRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT realized_pnl, trade_count FROM daily_pnl WHERE account_id = ? AND session_date = ?
	`, accountID, sessionDate)
	var (
		pnl   money.Money
		count int
	)
	err := row.Scan(&pnl, &count)
	if err == sql.ErrNoRows {
		return DailyPnLRow{AccountID: accountID, SessionDate: sessionDate}, nil
	}
	if err != nil {
		return DailyPnLRow{}, fmt.Errorf("get daily pnl: %w", err)
	}
	return DailyPnLRow{AccountID: accountID, SessionDate: sessionDate, RealizedPnL: pnl, TradeCount: count}, nil
}

// Reset zeroes the account's row for sessionDate (creating it if absent),
// used by the reset scheduler.
func (r *PnLRepository) Reset(ctx context.Context, accountID, sessionDate string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_pnl (account_id, session_date, realized_pnl, trade_count)
		VALUES (?, ?, '0', 0)
		ON CONFLICT (account_id, session_date) DO UPDATE SET realized_pnl = '0', trade_count = 0
	`, accountID, sessionDate)
	if err != nil {
		return fmt.Errorf("reset daily pnl: %w", err)
	}
	return nil
}

// KnownAccounts returns every account_id that has ever recorded a trade
// or P&L row — used by the reset scheduler to know which accounts to
// reset without requiring a separate account registry.
func (r *PnLRepository) KnownAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT account_id FROM daily_pnl`)
	if err != nil {
		return nil, fmt.Errorf("list known accounts: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan known account: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
