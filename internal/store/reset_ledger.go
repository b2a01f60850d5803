package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ResetLedgerRepository makes the daily reset idempotent across DST
// transitions and crash/restart, per spec §4.7: idempotence is by ledger
// row, never by clock comparison.
type ResetLedgerRepository struct {
	base
}

func NewResetLedgerRepository(db *sql.DB, log zerolog.Logger) *ResetLedgerRepository {
	return &ResetLedgerRepository{base: newBase(db, log, "reset_ledger")}
}

// AlreadyApplied reports whether a reset of resetKind has already run for
// (account, sessionDate).
func (r *ResetLedgerRepository) AlreadyApplied(ctx context.Context, accountID, sessionDate, resetKind string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM reset_ledger WHERE account_id = ? AND session_date = ? AND reset_kind = ?
	`, accountID, sessionDate, resetKind)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check reset ledger: %w", err)
	}
	return true, nil
}

// Record inserts the ledger row marking the reset as applied. Safe to
// call twice: a unique-key conflict is treated as success, not an error,
// since the caller has already checked AlreadyApplied inside the same
// transaction-equivalent sequence.
func (r *ResetLedgerRepository) Record(ctx context.Context, accountID, sessionDate, resetKind string, appliedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reset_ledger (account_id, session_date, reset_kind, applied_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, session_date, reset_kind) DO NOTHING
	`, accountID, sessionDate, resetKind, appliedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record reset ledger: %w", err)
	}
	return nil
}
