package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LockoutKind distinguishes a hard (until-instant) lockout from a
// cooldown (stored as a hard lockout whose expires_at is precomputed).
type LockoutKind string

const (
	LockoutKindHard     LockoutKind = "HARD"
	LockoutKindCooldown LockoutKind = "COOLDOWN"
)

// LockoutRow is the persisted shape of a lockout record (spec §3, §6).
type LockoutRow struct {
	AccountID string
	RuleID    string
	Reason    string
	Category  string
	Kind      LockoutKind
	LockedAt  time.Time
	ExpiresAt time.Time
	Active    bool
}

// LockoutRepository persists at most one active lockout per account.
type LockoutRepository struct {
	base
}

func NewLockoutRepository(db *sql.DB, log zerolog.Logger) *LockoutRepository {
	return &LockoutRepository{base: newBase(db, log, "lockouts")}
}

// Upsert replaces any existing lockout row for the account — "setting a
// new one replaces the previous" (spec §3 Lockout record invariant).
func (r *LockoutRepository) Upsert(ctx context.Context, row LockoutRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lockouts (account_id, rule_id, reason, category, kind, locked_at, expires_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (account_id) DO UPDATE SET
			rule_id = excluded.rule_id,
			reason = excluded.reason,
			category = excluded.category,
			kind = excluded.kind,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at,
			active = 1
	`, row.AccountID, row.RuleID, row.Reason, row.Category, string(row.Kind),
		row.LockedAt.UTC().Format(time.RFC3339Nano), row.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert lockout: %w", err)
	}
	return nil
}

// Deactivate marks the account's lockout row inactive; no-op if absent.
func (r *LockoutRepository) Deactivate(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE lockouts SET active = 0 WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("deactivate lockout: %w", err)
	}
	return nil
}

// Get returns the account's lockout row regardless of active state.
func (r *LockoutRepository) Get(ctx context.Context, accountID string) (*LockoutRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT account_id, rule_id, reason, category, kind, locked_at, expires_at, active
		FROM lockouts WHERE account_id = ?
	`, accountID)
	return scanLockoutRow(row)
}

// ActiveUnexpired reloads every lockout row that is active and whose
// expires_at is still in the future — used on process start (spec §4.5).
func (r *LockoutRepository) ActiveUnexpired(ctx context.Context, now time.Time) ([]LockoutRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, rule_id, reason, category, kind, locked_at, expires_at, active
		FROM lockouts WHERE active = 1 AND expires_at > ?
	`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query active lockouts: %w", err)
	}
	defer rows.Close()

	var out []LockoutRow
	for rows.Next() {
		row, err := scanLockoutRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// DeactivateExpired marks active rows whose expires_at has passed as
// inactive, returning the affected account ids — the 1s sweep fallback
// (spec §4.5) and the lockout manager's start-up reload use this.
func (r *LockoutRepository) DeactivateExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id FROM lockouts WHERE active = 1 AND expires_at <= ?
	`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query expired lockouts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired lockout: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE lockouts SET active = 0 WHERE active = 1 AND expires_at <= ?
	`, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("deactivate expired lockouts: %w", err)
	}
	return ids, nil
}

// ClearCategory deactivates every active lockout in the given category
// (the reset scheduler uses this for category "daily").
func (r *LockoutRepository) ClearCategory(ctx context.Context, category string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lockouts SET active = 0 WHERE active = 1 AND category = ?
	`, category)
	if err != nil {
		return fmt.Errorf("clear lockout category %q: %w", category, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLockoutRow(row *sql.Row) (*LockoutRow, error) {
	return scanLockoutRows(row)
}

func scanLockoutRows(row rowScanner) (*LockoutRow, error) {
	var (
		out              LockoutRow
		kind             string
		active           int
		lockedAt, expiry string
	)
	err := row.Scan(&out.AccountID, &out.RuleID, &out.Reason, &out.Category, &kind, &lockedAt, &expiry, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan lockout row: %w", err)
	}
	out.Kind = LockoutKind(kind)
	out.Active = active != 0
	out.LockedAt, err = time.Parse(time.RFC3339Nano, lockedAt)
	if err != nil {
		return nil, fmt.Errorf("parse locked_at: %w", err)
	}
	out.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiry)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &out, nil
}

// ErrNotFound is returned by Get when the account has no lockout row.
var ErrNotFound = sql.ErrNoRows
