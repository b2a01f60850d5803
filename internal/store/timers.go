package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TimerRow is a persisted named timer (spec §3 Timer record — "optionally
// persisted"; this engine persists every timer so grace-period and
// cooldown timers survive a restart instead of silently never firing).
type TimerRow struct {
	Name      string
	AccountID string
	FiresAt   time.Time
	Kind      string
	Payload   string
}

// TimerRepository persists the Timer Manager's (C4) named timers.
type TimerRepository struct {
	base
}

func NewTimerRepository(db *sql.DB, log zerolog.Logger) *TimerRepository {
	return &TimerRepository{base: newBase(db, log, "timers")}
}

// Upsert replaces any existing timer with the same name — start_timer is
// idempotent per spec §4.4.
func (r *TimerRepository) Upsert(ctx context.Context, row TimerRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timers (name, account_id, fires_at, kind, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			account_id = excluded.account_id,
			fires_at = excluded.fires_at,
			kind = excluded.kind,
			payload = excluded.payload
	`, row.Name, row.AccountID, row.FiresAt.UTC().Format(time.RFC3339Nano), row.Kind, row.Payload)
	if err != nil {
		return fmt.Errorf("upsert timer: %w", err)
	}
	return nil
}

// Delete removes a timer by name; no-op if absent.
func (r *TimerRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM timers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	return nil
}

// All reloads every persisted timer, used to repopulate the in-memory
// Timer Manager on process start.
func (r *TimerRepository) All(ctx context.Context) ([]TimerRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, account_id, fires_at, kind, payload FROM timers`)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	var out []TimerRow
	for rows.Next() {
		var (
			row     TimerRow
			firesAt string
		)
		if err := rows.Scan(&row.Name, &row.AccountID, &firesAt, &row.Kind, &row.Payload); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		row.FiresAt, err = time.Parse(time.RFC3339Nano, firesAt)
		if err != nil {
			return nil, fmt.Errorf("parse timer fires_at: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
