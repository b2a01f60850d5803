// Package store is the risk engine's persistent store (C1): durable
// storage for lockouts, daily P&L, trade history, the reset ledger, and
// timers, backed by the pure-Go SQLite driver the teacher already uses
// for its own on-disk state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the database connection shared by every repository.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) the SQLite database at path in WAL mode.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single writer serializes engine-loop writes anyway (§5); SQLite's
	// own lock plus a small pool keeps concurrent repository reads (the
	// admin surface) from starving.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)

	return &Store{conn: conn, path: path}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for repository construction.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// schema holds every table the engine persists to. Kept as one ordered
// list of statements rather than a migration framework: the engine has a
// single schema version and no released installs to migrate between yet.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS daily_pnl (
		account_id   TEXT NOT NULL,
		session_date TEXT NOT NULL,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		trade_count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (account_id, session_date)
	)`,
	`CREATE TABLE IF NOT EXISTS lockouts (
		account_id TEXT NOT NULL,
		rule_id    TEXT NOT NULL,
		reason     TEXT NOT NULL,
		category   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		locked_at  TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lockouts_active ON lockouts (active, account_id)`,
	`CREATE TABLE IF NOT EXISTS trades (
		trade_id  TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		symbol    TEXT NOT NULL,
		side      TEXT NOT NULL,
		quantity  INTEGER NOT NULL,
		price     TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_account_ts ON trades (account_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS reset_ledger (
		account_id   TEXT NOT NULL,
		session_date TEXT NOT NULL,
		reset_kind   TEXT NOT NULL,
		applied_at   TEXT NOT NULL,
		PRIMARY KEY (account_id, session_date, reset_kind)
	)`,
	`CREATE TABLE IF NOT EXISTS timers (
		name       TEXT NOT NULL,
		account_id TEXT NOT NULL,
		fires_at   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (name)
	)`,
}

// Migrate applies every schema statement. Idempotent: every statement is
// `IF NOT EXISTS`.
func (s *Store) Migrate() error {
	for _, stmt := range schema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
