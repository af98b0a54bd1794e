// Package database opens the SQLite database shared by the conversation
// store, the usage sink, the credit ledger and the job store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	// WAL allows readers alongside the single writer.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// SQL returns the underlying handle for the stores built on it.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates the tables if they don't exist.
func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	-- Conversation state, one row per project
	CREATE TABLE IF NOT EXISTS conversations (
		project_id TEXT PRIMARY KEY,
		history    TEXT NOT NULL,
		messages   INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Planner usage, one row per attempt
	CREATE TABLE IF NOT EXISTS usage_records (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		invocation_id       TEXT NOT NULL,
		project_id          TEXT NOT NULL,
		user_id             TEXT NOT NULL,
		iteration           INTEGER NOT NULL,
		model               TEXT NOT NULL,
		input_tokens        INTEGER NOT NULL,
		output_tokens       INTEGER NOT NULL,
		cached_input_tokens INTEGER NOT NULL,
		cost_usd            REAL NOT NULL,
		duration_ms         INTEGER NOT NULL,
		failed              INTEGER NOT NULL DEFAULT 0,
		created_at          INTEGER NOT NULL
	);

	-- Credit balances
	CREATE TABLE IF NOT EXISTS credit_balances (
		user_id    TEXT PRIMARY KEY,
		balance    REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Credit movements (debits are negative)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		project_id    TEXT,
		amount        REAL NOT NULL,
		raw_cost_usd  REAL NOT NULL DEFAULT 0,
		kind          TEXT NOT NULL,
		balance_after REAL NOT NULL,
		created_at    INTEGER NOT NULL
	);

	-- Background runs
	CREATE TABLE IF NOT EXISTS jobs (
		job_id     TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		variant    TEXT NOT NULL,
		status     TEXT NOT NULL,
		events     TEXT NOT NULL DEFAULT '[]',
		result     TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_invocation ON usage_records(invocation_id);
	CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_records(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON credit_transactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id, created_at);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}
