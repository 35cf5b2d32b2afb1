// Package storage opens and migrates the SQLite database backing the
// invoice store, payment attempts, idempotency ledger and audit log.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the SQLite database at path. Use ":memory:" for
// an ephemeral database in tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each pooled connection to :memory: would otherwise get its own
		// empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id                TEXT PRIMARY KEY,
		student_id        TEXT NOT NULL,
		school_id         TEXT NOT NULL,
		amount            INTEGER NOT NULL,
		currency          TEXT NOT NULL,
		status            TEXT NOT NULL,
		payment_method    TEXT NOT NULL DEFAULT '',
		payment_reference TEXT NOT NULL DEFAULT '',
		paid_at           TIMESTAMP,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_attempts (
		id             TEXT PRIMARY KEY,
		invoice_id     TEXT NOT NULL,
		gateway        TEXT NOT NULL,
		method         TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		status         TEXT NOT NULL,
		gateway_txn_id TEXT NOT NULL DEFAULT '',
		reference      TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_stale
		ON payment_attempts (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		invoice_id  TEXT NOT NULL,
		key         TEXT NOT NULL,
		attempt_id  TEXT NOT NULL,
		in_flight   INTEGER NOT NULL DEFAULT 1,
		status      TEXT NOT NULL DEFAULT '',
		reason      TEXT NOT NULL DEFAULT '',
		reference   TEXT NOT NULL DEFAULT '',
		txn_id      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL,
		PRIMARY KEY (invoice_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id           TEXT PRIMARY KEY,
		attempt_id   TEXT NOT NULL,
		prior_status TEXT NOT NULL,
		new_status   TEXT NOT NULL,
		at           TIMESTAMP NOT NULL,
		digest       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_attempt
		ON audit_entries (attempt_id, at)`,
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}
