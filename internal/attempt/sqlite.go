package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists attempts in SQLite with the same CAS discipline as
// the invoice store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const attemptColumns = `id, invoice_id, gateway, method, idempotency_key, status,
	gateway_txn_id, reference, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (Attempt, error) {
	var a Attempt
	var status string
	err := row.Scan(&a.ID, &a.InvoiceID, &a.Gateway, &a.Method, &a.IdempotencyKey,
		&status, &a.GatewayTransactionID, &a.Reference, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Attempt{}, err
	}
	a.Status = Status(status)
	return a, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("attempt: get %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) Create(ctx context.Context, a Attempt) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_attempts
			(id, invoice_id, gateway, method, idempotency_key, status, gateway_txn_id, reference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.InvoiceID, a.Gateway, a.Method, a.IdempotencyKey, string(a.Status),
		a.GatewayTransactionID, a.Reference, a.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("attempt: create %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, expected, next Status, upd *Update) error {
	txnID, ref := "", ""
	if upd != nil {
		txnID, ref = upd.GatewayTransactionID, upd.Reference
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET status = ?,
		    gateway_txn_id = CASE WHEN ? != '' THEN ? ELSE gateway_txn_id END,
		    reference      = CASE WHEN ? != '' THEN ? ELSE reference END,
		    updated_at = ?
		WHERE id = ? AND status = ?`,
		string(next), txnID, txnID, ref, ref, time.Now().UTC(), id, string(expected))
	if err != nil {
		return fmt.Errorf("attempt: transition %s %s->%s: %w", id, expected, next, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attempt: transition %s: rows affected: %w", id, err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleTransition
	}
	return nil
}

func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM payment_attempts
		WHERE status IN (?, ?) AND updated_at < ?
		ORDER BY updated_at ASC`,
		string(StatusInitiated), string(StatusSubmitted), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("attempt: list stale: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("attempt: list: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("attempt: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
