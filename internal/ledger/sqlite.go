package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteLedger implements Ledger on the idempotency_keys table. Atomicity
// comes from the primary key on (invoice_id, key): the first INSERT wins,
// and re-acquiring a released key is an UPDATE guarded by in_flight = 0.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger wraps an opened, migrated database.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func (l *SQLiteLedger) Reserve(ctx context.Context, invoiceID, key, attemptID string) (Reservation, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (invoice_id, key, attempt_id, in_flight, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (invoice_id, key) DO NOTHING`,
		invoiceID, key, attemptID, time.Now().UTC())
	if err != nil {
		return Reservation{}, fmt.Errorf("ledger: reserve %s/%s: %w", invoiceID, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return Reservation{State: StateNew, AttemptID: attemptID}, nil
	}

	// Key exists: inspect it.
	row := l.db.QueryRowContext(ctx, `
		SELECT attempt_id, in_flight, status, reason, reference, txn_id
		FROM idempotency_keys WHERE invoice_id = ? AND key = ?`, invoiceID, key)
	var existingID, status, reason, reference, txnID string
	var inFlight int
	if err := row.Scan(&existingID, &inFlight, &status, &reason, &reference, &txnID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost a race with a delete that never happens in practice.
			return Reservation{}, fmt.Errorf("ledger: reserve %s/%s: row vanished", invoiceID, key)
		}
		return Reservation{}, fmt.Errorf("ledger: reserve %s/%s: %w", invoiceID, key, err)
	}

	if status != "" {
		return Reservation{
			State:     StateReplayed,
			AttemptID: existingID,
			Outcome: &Outcome{
				AttemptID:     existingID,
				Succeeded:     status == "succeeded",
				Reason:        reason,
				Reference:     reference,
				TransactionID: txnID,
			},
		}, nil
	}

	// Try to take over a released key; the WHERE guard keeps this atomic
	// against a concurrent taker.
	upd, err := l.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET in_flight = 1
		WHERE invoice_id = ? AND key = ? AND in_flight = 0 AND status = ''`,
		invoiceID, key)
	if err != nil {
		return Reservation{}, fmt.Errorf("ledger: resume %s/%s: %w", invoiceID, key, err)
	}
	if n, err := upd.RowsAffected(); err == nil && n == 1 {
		return Reservation{State: StateResumed, AttemptID: existingID}, nil
	}
	return Reservation{State: StateInFlight, AttemptID: existingID}, nil
}

func (l *SQLiteLedger) Release(ctx context.Context, invoiceID, key string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET in_flight = 0
		WHERE invoice_id = ? AND key = ? AND status = ''`,
		invoiceID, key)
	if err != nil {
		return fmt.Errorf("ledger: release %s/%s: %w", invoiceID, key, err)
	}
	return nil
}

func (l *SQLiteLedger) Complete(ctx context.Context, invoiceID, key string, out Outcome) error {
	status := "failed"
	if out.Succeeded {
		status = "succeeded"
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET in_flight = 0, status = ?, reason = ?, reference = ?, txn_id = ?
		WHERE invoice_id = ? AND key = ?`,
		status, out.Reason, out.Reference, out.TransactionID, invoiceID, key)
	if err != nil {
		return fmt.Errorf("ledger: complete %s/%s: %w", invoiceID, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// No reservation row: the sweep finalized an attempt from a previous
		// process. Insert the finished record directly.
		_, err = l.db.ExecContext(ctx, `
			INSERT INTO idempotency_keys (invoice_id, key, attempt_id, in_flight, status, reason, reference, txn_id, created_at)
			VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
			ON CONFLICT (invoice_id, key) DO NOTHING`,
			invoiceID, key, out.AttemptID, status, out.Reason, out.Reference, out.TransactionID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("ledger: complete insert %s/%s: %w", invoiceID, key, err)
		}
	}
	return nil
}
