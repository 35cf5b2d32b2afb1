package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore persists invoices in SQLite. The Transition CAS is a single
// UPDATE guarded by the expected status; the rows-affected count tells a
// stale writer apart from a missing row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, school_id, amount, currency, status,
		       payment_method, payment_reference, paid_at, updated_at
		FROM invoices WHERE id = ?`, id)

	var inv Invoice
	var status string
	var paidAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.StudentID, &inv.SchoolID, &inv.Amount, &inv.Currency,
		&status, &inv.PaymentMethod, &inv.PaymentReference, &paidAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice: get %s: %w", id, err)
	}
	inv.Status = Status(status)
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	return inv, nil
}

func (s *SQLiteStore) Create(ctx context.Context, inv Invoice) error {
	if inv.Status == "" {
		inv.Status = StatusUnpaid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, student_id, school_id, amount, currency, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.StudentID, inv.SchoolID, inv.Amount, inv.Currency, string(inv.Status), time.Now().UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("invoice: create %s: %w", inv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, expected, next Status, fin *Finalization) error {
	var res sql.Result
	var err error
	now := time.Now().UTC()
	if fin != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE invoices
			SET status = ?, payment_method = ?, payment_reference = ?, paid_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(next), fin.PaymentMethod, fin.PaymentReference, fin.PaidAt.UTC(), now, id, string(expected))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE invoices SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(next), now, id, string(expected))
	}
	if err != nil {
		return fmt.Errorf("invoice: transition %s %s->%s: %w", id, expected, next, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("invoice: transition %s: rows affected: %w", id, err)
	}
	if n == 0 {
		// Row absent or status already moved on.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleTransition
	}
	return nil
}
