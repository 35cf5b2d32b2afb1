// Package invoice holds invoice records and their payment lifecycle state.
// Status moves only forward: unpaid→pending→paid, unpaid→failed,
// pending→failed. paid and refunded are terminal. Transitions use optimistic
// concurrency so a delayed gateway callback can never resurrect a finalized
// invoice.
package invoice

import (
	"context"
	"errors"
	"time"
)

// Status is the payment lifecycle state of an invoice.
type Status string

const (
	StatusUnpaid   Status = "unpaid"
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Final reports whether the status is terminal for a payment attempt.
func (s Status) Final() bool {
	return s == StatusPaid || s == StatusRefunded
}

// Invoice is a billable amount owed by a student to a school. Amount and
// currency are immutable once created.
type Invoice struct {
	ID               string     `json:"id"`
	StudentID        string     `json:"student_id"`
	SchoolID         string     `json:"school_id"`
	Amount           int64      `json:"amount"` // minor units
	Currency         string     `json:"currency"`
	Status           Status     `json:"status"`
	PaymentMethod    string     `json:"payment_method,omitempty"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

var (
	// ErrNotFound is returned when no invoice exists for an id.
	ErrNotFound = errors.New("invoice not found")

	// ErrDuplicate is returned by Create when the id already exists.
	ErrDuplicate = errors.New("invoice already exists")

	// ErrStaleTransition is returned when the expected status no longer
	// matches, i.e. a concurrent writer finalized the invoice first.
	ErrStaleTransition = errors.New("stale invoice transition")
)

// Finalization carries the payment details written together with a
// transition to paid.
type Finalization struct {
	PaymentMethod    string
	PaymentReference string
	PaidAt           time.Time
}

// Store is the persistence contract for invoices.
type Store interface {
	Get(ctx context.Context, id string) (Invoice, error)
	Create(ctx context.Context, inv Invoice) error

	// Transition compare-and-swaps the status from expected to next,
	// returning ErrStaleTransition when the current status differs from
	// expected. fin may be nil; when set (transition to paid) the payment
	// fields are written atomically with the status.
	Transition(ctx context.Context, id string, expected, next Status, fin *Finalization) error
}
