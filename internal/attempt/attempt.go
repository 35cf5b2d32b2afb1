// Package attempt models a single try at charging an invoice through one
// gateway. Attempts move initiated→submitted→{succeeded|failed}; submitted
// may also finalize later through the reconciliation sweep. At most one
// attempt per (invoice, idempotency key) pair may reach succeeded.
package attempt

import (
	"context"
	"errors"
	"time"
)

// Status of a payment attempt.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusSubmitted Status = "submitted"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Final reports whether the status is terminal.
func (s Status) Final() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Attempt is one charge attempt against an invoice.
type Attempt struct {
	ID                   string    `json:"id"`
	InvoiceID            string    `json:"invoice_id"`
	Gateway              string    `json:"gateway"`
	Method               string    `json:"method"`
	IdempotencyKey       string    `json:"idempotency_key"`
	Status               Status    `json:"status"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	Reference            string    `json:"reference,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

var (
	// ErrNotFound is returned when no attempt exists for an id.
	ErrNotFound = errors.New("payment attempt not found")

	// ErrStaleTransition is returned when the expected status no longer
	// matches; the attempt was finalized by a concurrent writer.
	ErrStaleTransition = errors.New("stale attempt transition")
)

// Update carries the gateway identifiers written alongside a status change.
type Update struct {
	GatewayTransactionID string
	Reference            string
}

// Store is the persistence contract for attempts.
type Store interface {
	Get(ctx context.Context, id string) (Attempt, error)
	Create(ctx context.Context, a Attempt) error

	// Transition compare-and-swaps the status so that the synchronous path
	// and the reconciliation sweep cannot both finalize the same attempt.
	// upd may be nil.
	Transition(ctx context.Context, id string, expected, next Status, upd *Update) error

	// ListStale returns non-final attempts last touched before the cutoff,
	// oldest first. The reconciliation sweep feeds on this.
	ListStale(ctx context.Context, cutoff time.Time) ([]Attempt, error)

	// List returns every attempt, newest first. Used for reporting.
	List(ctx context.Context) ([]Attempt, error)
}
