package orchestrator

import (
	"errors"
	"fmt"
)

// The error taxonomy surfaced by SubmitPayment. Validation errors carry no
// side effects; retryable and permanent failures are distinguished so the
// transport layer can map them to the right status codes, and internal races
// (stale transitions) are compensated here and never surfaced raw.

// InvalidRequestError reports a malformed or unsupported request field.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// ErrInvoiceNotFound: the referenced invoice does not exist.
var ErrInvoiceNotFound = errors.New("invoice not found")

// ErrInvoiceAlreadyFinalized: the invoice is paid or refunded; no further
// payment attempts are accepted.
var ErrInvoiceAlreadyFinalized = errors.New("invoice already finalized")

// RetryableError is a transient failure. The attempt was not finalized and
// resubmitting with the same idempotency key is safe.
type RetryableError struct {
	Cause error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable failure: %v", e.Cause)
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError is a business decline. Retrying with the same inputs will
// not succeed.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}
