// Package ledger deduplicates retried payment attempts. A reservation for an
// (invoice, idempotency key) pair is taken atomically before any gateway
// call: two simultaneous requests carrying the same key can never both
// proceed to charge, and a key whose attempt already finished replays the
// recorded outcome instead of charging again.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// State of a reservation returned by Reserve.
type State int

const (
	// StateNew: the key was unseen; the caller owns it and proceeds.
	StateNew State = iota
	// StateResumed: the key exists but its previous holder released it after
	// a retryable failure. The caller owns it again and reuses the original
	// attempt, per the at-most-once contract.
	StateResumed
	// StateInFlight: another request holds the key right now. The caller
	// must back off; proceeding would risk a double charge.
	StateInFlight
	// StateReplayed: the attempt for this key already finished. Outcome
	// carries the recorded result to return verbatim.
	StateReplayed
)

// Outcome is the terminal result recorded against a reservation.
type Outcome struct {
	AttemptID     string
	Succeeded     bool
	Reason        string
	Reference     string
	TransactionID string
}

// Reservation is the result of Reserve.
type Reservation struct {
	State     State
	AttemptID string
	Outcome   *Outcome
}

// Ledger is the idempotency contract. Reserve must be atomic under
// concurrent access to the same key: unique-constraint insert or equivalent
// mutual exclusion, never read-then-write.
type Ledger interface {
	// Reserve claims (invoiceID, key), binding attemptID on first claim.
	Reserve(ctx context.Context, invoiceID, key, attemptID string) (Reservation, error)

	// Release gives the key back after a retryable failure so a resubmission
	// with the same key can resume the attempt.
	Release(ctx context.Context, invoiceID, key string) error

	// Complete records the terminal outcome. Later Reserve calls replay it.
	Complete(ctx context.Context, invoiceID, key string, out Outcome) error
}

// DeriveKey builds the idempotency key for a request. A client-supplied
// nonce wins; otherwise the key is a digest over the fields that define the
// charge, so an identical resubmission maps to the same attempt.
func DeriveKey(invoiceID, nonce, gatewayID, method string, amount int64, currency string) string {
	if nonce != "" {
		return invoiceID + ":" + nonce
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%s", invoiceID, gatewayID, method, amount, currency)))
	return invoiceID + ":" + hex.EncodeToString(sum[:16])
}
