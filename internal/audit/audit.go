// Package audit keeps the append-only record of every payment attempt
// transition, for replay and dispute resolution. Entries carry a digest of
// the raw gateway response, never the payload itself, so sensitive payment
// detail stays out of the log. Entries are never mutated or deleted.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one recorded transition.
type Entry struct {
	ID          string    `json:"id"`
	AttemptID   string    `json:"attempt_id"`
	PriorStatus string    `json:"prior_status"`
	NewStatus   string    `json:"new_status"`
	At          time.Time `json:"at"`
	// Digest is the hex sha256 of the raw gateway response, or of a short
	// internal note when no gateway response exists for the transition.
	Digest string `json:"digest"`
}

// Log is the append-only contract. Append must never fail a payment: callers
// log errors and move on.
type Log interface {
	Append(ctx context.Context, e Entry) error
	ByAttempt(ctx context.Context, attemptID string) ([]Entry, error)
}

// Digest hashes raw material into the redacted form stored in entries.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
