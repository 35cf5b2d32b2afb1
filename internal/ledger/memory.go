package ledger

import (
	"context"
	"sync"
)

type entry struct {
	attemptID string
	inFlight  bool
	outcome   *Outcome
}

// MemoryLedger is a mutex-guarded in-memory Ledger. The single mutex gives
// the insert the required atomicity.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*entry)}
}

func ledgerKey(invoiceID, key string) string {
	return invoiceID + "\x00" + key
}

func (l *MemoryLedger) Reserve(ctx context.Context, invoiceID, key, attemptID string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := ledgerKey(invoiceID, key)
	e, exists := l.entries[k]
	if !exists {
		l.entries[k] = &entry{attemptID: attemptID, inFlight: true}
		return Reservation{State: StateNew, AttemptID: attemptID}, nil
	}
	if e.outcome != nil {
		out := *e.outcome
		return Reservation{State: StateReplayed, AttemptID: e.attemptID, Outcome: &out}, nil
	}
	if e.inFlight {
		return Reservation{State: StateInFlight, AttemptID: e.attemptID}, nil
	}
	e.inFlight = true
	return Reservation{State: StateResumed, AttemptID: e.attemptID}, nil
}

func (l *MemoryLedger) Release(ctx context.Context, invoiceID, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[ledgerKey(invoiceID, key)]; ok && e.outcome == nil {
		e.inFlight = false
	}
	return nil
}

func (l *MemoryLedger) Complete(ctx context.Context, invoiceID, key string, out Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ledgerKey(invoiceID, key)]
	if !ok {
		// Completion without reservation happens only from the reconciliation
		// sweep after a process restart; record it so replays still work.
		e = &entry{attemptID: out.AttemptID}
		l.entries[ledgerKey(invoiceID, key)] = e
	}
	e.inFlight = false
	o := out
	e.outcome = &o
	return nil
}
