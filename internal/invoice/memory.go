package invoice

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store, used in tests and as the
// default wiring when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	invoices map[string]Invoice
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[string]Invoice)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) Create(ctx context.Context, inv Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; exists {
		return ErrDuplicate
	}
	if inv.Status == "" {
		inv.Status = StatusUnpaid
	}
	inv.UpdatedAt = time.Now().UTC()
	s.invoices[inv.ID] = inv
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, expected, next Status, fin *Finalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != expected {
		return ErrStaleTransition
	}
	inv.Status = next
	inv.UpdatedAt = time.Now().UTC()
	if fin != nil {
		inv.PaymentMethod = fin.PaymentMethod
		inv.PaymentReference = fin.PaymentReference
		paidAt := fin.PaidAt
		inv.PaidAt = &paidAt
	}
	s.invoices[id] = inv
	return nil
}
