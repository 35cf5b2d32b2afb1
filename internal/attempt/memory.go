package attempt

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]Attempt)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Create(ctx context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.attempts[a.ID] = a
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, expected, next Status, upd *Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != expected {
		return ErrStaleTransition
	}
	a.Status = next
	a.UpdatedAt = time.Now().UTC()
	if upd != nil {
		if upd.GatewayTransactionID != "" {
			a.GatewayTransactionID = upd.GatewayTransactionID
		}
		if upd.Reference != "" {
			a.Reference = upd.Reference
		}
	}
	s.attempts[id] = a
	return nil
}

func (s *MemoryStore) ListStale(ctx context.Context, cutoff time.Time) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.attempts {
		if !a.Status.Final() && a.UpdatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
