package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// used in tests and single-process deployments that do not need durable
// persistence across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]*Record)}
}

// Append implements Store. The store-wide mutex serialises appends, so
// reading the chain tail and linking the new record is race-free.
func (s *MemoryStore) Append(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[record.TenantID]
	prevHash := SentinelHash
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}

	record.PreviousHash = prevHash
	record.Hash = ComputeHash(record)
	s.chains[record.TenantID] = append(chain, record)
	return nil
}

// Range implements Store. Records are returned in append order. A zero
// from/to bound is treated as unbounded on that side.
func (s *MemoryStore) Range(_ context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.chains[tenantID] {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context, tenantID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return SentinelHash, nil
	}
	return chain[len(chain)-1].Hash, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains[tenantID]), nil
}

// Tenants implements Store. Order is not defined.
func (s *MemoryStore) Tenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.chains))
	for id := range s.chains {
		out = append(out, id)
	}
	return out, nil
}
