package export

import (
	"context"
	"sort"
	"sync"
)

// MemoryJobStore is an in-memory, thread-safe JobStore for tests and
// single-process deployments.
type MemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	content map[string][]byte
	order   []string // insertion order, used to break CreatedAt ties
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*Job),
		content: make(map[string][]byte),
	}
}

// Create implements JobStore.
func (s *MemoryJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

// Update implements JobStore.
func (s *MemoryJobStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// ListByTenant implements JobStore.
func (s *MemoryJobStore) ListByTenant(_ context.Context, tenantID string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for i := len(s.order) - 1; i >= 0; i-- {
		if job := s.jobs[s.order[i]]; job.TenantID == tenantID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SaveContent implements JobStore.
func (s *MemoryJobStore) SaveContent(_ context.Context, jobID string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[jobID] = content
	return nil
}

// Content implements JobStore.
func (s *MemoryJobStore) Content(_ context.Context, jobID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.content[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return content, nil
}
