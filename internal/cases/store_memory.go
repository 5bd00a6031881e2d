package cases

import (
	"context"
	"sync"
	"time"

	id "veriqan/pkg/domain"
	"veriqan/pkg/platform/sentinel"
)

// InMemoryStore keeps cases in memory with the same optimistic concurrency
// semantics as the Postgres twin, so services behave identically in tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	cases map[id.CaseID]*Case
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cases: make(map[id.CaseID]*Case)}
}

func (s *InMemoryStore) Create(_ context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[c.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := *c
	stored.Version = 1
	s.cases[c.ID] = &stored
	c.Version = 1
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, caseID id.CaseID) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *stored
	return &c, nil
}

func (s *InMemoryStore) GetByCorrelation(_ context.Context, correlationID id.CorrelationID) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stored := range s.cases {
		if stored.CorrelationID == correlationID {
			c := *stored
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.cases[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != c.Version {
		return sentinel.ErrConflict
	}
	updated := *c
	// Correlation ID is immutable once assigned.
	updated.CorrelationID = stored.CorrelationID
	updated.Version = stored.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	s.cases[c.ID] = &updated
	c.Version = updated.Version
	return nil
}

func (s *InMemoryStore) ListOpen(_ context.Context) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Case
	for _, stored := range s.cases {
		if stored.IsOpen() {
			c := *stored
			out = append(out, &c)
		}
	}
	return out, nil
}
