package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
	"veriqan/pkg/platform/sentinel"
)

// InMemoryStore keeps review cases and decisions in memory with the same
// uniqueness guarantees as the Postgres twin.
type InMemoryStore struct {
	mu        sync.RWMutex
	cases     map[id.CaseID]*ReviewCase
	decisions map[id.CaseID]*Decision
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		cases:     make(map[id.CaseID]*ReviewCase),
		decisions: make(map[id.CaseID]*Decision),
	}
}

func (s *InMemoryStore) Enqueue(_ context.Context, rc *ReviewCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cases[rc.CaseID]; ok && existing.Status != StatusDecided {
		return sentinel.ErrConflict
	}
	stored := cloneReviewCase(*rc)
	s.cases[rc.CaseID] = &stored
	return nil
}

func (s *InMemoryStore) GetActive(_ context.Context, caseID id.CaseID) (*ReviewCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.cases[caseID]
	if !ok || rc.Status == StatusDecided {
		return nil, sentinel.ErrNotFound
	}
	c := cloneReviewCase(*rc)
	return &c, nil
}

func (s *InMemoryStore) Get(_ context.Context, caseID id.CaseID) (*ReviewCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := cloneReviewCase(*rc)
	return &c, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, caseID id.CaseID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.cases[caseID]
	if !ok {
		return sentinel.ErrNotFound
	}
	rc.Status = status
	rc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter, page PageRequest) (Page, error) {
	page = page.Normalize()

	s.mu.RLock()
	var matched []ReviewCase
	for _, rc := range s.cases {
		if filter.matches(*rc) {
			matched = append(matched, cloneReviewCase(*rc))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].QueuedAt.Equal(matched[j].QueuedAt) {
			return uuid.UUID(matched[i].CaseID).String() < uuid.UUID(matched[j].CaseID).String()
		}
		return matched[i].QueuedAt.Before(matched[j].QueuedAt)
	})

	total := len(matched)
	start := page.offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return Page{Items: matched[start:end], Number: page.Number, Size: page.Size, Total: total}, nil
}

func (s *InMemoryStore) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rc := range s.cases {
		if rc.Status != StatusDecided {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) SaveDecision(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.CaseID]; exists {
		return sentinel.ErrAlreadyDecided
	}
	stored := *d
	s.decisions[d.CaseID] = &stored
	return nil
}

func (s *InMemoryStore) GetDecision(_ context.Context, caseID id.CaseID) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	stored := *d
	return &stored, nil
}

func cloneReviewCase(rc ReviewCase) ReviewCase {
	rc.ReasonCodes = append([]ReasonCode{}, rc.ReasonCodes...)
	return rc
}

// shardedTx serializes decision submission per case with sharded mutexes.
// Operations on different cases proceed concurrently; two submissions for
// the same case take the same shard.
const numTxShards = 128

const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numTxShards]sync.Mutex
	timeout time.Duration
}

// NewMemoryTx returns the in-memory transactional boundary.
func NewMemoryTx() Tx {
	return &shardedTx{}
}

func (t *shardedTx) RunInTx(ctx context.Context, caseID id.CaseID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashCaseID(caseID) % numTxShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

// hashCaseID uses FNV-1a over the raw UUID bytes.
func hashCaseID(caseID id.CaseID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	raw := uuid.UUID(caseID)
	h := uint32(fnvOffset)
	for i := 0; i < len(raw); i++ {
		h ^= uint32(raw[i])
		h *= fnvPrime
	}
	return h
}
