package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "veriqan/pkg/domain"
)

// =============================================================================
// Audit Trail Test Suite
// =============================================================================
// Append is fire-and-forget: callers never see a persistence failure, a
// cancelled caller still gets its final record written, and a broken store
// trips the breaker instead of stalling every case. Query semantics are
// exercised against the in-memory store.

type failingStore struct {
	calls atomic.Int64
	err   error
}

func (f *failingStore) Append(_ context.Context, _ Record) error {
	f.calls.Add(1)
	return f.err
}

func (f *failingStore) Query(_ context.Context, _ Filter) ([]Record, error) {
	return nil, f.err
}

func (f *failingStore) Timeline(_ context.Context, _ id.CorrelationID) ([]Record, error) {
	return nil, f.err
}

type TrailSuite struct {
	suite.Suite
	store  *InMemoryStore
	trail  *Trail
	logger *slog.Logger
}

func TestTrailSuite(t *testing.T) {
	suite.Run(t, new(TrailSuite))
}

func (s *TrailSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = NewInMemoryStore()
	s.trail = NewTrail(s.store, s.logger)
}

func (s *TrailSuite) record(correlationID id.CorrelationID, action Action) Record {
	return Record{
		CorrelationID: correlationID,
		CaseID:        id.NewCaseID(),
		Action:        action,
		Stage:         id.StageQualityCheck,
		Success:       true,
	}
}

// =============================================================================
// Append Semantics
// =============================================================================

func (s *TrailSuite) TestAppendPersistsAndStampsTime() {
	correlationID := id.NewCorrelationID()
	s.trail.Append(context.Background(), s.record(correlationID, ActionStageCompleted))

	records, err := s.trail.Timeline(context.Background(), correlationID)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.False(records[0].Timestamp.IsZero())
	s.Equal(ActionStageCompleted, records[0].Action)
}

func (s *TrailSuite) TestAppendSurvivesCancelledCaller() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	correlationID := id.NewCorrelationID()
	s.trail.Append(ctx, s.record(correlationID, ActionCaseCancelled))

	records, err := s.trail.Timeline(context.Background(), correlationID)
	s.Require().NoError(err)
	s.Len(records, 1, "the final record of a cancelled case is still written")
}

func (s *TrailSuite) TestAppendSwallowsStoreFailure() {
	broken := &failingStore{err: errors.New("disk full")}
	trail := NewTrail(broken, s.logger)

	// Must not panic and must not surface the error anywhere.
	trail.Append(context.Background(), s.record(id.NewCorrelationID(), ActionStageCompleted))
	s.Equal(int64(1), broken.calls.Load())
}

func (s *TrailSuite) TestBreakerOpensAfterConsecutiveFailures() {
	broken := &failingStore{err: errors.New("connection refused")}
	trail := NewTrail(broken, s.logger, WithBreaker(NewCircuitBreaker(3, time.Hour)))

	for i := 0; i < 10; i++ {
		trail.Append(context.Background(), s.record(id.NewCorrelationID(), ActionStageCompleted))
	}

	// Three attempts trip the breaker; the rest are dropped without a write.
	s.Equal(int64(3), broken.calls.Load())
}

// =============================================================================
// Query Semantics
// =============================================================================

func (s *TrailSuite) TestTimelineIsOrdered() {
	ctx := context.Background()
	correlationID := id.NewCorrelationID()
	caseID := id.NewCaseID()
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	// Inserted out of order; the store orders by timestamp.
	for i, action := range []Action{ActionCaseCompleted, ActionCaseCreated, ActionStageCompleted} {
		offset := []time.Duration{2 * time.Minute, 0, time.Minute}[i]
		s.trail.Append(ctx, Record{
			CorrelationID: correlationID,
			CaseID:        caseID,
			Action:        action,
			Success:       true,
			Timestamp:     base.Add(offset),
		})
	}

	records, err := s.trail.Timeline(ctx, correlationID)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(ActionCaseCreated, records[0].Action)
	s.Equal(ActionStageCompleted, records[1].Action)
	s.Equal(ActionCaseCompleted, records[2].Action)
}

func (s *TrailSuite) TestQueryFilters() {
	ctx := context.Background()
	correlationID := id.NewCorrelationID()
	other := id.NewCorrelationID()

	s.trail.Append(ctx, s.record(correlationID, ActionStageCompleted))
	s.trail.Append(ctx, s.record(correlationID, ActionStageFailed))
	s.trail.Append(ctx, s.record(other, ActionStageCompleted))

	s.Run("by correlation id", func() {
		records, err := s.trail.Query(ctx, Filter{CorrelationID: &correlationID})
		s.Require().NoError(err)
		s.Len(records, 2)
	})

	s.Run("by action", func() {
		records, err := s.trail.Query(ctx, Filter{Action: ActionStageFailed})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(correlationID, records[0].CorrelationID)
	})

	s.Run("with limit", func() {
		records, err := s.trail.Query(ctx, Filter{Limit: 1})
		s.Require().NoError(err)
		s.Len(records, 1)
	})

	s.Run("no match is empty, not an error", func() {
		records, err := s.trail.Query(ctx, Filter{Action: ActionCaseResumed})
		s.Require().NoError(err)
		s.Empty(records)
	})
}
