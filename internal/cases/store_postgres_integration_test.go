//go:build integration

package cases_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriqan/internal/cases"
	id "veriqan/pkg/domain"
	"veriqan/pkg/platform/sentinel"
	"veriqan/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *cases.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = cases.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
}

func newStoredCase(s *PostgresStoreSuite) *cases.Case {
	c, err := cases.New(id.NewCaseID(), id.NewCorrelationID(), "s3://intake/doc.pdf", time.Now().UTC(), 3)
	s.Require().NoError(err)
	return c
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	c := newStoredCase(s)
	s.Require().NoError(s.store.Create(ctx, c))

	got, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Equal(c.CorrelationID, got.CorrelationID)
	s.Equal(id.StageIntake, got.CurrentStage)
	s.Equal(1, got.Version)

	byCorr, err := s.store.GetByCorrelation(ctx, c.CorrelationID)
	s.Require().NoError(err)
	s.Equal(c.ID, byCorr.ID)
}

// TestConcurrentDuplicateCorrelation verifies the correlation_id unique
// constraint lets exactly one of many racing intakes through.
func (s *PostgresStoreSuite) TestConcurrentDuplicateCorrelation() {
	ctx := context.Background()
	correlationID := id.NewCorrelationID()
	const goroutines = 32

	var wg sync.WaitGroup
	var created, conflicted atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := cases.New(id.NewCaseID(), correlationID, "s3://intake/doc.pdf", time.Now().UTC(), 3)
			if err != nil {
				return
			}
			err = s.store.Create(ctx, c)
			if err == nil {
				created.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflicted.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load(), "exactly one intake should win")
	s.Equal(int32(goroutines-1), conflicted.Load())
}

// TestStaleVersionUpdate verifies the optimistic version guard: of two
// writers holding the same snapshot, the second loses with ErrConflict.
func (s *PostgresStoreSuite) TestStaleVersionUpdate() {
	ctx := context.Background()
	c := newStoredCase(s)
	s.Require().NoError(s.store.Create(ctx, c))

	first, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)
	second, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)

	s.Require().NoError(first.AdvanceTo(id.StageQualityCheck))
	s.Require().NoError(s.store.Update(ctx, first))
	s.Equal(2, first.Version)

	s.Require().NoError(second.AdvanceTo(id.StageQualityCheck))
	s.ErrorIs(s.store.Update(ctx, second), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestUpdateMissingCase() {
	ctx := context.Background()
	c := newStoredCase(s)
	c.Version = 1
	s.ErrorIs(s.store.Update(ctx, c), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListOpenExcludesTerminal() {
	ctx := context.Background()

	open := newStoredCase(s)
	s.Require().NoError(s.store.Create(ctx, open))

	done := newStoredCase(s)
	s.Require().NoError(s.store.Create(ctx, done))
	for _, stage := range id.PipelineStages {
		s.Require().NoError(done.AdvanceTo(stage))
	}
	s.Require().NoError(done.Complete())
	s.Require().NoError(s.store.Update(ctx, done))

	failed := newStoredCase(s)
	s.Require().NoError(s.store.Create(ctx, failed))
	s.Require().NoError(failed.Fail("unreadable input"))
	s.Require().NoError(s.store.Update(ctx, failed))

	got, err := s.store.ListOpen(ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(open.ID, got[0].ID)
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.store.Get(ctx, id.NewCaseID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.GetByCorrelation(ctx, id.NewCorrelationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
