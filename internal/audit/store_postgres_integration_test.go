//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriqan/internal/audit"
	id "veriqan/pkg/domain"
	"veriqan/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = audit.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
}

// TestTimelineOrder verifies the timeline comes back in timestamp order even
// when records arrive out of order.
func (s *PostgresStoreSuite) TestTimelineOrder() {
	ctx := context.Background()
	correlationID := id.NewCorrelationID()
	caseID := id.NewCaseID()
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	actions := []audit.Action{
		audit.ActionStageCompleted,
		audit.ActionCaseCreated,
		audit.ActionCaseCompleted,
	}
	offsets := []time.Duration{time.Minute, 0, 2 * time.Minute}
	for i, action := range actions {
		s.Require().NoError(s.store.Append(ctx, audit.Record{
			CorrelationID: correlationID,
			CaseID:        caseID,
			Action:        action,
			Success:       true,
			Timestamp:     base.Add(offsets[i]),
		}))
	}

	records, err := s.store.Timeline(ctx, correlationID)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(audit.ActionCaseCreated, records[0].Action)
	s.Equal(audit.ActionStageCompleted, records[1].Action)
	s.Equal(audit.ActionCaseCompleted, records[2].Action)
}

func (s *PostgresStoreSuite) TestQueryFilters() {
	ctx := context.Background()
	correlationID := id.NewCorrelationID()
	other := id.NewCorrelationID()
	now := time.Now().UTC()

	s.Require().NoError(s.store.Append(ctx, audit.Record{
		CorrelationID: correlationID,
		CaseID:        id.NewCaseID(),
		Action:        audit.ActionStageFailed,
		Stage:         id.StageRecognition,
		Success:       false,
		Timestamp:     now,
		ErrorMessage:  "empty document",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Record{
		CorrelationID: other,
		CaseID:        id.NewCaseID(),
		Action:        audit.ActionCaseCreated,
		Success:       true,
		Timestamp:     now,
	}))

	s.Run("by correlation", func() {
		records, err := s.store.Query(ctx, audit.Filter{CorrelationID: &correlationID})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(audit.ActionStageFailed, records[0].Action)
		s.Equal("empty document", records[0].ErrorMessage)
	})

	s.Run("by success", func() {
		failed := false
		records, err := s.store.Query(ctx, audit.Filter{Success: &failed})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(id.StageRecognition, records[0].Stage)
	})

	s.Run("limit caps the result", func() {
		records, err := s.store.Query(ctx, audit.Filter{Limit: 1})
		s.Require().NoError(err)
		s.Len(records, 1)
	})

	s.Run("no match is empty, not an error", func() {
		unknown := id.NewCorrelationID()
		records, err := s.store.Query(ctx, audit.Filter{CorrelationID: &unknown})
		s.Require().NoError(err)
		s.Empty(records)
	})
}
