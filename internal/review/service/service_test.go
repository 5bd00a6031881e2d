package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriqan/internal/audit"
	"veriqan/internal/cases"
	"veriqan/internal/review"
	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
)

// =============================================================================
// Review Coordinator Test Suite
// =============================================================================
// The coordinator is the concurrency-critical gate: at most one decision per
// case, no duplicate queue entries, validation before persistence. Races are
// exercised directly with goroutines against the in-memory stores, which share
// the same transactional contract as the Postgres twins.

type CoordinatorSuite struct {
	suite.Suite
	reviews     *review.InMemoryStore
	caseStore   *cases.InMemoryStore
	auditStore  *audit.InMemoryStore
	trail       *audit.Trail
	coordinator *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.reviews = review.NewInMemoryStore()
	s.caseStore = cases.NewInMemoryStore()
	s.auditStore = audit.NewInMemoryStore()
	s.trail = audit.NewTrail(s.auditStore, logger)

	var err error
	s.coordinator, err = New(s.reviews, s.caseStore, review.NewMemoryTx(), s.trail, logger)
	s.Require().NoError(err)
}

// suspendedCase persists a case parked in review at the recognition stage and
// queues its review entry, mirroring what the pipeline does on ambiguity.
func (s *CoordinatorSuite) suspendedCase() *cases.Case {
	cs, err := cases.New(id.NewCaseID(), id.NewCorrelationID(), "docs/scan.pdf",
		time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC), 5)
	s.Require().NoError(err)
	s.Require().NoError(cs.AdvanceTo(id.StageQualityCheck))
	s.Require().NoError(cs.Suspend(id.StageRecognition))
	s.Require().NoError(s.caseStore.Create(context.Background(), cs))

	_, err = s.coordinator.IdentifyAndQueue(context.Background(), cs.ID, cs.CorrelationID,
		0.4, []review.ReasonCode{review.ReasonLowConfidence})
	s.Require().NoError(err)
	return cs
}

func approvedDecision(caseID id.CaseID) review.Decision {
	return review.Decision{
		CaseID:     caseID,
		ReviewerID: id.NewReviewerID(),
		Type:       review.DecisionApproved,
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *CoordinatorSuite) TestNew() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.Run("nil review store returns error", func() {
		_, err := New(nil, s.caseStore, review.NewMemoryTx(), s.trail, logger)
		s.Error(err)
	})

	s.Run("nil transaction boundary returns error", func() {
		_, err := New(s.reviews, s.caseStore, nil, s.trail, logger)
		s.Error(err)
	})
}

// =============================================================================
// Queueing (duplicate prevention)
// =============================================================================

func (s *CoordinatorSuite) TestIdentifyAndQueue() {
	ctx := context.Background()

	s.Run("missing reason codes are rejected", func() {
		_, err := s.coordinator.IdentifyAndQueue(ctx, id.NewCaseID(), id.NewCorrelationID(), 0.4, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("first queueing creates a pending review case", func() {
		caseID := id.NewCaseID()
		rc, err := s.coordinator.IdentifyAndQueue(ctx, caseID, id.NewCorrelationID(),
			0.4, []review.ReasonCode{review.ReasonLowConfidence})
		s.Require().NoError(err)
		s.Equal(review.StatusPending, rc.Status)
		s.Equal(caseID, rc.CaseID)
	})

	s.Run("second queueing returns the existing entry", func() {
		caseID := id.NewCaseID()
		correlationID := id.NewCorrelationID()
		first, err := s.coordinator.IdentifyAndQueue(ctx, caseID, correlationID,
			0.4, []review.ReasonCode{review.ReasonLowConfidence})
		s.Require().NoError(err)

		second, err := s.coordinator.IdentifyAndQueue(ctx, caseID, correlationID,
			0.2, []review.ReasonCode{review.ReasonExtractionError})
		s.Require().NoError(err)
		s.Equal(first.QueuedAt, second.QueuedAt)
		s.Equal(first.ReasonCodes, second.ReasonCodes, "original reasons are kept")

		count, err := s.coordinator.PendingCount(ctx)
		s.Require().NoError(err)
		s.Equal(1, count)
	})
}

func (s *CoordinatorSuite) TestDecidedCaseCannotBeRequeued() {
	ctx := context.Background()
	cs := s.suspendedCase()
	s.Require().NoError(s.coordinator.SubmitDecision(ctx, cs.ID, approvedDecision(cs.ID)))

	_, err := s.coordinator.IdentifyAndQueue(ctx, cs.ID, cs.CorrelationID,
		0.3, []review.ReasonCode{review.ReasonAmbiguousClassification})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyDecided))

	count, err := s.coordinator.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(0, count, "the decided case stays out of the queue")
}

func (s *CoordinatorSuite) TestConcurrentQueueingCreatesOneEntry() {
	ctx := context.Background()
	caseID := id.NewCaseID()
	correlationID := id.NewCorrelationID()

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.coordinator.IdentifyAndQueue(ctx, caseID, correlationID,
				0.4, []review.ReasonCode{review.ReasonLowConfidence})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	count, err := s.coordinator.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

// =============================================================================
// Pending Queue Listing
// =============================================================================

func (s *CoordinatorSuite) TestListPending() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.suspendedCase()
	}

	s.Run("defaults to pending status", func() {
		page, err := s.coordinator.ListPending(ctx, review.Filter{}, review.PageRequest{})
		s.Require().NoError(err)
		s.Equal(3, page.Total)
		s.Len(page.Items, 3)
	})

	s.Run("pagination clamps and offsets", func() {
		page, err := s.coordinator.ListPending(ctx, review.Filter{}, review.PageRequest{Number: 2, Size: 2})
		s.Require().NoError(err)
		s.Equal(3, page.Total)
		s.Len(page.Items, 1)
	})

	s.Run("confidence filter narrows the queue", func() {
		bar := 0.3 // all fixtures queued at 0.4
		page, err := s.coordinator.ListPending(ctx, review.Filter{MaxConfidence: &bar}, review.PageRequest{})
		s.Require().NoError(err)
		s.Equal(0, page.Total)
	})
}

// =============================================================================
// Decision Submission
// =============================================================================

func (s *CoordinatorSuite) TestSubmitDecisionValidation() {
	ctx := context.Background()
	cs := s.suspendedCase()

	s.Run("override without notes is rejected before persistence", func() {
		err := s.coordinator.SubmitDecision(ctx, cs.ID, review.Decision{
			CaseID:           cs.ID,
			ReviewerID:       id.NewReviewerID(),
			Type:             review.DecisionOverridden,
			OverriddenFields: map[string]string{"extracted_text": "corrected"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.coordinator.Decision(ctx, cs.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "nothing was persisted")
	})

	s.Run("unknown decision type is rejected", func() {
		err := s.coordinator.SubmitDecision(ctx, cs.ID, review.Decision{
			CaseID:     cs.ID,
			ReviewerID: id.NewReviewerID(),
			Type:       review.DecisionType("escalated"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing review case is not found", func() {
		err := s.coordinator.SubmitDecision(ctx, id.NewCaseID(), approvedDecision(id.NewCaseID()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CoordinatorSuite) TestDecisionAuditStaysCorrelatable() {
	ctx := context.Background()

	s.Run("failed submission without a review case uses the case correlation", func() {
		cs, err := cases.New(id.NewCaseID(), id.NewCorrelationID(), "docs/scan.pdf",
			time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC), 5)
		s.Require().NoError(err)
		s.Require().NoError(s.caseStore.Create(ctx, cs))

		err = s.coordinator.SubmitDecision(ctx, cs.ID, approvedDecision(cs.ID))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		records, err := s.trail.Timeline(ctx, cs.CorrelationID)
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(audit.ActionDecisionRejected, records[0].Action)
		s.False(records[0].Success)
	})

	s.Run("no record is written when no correlation is resolvable", func() {
		caseID := id.NewCaseID()
		err := s.coordinator.SubmitDecision(ctx, caseID, approvedDecision(caseID))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		records, err := s.trail.Query(ctx, audit.Filter{CaseID: &caseID})
		s.Require().NoError(err)
		s.Empty(records)
	})
}

func (s *CoordinatorSuite) TestSubmitDecisionApproved() {
	ctx := context.Background()
	cs := s.suspendedCase()

	err := s.coordinator.SubmitDecision(ctx, cs.ID, approvedDecision(cs.ID))
	s.Require().NoError(err)

	s.Run("decision is retrievable", func() {
		d, err := s.coordinator.Decision(ctx, cs.ID)
		s.Require().NoError(err)
		s.Equal(review.DecisionApproved, d.Type)
		s.False(d.DecidedAt.IsZero())
	})

	s.Run("review case leaves the pending queue", func() {
		count, err := s.coordinator.PendingCount(ctx)
		s.Require().NoError(err)
		s.Equal(0, count)
	})

	s.Run("case returns from review ready to re-run the flagged stage", func() {
		updated, err := s.caseStore.Get(ctx, cs.ID)
		s.Require().NoError(err)
		s.Equal(id.StageQualityCheck, updated.CurrentStage)
		s.Empty(string(updated.SuspendedStage))
	})

	s.Run("audit records the submission", func() {
		records, err := s.trail.Timeline(ctx, cs.CorrelationID)
		s.Require().NoError(err)
		actions := make([]audit.Action, 0, len(records))
		for _, r := range records {
			actions = append(actions, r.Action)
		}
		s.Contains(actions, audit.ActionDecisionSubmitted)
	})
}

func (s *CoordinatorSuite) TestSubmitDecisionRejected() {
	ctx := context.Background()
	cs := s.suspendedCase()

	err := s.coordinator.SubmitDecision(ctx, cs.ID, review.Decision{
		CaseID:     cs.ID,
		ReviewerID: id.NewReviewerID(),
		Type:       review.DecisionRejected,
		Notes:      "document is not a regulatory directive",
	})
	s.Require().NoError(err)

	updated, err := s.caseStore.Get(ctx, cs.ID)
	s.Require().NoError(err)
	s.Equal(id.StageFailed, updated.CurrentStage)
	s.Equal(cases.OutcomeRejected, updated.Outcome)
	s.Equal("document is not a regulatory directive", updated.FailureReason)
}

func (s *CoordinatorSuite) TestSecondDecisionIsRejected() {
	ctx := context.Background()
	cs := s.suspendedCase()

	s.Require().NoError(s.coordinator.SubmitDecision(ctx, cs.ID, approvedDecision(cs.ID)))

	err := s.coordinator.SubmitDecision(ctx, cs.ID, review.Decision{
		CaseID:     cs.ID,
		ReviewerID: id.NewReviewerID(),
		Type:       review.DecisionRejected,
		Notes:      "second opinion",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyDecided))

	s.Run("first decision is untouched", func() {
		d, err := s.coordinator.Decision(ctx, cs.ID)
		s.Require().NoError(err)
		s.Equal(review.DecisionApproved, d.Type)
	})
}

func (s *CoordinatorSuite) TestConcurrentDecisionsExactlyOneWins() {
	ctx := context.Background()
	cs := s.suspendedCase()

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.coordinator.SubmitDecision(ctx, cs.ID, approvedDecision(cs.ID))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		s.True(
			dErrors.HasCode(err, dErrors.CodeAlreadyDecided) || dErrors.HasCode(err, dErrors.CodeConflict),
			"loser must get a distinct error, got: %v", err,
		)
	}
	s.Equal(1, winners, "exactly one submission wins the race")

	d, err := s.coordinator.Decision(ctx, cs.ID)
	s.Require().NoError(err)
	s.Equal(review.DecisionApproved, d.Type)
}
