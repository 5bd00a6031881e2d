// Package service implements the manual review coordinator: the
// concurrency-safe gate through which every ambiguous case passes. At most
// one decision ever exists per case, enforced by a pre-check inside the
// transaction plus a storage uniqueness constraint as backstop.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"veriqan/internal/audit"
	"veriqan/internal/cases"
	"veriqan/internal/review"
	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
	"veriqan/pkg/platform/sentinel"
)

// Coordinator owns the review queue and decision submission.
type Coordinator struct {
	reviews review.Store
	cases   cases.Store
	tx      review.Tx
	trail   *audit.Trail
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates the coordinator. All collaborators are required; there is no
// global registry to fall back on.
func New(reviews review.Store, caseStore cases.Store, tx review.Tx, trail *audit.Trail, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if reviews == nil {
		return nil, errors.New("review store is required")
	}
	if caseStore == nil {
		return nil, errors.New("case store is required")
	}
	if tx == nil {
		return nil, errors.New("transaction boundary is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	c := &Coordinator{
		reviews: reviews,
		cases:   caseStore,
		tx:      tx,
		trail:   trail,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IdentifyAndQueue creates the review case for an ambiguous outcome. If a
// non-decided review case already exists for the case ID it is returned
// instead of creating a duplicate.
func (c *Coordinator) IdentifyAndQueue(ctx context.Context, caseID id.CaseID, correlationID id.CorrelationID, confidence float64, reasonCodes []review.ReasonCode) (*review.ReviewCase, error) {
	if caseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "case_id is required")
	}
	if len(reasonCodes) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one reason code is required")
	}

	if existing, err := c.reviews.GetActive(ctx, caseID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "look up review case")
	}

	// A case carries at most one decision ever, so a decided case can never
	// re-enter the queue: a second review round could not be resolved.
	if _, err := c.reviews.GetDecision(ctx, caseID); err == nil {
		return nil, dErrors.New(dErrors.CodeAlreadyDecided, "case "+caseID.String()+" already decided by review")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "look up existing decision")
	}

	now := c.now()
	rc := &review.ReviewCase{
		CaseID:        caseID,
		CorrelationID: correlationID,
		ReasonCodes:   reasonCodes,
		Confidence:    confidence,
		Status:        review.StatusPending,
		QueuedAt:      now,
		UpdatedAt:     now,
	}
	if err := c.reviews.Enqueue(ctx, rc); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost the creation race; the winner's review case is the one.
			return c.reviews.GetActive(ctx, caseID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "enqueue review case")
	}

	if c.metrics != nil {
		c.metrics.IncQueued()
		c.refreshPendingGauge(ctx)
	}
	c.trail.Append(ctx, audit.Record{
		CorrelationID: correlationID,
		CaseID:        caseID,
		Action:        audit.ActionCaseSuspended,
		Stage:         id.StageInReview,
		Success:       true,
		Details:       "queued for manual review: " + joinReasons(reasonCodes),
	})
	return rc, nil
}

// ListPending returns one page of the review queue.
func (c *Coordinator) ListPending(ctx context.Context, filter review.Filter, page review.PageRequest) (review.Page, error) {
	if filter.Status == "" {
		filter.Status = review.StatusPending
	}
	result, err := c.reviews.List(ctx, filter, page)
	if err != nil {
		return review.Page{}, dErrors.Wrap(err, dErrors.CodePersistence, "list review cases")
	}
	return result, nil
}

// SubmitDecision commits the one decision a case may ever receive, as a
// single atomic unit of work. The loser of a race gets a distinct
// AlreadyDecided or Conflict error, never a silent overwrite.
func (c *Coordinator) SubmitDecision(ctx context.Context, caseID id.CaseID, decision review.Decision) error {
	decision.CaseID = caseID
	if err := decision.Validate(); err != nil {
		// Business-rule validation fails before any persistence.
		return err
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = c.now()
	}

	var correlationID id.CorrelationID
	err := c.tx.RunInTx(ctx, caseID, func(ctx context.Context) error {
		rc, err := c.reviews.Get(ctx, caseID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "no review case for "+caseID.String())
			}
			return dErrors.Wrap(err, dErrors.CodePersistence, "read review case")
		}
		correlationID = rc.CorrelationID

		// Pre-check inside the transaction. Not sufficient alone under
		// concurrency; SaveDecision's uniqueness constraint backs it up.
		if _, err := c.reviews.GetDecision(ctx, caseID); err == nil {
			return dErrors.New(dErrors.CodeAlreadyDecided, "decision already exists for "+caseID.String())
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodePersistence, "look up existing decision")
		}

		if err := c.reviews.SaveDecision(ctx, &decision); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyDecided) {
				return dErrors.New(dErrors.CodeAlreadyDecided, "decision already exists for "+caseID.String())
			}
			return dErrors.Wrap(err, dErrors.CodePersistence, "save decision")
		}
		if err := c.reviews.UpdateStatus(ctx, caseID, review.StatusDecided); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "mark review case decided")
		}

		return c.applyToCase(ctx, caseID, decision)
	})

	c.recordDecisionAudit(ctx, correlationID, caseID, decision, err)

	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if c.metrics != nil {
				c.metrics.IncConflict()
			}
			return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent modification, retry")
		}
		if dErrors.HasCode(err, dErrors.CodeAlreadyDecided) && c.metrics != nil {
			c.metrics.IncConflict()
		}
		return err
	}

	if c.metrics != nil {
		c.metrics.IncDecision(string(decision.Type))
		c.refreshPendingGauge(ctx)
	}
	return nil
}

// applyToCase moves the originating case according to the decision type.
func (c *Coordinator) applyToCase(ctx context.Context, caseID id.CaseID, decision review.Decision) error {
	cs, err := c.cases.Get(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no case for "+caseID.String())
		}
		return dErrors.Wrap(err, dErrors.CodePersistence, "read case")
	}

	switch decision.Type {
	case review.DecisionApproved, review.DecisionOverridden:
		if err := cs.Resume(); err != nil {
			return err
		}
	case review.DecisionRejected:
		reason := decision.Notes
		if reason == "" {
			reason = "rejected by reviewer"
		}
		if err := cs.Reject(reason); err != nil {
			return err
		}
	}

	if err := c.cases.Update(ctx, cs); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return sentinel.ErrConflict
		}
		return dErrors.Wrap(err, dErrors.CodePersistence, "update case")
	}
	return nil
}

// recordDecisionAudit appends the decision audit record regardless of outcome.
// When the review case lookup never supplied a correlation id the originating
// case is consulted; a record with no correlation belongs to no timeline, so
// if neither source has one the append is skipped and logged instead.
func (c *Coordinator) recordDecisionAudit(ctx context.Context, correlationID id.CorrelationID, caseID id.CaseID, decision review.Decision, submitErr error) {
	if correlationID.IsNil() {
		cs, err := c.cases.Get(ctx, caseID)
		if err != nil {
			c.logger.WarnContext(ctx, "decision audit skipped, no correlation resolvable",
				"case_id", caseID, "error", err)
			return
		}
		correlationID = cs.CorrelationID
	}

	record := audit.Record{
		CorrelationID: correlationID,
		CaseID:        caseID,
		Action:        audit.ActionDecisionSubmitted,
		Stage:         id.StageInReview,
		Success:       submitErr == nil,
		Details:       fmt.Sprintf("decision=%s reviewer=%s", decision.Type, decision.ReviewerID),
	}
	if submitErr != nil {
		record.Action = audit.ActionDecisionRejected
		record.ErrorMessage = submitErr.Error()
	}
	c.trail.Append(ctx, record)
}

// Decision returns the committed decision for a case, if any.
func (c *Coordinator) Decision(ctx context.Context, caseID id.CaseID) (*review.Decision, error) {
	d, err := c.reviews.GetDecision(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no decision for "+caseID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read decision")
	}
	return d, nil
}

// PendingCount exposes the queue depth for the health projection.
func (c *Coordinator) PendingCount(ctx context.Context) (int, error) {
	return c.reviews.CountPending(ctx)
}

func (c *Coordinator) refreshPendingGauge(ctx context.Context) {
	count, err := c.reviews.CountPending(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "pending review count refresh failed", "error", err)
		return
	}
	c.metrics.SetPending(count)
}

func joinReasons(codes []review.ReasonCode) string {
	out := ""
	for i, code := range codes {
		if i > 0 {
			out += ","
		}
		out += string(code)
	}
	return out
}
