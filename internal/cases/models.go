// Package cases holds the Case record: one document's end-to-end compliance
// processing unit. A case is mutated only by the pipeline (stage transitions)
// and the review coordinator (resolution of a suspension); once terminal it
// becomes an archival record and is never deleted.
package cases

import (
	"time"

	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
)

// TerminalOutcome is set once, when a case reaches a terminal stage.
type TerminalOutcome string

const (
	OutcomeNone      TerminalOutcome = ""
	OutcomeCompleted TerminalOutcome = "completed"
	OutcomeFailed    TerminalOutcome = "failed"
	OutcomeRejected  TerminalOutcome = "rejected"
)

// Case is one document under compliance processing.
type Case struct {
	ID            id.CaseID
	CorrelationID id.CorrelationID
	DocumentRef   string
	IntakeAt      time.Time
	DaysAllowed   int
	CurrentStage  id.Stage
	// SuspendedStage remembers where automatic processing stopped when the
	// case went to review, so an approval can resume from there.
	SuspendedStage id.Stage
	Outcome        TerminalOutcome
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Version backs optimistic concurrency in the store; the persistence
	// layer rejects a write when it no longer matches.
	Version int
}

// New creates a case in the intake stage.
func New(caseID id.CaseID, correlationID id.CorrelationID, documentRef string, intakeAt time.Time, daysAllowed int) (*Case, error) {
	if caseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "case_id is required")
	}
	if correlationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "correlation_id is required")
	}
	if documentRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "document_ref is required")
	}
	if intakeAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "intake timestamp is required")
	}
	if daysAllowed <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "days_allowed must be positive")
	}
	now := time.Now().UTC()
	return &Case{
		ID:            caseID,
		CorrelationID: correlationID,
		DocumentRef:   documentRef,
		IntakeAt:      intakeAt,
		DaysAllowed:   daysAllowed,
		CurrentStage:  id.StageIntake,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// AdvanceTo moves the case forward. The stage only ever moves forward
// through the sequence or sideways to Failed/InReview.
func (c *Case) AdvanceTo(next id.Stage) error {
	if !c.CurrentStage.CanAdvanceTo(next) {
		return dErrors.New(dErrors.CodeValidation,
			"illegal stage transition from "+c.CurrentStage.String()+" to "+next.String())
	}
	c.CurrentStage = next
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Suspend parks the case for manual review, remembering the stage to resume at.
func (c *Case) Suspend(at id.Stage) error {
	if err := c.AdvanceTo(id.StageInReview); err != nil {
		return err
	}
	c.SuspendedStage = at
	return nil
}

// Fail marks the case terminally failed with a human-readable reason.
func (c *Case) Fail(reason string) error {
	if err := c.AdvanceTo(id.StageFailed); err != nil {
		return err
	}
	c.Outcome = OutcomeFailed
	c.FailureReason = reason
	return nil
}

// Reject marks the case terminally rejected by a reviewer.
func (c *Case) Reject(reason string) error {
	if err := c.AdvanceTo(id.StageFailed); err != nil {
		return err
	}
	c.Outcome = OutcomeRejected
	c.FailureReason = reason
	return nil
}

// Complete marks the case terminally completed.
func (c *Case) Complete() error {
	if err := c.AdvanceTo(id.StageCompleted); err != nil {
		return err
	}
	c.Outcome = OutcomeCompleted
	return nil
}

// Resume returns the case from review to the stage just before the one that
// flagged it. The pipeline then re-runs the flagged stage with the reviewer's
// decision applied.
func (c *Case) Resume() error {
	if c.CurrentStage != id.StageInReview {
		return dErrors.New(dErrors.CodeValidation, "case is not in review")
	}
	if c.SuspendedStage == "" {
		return dErrors.New(dErrors.CodeValidation, "case has no suspended stage to resume")
	}
	prev, ok := c.SuspendedStage.Prev()
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "suspended stage is not part of the pipeline")
	}
	c.CurrentStage = prev
	c.SuspendedStage = ""
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// IsOpen reports whether the case still counts toward deadline monitoring.
func (c *Case) IsOpen() bool {
	return !c.CurrentStage.IsTerminal()
}
