// Package review holds the manual-review gate: cases suspended for human
// judgment, and the single decision each one may ever receive.
package review

import (
	"time"

	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
)

// ReasonCode tells a reviewer what to examine.
type ReasonCode string

const (
	ReasonLowConfidence           ReasonCode = "low_confidence"
	ReasonAmbiguousClassification ReasonCode = "ambiguous_classification"
	ReasonExtractionError         ReasonCode = "extraction_error"
)

// Status of a review case. Decided is final.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in_review"
	StatusDecided  Status = "decided"
)

// ReviewCase is a case suspended for human judgment. Exactly one decision
// may ever exist per case ID.
type ReviewCase struct {
	CaseID        id.CaseID
	CorrelationID id.CorrelationID
	ReasonCodes   []ReasonCode
	// Confidence is the stage-reported confidence that triggered the
	// suspension, when one exists. Filterable in the pending queue.
	Confidence float64
	Status     Status
	QueuedAt   time.Time
	UpdatedAt  time.Time
}

// DecisionType drives what happens to the originating case.
type DecisionType string

const (
	DecisionApproved   DecisionType = "approved"
	DecisionOverridden DecisionType = "overridden"
	DecisionRejected   DecisionType = "rejected"
)

// Decision is the outcome of human judgment on one review case.
type Decision struct {
	CaseID                   id.CaseID
	ReviewerID               id.ReviewerID
	Type                     DecisionType
	OverriddenFields         map[string]string
	OverriddenClassification string
	Notes                    string
	DecidedAt                time.Time
}

// Validate enforces the business rules that hold independent of persistence.
// Notes are required whenever the reviewer overrode anything.
func (d Decision) Validate() error {
	if d.CaseID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "case_id is required")
	}
	if d.ReviewerID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "reviewer_id is required")
	}
	switch d.Type {
	case DecisionApproved, DecisionOverridden, DecisionRejected:
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown decision type: "+string(d.Type))
	}
	if (len(d.OverriddenFields) > 0 || d.OverriddenClassification != "") && d.Notes == "" {
		return dErrors.New(dErrors.CodeValidation, "notes are required when fields or classification are overridden")
	}
	return nil
}

// Filter narrows the pending queue.
type Filter struct {
	Status Status
	Reason ReasonCode
	// MaxConfidence keeps only cases at or below a confidence bar.
	MaxConfidence *float64
}

func (f Filter) matches(rc ReviewCase) bool {
	if f.Status != "" && rc.Status != f.Status {
		return false
	}
	if f.Reason != "" {
		found := false
		for _, r := range rc.ReasonCodes {
			if r == f.Reason {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MaxConfidence != nil && rc.Confidence > *f.MaxConfidence {
		return false
	}
	return true
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageRequest selects one slice of the queue. Unbounded listing is not a
// supported operation.
type PageRequest struct {
	Number int
	Size   int
}

// Normalize clamps a request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p PageRequest) offset() int { return (p.Number - 1) * p.Size }

// Page is one slice of the pending queue plus the total match count.
type Page struct {
	Items  []ReviewCase
	Number int
	Size   int
	Total  int
}
