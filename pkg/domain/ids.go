package domain

import (
	"github.com/google/uuid"

	dErrors "veriqan/pkg/domainerrors"
)

// Typed IDs prevent cross-type assignment between the identifiers that flow
// through the pipeline. A CorrelationID is never a CaseID even though both
// are UUIDs underneath.

// CaseID identifies one document compliance case.
type CaseID uuid.UUID

// CorrelationID is the stable identifier propagated across every event and
// audit record for one case. Immutable once assigned.
type CorrelationID uuid.UUID

// ReviewerID identifies the human reviewer submitting a decision.
type ReviewerID uuid.UUID

func (id CaseID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CorrelationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ReviewerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id CaseID) String() string        { return uuid.UUID(id).String() }
func (id CorrelationID) String() string { return uuid.UUID(id).String() }
func (id ReviewerID) String() string    { return uuid.UUID(id).String() }

// Defined types do not inherit the underlying uuid.UUID text marshaling, so
// the IDs implement it themselves. Without these methods JSON encoding would
// emit the raw 16-byte array.

func (id CaseID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *CaseID) UnmarshalText(b []byte) error {
	parsed, err := ParseCaseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id CorrelationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *CorrelationID) UnmarshalText(b []byte) error {
	parsed, err := ParseCorrelationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ReviewerID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ReviewerID) UnmarshalText(b []byte) error {
	parsed, err := ParseReviewerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewCaseID generates a fresh case identifier.
func NewCaseID() CaseID { return CaseID(uuid.New()) }

// NewCorrelationID generates a fresh correlation identifier.
func NewCorrelationID() CorrelationID { return CorrelationID(uuid.New()) }

// NewReviewerID generates a fresh reviewer identifier.
func NewReviewerID() ReviewerID { return ReviewerID(uuid.New()) }

// ParseCaseID validates and returns a CaseID.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID(s, "case_id")
	if err != nil {
		return CaseID{}, err
	}
	return CaseID(u), nil
}

// ParseCorrelationID validates and returns a CorrelationID.
func ParseCorrelationID(s string) (CorrelationID, error) {
	u, err := parseUUID(s, "correlation_id")
	if err != nil {
		return CorrelationID{}, err
	}
	return CorrelationID(u), nil
}

// ParseReviewerID validates and returns a ReviewerID.
func ParseReviewerID(s string) (ReviewerID, error) {
	u, err := parseUUID(s, "reviewer_id")
	if err != nil {
		return ReviewerID{}, err
	}
	return ReviewerID(u), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, field+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}
