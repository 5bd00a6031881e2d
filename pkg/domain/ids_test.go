package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "veriqan/pkg/domainerrors"
)

// TestParseID_Invariants validates the parsing invariant:
// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCaseID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCorrelationID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseReviewerID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		caseID, err := ParseCaseID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, CaseID(valid), caseID)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety between the
// ID kinds. If this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	caseID := CaseID(uuid.New())
	correlationID := CorrelationID(uuid.New())

	// These would fail to compile if the types were interchangeable:
	// var _ CaseID = correlationID   // compile error
	// var _ CorrelationID = caseID   // compile error

	assert.NotEqual(t, uuid.UUID(caseID), uuid.UUID(correlationID))
}

// TestIDTextMarshaling verifies IDs encode as canonical UUID strings in JSON
// rather than the underlying byte array, and decode back to the same value.
func TestIDTextMarshaling(t *testing.T) {
	type payload struct {
		CaseID        CaseID        `json:"case_id"`
		CorrelationID CorrelationID `json:"correlation_id"`
		ReviewerID    ReviewerID    `json:"reviewer_id"`
	}

	original := payload{
		CaseID:        NewCaseID(),
		CorrelationID: NewCorrelationID(),
		ReviewerID:    NewReviewerID(),
	}

	encoded, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), original.CaseID.String())
	assert.Contains(t, string(encoded), original.CorrelationID.String())

	var decoded payload
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, original, decoded)

	t.Run("rejects malformed text", func(t *testing.T) {
		var id CaseID
		err := json.Unmarshal([]byte(`"garbage"`), &id)
		require.Error(t, err)
	})
}
