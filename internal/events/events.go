// Package events defines the typed messages this service consumes and
// produces. Every outbound event carries the same correlation ID as the
// ingestion event that started the case, so a consumer can stitch the full
// story back together.
package events

import (
	"context"
	"time"

	id "veriqan/pkg/domain"
)

// Kind names an event schema on the wire.
type Kind string

const (
	KindIngestionCompleted      Kind = "ingestion_completed"
	KindQualityCompleted        Kind = "quality_completed"
	KindRecognitionCompleted    Kind = "recognition_completed"
	KindClassificationCompleted Kind = "classification_completed"
	KindProcessingCompleted     Kind = "processing_completed"
	KindProcessingFailed        Kind = "processing_failed"
	KindCaseSuspendedForReview  Kind = "case_suspended_for_review"
)

// Envelope carries the fields common to every event.
type Envelope struct {
	CaseID        id.CaseID        `json:"case_id"`
	CorrelationID id.CorrelationID `json:"correlation_id"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Event is the sealed set of outbound schemas. Each concrete type is one
// schema; there is no generic payload bag.
type Event interface {
	Kind() Kind
	Common() Envelope
}

// IngestionCompleted is the inbound trigger: one document is ready for
// compliance processing.
type IngestionCompleted struct {
	Envelope
	DocumentRef string `json:"document_ref"`
}

// QualityCompleted reports the quality check stage finishing.
type QualityCompleted struct {
	Envelope
	QualityScore float64 `json:"quality_score"`
}

// RecognitionCompleted reports the recognition stage finishing.
type RecognitionCompleted struct {
	Envelope
	ExtractedText string  `json:"extracted_text"`
	Confidence    float64 `json:"confidence"`
}

// ClassificationCompleted reports the classification stage finishing.
type ClassificationCompleted struct {
	Envelope
	Category        string  `json:"category"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// ProcessingCompleted is the final completion event after export succeeds.
type ProcessingCompleted struct {
	Envelope
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// ProcessingFailed reports the stage at which automatic processing stopped.
type ProcessingFailed struct {
	Envelope
	Stage  id.Stage `json:"stage"`
	Reason string   `json:"reason"`
}

// CaseSuspendedForReview reports a case handed to the manual review queue.
type CaseSuspendedForReview struct {
	Envelope
	ReasonCodes []string `json:"reason_codes"`
}

func (e QualityCompleted) Kind() Kind        { return KindQualityCompleted }
func (e RecognitionCompleted) Kind() Kind    { return KindRecognitionCompleted }
func (e ClassificationCompleted) Kind() Kind { return KindClassificationCompleted }
func (e ProcessingCompleted) Kind() Kind     { return KindProcessingCompleted }
func (e ProcessingFailed) Kind() Kind        { return KindProcessingFailed }
func (e CaseSuspendedForReview) Kind() Kind  { return KindCaseSuspendedForReview }
func (e IngestionCompleted) Kind() Kind      { return KindIngestionCompleted }

func (e Envelope) Common() Envelope { return e }

// Publisher delivers outbound events. Publish must never block the caller
// beyond enqueueing and must never surface a delivery error into the
// caller's transaction; transports report failures out of band.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}
