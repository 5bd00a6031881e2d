// Package pipeline sequences a case through the fixed compliance stages and
// owns every routing decision: advance, fail, suspend for review, or stop on
// cancellation. The stages themselves are external collaborators invoked
// through the narrow interfaces below.
package pipeline

import (
	"context"

	"veriqan/internal/review"
	id "veriqan/pkg/domain"
)

// Document is the unit handed to quality check and recognition.
type Document struct {
	CaseID id.CaseID
	Ref    string
}

// Ambiguity is a stage's signal that a human must look. It is routing
// information, not an error.
type Ambiguity struct {
	Reasons    []review.ReasonCode
	Confidence float64
}

// QualityResult is the quality check stage's report.
type QualityResult struct {
	Score     float64
	Ambiguity *Ambiguity
}

// RecognitionResult is the recognition stage's report.
type RecognitionResult struct {
	Text       string
	Confidence float64
	Ambiguity  *Ambiguity
}

// ClassificationResult is the classification stage's report.
type ClassificationResult struct {
	Category   string
	Confidence float64
	Ambiguity  *Ambiguity
}

// ExportRecord is what the export stage renders and signs.
type ExportRecord struct {
	CaseID       id.CaseID
	Text         string
	Category     string
	Overrides    map[string]string
	QualityScore float64
}

// ExportResult points at the rendered document.
type ExportResult struct {
	Location string
}

// QualityAnalyzer scores document quality.
type QualityAnalyzer interface {
	Analyze(ctx context.Context, doc Document) (QualityResult, error)
}

// Recognizer extracts text and fields from the document.
type Recognizer interface {
	Extract(ctx context.Context, doc Document) (RecognitionResult, error)
}

// Classifier assigns the legal directive category.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassificationResult, error)
}

// Exporter renders and signs the final record.
type Exporter interface {
	Export(ctx context.Context, record ExportRecord) (ExportResult, error)
}

// Stages bundles the four collaborators the orchestrator drives.
type Stages struct {
	Quality    QualityAnalyzer
	Recognizer Recognizer
	Classifier Classifier
	Exporter   Exporter
}
