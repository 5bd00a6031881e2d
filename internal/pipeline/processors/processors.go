// Package processors holds the built-in stage implementations. They are
// deliberately deterministic: the same document always produces the same
// scores, so pipeline behavior is reproducible across replays.
package processors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"veriqan/internal/pipeline"
	"veriqan/internal/review"
	dErrors "veriqan/pkg/domainerrors"
)

// Quality scores a document by inspecting its raw bytes. Scores below
// MinScore flag the case for human review rather than failing it.
type Quality struct {
	MinScore float64
}

func (q Quality) Analyze(ctx context.Context, doc pipeline.Document) (pipeline.QualityResult, error) {
	data, err := readDocument(ctx, doc.Ref)
	if err != nil {
		return pipeline.QualityResult{}, err
	}

	score := legibility(data)
	result := pipeline.QualityResult{Score: score}
	if score < q.MinScore {
		result.Ambiguity = &pipeline.Ambiguity{
			Reasons:    []review.ReasonCode{review.ReasonExtractionError},
			Confidence: score,
		}
	}
	return result, nil
}

// Recognizer extracts UTF-8 text from the document. Non-text content drops
// the confidence and routes the case to review.
type Recognizer struct {
	MinConfidence float64
}

func (r Recognizer) Extract(ctx context.Context, doc pipeline.Document) (pipeline.RecognitionResult, error) {
	data, err := readDocument(ctx, doc.Ref)
	if err != nil {
		return pipeline.RecognitionResult{}, err
	}
	if len(data) == 0 {
		return pipeline.RecognitionResult{}, dErrors.New(dErrors.CodeStageFailure, "document is empty")
	}

	confidence := legibility(data)
	result := pipeline.RecognitionResult{
		Text:       strings.ToValidUTF8(string(data), ""),
		Confidence: confidence,
	}
	if confidence < r.MinConfidence {
		result.Ambiguity = &pipeline.Ambiguity{
			Reasons:    []review.ReasonCode{review.ReasonLowConfidence},
			Confidence: confidence,
		}
	}
	return result, nil
}

// Classifier assigns a directive category by keyword lookup. A text matching
// keywords from more than one category, or none at all, is ambiguous.
type Classifier struct {
	// Categories maps a category name to the keywords that select it.
	Categories map[string][]string
}

// DefaultCategories covers the regulatory directive taxonomy shipped with
// the service. Deployments override it in config.
func DefaultCategories() map[string][]string {
	return map[string][]string{
		"financial_disclosure": {"balance sheet", "audit", "fiscal", "revenue"},
		"data_protection":      {"personal data", "consent", "processing", "controller"},
		"safety_compliance":    {"hazard", "inspection", "incident", "protective"},
	}
}

func (c Classifier) Classify(ctx context.Context, text string) (pipeline.ClassificationResult, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.ClassificationResult{}, err
	}

	lowered := strings.ToLower(text)
	var (
		best      string
		bestHits  int
		totalHits int
	)
	for category, keywords := range c.Categories {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		totalHits += hits
		if hits > bestHits || (hits == bestHits && hits > 0 && category < best) {
			best, bestHits = category, hits
		}
	}

	if bestHits == 0 {
		return pipeline.ClassificationResult{
			Ambiguity: &pipeline.Ambiguity{
				Reasons: []review.ReasonCode{review.ReasonAmbiguousClassification},
			},
		}, nil
	}

	confidence := float64(bestHits) / float64(totalHits)
	result := pipeline.ClassificationResult{Category: best, Confidence: confidence}
	// Keywords split across categories mean the pick is a coin flip.
	if confidence < 0.5 {
		result.Ambiguity = &pipeline.Ambiguity{
			Reasons:    []review.ReasonCode{review.ReasonAmbiguousClassification},
			Confidence: confidence,
		}
	}
	return result, nil
}

// Exporter renders the final record to a spool directory as JSON with a
// content digest, one file per case.
type Exporter struct {
	Dir string
}

type exportDocument struct {
	CaseID       string            `json:"caseId"`
	Text         string            `json:"text"`
	Category     string            `json:"category"`
	Overrides    map[string]string `json:"overrides,omitempty"`
	QualityScore float64           `json:"qualityScore"`
	ExportedAt   time.Time         `json:"exportedAt"`
	Digest       string            `json:"digest"`
}

func (e Exporter) Export(ctx context.Context, record pipeline.ExportRecord) (pipeline.ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.ExportResult{}, err
	}

	sum := sha256.Sum256([]byte(record.Text + "\x00" + record.Category))
	doc := exportDocument{
		CaseID:       record.CaseID.String(),
		Text:         record.Text,
		Category:     record.Category,
		Overrides:    record.Overrides,
		QualityScore: record.QualityScore,
		ExportedAt:   time.Now().UTC(),
		Digest:       hex.EncodeToString(sum[:]),
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return pipeline.ExportResult{}, dErrors.Wrap(err, dErrors.CodeStageFailure, "marshal export record")
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return pipeline.ExportResult{}, dErrors.Wrap(err, dErrors.CodeStageFailure, "create export directory")
	}
	path := filepath.Join(e.Dir, record.CaseID.String()+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return pipeline.ExportResult{}, dErrors.Wrap(err, dErrors.CodeStageFailure, "write export record")
	}
	return pipeline.ExportResult{Location: path}, nil
}

// New assembles the built-in stage bundle.
func New(minQuality, minConfidence float64, exportDir string) pipeline.Stages {
	return pipeline.Stages{
		Quality:    Quality{MinScore: minQuality},
		Recognizer: Recognizer{MinConfidence: minConfidence},
		Classifier: Classifier{Categories: DefaultCategories()},
		Exporter:   Exporter{Dir: exportDir},
	}
}

func readDocument(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, dErrors.New(dErrors.CodeStageFailure, "document reference is empty")
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStageFailure, fmt.Sprintf("read document %s", ref))
	}
	return data, nil
}

// legibility is the share of printable runes in the payload. Binary or
// corrupted uploads land near zero.
func legibility(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	total, printable := 0, 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		total++
		if r != utf8.RuneError && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			printable++
		}
		i += size
	}
	return float64(printable) / float64(total)
}
