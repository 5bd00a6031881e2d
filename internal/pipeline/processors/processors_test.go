package processors

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"veriqan/internal/pipeline"
	"veriqan/internal/review"
	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
)

// =============================================================================
// Built-in Stage Processors Test Suite
// =============================================================================

type ProcessorsSuite struct {
	suite.Suite
	dir string
}

func TestProcessorsSuite(t *testing.T) {
	suite.Run(t, new(ProcessorsSuite))
}

func (s *ProcessorsSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *ProcessorsSuite) writeDoc(name string, content []byte) pipeline.Document {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, content, 0o644))
	return pipeline.Document{CaseID: id.NewCaseID(), Ref: path}
}

// =============================================================================
// Quality
// =============================================================================

func (s *ProcessorsSuite) TestQuality() {
	ctx := context.Background()
	q := Quality{MinScore: 0.8}

	s.Run("clean text scores high with no ambiguity", func() {
		doc := s.writeDoc("clean.txt", []byte("A legible regulatory directive about fiscal audits.\n"))
		res, err := q.Analyze(ctx, doc)
		s.Require().NoError(err)
		s.Equal(1.0, res.Score)
		s.Nil(res.Ambiguity)
	})

	s.Run("binary content scores low and flags review", func() {
		doc := s.writeDoc("scan.bin", []byte{0x00, 0x01, 0x02, 0x03, 'a', 0x04, 0x05, 0x06})
		res, err := q.Analyze(ctx, doc)
		s.Require().NoError(err)
		s.Less(res.Score, 0.8)
		s.Require().NotNil(res.Ambiguity)
		s.Equal([]review.ReasonCode{review.ReasonExtractionError}, res.Ambiguity.Reasons)
	})

	s.Run("missing document is a stage failure", func() {
		_, err := q.Analyze(ctx, pipeline.Document{CaseID: id.NewCaseID(), Ref: filepath.Join(s.dir, "gone.txt")})
		s.True(dErrors.HasCode(err, dErrors.CodeStageFailure))
	})

	s.Run("empty reference is a stage failure", func() {
		_, err := q.Analyze(ctx, pipeline.Document{CaseID: id.NewCaseID()})
		s.True(dErrors.HasCode(err, dErrors.CodeStageFailure))
	})
}

// =============================================================================
// Recognition
// =============================================================================

func (s *ProcessorsSuite) TestRecognizer() {
	ctx := context.Background()
	r := Recognizer{MinConfidence: 0.85}

	s.Run("text passes through verbatim", func() {
		doc := s.writeDoc("directive.txt", []byte("personal data processing requires consent"))
		res, err := r.Extract(ctx, doc)
		s.Require().NoError(err)
		s.Equal("personal data processing requires consent", res.Text)
		s.Nil(res.Ambiguity)
	})

	s.Run("noisy content flags low confidence", func() {
		noisy := append([]byte("audit "), 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x07, 0x08)
		doc := s.writeDoc("noisy.txt", noisy)
		res, err := r.Extract(ctx, doc)
		s.Require().NoError(err)
		s.Require().NotNil(res.Ambiguity)
		s.Equal([]review.ReasonCode{review.ReasonLowConfidence}, res.Ambiguity.Reasons)
	})

	s.Run("empty document is a stage failure", func() {
		doc := s.writeDoc("empty.txt", nil)
		_, err := r.Extract(ctx, doc)
		s.True(dErrors.HasCode(err, dErrors.CodeStageFailure))
	})
}

// =============================================================================
// Classification
// =============================================================================

func (s *ProcessorsSuite) TestClassifier() {
	ctx := context.Background()
	c := Classifier{Categories: DefaultCategories()}

	s.Run("dominant keywords pick a category", func() {
		res, err := c.Classify(ctx, "The controller must obtain consent before processing personal data.")
		s.Require().NoError(err)
		s.Equal("data_protection", res.Category)
		s.Nil(res.Ambiguity)
	})

	s.Run("no keyword match is ambiguous", func() {
		res, err := c.Classify(ctx, "An unrelated memo about cafeteria menus.")
		s.Require().NoError(err)
		s.Require().NotNil(res.Ambiguity)
		s.Equal([]review.ReasonCode{review.ReasonAmbiguousClassification}, res.Ambiguity.Reasons)
	})

	s.Run("keywords split across categories are ambiguous", func() {
		res, err := c.Classify(ctx, "An audit of fiscal hazard inspection records covering consent and processing.")
		s.Require().NoError(err)
		s.NotNil(res.Ambiguity)
	})

	s.Run("deterministic for identical input", func() {
		first, err := c.Classify(ctx, "balance sheet revenue audit fiscal")
		s.Require().NoError(err)
		for i := 0; i < 20; i++ {
			again, err := c.Classify(ctx, "balance sheet revenue audit fiscal")
			s.Require().NoError(err)
			s.Equal(first, again)
		}
	})
}

// =============================================================================
// Export
// =============================================================================

func (s *ProcessorsSuite) TestExporter() {
	ctx := context.Background()
	e := Exporter{Dir: filepath.Join(s.dir, "spool")}

	record := pipeline.ExportRecord{
		CaseID:       id.NewCaseID(),
		Text:         "approved directive text",
		Category:     "financial_disclosure",
		QualityScore: 0.93,
	}

	res, err := e.Export(ctx, record)
	s.Require().NoError(err)
	s.FileExists(res.Location)

	payload, err := os.ReadFile(res.Location)
	s.Require().NoError(err)

	var doc exportDocument
	s.Require().NoError(json.Unmarshal(payload, &doc))
	s.Equal(record.CaseID.String(), doc.CaseID)
	s.Equal("financial_disclosure", doc.Category)
	s.NotEmpty(doc.Digest)

	s.Run("same content yields the same digest", func() {
		again, err := e.Export(ctx, record)
		s.Require().NoError(err)

		var rerun exportDocument
		payload, err := os.ReadFile(again.Location)
		s.Require().NoError(err)
		s.Require().NoError(json.Unmarshal(payload, &rerun))
		s.Equal(doc.Digest, rerun.Digest)
	})
}
