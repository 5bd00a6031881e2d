package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"veriqan/internal/audit"
	"veriqan/internal/cases"
	"veriqan/internal/events"
	"veriqan/internal/review"
	"veriqan/internal/sla"
	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
	"veriqan/pkg/outcome"
	"veriqan/pkg/platform/sentinel"
)

// ReviewQueue is the slice of the review coordinator the orchestrator needs.
type ReviewQueue interface {
	IdentifyAndQueue(ctx context.Context, caseID id.CaseID, correlationID id.CorrelationID, confidence float64, reasonCodes []review.ReasonCode) (*review.ReviewCase, error)
	Decision(ctx context.Context, caseID id.CaseID) (*review.Decision, error)
}

// ProcessingSummary is the success value of a full pipeline run.
type ProcessingSummary struct {
	CaseID         id.CaseID
	CorrelationID  id.CorrelationID
	QualityScore   float64
	Category       string
	ExportLocation string
	Duration       time.Duration
}

// Config tunes the orchestrator.
type Config struct {
	// DaysAllowed is the business-day budget assigned to every new case.
	DaysAllowed int
	SLA         sla.Config
}

// DefaultConfig returns the processing defaults.
func DefaultConfig() Config {
	return Config{
		DaysAllowed: 5,
		SLA:         sla.DefaultConfig(),
	}
}

// Orchestrator drives one case through the stage sequence. All collaborators
// are injected; there is no global registry.
type Orchestrator struct {
	stages  Stages
	cases   cases.Store
	reviews ReviewQueue
	trail   *audit.Trail
	pub     events.Publisher
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates the orchestrator.
func New(stages Stages, caseStore cases.Store, reviews ReviewQueue, trail *audit.Trail, pub events.Publisher, cfg Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if stages.Quality == nil || stages.Recognizer == nil || stages.Classifier == nil || stages.Exporter == nil {
		return nil, errors.New("all four stage collaborators are required")
	}
	if caseStore == nil {
		return nil, errors.New("case store is required")
	}
	if reviews == nil {
		return nil, errors.New("review queue is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}
	if pub == nil {
		return nil, errors.New("event publisher is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.DaysAllowed <= 0 {
		cfg.DaysAllowed = DefaultConfig().DaysAllowed
	}
	o := &Orchestrator{
		stages:  stages,
		cases:   caseStore,
		reviews: reviews,
		trail:   trail,
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("veriqan/pipeline"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// runState carries intermediate stage results through one run.
type runState struct {
	docRef       string
	qualityScore float64
	text         string
	category     string
	overrides    map[string]string
	exportedTo   string
	// reviewed marks a resumed run. A case carries at most one review
	// decision ever, so once a reviewer has accepted the case every later
	// ambiguity signal is accepted too instead of re-queueing.
	reviewed bool
}

// ProcessCase runs one ingestion event through the stage sequence.
// Malformed input is rejected before any side effect.
func (o *Orchestrator) ProcessCase(ctx context.Context, evt events.IngestionCompleted) outcome.Outcome[ProcessingSummary] {
	if err := validateIngestion(evt); err != nil {
		return outcome.Failure[ProcessingSummary](err)
	}

	cs, err := cases.New(evt.CaseID, evt.CorrelationID, evt.DocumentRef, evt.Timestamp, o.cfg.DaysAllowed)
	if err != nil {
		return outcome.Failure[ProcessingSummary](err)
	}
	if err := o.cases.Create(ctx, cs); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return outcome.Failure[ProcessingSummary](dErrors.Wrap(err, dErrors.CodeConflict, "case already exists"))
		}
		return outcome.Failure[ProcessingSummary](dErrors.Wrap(err, dErrors.CodePersistence, "create case"))
	}

	status, slaErr := o.cfg.SLA.ComputeStatus(cs.IntakeAt, cs.DaysAllowed, o.now())
	details := "case created"
	if slaErr == nil {
		details = fmt.Sprintf("case created, deadline %s", status.Deadline.Format(time.RFC3339))
	}
	o.trail.Append(ctx, audit.Record{
		CorrelationID: cs.CorrelationID,
		CaseID:        cs.ID,
		Action:        audit.ActionCaseCreated,
		Stage:         id.StageIntake,
		Success:       true,
		Details:       details,
	})

	state := &runState{docRef: evt.DocumentRef}
	return o.runFrom(ctx, cs, state, id.StageQualityCheck, o.now())
}

// ResumeCase continues a case after an approving or overriding review
// decision. The stage that flagged the case is re-run with the reviewer's
// overrides applied; stages are deterministic, so an approval without
// overrides reproduces the flagged result and accepts it. The decision covers
// the rest of the run: ambiguity at any later stage is accepted as well,
// since the case can never receive a second decision.
func (o *Orchestrator) ResumeCase(ctx context.Context, caseID id.CaseID) outcome.Outcome[ProcessingSummary] {
	cs, err := o.cases.Get(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return outcome.Failure[ProcessingSummary](dErrors.New(dErrors.CodeNotFound, "no case for "+caseID.String()))
		}
		return outcome.Failure[ProcessingSummary](dErrors.Wrap(err, dErrors.CodePersistence, "read case"))
	}
	if cs.CurrentStage == id.StageInReview {
		return outcome.Failure[ProcessingSummary](dErrors.New(dErrors.CodeValidation, "case is still in review"))
	}
	if cs.CurrentStage.IsTerminal() {
		return outcome.Failure[ProcessingSummary](dErrors.New(dErrors.CodeValidation, "case is already terminal"))
	}

	state := &runState{docRef: cs.DocumentRef}
	if decision, err := o.reviews.Decision(ctx, caseID); err == nil {
		state.overrides = decision.OverriddenFields
		state.text = decision.OverriddenFields["extracted_text"]
		state.category = decision.OverriddenClassification
	}

	next, ok := cs.CurrentStage.Next()
	if !ok {
		return outcome.Failure[ProcessingSummary](dErrors.New(dErrors.CodeValidation, "case has no stage to resume"))
	}
	state.reviewed = true

	// Intermediate stage results are not persisted; the collaborators are
	// deterministic, so recompute what the stages before the flagged one
	// produced. Reviewer-supplied values take precedence.
	if err := o.rehydrate(ctx, cs, state, next); err != nil {
		return o.fail(ctx, cs, next, err)
	}

	o.trail.Append(ctx, audit.Record{
		CorrelationID: cs.CorrelationID,
		CaseID:        cs.ID,
		Action:        audit.ActionCaseResumed,
		Stage:         cs.CurrentStage,
		Success:       true,
		Details:       "resuming after review decision",
	})
	return o.runFrom(ctx, cs, state, next, o.now())
}

// SLAStatus recomputes the deadline status for one case on demand.
func (o *Orchestrator) SLAStatus(ctx context.Context, caseID id.CaseID) (sla.Status, error) {
	cs, err := o.cases.Get(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return sla.Status{}, dErrors.New(dErrors.CodeNotFound, "no case for "+caseID.String())
		}
		return sla.Status{}, dErrors.Wrap(err, dErrors.CodePersistence, "read case")
	}
	return o.cfg.SLA.ComputeStatus(cs.IntakeAt, cs.DaysAllowed, o.now())
}

// rehydrate re-invokes the collaborators for stages completed before upTo to
// rebuild the run state. No audit records or events are emitted; those stages
// already left theirs on the first pass.
func (o *Orchestrator) rehydrate(ctx context.Context, cs *cases.Case, state *runState, upTo id.Stage) error {
	doc := Document{CaseID: cs.ID, Ref: state.docRef}
	for _, stage := range id.PipelineStages {
		if stage == upTo {
			return nil
		}
		switch stage {
		case id.StageQualityCheck:
			res, err := o.stages.Quality.Analyze(ctx, doc)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeStageFailure, "quality check failed on resume")
			}
			state.qualityScore = res.Score
		case id.StageRecognition:
			if state.text != "" {
				continue
			}
			res, err := o.stages.Recognizer.Extract(ctx, doc)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeStageFailure, "recognition failed on resume")
			}
			state.text = res.Text
		case id.StageClassification:
			if state.category != "" {
				continue
			}
			res, err := o.stages.Classifier.Classify(ctx, state.text)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeStageFailure, "classification failed on resume")
			}
			state.category = res.Category
		}
	}
	return nil
}

// runFrom executes the stage sequence beginning at start. Cancellation is
// honored between stages only; stages are external and may not be
// preemptible.
func (o *Orchestrator) runFrom(ctx context.Context, cs *cases.Case, state *runState, start id.Stage, began time.Time) outcome.Outcome[ProcessingSummary] {
	for _, stage := range remainingStages(start) {
		if err := ctx.Err(); err != nil {
			return o.cancel(ctx, cs, stage, err)
		}

		result, err := o.invokeStage(ctx, cs, stage, state)
		if err != nil {
			// A stage aborted by cancellation is not a processing failure.
			if ctx.Err() != nil {
				return o.cancel(ctx, cs, stage, ctx.Err())
			}
			return o.fail(ctx, cs, stage, err)
		}
		if result.ambiguity != nil {
			if !state.reviewed {
				return o.suspend(ctx, cs, stage, result.ambiguity)
			}
			result.details += " (ambiguity accepted, case already reviewed)"
		}

		if err := cs.AdvanceTo(stage); err != nil {
			return o.fail(ctx, cs, stage, err)
		}
		if err := o.cases.Update(ctx, cs); err != nil {
			return o.fail(ctx, cs, stage, dErrors.Wrap(err, dErrors.CodePersistence, "persist stage transition"))
		}

		// Audit first, then publish: an event for stage N is only ever
		// observable after stage N's audit record.
		o.trail.Append(ctx, audit.Record{
			CorrelationID: cs.CorrelationID,
			CaseID:        cs.ID,
			Action:        audit.ActionStageCompleted,
			Stage:         stage,
			Success:       true,
			Details:       result.details,
		})
		if result.event != nil {
			o.pub.Publish(ctx, result.event)
		}
		if o.metrics != nil {
			o.metrics.StagesCompleted.WithLabelValues(stage.String()).Inc()
		}
	}

	return o.complete(ctx, cs, state, began)
}

// stageOutput is one stage's contribution to the run. A nil event means the
// stage has no dedicated completion event (export is announced by the final
// ProcessingCompleted instead).
type stageOutput struct {
	ambiguity *Ambiguity
	event     events.Event
	details   string
}

// invokeStage calls the collaborator for one stage. Panics are recovered at
// this boundary and converted to stage failures; no exception ever crosses
// into the orchestrator's control flow.
func (o *Orchestrator) invokeStage(ctx context.Context, cs *cases.Case, stage id.Stage, state *runState) (out stageOutput, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline."+stage.String())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = dErrors.New(dErrors.CodeStageFailure, fmt.Sprintf("%s stage panicked: %v", stage, r))
		}
	}()

	doc := Document{CaseID: cs.ID, Ref: state.docRef}

	switch stage {
	case id.StageQualityCheck:
		res, stageErr := o.stages.Quality.Analyze(ctx, doc)
		if stageErr != nil {
			return out, dErrors.Wrap(stageErr, dErrors.CodeStageFailure, "quality check failed")
		}
		state.qualityScore = res.Score
		out.ambiguity = res.Ambiguity
		out.details = fmt.Sprintf("quality score %.2f", res.Score)
		out.event = events.QualityCompleted{Envelope: o.envelope(cs), QualityScore: res.Score}

	case id.StageRecognition:
		// A reviewer-supplied text is authoritative; the stage is not re-run.
		if state.text != "" {
			out.details = "extracted text supplied by reviewer"
			out.event = events.RecognitionCompleted{Envelope: o.envelope(cs), ExtractedText: state.text, Confidence: 1}
			break
		}
		res, stageErr := o.stages.Recognizer.Extract(ctx, doc)
		if stageErr != nil {
			return out, dErrors.Wrap(stageErr, dErrors.CodeStageFailure, "recognition failed")
		}
		state.text = res.Text
		out.ambiguity = res.Ambiguity
		out.details = fmt.Sprintf("recognition confidence %.2f", res.Confidence)
		out.event = events.RecognitionCompleted{Envelope: o.envelope(cs), ExtractedText: res.Text, Confidence: res.Confidence}

	case id.StageClassification:
		if state.category != "" {
			out.details = fmt.Sprintf("category %q supplied by reviewer", state.category)
			out.event = events.ClassificationCompleted{Envelope: o.envelope(cs), Category: state.category, ConfidenceScore: 1}
			break
		}
		res, stageErr := o.stages.Classifier.Classify(ctx, state.text)
		if stageErr != nil {
			return out, dErrors.Wrap(stageErr, dErrors.CodeStageFailure, "classification failed")
		}
		state.category = res.Category
		out.ambiguity = res.Ambiguity
		out.details = fmt.Sprintf("category %q confidence %.2f", res.Category, res.Confidence)
		out.event = events.ClassificationCompleted{Envelope: o.envelope(cs), Category: res.Category, ConfidenceScore: res.Confidence}

	case id.StageExport:
		res, stageErr := o.stages.Exporter.Export(ctx, ExportRecord{
			CaseID:       cs.ID,
			Text:         state.text,
			Category:     state.category,
			Overrides:    state.overrides,
			QualityScore: state.qualityScore,
		})
		if stageErr != nil {
			return out, dErrors.Wrap(stageErr, dErrors.CodeStageFailure, "export failed")
		}
		state.exportedTo = res.Location
		out.details = "exported to " + res.Location

	default:
		return out, dErrors.New(dErrors.CodeInternal, "unknown stage "+stage.String())
	}
	return out, nil
}

func (o *Orchestrator) fail(ctx context.Context, cs *cases.Case, stage id.Stage, stageErr error) outcome.Outcome[ProcessingSummary] {
	o.trail.Append(ctx, audit.Record{
		CorrelationID: cs.CorrelationID,
		CaseID:        cs.ID,
		Action:        audit.ActionStageFailed,
		Stage:         stage,
		Success:       false,
		ErrorMessage:  stageErr.Error(),
	})

	if err := cs.Fail(stageErr.Error()); err == nil {
		if err := o.cases.Update(ctx, cs); err != nil {
			o.logger.ErrorContext(ctx, "persist failed case", "case_id", cs.ID, "error", err)
		}
	}

	o.pub.Publish(ctx, events.ProcessingFailed{
		Envelope: events.Envelope{CaseID: cs.ID, CorrelationID: cs.CorrelationID, Timestamp: o.now()},
		Stage:    stage,
		Reason:   stageErr.Error(),
	})
	if o.metrics != nil {
		o.metrics.StageFailures.WithLabelValues(stage.String()).Inc()
	}
	return outcome.Failure[ProcessingSummary](stageErr)
}

func (o *Orchestrator) suspend(ctx context.Context, cs *cases.Case, stage id.Stage, amb *Ambiguity) outcome.Outcome[ProcessingSummary] {
	if _, err := o.reviews.IdentifyAndQueue(ctx, cs.ID, cs.CorrelationID, amb.Confidence, amb.Reasons); err != nil {
		return o.fail(ctx, cs, stage, dErrors.Wrap(err, dErrors.CodePersistence, "queue for review"))
	}

	if err := cs.Suspend(stage); err != nil {
		return o.fail(ctx, cs, stage, err)
	}
	if err := o.cases.Update(ctx, cs); err != nil {
		return o.fail(ctx, cs, stage, dErrors.Wrap(err, dErrors.CodePersistence, "persist suspension"))
	}

	reasons := make([]string, 0, len(amb.Reasons))
	for _, r := range amb.Reasons {
		reasons = append(reasons, string(r))
	}
	o.pub.Publish(ctx, events.CaseSuspendedForReview{
		Envelope:    events.Envelope{CaseID: cs.ID, CorrelationID: cs.CorrelationID, Timestamp: o.now()},
		ReasonCodes: reasons,
	})
	if o.metrics != nil {
		o.metrics.CasesSuspended.Inc()
	}
	return outcome.Suspended[ProcessingSummary](reasons...)
}

// cancel stops at a stage boundary. Already-completed stage results and
// their audit records are kept; the case simply stops progressing.
func (o *Orchestrator) cancel(ctx context.Context, cs *cases.Case, stage id.Stage, cause error) outcome.Outcome[ProcessingSummary] {
	o.trail.Append(ctx, audit.Record{
		CorrelationID: cs.CorrelationID,
		CaseID:        cs.ID,
		Action:        audit.ActionCaseCancelled,
		Stage:         stage,
		Success:       true,
		Details:       "cancelled at " + stage.String(),
	})
	if o.metrics != nil {
		o.metrics.CasesCancelled.Inc()
	}
	return outcome.Cancelled[ProcessingSummary](dErrors.Wrap(cause, dErrors.CodeCancelled, "processing cancelled"))
}

func (o *Orchestrator) complete(ctx context.Context, cs *cases.Case, state *runState, began time.Time) outcome.Outcome[ProcessingSummary] {
	if err := cs.Complete(); err != nil {
		return o.fail(ctx, cs, id.StageExport, err)
	}
	if err := o.cases.Update(ctx, cs); err != nil {
		return o.fail(ctx, cs, id.StageExport, dErrors.Wrap(err, dErrors.CodePersistence, "persist completion"))
	}

	duration := o.now().Sub(began)
	o.trail.Append(ctx, audit.Record{
		CorrelationID: cs.CorrelationID,
		CaseID:        cs.ID,
		Action:        audit.ActionCaseCompleted,
		Stage:         id.StageCompleted,
		Success:       true,
		Details:       fmt.Sprintf("completed in %s", duration),
	})
	o.pub.Publish(ctx, events.ProcessingCompleted{
		Envelope:   events.Envelope{CaseID: cs.ID, CorrelationID: cs.CorrelationID, Timestamp: o.now()},
		Status:     "completed",
		DurationMs: duration.Milliseconds(),
	})
	if o.metrics != nil {
		o.metrics.CasesCompleted.Inc()
		o.metrics.Duration.Observe(duration.Seconds())
	}

	return outcome.Success(ProcessingSummary{
		CaseID:         cs.ID,
		CorrelationID:  cs.CorrelationID,
		QualityScore:   state.qualityScore,
		Category:       state.category,
		ExportLocation: state.exportedTo,
		Duration:       duration,
	})
}

func (o *Orchestrator) envelope(cs *cases.Case) events.Envelope {
	return events.Envelope{CaseID: cs.ID, CorrelationID: cs.CorrelationID, Timestamp: o.now()}
}

func validateIngestion(evt events.IngestionCompleted) error {
	if evt.CaseID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "ingestion event missing case_id")
	}
	if evt.CorrelationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "ingestion event missing correlation_id")
	}
	if evt.DocumentRef == "" {
		return dErrors.New(dErrors.CodeValidation, "ingestion event missing document_ref")
	}
	if evt.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "ingestion event missing timestamp")
	}
	return nil
}

func remainingStages(start id.Stage) []id.Stage {
	for i, stage := range id.PipelineStages {
		if stage == start {
			return id.PipelineStages[i:]
		}
	}
	return nil
}
