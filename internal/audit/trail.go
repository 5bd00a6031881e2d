package audit

import (
	"context"
	"log/slog"
	"time"

	id "veriqan/pkg/domain"
)

const defaultAppendTimeout = 2 * time.Second

// Trail is the append surface handed to the pipeline and review coordinator.
// Append never surfaces an error to the caller's critical path: persistence
// failures are reported on a secondary log channel and counted, and a circuit
// breaker keeps a broken store from stalling every case.
type Trail struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	breaker *CircuitBreaker
	timeout time.Duration
}

// Option configures the Trail.
type Option func(*Trail)

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(t *Trail) { t.metrics = m }
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(t *Trail) { t.breaker = cb }
}

// WithAppendTimeout bounds how long a single append may hold up a caller.
func WithAppendTimeout(d time.Duration) Option {
	return func(t *Trail) { t.timeout = d }
}

// NewTrail creates the audit trail. The logger is the secondary channel for
// append failures; it must never be nil.
func NewTrail(store Store, logger *slog.Logger, opts ...Option) *Trail {
	t := &Trail{
		store:   store,
		logger:  logger,
		breaker: NewCircuitBreaker(5, time.Minute),
		timeout: defaultAppendTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append records one fact. Fire-and-forget: the caller cannot observe
// failure. Within one unit of work appends stay ordered because the write is
// performed before Append returns.
func (t *Trail) Append(ctx context.Context, record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if !t.breaker.Allow() {
		if t.metrics != nil {
			t.metrics.IncBreakerDropped()
			t.metrics.SetCircuitBreakerState(true)
		}
		t.logger.WarnContext(ctx, "audit append dropped: circuit open",
			"correlation_id", record.CorrelationID,
			"action", record.Action,
		)
		return
	}

	// Detach from the caller's cancellation so a cancelled case still gets
	// its final audit record, but bound the write.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	if err := t.store.Append(appendCtx, record); err != nil {
		t.breaker.RecordFailure()
		if t.metrics != nil {
			t.metrics.IncPersistFailures()
			t.metrics.SetCircuitBreakerState(t.breaker.IsOpen())
		}
		t.logger.ErrorContext(ctx, "audit append failed",
			"correlation_id", record.CorrelationID,
			"case_id", record.CaseID,
			"action", record.Action,
			"error", err,
		)
		return
	}

	t.breaker.RecordSuccess()
	if t.metrics != nil {
		t.metrics.IncAppended()
		t.metrics.SetCircuitBreakerState(false)
	}
}

// Query returns matching records in timestamp order.
func (t *Trail) Query(ctx context.Context, filter Filter) ([]Record, error) {
	return t.store.Query(ctx, filter)
}

// Timeline reconstructs what happened to one case.
func (t *Trail) Timeline(ctx context.Context, correlationID id.CorrelationID) ([]Record, error) {
	return t.store.Timeline(ctx, correlationID)
}
