package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"veriqan/internal/events"
	"veriqan/pkg/outcome"
)

// Runner consumes ingestion events and processes each case as an
// independently schedulable unit of work. Different cases run concurrently;
// serialization for one case happens at the persistence layer, not here.
type Runner struct {
	orch    *Orchestrator
	inbox   <-chan events.IngestionCompleted
	workers int
	logger  *slog.Logger
}

func NewRunner(orch *Orchestrator, inbox <-chan events.IngestionCompleted, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{orch: orch, inbox: inbox, workers: workers, logger: logger}
}

// Run blocks until the context is cancelled or the inbox closes.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case evt, ok := <-r.inbox:
					if !ok {
						return nil
					}
					r.process(ctx, evt)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Runner) process(ctx context.Context, evt events.IngestionCompleted) {
	result := r.orch.ProcessCase(ctx, evt)
	switch result.Status() {
	case outcome.StatusSuccess:
		r.logger.InfoContext(ctx, "case completed",
			"case_id", evt.CaseID, "correlation_id", evt.CorrelationID)
	case outcome.StatusSuspended:
		r.logger.InfoContext(ctx, "case suspended for review",
			"case_id", evt.CaseID, "reasons", result.Reasons())
	case outcome.StatusCancelled:
		r.logger.WarnContext(ctx, "case processing cancelled", "case_id", evt.CaseID)
	default:
		r.logger.ErrorContext(ctx, "case processing failed",
			"case_id", evt.CaseID, "error", result.Err())
	}
}
