package audit

import (
	"context"

	id "veriqan/pkg/domain"
)

// Store persists audit records. Implementations must treat the log as
// append-only; there is no update or delete surface.
type Store interface {
	Append(ctx context.Context, record Record) error
	// Query returns matching records ordered by timestamp ascending. The
	// result is finite and a repeated call restarts the sequence.
	Query(ctx context.Context, filter Filter) ([]Record, error)
	// Timeline returns the full ordered history for one correlation ID,
	// used to reconstruct what happened to a case.
	Timeline(ctx context.Context, correlationID id.CorrelationID) ([]Record, error)
}
