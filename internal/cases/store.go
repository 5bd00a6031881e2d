package cases

import (
	"context"

	id "veriqan/pkg/domain"
)

// Store persists cases. Get returns sentinel.ErrNotFound (wrapped) when the
// case does not exist; Update returns sentinel.ErrConflict when the stored
// version no longer matches the one being written.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, caseID id.CaseID) (*Case, error)
	GetByCorrelation(ctx context.Context, correlationID id.CorrelationID) (*Case, error)
	Update(ctx context.Context, c *Case) error
	// ListOpen returns every non-terminal case, for deadline monitoring.
	ListOpen(ctx context.Context) ([]*Case, error)
}
