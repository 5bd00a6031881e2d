package review

import (
	"context"

	id "veriqan/pkg/domain"
)

// Store persists review cases and decisions.
//
// Enqueue returns sentinel.ErrConflict when a non-decided review case already
// exists for the case ID; SaveDecision returns sentinel.ErrAlreadyDecided
// when a decision already exists. Both are storage-level backstops behind the
// service's own checks: the pre-check alone is insufficient under concurrency.
type Store interface {
	Enqueue(ctx context.Context, rc *ReviewCase) error
	// GetActive returns the non-decided review case for a case ID.
	GetActive(ctx context.Context, caseID id.CaseID) (*ReviewCase, error)
	Get(ctx context.Context, caseID id.CaseID) (*ReviewCase, error)
	UpdateStatus(ctx context.Context, caseID id.CaseID, status Status) error
	List(ctx context.Context, filter Filter, page PageRequest) (Page, error)
	// CountPending returns the number of undecided review cases.
	CountPending(ctx context.Context) (int, error)

	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, caseID id.CaseID) (*Decision, error)
}

// Tx is the transactional boundary for decision submission. The callback
// runs as a single atomic unit of work scoped to one case: Postgres wraps a
// serializable transaction, the in-memory twin a per-case sharded lock.
type Tx interface {
	RunInTx(ctx context.Context, caseID id.CaseID, fn func(ctx context.Context) error) error
}
