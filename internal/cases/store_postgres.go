package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "veriqan/pkg/domain"
	"veriqan/pkg/platform/sentinel"
	txcontext "veriqan/pkg/platform/tx"
)

// PostgresStore persists cases. Updates carry a version guard so a stale
// write from a racing orchestrator instance surfaces as ErrConflict instead
// of silently winning.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const caseColumns = `
	id, correlation_id, document_ref, intake_at, days_allowed,
	current_stage, suspended_stage, outcome, failure_reason,
	created_at, updated_at, version
`

func (s *PostgresStore) Create(ctx context.Context, c *Case) error {
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		uuid.UUID(c.CorrelationID),
		c.DocumentRef,
		c.IntakeAt,
		c.DaysAllowed,
		string(c.CurrentStage),
		string(c.SuspendedStage),
		string(c.Outcome),
		c.FailureReason,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert case: %w", err)
	}
	c.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, caseID id.CaseID) (*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	return s.scanCase(s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(caseID)))
}

func (s *PostgresStore) GetByCorrelation(ctx context.Context, correlationID id.CorrelationID) (*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE correlation_id = $1`
	return s.scanCase(s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(correlationID)))
}

// Update writes the case guarded by its version. The correlation_id column
// is deliberately absent from the SET list: it is immutable once assigned.
func (s *PostgresStore) Update(ctx context.Context, c *Case) error {
	query := `
		UPDATE cases SET
			document_ref = $1, intake_at = $2, days_allowed = $3,
			current_stage = $4, suspended_stage = $5, outcome = $6,
			failure_reason = $7, updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10
	`
	now := time.Now().UTC()
	res, err := s.handle(ctx).ExecContext(ctx, query,
		c.DocumentRef,
		c.IntakeAt,
		c.DaysAllowed,
		string(c.CurrentStage),
		string(c.SuspendedStage),
		string(c.Outcome),
		c.FailureReason,
		now,
		uuid.UUID(c.ID),
		c.Version,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case rows affected: %w", err)
	}
	if affected == 0 {
		// Either the case vanished or another writer bumped the version.
		if _, getErr := s.Get(ctx, c.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE current_stage NOT IN ('completed', 'failed')`
	rows, err := s.handle(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open cases: %w", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCaseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open cases: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanCase(row *sql.Row) (*Case, error) {
	c, err := scanCaseRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCaseRow(row rowScanner) (*Case, error) {
	var (
		c              Case
		caseID         uuid.UUID
		correlationID  uuid.UUID
		currentStage   string
		suspendedStage string
		outcome        string
	)
	err := row.Scan(
		&caseID,
		&correlationID,
		&c.DocumentRef,
		&c.IntakeAt,
		&c.DaysAllowed,
		&currentStage,
		&suspendedStage,
		&outcome,
		&c.FailureReason,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan case: %w", err)
	}
	c.ID = id.CaseID(caseID)
	c.CorrelationID = id.CorrelationID(correlationID)
	c.CurrentStage = id.Stage(currentStage)
	c.SuspendedStage = id.Stage(suspendedStage)
	c.Outcome = TerminalOutcome(outcome)
	return &c, nil
}

// isUniqueViolation inspects the Postgres error code for 23505.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pgErr coder
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
