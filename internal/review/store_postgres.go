package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
	"veriqan/pkg/platform/sentinel"
	txcontext "veriqan/pkg/platform/tx"
)

// PostgresStore persists review cases and decisions. Two constraints back
// the service's invariants: a partial unique index on review_cases(case_id)
// where status <> 'decided', and a unique constraint on
// review_decisions(case_id).
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

func (s *PostgresStore) Enqueue(ctx context.Context, rc *ReviewCase) error {
	reasons, err := json.Marshal(rc.ReasonCodes)
	if err != nil {
		return fmt.Errorf("marshal reason codes: %w", err)
	}
	query := `
		INSERT INTO review_cases (
			case_id, correlation_id, reason_codes, confidence,
			status, queued_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(rc.CaseID),
		uuid.UUID(rc.CorrelationID),
		reasons,
		rc.Confidence,
		string(rc.Status),
		rc.QueuedAt,
		rc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert review case: %w", err)
	}
	return nil
}

const reviewColumns = `case_id, correlation_id, reason_codes, confidence, status, queued_at, updated_at`

func (s *PostgresStore) GetActive(ctx context.Context, caseID id.CaseID) (*ReviewCase, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM review_cases
		WHERE case_id = $1 AND status <> 'decided'
	`
	return s.scanOne(s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(caseID)))
}

func (s *PostgresStore) Get(ctx context.Context, caseID id.CaseID) (*ReviewCase, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM review_cases
		WHERE case_id = $1
		ORDER BY queued_at DESC
		LIMIT 1
	`
	return s.scanOne(s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(caseID)))
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, caseID id.CaseID, status Status) error {
	query := `UPDATE review_cases SET status = $1, updated_at = $2 WHERE case_id = $3`
	res, err := s.handle(ctx).ExecContext(ctx, query, string(status), time.Now().UTC(), uuid.UUID(caseID))
	if err != nil {
		return fmt.Errorf("update review case status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review case rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, page PageRequest) (Page, error) {
	page = page.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Reason != "" {
		where = append(where, "reason_codes @> "+arg(fmt.Sprintf(`["%s"]`, filter.Reason)))
	}
	if filter.MaxConfidence != nil {
		where = append(where, "confidence <= "+arg(*filter.MaxConfidence))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM review_cases" + clause
	if err := s.handle(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count review cases: %w", err)
	}

	query := "SELECT " + reviewColumns + " FROM review_cases" + clause +
		" ORDER BY queued_at ASC, case_id ASC" +
		" LIMIT " + arg(page.Size) + " OFFSET " + arg(page.offset())

	rows, err := s.handle(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query review cases: %w", err)
	}
	defer rows.Close()

	var items []ReviewCase
	for rows.Next() {
		rc, err := scanReviewCase(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, *rc)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate review cases: %w", err)
	}

	return Page{Items: items, Number: page.Number, Size: page.Size, Total: total}, nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM review_cases WHERE status <> 'decided'`
	if err := s.handle(ctx).QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending review cases: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveDecision(ctx context.Context, d *Decision) error {
	overrides, err := json.Marshal(d.OverriddenFields)
	if err != nil {
		return fmt.Errorf("marshal overridden fields: %w", err)
	}
	query := `
		INSERT INTO review_decisions (
			case_id, reviewer_id, decision_type, overridden_fields,
			overridden_classification, notes, decided_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(d.CaseID),
		uuid.UUID(d.ReviewerID),
		string(d.Type),
		overrides,
		d.OverriddenClassification,
		d.Notes,
		d.DecidedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyDecided
		}
		return fmt.Errorf("insert review decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, caseID id.CaseID) (*Decision, error) {
	query := `
		SELECT case_id, reviewer_id, decision_type, overridden_fields,
		       overridden_classification, notes, decided_at
		FROM review_decisions
		WHERE case_id = $1
	`
	row := s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(caseID))

	var (
		d         Decision
		caseUUID  uuid.UUID
		reviewer  uuid.UUID
		decType   string
		overrides []byte
	)
	err := row.Scan(&caseUUID, &reviewer, &decType, &overrides, &d.OverriddenClassification, &d.Notes, &d.DecidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan review decision: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &d.OverriddenFields); err != nil {
			return nil, fmt.Errorf("unmarshal overridden fields: %w", err)
		}
	}
	d.CaseID = id.CaseID(caseUUID)
	d.ReviewerID = id.ReviewerID(reviewer)
	d.Type = DecisionType(decType)
	return &d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (*ReviewCase, error) {
	rc, err := scanReviewCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return rc, nil
}

func scanReviewCase(row rowScanner) (*ReviewCase, error) {
	var (
		rc            ReviewCase
		caseID        uuid.UUID
		correlationID uuid.UUID
		reasons       []byte
		status        string
	)
	err := row.Scan(&caseID, &correlationID, &reasons, &rc.Confidence, &status, &rc.QueuedAt, &rc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review case: %w", err)
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &rc.ReasonCodes); err != nil {
			return nil, fmt.Errorf("unmarshal reason codes: %w", err)
		}
	}
	rc.CaseID = id.CaseID(caseID)
	rc.CorrelationID = id.CorrelationID(correlationID)
	rc.Status = Status(status)
	return &rc, nil
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

// PostgresTx runs decision submission inside one serializable transaction.
// A serialization failure (SQLState 40001) means another writer got there
// first; it surfaces as a retryable conflict, never a generic error.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db, timeout: defaultTxTimeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, _ id.CaseID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	sqlTx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "begin transaction")
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return sentinel.ErrConflict
		}
		return dErrors.Wrap(err, dErrors.CodePersistence, "commit transaction")
	}
	return nil
}

// isSerializationFailure inspects the Postgres error code for 40001.
func isSerializationFailure(err error) bool {
	type coder interface{ SQLState() string }
	var pgErr coder
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "40001"
	}
	return false
}
