package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "veriqan/pkg/domain"
	txcontext "veriqan/pkg/platform/tx"
)

// PostgresStore persists audit records in the audit_records table. Inserts
// are idempotent per record ID so a retried append never duplicates a fact.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, record Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_records (
			id, correlation_id, case_id, action, stage,
			success, timestamp, details, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		uuid.UUID(record.CorrelationID),
		uuid.UUID(record.CaseID),
		string(record.Action),
		string(record.Stage),
		record.Success,
		record.Timestamp,
		record.Details,
		record.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CorrelationID != nil {
		where = append(where, "correlation_id = "+arg(uuid.UUID(*filter.CorrelationID)))
	}
	if filter.CaseID != nil {
		where = append(where, "case_id = "+arg(uuid.UUID(*filter.CaseID)))
	}
	if filter.Action != "" {
		where = append(where, "action = "+arg(string(filter.Action)))
	}
	if filter.Stage != "" {
		where = append(where, "stage = "+arg(string(filter.Stage)))
	}
	if filter.Success != nil {
		where = append(where, "success = "+arg(*filter.Success))
	}
	if !filter.From.IsZero() {
		where = append(where, "timestamp >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "timestamp <= "+arg(filter.To))
	}

	query := `
		SELECT correlation_id, case_id, action, stage,
		       success, timestamp, details, error_message
		FROM audit_records
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *PostgresStore) Timeline(ctx context.Context, correlationID id.CorrelationID) ([]Record, error) {
	return s.Query(ctx, Filter{CorrelationID: &correlationID})
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			r             Record
			correlationID uuid.UUID
			caseID        uuid.UUID
			action        string
			stage         string
		)
		err := rows.Scan(
			&correlationID,
			&caseID,
			&action,
			&stage,
			&r.Success,
			&r.Timestamp,
			&r.Details,
			&r.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.CorrelationID = id.CorrelationID(correlationID)
		r.CaseID = id.CaseID(caseID)
		r.Action = Action(action)
		r.Stage = id.Stage(stage)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
