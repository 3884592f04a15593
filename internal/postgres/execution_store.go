package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/domain"
)

// executionColumns is the full column list for execution queries.
// "trigger" is a reserved word in Postgres, hence the quoting.
const executionColumns = `id, report_id, status, "trigger", started_at, completed_at,
	result_path, error, created_at`

// ExecutionStore implements api.ExecutionStore backed by Postgres.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// scanExecution scans a single execution row into domain.ReportExecution.
func scanExecution(row pgx.Row) (*domain.ReportExecution, error) {
	var (
		id, reportID    uuid.UUID
		status, trigger string
		startedAt       time.Time
		completedAt     *time.Time
		resultPath      pgtype.Text
		errMsg          pgtype.Text
		createdAt       time.Time
	)

	err := row.Scan(&id, &reportID, &status, &trigger, &startedAt, &completedAt,
		&resultPath, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}

	return &domain.ReportExecution{
		ID:          id,
		ReportID:    reportID,
		Status:      domain.ExecutionStatus(status),
		Trigger:     trigger,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		ResultPath:  nullableTextToPtr(resultPath),
		Error:       nullableTextToPtr(errMsg),
		CreatedAt:   createdAt,
	}, nil
}

// executionWhereClause builds the shared WHERE clause and args for execution list/count queries.
func executionWhereClause(filter api.ExecutionFilter) (string, []interface{}, int) {
	where := ` WHERE true`
	args := []interface{}{}
	argN := 1

	if filter.ReportID != nil {
		where += fmt.Sprintf(" AND report_id = $%d", argN)
		args = append(args, *filter.ReportID)
		argN++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	if filter.StartedAfter != nil {
		where += fmt.Sprintf(" AND started_at >= $%d", argN)
		args = append(args, *filter.StartedAfter)
		argN++
	}
	if filter.StartedBefore != nil {
		where += fmt.Sprintf(" AND started_at <= $%d", argN)
		args = append(args, *filter.StartedBefore)
		argN++
	}
	return where, args, argN
}

func executionOrderClause(sort *api.SortOrder) string {
	if sort == nil {
		return ` ORDER BY started_at DESC`
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", sort.Field, dir)
}

func (s *ExecutionStore) ListExecutions(ctx context.Context, filter api.ExecutionFilter) ([]domain.ReportExecution, error) {
	where, args, argN := executionWhereClause(filter)
	query := `SELECT ` + executionColumns + ` FROM report_executions` + where + executionOrderClause(filter.Sort)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []domain.ReportExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// CountExecutions returns the total count of executions matching the filter (ignoring Limit/Offset).
func (s *ExecutionStore) CountExecutions(ctx context.Context, filter api.ExecutionFilter) (int, error) {
	where, args, _ := executionWhereClause(filter)
	query := `SELECT COUNT(*) FROM report_executions` + where

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return count, nil
}

func (s *ExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*domain.ReportExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM report_executions WHERE id = $1`

	e, err := scanExecution(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (s *ExecutionStore) CreateExecution(ctx context.Context, execution *domain.ReportExecution) error {
	query := `INSERT INTO report_executions (report_id, status, "trigger", started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + executionColumns

	row := s.pool.QueryRow(ctx, query,
		execution.ReportID,
		string(execution.Status),
		execution.Trigger,
		execution.StartedAt)

	created, err := scanExecution(row)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	*execution = *created
	return nil
}

// UpdateExecution persists the mutable lifecycle columns of an execution.
// The transition itself was applied through the domain state machine.
func (s *ExecutionStore) UpdateExecution(ctx context.Context, execution domain.ReportExecution) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE report_executions SET
			status = $2, completed_at = $3, result_path = $4, error = $5
		 WHERE id = $1`,
		execution.ID,
		string(execution.Status),
		execution.CompletedAt,
		textPtrToNullable(execution.ResultPath),
		textPtrToNullable(execution.Error))
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// DeleteExecutionsOlderThan removes terminal executions whose started_at is
// before the cutoff. Returns the number of rows deleted. Used by the reaper.
func (s *ExecutionStore) DeleteExecutionsOlderThan(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM report_executions
		 WHERE status IN ('completed', 'failed') AND started_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExecutionsBeyondLimit keeps the newest keepCount terminal executions
// per report and removes the rest. Returns the number of rows deleted.
func (s *ExecutionStore) DeleteExecutionsBeyondLimit(ctx context.Context, reportID uuid.UUID, keepCount int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM report_executions
		 WHERE report_id = $1 AND status IN ('completed', 'failed') AND id NOT IN (
			SELECT id FROM report_executions
			WHERE report_id = $1 AND status IN ('completed', 'failed')
			ORDER BY started_at DESC
			LIMIT $2
		 )`,
		reportID, keepCount)
	if err != nil {
		return 0, fmt.Errorf("delete executions beyond limit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListStuckExecutions returns non-terminal executions started before the
// cutoff. The reaper fails them so they do not stay running forever after a
// crashed worker.
func (s *ExecutionStore) ListStuckExecutions(ctx context.Context, olderThan time.Time) ([]domain.ReportExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM report_executions
		WHERE status IN ('queued', 'running') AND started_at < $1
		ORDER BY started_at`

	rows, err := s.pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stuck executions: %w", err)
	}
	defer rows.Close()

	var result []domain.ReportExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}
