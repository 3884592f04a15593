package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/domain"
)

// reportColumns is the full column list for report queries.
const reportColumns = `id, name, description, owner, scope, scope_selection, calculations,
	created_at, updated_at`

// ReportStore implements api.ReportStore backed by Postgres.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a ReportStore backed by the given pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// scanReport scans a single report row into domain.Report.
func scanReport(row pgx.Row) (*domain.Report, error) {
	var (
		id                   uuid.UUID
		name, scope          string
		description          string
		owner                pgtype.Text
		scopeSelection       []byte
		calculations         []byte
		createdAt, updatedAt time.Time
	)

	err := row.Scan(&id, &name, &description, &owner, &scope, &scopeSelection,
		&calculations, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r := domain.Report{
		ID:          id,
		Name:        name,
		Description: description,
		Owner:       nullableTextToPtr(owner),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}

	if err := json.Unmarshal(scopeSelection, &r.Scope); err != nil {
		return nil, fmt.Errorf("decode scope selection: %w", err)
	}
	r.Scope.Scope = domain.Scope(scope)
	if err := json.Unmarshal(calculations, &r.Calculations); err != nil {
		return nil, fmt.Errorf("decode calculations: %w", err)
	}
	return &r, nil
}

// reportWhereClause builds the shared WHERE clause and args for report list/count queries.
func reportWhereClause(filter api.ReportFilter) (string, []interface{}, int) {
	where := ` WHERE deleted_at IS NULL`
	args := []interface{}{}
	argN := 1

	if filter.Owner != "" {
		where += fmt.Sprintf(" AND owner = $%d", argN)
		args = append(args, filter.Owner)
		argN++
	}
	if filter.Scope != "" {
		where += fmt.Sprintf(" AND scope = $%d", argN)
		args = append(args, filter.Scope)
		argN++
	}
	return where, args, argN
}

// reportOrderClause renders the ORDER BY for a list query. The sort field is
// always one of reportSortFields, validated at the API boundary.
func reportOrderClause(sort *api.SortOrder) string {
	if sort == nil {
		return ` ORDER BY created_at DESC`
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", sort.Field, dir)
}

func (s *ReportStore) ListReports(ctx context.Context, filter api.ReportFilter) ([]domain.Report, error) {
	where, args, argN := reportWhereClause(filter)
	query := `SELECT ` + reportColumns + ` FROM reports` + where + reportOrderClause(filter.Sort)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var result []domain.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// CountReports returns the total count of reports matching the filter (ignoring Limit/Offset).
func (s *ReportStore) CountReports(ctx context.Context, filter api.ReportFilter) (int, error) {
	where, args, _ := reportWhereClause(filter)
	query := `SELECT COUNT(*) FROM reports` + where

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

func (s *ReportStore) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1 AND deleted_at IS NULL`

	r, err := scanReport(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (s *ReportStore) CreateReport(ctx context.Context, report *domain.Report) error {
	scopeJSON, err := json.Marshal(report.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope selection: %w", err)
	}
	calcJSON, err := json.Marshal(report.Calculations)
	if err != nil {
		return fmt.Errorf("marshal calculations: %w", err)
	}

	query := `INSERT INTO reports (name, description, owner, scope, scope_selection, calculations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + reportColumns

	row := s.pool.QueryRow(ctx, query,
		report.Name,
		report.Description,
		textPtrToNullable(report.Owner),
		string(report.Scope.Scope),
		scopeJSON,
		calcJSON)

	created, err := scanReport(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("report %s: %w", report.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create report: %w", err)
	}

	report.ID = created.ID
	report.CreatedAt = created.CreatedAt
	report.UpdatedAt = created.UpdatedAt
	return nil
}

func (s *ReportStore) UpdateReport(ctx context.Context, id uuid.UUID, update api.UpdateReportRequest) (*domain.Report, error) {
	var scopeJSON, scopeCol interface{}
	if update.Scope != nil {
		b, err := json.Marshal(update.Scope)
		if err != nil {
			return nil, fmt.Errorf("marshal scope selection: %w", err)
		}
		scopeJSON = b
		scopeCol = string(update.Scope.Scope)
	}

	var calcJSON interface{}
	if update.Calculations != nil {
		refs := make([]domain.CalcRef, 0, len(*update.Calculations))
		for _, token := range *update.Calculations {
			ref, err := domain.DecodeCalcRef(token)
			if err != nil {
				return nil, fmt.Errorf("decode calculation token: %w", err)
			}
			refs = append(refs, ref)
		}
		b, err := json.Marshal(refs)
		if err != nil {
			return nil, fmt.Errorf("marshal calculations: %w", err)
		}
		calcJSON = b
	}

	query := `UPDATE reports SET
		description = COALESCE($2, description),
		owner = COALESCE($3, owner),
		scope = COALESCE($4, scope),
		scope_selection = COALESCE($5, scope_selection),
		calculations = COALESCE($6, calculations),
		updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + reportColumns

	r, err := scanReport(s.pool.QueryRow(ctx, query,
		id,
		textPtrToNullable(update.Description),
		textPtrToNullable(update.Owner),
		scopeCol,
		scopeJSON,
		calcJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update report: %w", err)
	}
	return r, nil
}

func (s *ReportStore) DeleteReport(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE reports SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}
