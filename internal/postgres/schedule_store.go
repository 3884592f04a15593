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

// scheduleColumns is the full column list for scheduled report queries.
const scheduleColumns = `id, report_id, name, description, frequency, hour, minute,
	day_of_week, day_of_month, active, parameters, last_run_id, last_run_at, next_run_at,
	created_at, updated_at`

// ScheduleStore implements api.ScheduleStore backed by Postgres.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore creates a ScheduleStore backed by the given pool.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

// scanSchedule scans a single scheduled report row into domain.ScheduledReport.
func scanSchedule(row pgx.Row) (*domain.ScheduledReport, error) {
	var (
		id, reportID         uuid.UUID
		name, description    string
		frequency            string
		hour, minute         int
		dayOfWeek            pgtype.Text
		dayOfMonth           pgtype.Int4
		active               bool
		parameters           []byte
		lastRunID            *uuid.UUID
		lastRunAt, nextRunAt *time.Time
		createdAt, updatedAt time.Time
	)

	err := row.Scan(&id, &reportID, &name, &description, &frequency, &hour, &minute,
		&dayOfWeek, &dayOfMonth, &active, &parameters, &lastRunID, &lastRunAt, &nextRunAt,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	return &domain.ScheduledReport{
		ID:          id,
		ReportID:    reportID,
		Name:        name,
		Description: description,
		Recurrence: domain.Recurrence{
			Frequency:  domain.Frequency(frequency),
			Hour:       hour,
			Minute:     minute,
			DayOfWeek:  nullableTextToPtr(dayOfWeek),
			DayOfMonth: nullableInt4ToPtr(dayOfMonth),
		},
		Active:     active,
		Parameters: parameters,
		LastRunID:  lastRunID,
		LastRunAt:  lastRunAt,
		NextRunAt:  nextRunAt,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

func (s *ScheduleStore) ListSchedules(ctx context.Context, filter api.ScheduleFilter) ([]domain.ScheduledReport, error) {
	where := ` WHERE true`
	args := []interface{}{}
	argN := 1

	if filter.ReportID != nil {
		where += fmt.Sprintf(" AND report_id = $%d", argN)
		args = append(args, *filter.ReportID)
		argN++
	}
	if filter.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argN)
		args = append(args, *filter.Active)
	}

	query := `SELECT ` + scheduleColumns + ` FROM scheduled_reports` + where + ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var result []domain.ScheduledReport
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		result = append(result, *sched)
	}
	return result, rows.Err()
}

func (s *ScheduleStore) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.ScheduledReport, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_reports WHERE id = $1`

	sched, err := scanSchedule(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

func (s *ScheduleStore) CreateSchedule(ctx context.Context, schedule *domain.ScheduledReport) error {
	query := `INSERT INTO scheduled_reports
		(report_id, name, description, frequency, hour, minute, day_of_week, day_of_month, active, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + scheduleColumns

	row := s.pool.QueryRow(ctx, query,
		schedule.ReportID,
		schedule.Name,
		schedule.Description,
		string(schedule.Recurrence.Frequency),
		schedule.Recurrence.Hour,
		schedule.Recurrence.Minute,
		textPtrToNullable(schedule.Recurrence.DayOfWeek),
		intPtrToNullable(schedule.Recurrence.DayOfMonth),
		schedule.Active,
		[]byte(schedule.Parameters))

	created, err := scanSchedule(row)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}

	*schedule = *created
	return nil
}

func (s *ScheduleStore) UpdateSchedule(ctx context.Context, id uuid.UUID, update api.UpdateScheduleRequest) (*domain.ScheduledReport, error) {
	// Recurrence edits replace the whole rule and reset next_run_at so the
	// scheduler recomputes it from the new rule.
	if update.Recurrence != nil {
		rec, err := domain.NewRecurrence(
			domain.Frequency(update.Recurrence.Frequency),
			update.Recurrence.TimeOfDay,
			update.Recurrence.DayOfWeek,
			update.Recurrence.DayOfMonth)
		if err != nil {
			return nil, fmt.Errorf("update schedule: %w", err)
		}

		query := `UPDATE scheduled_reports SET
			description = COALESCE($2, description),
			active = COALESCE($3, active),
			frequency = $4, hour = $5, minute = $6,
			day_of_week = $7, day_of_month = $8,
			next_run_at = NULL,
			updated_at = NOW()
			WHERE id = $1
			RETURNING ` + scheduleColumns

		sched, err := scanSchedule(s.pool.QueryRow(ctx, query,
			id,
			textPtrToNullable(update.Description),
			update.Active,
			string(rec.Frequency), rec.Hour, rec.Minute,
			textPtrToNullable(rec.DayOfWeek),
			intPtrToNullable(rec.DayOfMonth)))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("update schedule: %w", err)
		}
		return sched, nil
	}

	query := `UPDATE scheduled_reports SET
		description = COALESCE($2, description),
		active = COALESCE($3, active),
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + scheduleColumns

	sched, err := scanSchedule(s.pool.QueryRow(ctx, query,
		id,
		textPtrToNullable(update.Description),
		update.Active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return sched, nil
}

// UpdateScheduleRun records a fired run and advances next_run_at. lastRunID
// and lastRunAt are nil when only the next fire time is being (re)computed.
func (s *ScheduleStore) UpdateScheduleRun(ctx context.Context, id uuid.UUID, lastRunID *uuid.UUID, lastRunAt *time.Time, nextRunAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_reports SET
			last_run_id = COALESCE($2, last_run_id),
			last_run_at = COALESCE($3, last_run_at),
			next_run_at = $4,
			updated_at = NOW()
		 WHERE id = $1`,
		id, lastRunID, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *ScheduleStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_reports WHERE id = $1`, id)
	return err
}
