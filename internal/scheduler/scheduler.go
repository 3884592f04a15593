// Package scheduler evaluates recurrence rules and fires report executions.
// It runs as a background goroutine inside latticed, checking active
// schedules at a configurable interval (default 30s).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/domain"
)

// DefaultInterval is the default schedule check interval.
const DefaultInterval = 30 * time.Second

// Scheduler checks active schedules and fires executions when they're due.
type Scheduler struct {
	schedules  api.ScheduleStore
	reports    api.ReportStore
	executions api.ExecutionStore
	runner     api.Runner
	interval   time.Duration
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a Scheduler with the given stores and check interval.
func New(
	schedules api.ScheduleStore,
	reports api.ReportStore,
	executions api.ExecutionStore,
	runner api.Runner,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		schedules:  schedules,
		reports:    reports,
		executions: executions,
		runner:     runner,
		interval:   interval,
		now:        time.Now,
	}
}

// Start begins the background scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// tick evaluates all active schedules and fires executions that are due.
func (s *Scheduler) tick(ctx context.Context) {
	active := true
	schedules, err := s.schedules.ListSchedules(ctx, api.ScheduleFilter{Active: &active})
	if err != nil {
		slog.Error("scheduler: failed to list schedules", "error", err)
		return
	}

	now := s.now().UTC()

	for _, sched := range schedules {
		// A freshly created (or recurrence-edited) schedule has no
		// next_run_at yet. Compute it from the rule and persist without
		// firing: the first fire happens at the slot after creation.
		if sched.NextRunAt == nil {
			next, err := sched.Recurrence.NextAfter(now)
			if err != nil {
				slog.Warn("scheduler: invalid recurrence rule", "schedule_id", sched.ID, "error", err)
				continue
			}
			if err := s.schedules.UpdateScheduleRun(ctx, sched.ID, nil, nil, next); err != nil {
				slog.Error("scheduler: failed to set initial next_run_at", "schedule_id", sched.ID, "error", err)
			}
			continue
		}

		// Not due yet.
		if sched.NextRunAt.After(now) {
			continue
		}

		report, err := s.reports.GetReport(ctx, sched.ReportID)
		if err != nil {
			slog.Error("scheduler: failed to get report", "schedule_id", sched.ID, "report_id", sched.ReportID, "error", err)
			continue
		}
		if report == nil {
			slog.Warn("scheduler: report not found for schedule", "schedule_id", sched.ID, "report_id", sched.ReportID)
			continue
		}

		// Skip if the report already has a queued or running execution —
		// avoids piling up duplicates when the runner is slow or at capacity.
		if s.hasActiveExecution(ctx, sched.ReportID) {
			slog.Debug("scheduler: skipping, report already has an active execution",
				"schedule_id", sched.ID, "report_id", sched.ReportID)
			continue
		}

		execution := &domain.ReportExecution{
			ReportID:  report.ID,
			Status:    domain.ExecutionStatusQueued,
			Trigger:   domain.TriggerScheduled,
			StartedAt: now,
		}
		if err := s.executions.CreateExecution(ctx, execution); err != nil {
			slog.Error("scheduler: failed to create execution", "schedule_id", sched.ID, "error", err)
			continue
		}

		if err := s.runner.Submit(ctx, execution, report); err != nil {
			// The runner is at capacity — don't advance the schedule.
			// The execution stays queued and the next tick retries.
			if errors.Is(err, api.ErrRunnerBusy) {
				slog.Warn("scheduler: runner busy, will retry next tick",
					"schedule_id", sched.ID, "execution_id", execution.ID)
				continue
			}
			slog.Error("scheduler: runner submit failed", "execution_id", execution.ID, "error", err)
			// Continue — the execution was created, just not dispatched.
		}

		// Compute the next fire from NOW: a missed slot is caught up once,
		// then the schedule advances to the future.
		next, err := sched.Recurrence.NextAfter(now)
		if err != nil {
			slog.Error("scheduler: failed to compute next run", "schedule_id", sched.ID, "error", err)
			continue
		}
		if err := s.schedules.UpdateScheduleRun(ctx, sched.ID, &execution.ID, &now, next); err != nil {
			slog.Error("scheduler: failed to update schedule run", "schedule_id", sched.ID, "error", err)
		}

		slog.Info("scheduler: fired execution", "schedule_id", sched.ID, "execution_id", execution.ID, "next_run_at", next)
	}
}

// hasActiveExecution checks whether the report already has a queued or
// running execution.
func (s *Scheduler) hasActiveExecution(ctx context.Context, reportID uuid.UUID) bool {
	for _, status := range []domain.ExecutionStatus{domain.ExecutionStatusQueued, domain.ExecutionStatusRunning} {
		executions, err := s.executions.ListExecutions(ctx, api.ExecutionFilter{
			ReportID: &reportID,
			Status:   string(status),
			Limit:    1,
		})
		if err != nil {
			slog.Warn("scheduler: failed to check active executions", "report_id", reportID, "error", err)
			return false // on error, allow the fire (don't block scheduling)
		}
		if len(executions) > 0 {
			return true
		}
	}
	return false
}
