// Package reaper enforces execution retention policies. It runs as a
// background daemon inside latticed, pruning old executions and failing
// ones that got stuck after a crashed worker.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/domain"
)

// RetentionConfig holds the knobs for the retention tasks.
type RetentionConfig struct {
	// ExecutionsMaxPerReport caps terminal executions kept per report.
	ExecutionsMaxPerReport int `yaml:"executions_max_per_report"`
	// ExecutionsMaxAgeDays prunes terminal executions older than this.
	// Zero disables age-based pruning.
	ExecutionsMaxAgeDays int `yaml:"executions_max_age_days"`
	// StuckTimeoutMinutes fails queued/running executions older than this.
	StuckTimeoutMinutes int `yaml:"stuck_timeout_minutes"`
	// IntervalMinutes is the sweep interval. Values under a minute fall
	// back to one hour.
	IntervalMinutes int `yaml:"interval_minutes"`
}

// DefaultRetentionConfig returns the retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		ExecutionsMaxPerReport: 50,
		ExecutionsMaxAgeDays:   90,
		StuckTimeoutMinutes:    60,
		IntervalMinutes:        60,
	}
}

// ExecutionStore is the retention surface of the execution store.
type ExecutionStore interface {
	UpdateExecution(ctx context.Context, execution domain.ReportExecution) error
	DeleteExecutionsOlderThan(ctx context.Context, olderThan time.Time) (int, error)
	DeleteExecutionsBeyondLimit(ctx context.Context, reportID uuid.UUID, keepCount int) (int, error)
	ListStuckExecutions(ctx context.Context, olderThan time.Time) ([]domain.ReportExecution, error)
}

// ReportLister enumerates reports for per-report pruning.
type ReportLister interface {
	ListReports(ctx context.Context, filter api.ReportFilter) ([]domain.Report, error)
}

// Status summarizes one reaper sweep.
type Status struct {
	ExecutionsPruned int `json:"executions_pruned"`
	ExecutionsFailed int `json:"executions_failed"`
}

// Reaper is the retention daemon.
type Reaper struct {
	executions ExecutionStore
	reports    ReportLister
	cfg        RetentionConfig
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a Reaper with the given stores and retention config.
func New(executions ExecutionStore, reports ReportLister, cfg RetentionConfig) *Reaper {
	return &Reaper{
		executions: executions,
		reports:    reports,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start begins the background reaper goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

func (r *Reaper) interval() time.Duration {
	interval := time.Duration(r.cfg.IntervalMinutes) * time.Minute
	if interval < time.Minute {
		interval = time.Hour
	}
	return interval
}

// Stop cancels the background goroutine and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// RunNow triggers a manual sweep and returns the resulting stats.
func (r *Reaper) RunNow(ctx context.Context) *Status {
	return r.tick(ctx)
}

// tick executes all retention tasks. Each task is isolated — a failure in
// one does not prevent the others from running.
func (r *Reaper) tick(ctx context.Context) *Status {
	now := r.now().UTC()
	status := &Status{}

	r.safeRun("pruneExecutions", func() {
		status.ExecutionsPruned = r.pruneExecutions(ctx, now)
	})

	r.safeRun("failStuckExecutions", func() {
		status.ExecutionsFailed = r.failStuckExecutions(ctx, now)
	})

	slog.Info("reaper: tick complete",
		"executions_pruned", status.ExecutionsPruned,
		"executions_failed", status.ExecutionsFailed,
	)
	return status
}

// pruneExecutions deletes terminal executions beyond the per-report limit
// and past the max age.
func (r *Reaper) pruneExecutions(ctx context.Context, now time.Time) int {
	total := 0

	if r.reports != nil && r.cfg.ExecutionsMaxPerReport > 0 {
		reports, err := r.reports.ListReports(ctx, api.ReportFilter{})
		if err != nil {
			slog.Error("reaper: failed to list reports for pruning", "error", err)
		} else {
			for _, report := range reports {
				count, err := r.executions.DeleteExecutionsBeyondLimit(ctx, report.ID, r.cfg.ExecutionsMaxPerReport)
				if err != nil {
					slog.Warn("reaper: failed to prune executions for report", "report_id", report.ID, "error", err)
					continue
				}
				total += count
			}
		}
	}

	if r.cfg.ExecutionsMaxAgeDays > 0 {
		cutoff := now.Add(-time.Duration(r.cfg.ExecutionsMaxAgeDays) * 24 * time.Hour)
		count, err := r.executions.DeleteExecutionsOlderThan(ctx, cutoff)
		if err != nil {
			slog.Error("reaper: failed to delete old executions", "error", err)
		} else {
			total += count
		}
	}

	return total
}

// failStuckExecutions fails queued/running executions that exceed the
// stuck timeout, e.g. after a worker crash mid-computation.
func (r *Reaper) failStuckExecutions(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-time.Duration(r.cfg.StuckTimeoutMinutes) * time.Minute)
	stuck, err := r.executions.ListStuckExecutions(ctx, cutoff)
	if err != nil {
		slog.Error("reaper: failed to list stuck executions", "error", err)
		return 0
	}

	count := 0
	for _, execution := range stuck {
		failed, err := execution.Fail(now, "execution timed out (stuck for too long)")
		if err != nil {
			slog.Warn("reaper: cannot fail execution", "execution_id", execution.ID, "error", err)
			continue
		}
		if err := r.executions.UpdateExecution(ctx, failed); err != nil {
			slog.Warn("reaper: failed to persist stuck failure", "execution_id", execution.ID, "error", err)
			continue
		}
		count++
	}
	return count
}

// safeRun executes fn with panic recovery to isolate task failures.
func (r *Reaper) safeRun(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("reaper: task panicked", "task", name, "panic", rec)
		}
	}()
	fn()
}
