// Package runner executes report computations through the aggregation
// engine and stores the produced artifacts.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lattice-data/lattice/platform/internal/aggregator"
	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/domain"
)

// DefaultWorkers is the default number of concurrent report computations.
const DefaultWorkers = 4

// DefaultComputeTimeout bounds a single aggregation engine compute call.
const DefaultComputeTimeout = 10 * time.Minute

// ResultWriter stores a finished result artifact. Implemented by storage.S3Store.
type ResultWriter interface {
	WriteResult(ctx context.Context, path, contentType string, data []byte) error
}

// Runner is a bounded worker pool that drives report executions through
// their lifecycle: it marks them running, asks the aggregation engine to
// compute, writes the result artifact and records the terminal state.
type Runner struct {
	executions     api.ExecutionStore
	engine         aggregator.Client
	results        ResultWriter
	logger         *slog.Logger
	computeTimeout time.Duration
	now            func() time.Time

	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Runner with the given number of worker slots.
// workers <= 0 falls back to DefaultWorkers.
func New(executions api.ExecutionStore, engine aggregator.Client, results ResultWriter, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		executions:     executions,
		engine:         engine,
		results:        results,
		logger:         logger,
		computeTimeout: DefaultComputeTimeout,
		now:            time.Now,
		slots:          make(chan struct{}, workers),
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// Submit claims a worker slot for a queued execution and dispatches it.
// Returns api.ErrRunnerBusy without touching the execution when every slot
// is taken; the execution stays queued and the caller retries later.
// On success the execution has been marked running in the store and the
// computation continues in the background, detached from the caller's
// request context.
func (r *Runner) Submit(ctx context.Context, execution *domain.ReportExecution, report *domain.Report) error {
	select {
	case r.slots <- struct{}{}:
	default:
		return fmt.Errorf("submit execution: %w", api.ErrRunnerBusy)
	}

	started, err := execution.Start()
	if err != nil {
		<-r.slots
		return fmt.Errorf("submit execution: %w", err)
	}
	if err := r.executions.UpdateExecution(ctx, started); err != nil {
		<-r.slots
		return fmt.Errorf("mark execution running: %w", err)
	}
	*execution = started

	rep := *report
	r.wg.Add(1)
	go r.run(started, rep)
	return nil
}

// run performs one computation. It always releases the slot and leaves the
// execution in a terminal state.
func (r *Runner) run(execution domain.ReportExecution, report domain.Report) {
	defer r.wg.Done()
	defer func() { <-r.slots }()

	ctx, cancel := context.WithTimeout(r.baseCtx, r.computeTimeout)
	defer cancel()

	result, err := r.engine.Compute(ctx, aggregator.ComputeRequest{
		ReportID:     report.ID.String(),
		Scope:        report.Scope,
		Calculations: report.Calculations,
	})
	if err != nil {
		r.fail(execution, fmt.Sprintf("compute: %v", err))
		return
	}

	path := resultPath(execution)
	if err := r.results.WriteResult(ctx, path, result.ContentType, result.Data); err != nil {
		r.fail(execution, fmt.Sprintf("store result: %v", err))
		return
	}

	completed, err := execution.Complete(r.now().UTC(), path)
	if err != nil {
		r.logger.Error("runner: invalid completion transition", "execution_id", execution.ID, "error", err)
		return
	}
	if err := r.executions.UpdateExecution(r.baseCtx, completed); err != nil {
		r.logger.Error("runner: failed to persist completion", "execution_id", execution.ID, "error", err)
		return
	}
	r.logger.Info("runner: execution completed", "execution_id", execution.ID, "report_id", execution.ReportID, "result_path", path)
}

func (r *Runner) fail(execution domain.ReportExecution, reason string) {
	failed, err := execution.Fail(r.now().UTC(), reason)
	if err != nil {
		r.logger.Error("runner: invalid failure transition", "execution_id", execution.ID, "error", err)
		return
	}
	if err := r.executions.UpdateExecution(r.baseCtx, failed); err != nil {
		r.logger.Error("runner: failed to persist failure", "execution_id", execution.ID, "error", err)
		return
	}
	r.logger.Warn("runner: execution failed", "execution_id", execution.ID, "report_id", execution.ReportID, "reason", reason)
}

// resultPath is the artifact key for an execution, partitioned by start date
// so retention sweeps and manual inspection stay cheap.
func resultPath(execution domain.ReportExecution) string {
	return fmt.Sprintf("results/%s/%s/%s.json",
		execution.StartedAt.UTC().Format("2006/01"),
		execution.ReportID,
		execution.ID,
	)
}

// Shutdown cancels in-flight computations and waits for workers to exit.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
