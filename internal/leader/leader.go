// Package leader elects one latticed replica to run the singleton background
// workers (scheduler, reaper) so a report is never fired twice.
//
// Election rides on a Postgres session advisory lock: whichever replica wins
// pg_try_advisory_lock is the leader, everyone else retries on an interval.
// If the leader's session dies, Postgres drops the lock and the next retry
// on another replica wins.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AdvisoryLockID keys the leadership lock. Distinct from the migration lock
// (1670259058) so a migrating instance never blocks election.
const AdvisoryLockID int64 = 5283117740921

// RetryInterval is the default wait between election attempts.
const RetryInterval = 30 * time.Second

// TryLockFunc attempts the advisory lock, returning true on acquisition.
// Production wires this to pgxpool:
//
//	leader.New(func(ctx context.Context) (bool, error) {
//	    var acquired bool
//	    err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
//	    return acquired, err
//	}, ...)
type TryLockFunc func(ctx context.Context) (acquired bool, err error)

// OnElected runs when this replica wins the lock. It starts the background
// workers and returns the function that stops them when leadership ends.
type OnElected func(ctx context.Context) (stop func())

// Elector runs the election loop for one replica.
type Elector struct {
	tryLock       TryLockFunc
	retryInterval time.Duration
	onElected     OnElected

	mu       sync.Mutex
	isLeader bool
	stopFn   func()
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds an Elector. onElected receives a context that stays valid for
// the whole leadership term; retryInterval is how often a non-leader retries.
func New(tryLock TryLockFunc, retryInterval time.Duration, onElected OnElected) *Elector {
	return &Elector{
		tryLock:       tryLock,
		retryInterval: retryInterval,
		onElected:     onElected,
	}
}

// Start launches the election loop. The first attempt happens immediately,
// not after the first tick.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)

		e.attempt(ctx)

		ticker := time.NewTicker(e.retryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.stepDown()
				return
			case <-ticker.C:
				e.attempt(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit, stopping the workers if
// this replica was the leader.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader reports whether this replica currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *Elector) attempt(ctx context.Context) {
	e.mu.Lock()
	if e.isLeader {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	acquired, err := e.tryLock(ctx)
	if err != nil {
		slog.Error("leader election attempt failed", "error", err)
		return
	}
	if !acquired {
		slog.Debug("advisory lock held elsewhere, staying follower")
		return
	}

	slog.Info("elected leader, starting background workers")

	e.mu.Lock()
	e.isLeader = true
	e.mu.Unlock()

	stopFn := e.onElected(ctx)

	e.mu.Lock()
	e.stopFn = stopFn
	e.mu.Unlock()
}

// stepDown stops the workers. The advisory lock itself releases with the
// Postgres session, not here.
func (e *Elector) stepDown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return
	}

	slog.Info("leadership ended, stopping background workers")
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.isLeader = false
}
