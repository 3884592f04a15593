package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedExecution(startedAt time.Time) ReportExecution {
	return ReportExecution{
		ID:        uuid.New(),
		ReportID:  uuid.New(),
		Status:    ExecutionStatusQueued,
		Trigger:   TriggerManual,
		StartedAt: startedAt,
		CreatedAt: startedAt,
	}
}

func TestExecution_HappyPath(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e := newQueuedExecution(now)

	e, err := e.Start()
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusRunning, e.Status)

	done := now.Add(2 * time.Minute)
	e, err = e.Complete(done, "results/2026/03/10/run.parquet")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, e.Status)
	require.NotNil(t, e.CompletedAt)
	assert.Equal(t, done, *e.CompletedAt)
	require.NotNil(t, e.ResultPath)
	assert.Equal(t, "results/2026/03/10/run.parquet", *e.ResultPath)
	assert.Nil(t, e.Error)
	assert.True(t, e.Terminal())
}

func TestExecution_FailFromRunning(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e := newQueuedExecution(now)

	e, err := e.Start()
	require.NoError(t, err)

	e, err = e.Fail(now.Add(time.Minute), "aggregation service unreachable")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, e.Status)
	require.NotNil(t, e.Error)
	assert.Equal(t, "aggregation service unreachable", *e.Error)
	require.NotNil(t, e.CompletedAt)
	assert.Nil(t, e.ResultPath)
	assert.True(t, e.Terminal())
}

func TestExecution_FailFromQueued(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	e := newQueuedExecution(now)

	e, err := e.Fail(now, "dispatch rejected")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, e.Status)
}

func TestExecution_InvalidTransitions(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	completed := newQueuedExecution(now)
	completed, err := completed.Start()
	require.NoError(t, err)
	completed, err = completed.Complete(now, "results/run.parquet")
	require.NoError(t, err)

	_, err = completed.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = completed.Complete(now, "x")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = completed.Fail(now, "x")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	queued := newQueuedExecution(now)
	_, err = queued.Complete(now, "x")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	failed, err := queued.Fail(now, "x")
	require.NoError(t, err)
	_, err = failed.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFilterRecent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	old := newQueuedExecution(now.AddDate(0, 0, -8))
	edge := newQueuedExecution(now.AddDate(0, 0, -7))
	mid := newQueuedExecution(now.AddDate(0, 0, -3))
	fresh := newQueuedExecution(now.Add(-time.Hour))
	future := newQueuedExecution(now.Add(time.Hour))

	got := FilterRecent([]ReportExecution{old, edge, mid, fresh, future}, now, 7)

	require.Len(t, got, 3)
	assert.Equal(t, edge.ID, got[0].ID)
	assert.Equal(t, mid.ID, got[1].ID)
	assert.Equal(t, fresh.ID, got[2].ID)
}

func TestFilterRecent_Empty(t *testing.T) {
	now := time.Now()
	assert.Empty(t, FilterRecent(nil, now, 7))
	assert.Empty(t, FilterRecent([]ReportExecution{}, now, 7))
}
