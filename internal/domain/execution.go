package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the state of one report run.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ValidExecutionStatus returns true if s is a known execution status.
func ValidExecutionStatus(s string) bool {
	switch ExecutionStatus(s) {
	case ExecutionStatusQueued, ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed:
		return true
	}
	return false
}

// Trigger values recorded on an execution.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// ErrInvalidTransition indicates an execution state change that the
// lifecycle does not permit. Transitions flow queued -> running ->
// completed/failed (plus queued -> failed for pre-run validation failures)
// and never reverse.
var ErrInvalidTransition = errors.New("invalid execution transition")

// ReportExecution is one concrete run of a report, with its own lifecycle
// independent of any schedule that triggered it. ResultPath is only
// meaningful once Status is completed.
type ReportExecution struct {
	ID          uuid.UUID       `json:"id"`
	ReportID    uuid.UUID       `json:"report_id"`
	Status      ExecutionStatus `json:"status"`
	Trigger     string          `json:"trigger"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ResultPath  *string         `json:"result_path,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Terminal returns true once the execution can no longer change state.
func (e ReportExecution) Terminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// Start transitions queued → running. Any other source state fails with
// ErrInvalidTransition.
func (e ReportExecution) Start() (ReportExecution, error) {
	if e.Status != ExecutionStatusQueued {
		return ReportExecution{}, fmt.Errorf("%w: start from %s", ErrInvalidTransition, e.Status)
	}
	out := e
	out.Status = ExecutionStatusRunning
	return out, nil
}

// Complete transitions running → completed, recording the completion time
// and the path of the produced result artifact.
func (e ReportExecution) Complete(now time.Time, resultPath string) (ReportExecution, error) {
	if e.Status != ExecutionStatusRunning {
		return ReportExecution{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, e.Status)
	}
	out := e
	out.Status = ExecutionStatusCompleted
	out.CompletedAt = &now
	out.ResultPath = &resultPath
	return out, nil
}

// Fail transitions running → failed, recording the completion time and the
// failure reason. queued -> failed is also permitted, since a pre-run
// validation failure never reaches the running state.
func (e ReportExecution) Fail(now time.Time, reason string) (ReportExecution, error) {
	if e.Status != ExecutionStatusRunning && e.Status != ExecutionStatusQueued {
		return ReportExecution{}, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, e.Status)
	}
	out := e
	out.Status = ExecutionStatusFailed
	out.CompletedAt = &now
	out.Error = &reason
	return out, nil
}

// FilterRecent keeps executions whose StartedAt falls within windowDays of
// now, preserving the original order (assumed reverse-chronological from the
// source).
func FilterRecent(executions []ReportExecution, now time.Time, windowDays int) []ReportExecution {
	cutoff := now.AddDate(0, 0, -windowDays)
	var out []ReportExecution
	for _, e := range executions {
		if e.StartedAt.Before(cutoff) || e.StartedAt.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}
