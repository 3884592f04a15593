package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

// ExecutionStore defines the persistence interface for report executions.
type ExecutionStore interface {
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.ReportExecution, error)
	CountExecutions(ctx context.Context, filter ExecutionFilter) (int, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.ReportExecution, error)
	CreateExecution(ctx context.Context, execution *domain.ReportExecution) error
	// UpdateExecution persists the status, completed_at, result_path and
	// error columns of an execution whose transition was already applied
	// through the domain state machine.
	UpdateExecution(ctx context.Context, execution domain.ReportExecution) error
}

// Runner dispatches queued executions to the report runner.
// ErrRunnerBusy means the worker pool is saturated; the execution stays
// queued and the caller may retry.
type Runner interface {
	Submit(ctx context.Context, execution *domain.ReportExecution, report *domain.Report) error
}

// ErrRunnerBusy is returned by Runner.Submit when no worker slot is free.
var ErrRunnerBusy = errors.New("runner at capacity")

// ResultStore reads completed report result artifacts.
// Implemented by the S3 store.
type ResultStore interface {
	ReadResult(ctx context.Context, path string) (data []byte, contentType string, err error)
}

// Allowed sort fields for execution list endpoints.
var executionSortFields = map[string]bool{
	"started_at":   true,
	"completed_at": true,
	"status":       true,
}

// ExecutionFilter holds optional filters for listing executions.
// Limit and Offset enable SQL-level pagination. Zero Limit means no limit.
type ExecutionFilter struct {
	ReportID      *uuid.UUID
	Status        string
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Limit         int
	Offset        int
	Sort          *SortOrder
}

// CreateExecutionRequest is the JSON body for POST /api/v1/executions.
type CreateExecutionRequest struct {
	ReportID uuid.UUID `json:"report_id"`
}

// MountExecutionRoutes registers execution endpoints on the router.
func MountExecutionRoutes(r chi.Router, srv *Server) {
	r.Get("/executions", srv.HandleListExecutions)
	r.Post("/executions", srv.HandleCreateExecution)
	r.Get("/executions/{executionID}", srv.HandleGetExecution)
	r.Get("/executions/{executionID}/result", srv.HandleGetExecutionResult)
}

// parseExecutionID extracts and validates the executionID path parameter.
func parseExecutionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		errorJSON(w, "executionID must be a UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// HandleListExecutions returns executions, newest first, optionally filtered
// by report (?report_id=), status (?status=) and a recency window
// (?recent_days=7). The recency filter is applied in-process so its
// semantics stay identical to the domain filter used elsewhere.
func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	filter := ExecutionFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
		Sort:   parseSorting(r, executionSortFields),
	}

	if filter.Status != "" && !domain.ValidExecutionStatus(filter.Status) {
		errorJSON(w, "status must be queued, running, completed, or failed", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if v := r.URL.Query().Get("report_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			errorJSON(w, "report_id must be a UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		filter.ReportID = &id
	}

	recentDays := 0
	if v := r.URL.Query().Get("recent_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorJSON(w, "recent_days must be a positive integer", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		recentDays = n
	}

	executions, err := s.Executions.ListExecutions(r.Context(), filter)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	total, err := s.Executions.CountExecutions(r.Context(), filter)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}

	if recentDays > 0 {
		executions = domain.FilterRecent(executions, time.Now(), recentDays)
		total = len(executions)
	}
	if executions == nil {
		executions = []domain.ReportExecution{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"total":      total,
	})
}

// HandleGetExecution returns a single execution by ID.
func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	execution, err := s.Executions.GetExecution(r.Context(), id)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if execution == nil {
		errorJSON(w, "execution not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, execution)
}

// HandleCreateExecution triggers a manual report run: creates a queued
// execution and submits it to the runner. A saturated runner is not an
// error — the execution stays queued and the scheduler-side dispatch loop
// picks it up later.
func (s *Server) HandleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req CreateExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.ReportID == uuid.Nil {
		errorJSON(w, "report_id is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	report, err := s.Reports.GetReport(r.Context(), req.ReportID)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	execution := &domain.ReportExecution{
		ReportID:  report.ID,
		Status:    domain.ExecutionStatusQueued,
		Trigger:   domain.TriggerManual,
		StartedAt: now,
	}
	if err := s.Executions.CreateExecution(r.Context(), execution); err != nil {
		internalError(w, "internal error", err)
		return
	}

	if s.Runner != nil {
		if err := s.Runner.Submit(r.Context(), execution, report); err != nil && !errors.Is(err, ErrRunnerBusy) {
			internalError(w, "internal error", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, execution)
}

// HandleGetExecutionResult streams the result artifact of a completed
// execution. 409 if the execution has not completed.
func (s *Server) HandleGetExecutionResult(w http.ResponseWriter, r *http.Request) {
	id, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	execution, err := s.Executions.GetExecution(r.Context(), id)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if execution == nil {
		errorJSON(w, "execution not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if execution.Status != domain.ExecutionStatusCompleted || execution.ResultPath == nil {
		errorJSON(w, "execution has no result", "NO_RESULT", http.StatusConflict)
		return
	}
	if s.Results == nil {
		errorJSON(w, "result storage not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	data, contentType, err := s.Results.ReadResult(r.Context(), *execution.ResultPath)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
