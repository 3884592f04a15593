package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

// ScheduleStore defines the persistence interface for scheduled reports.
type ScheduleStore interface {
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]domain.ScheduledReport, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*domain.ScheduledReport, error)
	CreateSchedule(ctx context.Context, schedule *domain.ScheduledReport) error
	UpdateSchedule(ctx context.Context, id uuid.UUID, update UpdateScheduleRequest) (*domain.ScheduledReport, error)
	UpdateScheduleRun(ctx context.Context, id uuid.UUID, lastRunID *uuid.UUID, lastRunAt *time.Time, nextRunAt time.Time) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}

// ScheduleFilter holds optional filters for listing scheduled reports.
type ScheduleFilter struct {
	ReportID *uuid.UUID
	Active   *bool
}

// RecurrencePayload is the JSON shape of a recurrence rule in requests.
// It is converted through domain.NewRecurrence so the discriminant invariant
// is enforced before anything is persisted.
type RecurrencePayload struct {
	Frequency  string  `json:"frequency"`
	TimeOfDay  string  `json:"time_of_day"`
	DayOfWeek  *string `json:"day_of_week,omitempty"`
	DayOfMonth *int    `json:"day_of_month,omitempty"`
}

// toRecurrence validates and converts the payload.
func (p RecurrencePayload) toRecurrence() (domain.Recurrence, error) {
	return domain.NewRecurrence(domain.Frequency(p.Frequency), p.TimeOfDay, p.DayOfWeek, p.DayOfMonth)
}

// CreateScheduleRequest is the JSON body for POST /api/v1/schedules.
// Parameters is frozen verbatim — editing the underlying report later does
// not change what this schedule fires.
type CreateScheduleRequest struct {
	ReportID    uuid.UUID         `json:"report_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Recurrence  RecurrencePayload `json:"recurrence"`
	Active      *bool             `json:"active"`
	Parameters  json.RawMessage   `json:"parameters"`
}

// UpdateScheduleRequest is the JSON body for PUT /api/v1/schedules/:id.
type UpdateScheduleRequest struct {
	Description *string            `json:"description"`
	Recurrence  *RecurrencePayload `json:"recurrence"`
	Active      *bool              `json:"active"`
}

// scheduleResponse augments a scheduled report with the rendered recurrence
// phrase ("Weekly on monday at 08:00").
type scheduleResponse struct {
	domain.ScheduledReport
	RecurrenceText string `json:"recurrence_text"`
}

func toScheduleResponse(s domain.ScheduledReport) scheduleResponse {
	return scheduleResponse{ScheduledReport: s, RecurrenceText: s.Recurrence.Describe()}
}

// MountScheduleRoutes registers schedule endpoints on the router.
func MountScheduleRoutes(r chi.Router, srv *Server) {
	r.Get("/schedules", srv.HandleListSchedules)
	r.Post("/schedules", srv.HandleCreateSchedule)
	r.Get("/schedules/{scheduleID}", srv.HandleGetSchedule)
	r.Put("/schedules/{scheduleID}", srv.HandleUpdateSchedule)
	r.Delete("/schedules/{scheduleID}", srv.HandleDeleteSchedule)
}

// parseScheduleID extracts and validates the scheduleID path parameter.
func parseScheduleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
	if err != nil {
		errorJSON(w, "scheduleID must be a UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// HandleListSchedules returns scheduled reports, optionally filtered by
// report (?report_id=) and active state (?active=true|false).
func (s *Server) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	var filter ScheduleFilter
	if v := r.URL.Query().Get("report_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			errorJSON(w, "report_id must be a UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		filter.ReportID = &id
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		if v != "true" && v != "false" {
			errorJSON(w, "active must be true or false", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		filter.Active = &active
	}

	schedules, err := s.Schedules.ListSchedules(r.Context(), filter)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}

	total := len(schedules)
	limit, offset := parsePagination(r)
	schedules = paginate(schedules, limit, offset)

	out := make([]scheduleResponse, 0, len(schedules))
	for _, sched := range schedules {
		out = append(out, toScheduleResponse(sched))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": out,
		"total":     total,
	})
}

// HandleGetSchedule returns a single scheduled report by ID.
func (s *Server) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}

	schedule, err := s.Schedules.GetSchedule(r.Context(), id)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if schedule == nil {
		errorJSON(w, "schedule not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(*schedule))
}

// HandleCreateSchedule creates a scheduled report. The recurrence payload is
// validated through the domain constructor; the referenced report must exist.
func (s *Server) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	if req.ReportID == uuid.Nil {
		errorJSON(w, "report_id is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		errorJSON(w, "name is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if !validName(req.Name) {
		errorJSON(w, "name must be a lowercase slug (a-z, 0-9, hyphens, underscores; must start with a letter)", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if len(req.Description) > maxDescriptionLength {
		errorJSON(w, "description too long", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	rec, err := req.Recurrence.toRecurrence()
	if err != nil {
		errorJSON(w, err.Error(), "INVALID_RECURRENCE", http.StatusBadRequest)
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

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	schedule := &domain.ScheduledReport{
		ReportID:    req.ReportID,
		Name:        req.Name,
		Description: req.Description,
		Recurrence:  rec,
		Active:      active,
		Parameters:  req.Parameters,
	}
	if err := s.Schedules.CreateSchedule(r.Context(), schedule); err != nil {
		internalError(w, "internal error", err)
		return
	}

	writeJSON(w, http.StatusCreated, toScheduleResponse(*schedule))
}

// HandleUpdateSchedule applies a partial update: description, recurrence,
// active toggle. A recurrence edit resets next_run_at so the scheduler
// recomputes it from the new rule.
func (s *Server) HandleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	if req.Description != nil && len(*req.Description) > maxDescriptionLength {
		errorJSON(w, "description too long", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.Recurrence != nil {
		if _, err := req.Recurrence.toRecurrence(); err != nil {
			errorJSON(w, err.Error(), "INVALID_RECURRENCE", http.StatusBadRequest)
			return
		}
	}

	schedule, err := s.Schedules.UpdateSchedule(r.Context(), id, req)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if schedule == nil {
		errorJSON(w, "schedule not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(*schedule))
}

// HandleDeleteSchedule deletes a scheduled report by ID.
func (s *Server) HandleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}

	if err := s.Schedules.DeleteSchedule(r.Context(), id); err != nil {
		internalError(w, "internal error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
