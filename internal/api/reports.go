package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

// ReportStore defines the persistence interface for report configurations.
// Implemented by postgres store (production) and memory store (tests).
type ReportStore interface {
	ListReports(ctx context.Context, filter ReportFilter) ([]domain.Report, error)
	CountReports(ctx context.Context, filter ReportFilter) (int, error)
	GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error)
	CreateReport(ctx context.Context, report *domain.Report) error
	UpdateReport(ctx context.Context, id uuid.UUID, update UpdateReportRequest) (*domain.Report, error)
	DeleteReport(ctx context.Context, id uuid.UUID) error
}

// Allowed sort fields for report list endpoints.
var reportSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// ReportFilter holds optional filters for listing reports.
// Limit and Offset enable SQL-level pagination. Zero Limit means no limit (return all).
type ReportFilter struct {
	Owner  string
	Scope  string
	Limit  int
	Offset int
	Sort   *SortOrder
}

// CreateReportRequest is the JSON body for POST /api/v1/reports.
// Calculations are wire tokens ("user:wavg_coupon"); they are decoded and
// validated before the report is persisted.
type CreateReportRequest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Owner        *string               `json:"owner"`
	Scope        domain.ScopeSelection `json:"scope"`
	Calculations []string              `json:"calculations"`
}

// UpdateReportRequest is the JSON body for PUT /api/v1/reports/:id.
// Nil fields are left unchanged.
type UpdateReportRequest struct {
	Description  *string                `json:"description"`
	Owner        *string                `json:"owner"`
	Scope        *domain.ScopeSelection `json:"scope"`
	Calculations *[]string              `json:"calculations"`
}

// MountReportRoutes registers report endpoints on the router.
func MountReportRoutes(r chi.Router, srv *Server) {
	r.Get("/reports", srv.HandleListReports)
	r.Post("/reports", srv.HandleCreateReport)
	r.Get("/reports/{reportID}", srv.HandleGetReport)
	r.Put("/reports/{reportID}", srv.HandleUpdateReport)
	r.Delete("/reports/{reportID}", srv.HandleDeleteReport)
}

// parseReportID extracts and validates the reportID path parameter.
// Writes a 400 response and returns false on a malformed UUID.
func parseReportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		errorJSON(w, "reportID must be a UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// decodeCalcTokens decodes a list of wire tokens into calculation references.
// Any malformed token rejects the whole list — no partial acceptance.
func decodeCalcTokens(tokens []string) ([]domain.CalcRef, error) {
	refs := make([]domain.CalcRef, 0, len(tokens))
	for _, token := range tokens {
		ref, err := domain.DecodeCalcRef(token)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// HandleListReports returns reports, optionally filtered by owner and scope.
func (s *Server) HandleListReports(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	scope := r.URL.Query().Get("scope")
	if scope != "" && !domain.ValidScope(scope) {
		errorJSON(w, "scope must be deal or tranche", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	filter := ReportFilter{
		Owner:  r.URL.Query().Get("owner"),
		Scope:  scope,
		Limit:  limit,
		Offset: offset,
		Sort:   parseSorting(r, reportSortFields),
	}

	reports, err := s.Reports.ListReports(r.Context(), filter)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	total, err := s.Reports.CountReports(r.Context(), filter)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"total":   total,
	})
}

// HandleGetReport returns a single report by ID.
func (s *Server) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	report, err := s.Reports.GetReport(r.Context(), id)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleCreateReport creates a report configuration. The scope selection and
// every calculation token are validated at the boundary; a report with an
// orphan tranche or a malformed token is never persisted.
func (s *Server) HandleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
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
	if err := req.Scope.Validate(); err != nil {
		errorJSON(w, err.Error(), "INVALID_SCOPE", http.StatusBadRequest)
		return
	}
	if len(req.Calculations) == 0 {
		errorJSON(w, "at least one calculation is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	refs, err := decodeCalcTokens(req.Calculations)
	if err != nil {
		errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	report := &domain.Report{
		Name:         req.Name,
		Description:  req.Description,
		Owner:        req.Owner,
		Scope:        req.Scope,
		Calculations: refs,
	}
	if err := s.Reports.CreateReport(r.Context(), report); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			errorJSON(w, "a report with this name already exists", "ALREADY_EXISTS", http.StatusConflict)
			return
		}
		internalError(w, "internal error", err)
		return
	}

	writeJSON(w, http.StatusCreated, report)
}

// HandleUpdateReport applies a partial update to a report. A patched scope or
// calculation list passes the same validation as on create.
func (s *Server) HandleUpdateReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	var req UpdateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	if req.Description != nil && len(*req.Description) > maxDescriptionLength {
		errorJSON(w, "description too long", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.Scope != nil {
		if err := req.Scope.Validate(); err != nil {
			errorJSON(w, err.Error(), "INVALID_SCOPE", http.StatusBadRequest)
			return
		}
	}
	if req.Calculations != nil {
		if len(*req.Calculations) == 0 {
			errorJSON(w, "at least one calculation is required", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		if _, err := decodeCalcTokens(*req.Calculations); err != nil {
			errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
	}

	report, err := s.Reports.UpdateReport(r.Context(), id, req)
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleDeleteReport deletes a report by ID.
func (s *Server) HandleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	if err := s.Reports.DeleteReport(r.Context(), id); err != nil {
		internalError(w, "internal error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
