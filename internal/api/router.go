// Package api provides the HTTP API handlers for latticed.
// All endpoints are mounted under /api/v1.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lattice-data/lattice/platform/internal/cache"
	"github.com/lattice-data/lattice/platform/internal/domain"
)

// maxJSONBodySize is the maximum size for JSON request bodies (1MB).
const maxJSONBodySize = 1 << 20

// maxDescriptionLength is the maximum length for description fields (5000 chars).
const maxDescriptionLength = 5000

// validNameRe matches lowercase slug resource names: starts with lowercase letter, then lowercase + digits + hyphens + underscores.
var validNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// validName returns true if s is a valid lowercase slug (1-128 chars, lowercase letter start, then lowercase + digits + hyphens/underscores).
func validName(s string) bool {
	return len(s) <= 128 && validNameRe.MatchString(s)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// SortOrder represents a sorting directive for list endpoints.
type SortOrder struct {
	Field string // field name to sort by (e.g., "created_at", "name")
	Desc  bool   // true for descending, false for ascending
}

// parseSorting reads sort parameters from query string.
// Format: ?sort=field or ?sort=-field (prefix "-" for descending).
// Returns nil if no sort parameter is provided.
// The allowedFields set restricts which fields can be sorted on to prevent
// injection of arbitrary column names into SQL ORDER BY clauses.
func parseSorting(r *http.Request, allowedFields map[string]bool) *SortOrder {
	sortParam := r.URL.Query().Get("sort")
	if sortParam == "" {
		return nil
	}

	desc := false
	if strings.HasPrefix(sortParam, "-") {
		desc = true
		sortParam = sortParam[1:]
	}

	if !allowedFields[sortParam] {
		return nil // silently ignore unknown sort fields
	}

	return &SortOrder{Field: sortParam, Desc: desc}
}

// paginate applies in-memory offset/limit to a slice. Used by endpoints whose
// stores return full collections; SQL-backed list endpoints push pagination
// down via Limit/Offset fields on filter structs instead.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// Structured error type codes for machine-readable error categorization.
// These classify errors into broad categories independent of the HTTP status code.
const (
	ErrorTypeValidation     = "VALIDATION"     // request data failed validation
	ErrorTypeAuthentication = "AUTHENTICATION" // missing or invalid credentials
	ErrorTypeNotFound       = "NOT_FOUND"      // requested resource does not exist
	ErrorTypeConflict       = "CONFLICT"       // request conflicts with current resource state
	ErrorTypeInternal       = "INTERNAL"       // unexpected server error
	ErrorTypeUnavailable    = "UNAVAILABLE"    // dependency or feature not available
)

// APIError is the structured JSON error envelope returned by all API error responses.
// Format: {"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "human-readable message"}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"` // broad error category (VALIDATION, NOT_FOUND, etc.)
	Message string `json:"message"`
}

// errorTypeFromStatus maps HTTP status codes to broad error type categories.
func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response.
// All API errors use this format so clients only need to handle one shape.
// The type field is automatically derived from the HTTP status code.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
// Logs an error if encoding fails (response may be partial at that point).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// limitJSONBody caps request body size for JSON requests.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.Body != nil && !strings.HasPrefix(ct, "multipart/") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0") // modern browsers: CSP replaces this
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// Server holds dependencies for all API handlers.
type Server struct {
	Reports     ReportStore
	Schedules   ScheduleStore
	Executions  ExecutionStore
	Registry    CalculationRegistry
	Cycles      CycleSource
	Results     ResultStore
	Runner      Runner
	Auth        func(http.Handler) http.Handler
	CORSOrigins []string // Allowed CORS origins. Defaults to ["http://localhost:3000"].

	DBHealth         HealthChecker // Postgres health check (pool.Ping). Nil = skip.
	S3Health         HealthChecker // S3/MinIO health check (BucketExists). Nil = skip.
	AggregatorHealth HealthChecker // Aggregation engine health check. Nil = skip.

	// CycleCache reduces aggregator load for the slow-changing cycle list.
	// Nil is safe — handlers check before using.
	CycleCache *cache.Cache[string, []domain.Cycle]
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}

	// When AllowCredentials is true, Access-Control-Allow-Origin must not be
	// "*". If the caller configured "*", use AllowOriginFunc to dynamically
	// reflect the request Origin header instead.
	hasWildcard := false
	for _, o := range corsOrigins {
		if o == "*" {
			hasWildcard = true
			break
		}
	}

	corsOpts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	if hasWildcard {
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials — using dynamic origin reflection")
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		corsOpts.AllowedOrigins = corsOrigins
	}

	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Health & metrics (unauthenticated, outside /api/v1)
	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	r.Get("/metrics", srv.HandleMetrics)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		if srv.Auth != nil {
			r.Use(srv.Auth)
		}
		MountCalculationRoutes(r, srv)
		MountReportRoutes(r, srv)
		MountScheduleRoutes(r, srv)
		MountExecutionRoutes(r, srv)
	})

	return r
}
