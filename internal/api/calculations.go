package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lattice-data/lattice/platform/internal/domain"
	"github.com/lattice-data/lattice/platform/internal/registry"
)

// CalculationRegistry is the registry surface the API consumes.
// Implemented by registry.Registry (production) and a stub (tests).
type CalculationRegistry interface {
	Load(ctx context.Context, groupLevel string) (registry.Snapshot, error)
	Current() (registry.Snapshot, bool)
}

// CycleSource provides the reporting cycles the aggregation engine can
// evaluate against. Implemented by the aggregator HTTP client.
type CycleSource interface {
	GetAvailableCycles(ctx context.Context) ([]domain.Cycle, error)
}

// cycleCacheKey is the single key under which the cycle list is cached.
const cycleCacheKey = "all"

// MountCalculationRoutes registers calculation catalog endpoints on the router.
func MountCalculationRoutes(r chi.Router, srv *Server) {
	r.Get("/calculations", srv.HandleListCalculations)
	r.Get("/calculations/{token}", srv.HandleGetCalculationLabel)
	r.Get("/cycles", srv.HandleListCycles)
}

// HandleListCalculations returns the current calculation snapshot, refreshed
// from the aggregation engine. Filters: ?group_level=deal|asset narrows both
// collections; ?kind=user|system returns only that collection.
// On aggregator failure with a previous snapshot available, the stale
// snapshot is served with "stale": true rather than failing the request.
func (s *Server) HandleListCalculations(w http.ResponseWriter, r *http.Request) {
	groupLevel := r.URL.Query().Get("group_level")
	if groupLevel != "" && !domain.ValidGroupLevel(groupLevel) {
		errorJSON(w, "group_level must be deal or asset", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != string(domain.CalcKindUser) && kind != string(domain.CalcKindSystem) {
		errorJSON(w, "kind must be user or system", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	snap, err := s.Registry.Load(r.Context(), groupLevel)
	stale := false
	if err != nil {
		if !errors.Is(err, registry.ErrAggregationUnavailable) {
			internalError(w, "internal error", err)
			return
		}
		prev, ok := s.Registry.Current()
		if !ok {
			errorJSON(w, "aggregation service unavailable", "AGGREGATION_UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
		snap = prev
		stale = true
	}

	if kind != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"calculations": orEmpty(registry.FilterByKind(snap, domain.CalcKind(kind))),
			"summary":      snap.Summary,
			"stale":        stale,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_calculations":   orEmpty(snap.User),
		"system_calculations": orEmpty(snap.System),
		"summary":             snap.Summary,
		"stale":               stale,
	})
}

// HandleGetCalculationLabel decodes a calculation token and returns its
// display label. 400 on malformed tokens or unknown kinds.
func (s *Server) HandleGetCalculationLabel(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	ref, err := domain.DecodeCalcRef(token)
	if err != nil {
		errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      ref.String(),
		"kind":       ref.Kind,
		"identifier": ref.Identifier,
		"label":      ref.DisplayLabel(),
	})
}

// HandleListCycles returns the available reporting cycles, newest first.
// The list changes once per cycle close, so responses are cached.
func (s *Server) HandleListCycles(w http.ResponseWriter, r *http.Request) {
	if s.CycleCache != nil {
		if cycles, ok := s.CycleCache.Get(cycleCacheKey); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
			return
		}
	}

	cycles, err := s.Cycles.GetAvailableCycles(r.Context())
	if err != nil {
		errorJSON(w, "aggregation service unavailable", "AGGREGATION_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	if cycles == nil {
		cycles = []domain.Cycle{}
	}

	if s.CycleCache != nil {
		s.CycleCache.Set(cycleCacheKey, cycles)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}

// orEmpty replaces a nil slice with an empty one so JSON renders [] instead of null.
func orEmpty(calcs []domain.AvailableCalculation) []domain.AvailableCalculation {
	if calcs == nil {
		return []domain.AvailableCalculation{}
	}
	return calcs
}
