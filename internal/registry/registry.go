// Package registry merges user-defined and system-defined calculations from
// the aggregation engine into one queryable snapshot with summary counts.
//
// The registry owns exactly one snapshot, replaced wholesale on every
// successful load. Loads for the same group level are deduplicated: a second
// caller joins the in-flight fetch instead of issuing its own. Responses from
// stale fetches never overwrite the snapshot of a newer one (last request
// wins, enforced with a monotonic sequence number).
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

// ErrAggregationUnavailable indicates the aggregation engine could not be
// reached or returned an unusable payload. The previous snapshot, if any,
// remains in place; the registry never clears good data on a failed refresh.
var ErrAggregationUnavailable = errors.New("aggregation service unavailable")

// CalculationSource fetches the raw calculation collections. groupLevel is
// "" for no filtering, otherwise one of domain's group levels.
type CalculationSource interface {
	GetAllCalculations(ctx context.Context, groupLevel string) (domain.CalculationSet, error)
}

// Summary is the derived count block of a snapshot. Computed locally from
// the collections so Total == UserCount+SystemCount holds by construction.
type Summary struct {
	Total       int `json:"total_calculations"`
	UserCount   int `json:"user_calculation_count"`
	SystemCount int `json:"system_calculation_count"`
	UserInUse   int `json:"user_in_use_count"`
	SystemInUse int `json:"system_in_use_count"`
	InUseTotal  int `json:"in_use_total"`
}

// Snapshot is one immutable view of the available calculations. GroupLevel
// records the filter the snapshot was loaded with ("" means unfiltered).
type Snapshot struct {
	User       []domain.AvailableCalculation `json:"user_calculations"`
	System     []domain.AvailableCalculation `json:"system_calculations"`
	Summary    Summary                       `json:"summary"`
	GroupLevel string                        `json:"group_level,omitempty"`
	LoadedAt   time.Time                     `json:"loaded_at"`
}

// call is one in-flight fetch, shared by every caller that requested the
// same group level while it ran.
type call struct {
	done chan struct{}
	snap Snapshot
	err  error
}

// Registry coordinates calculation loads against a CalculationSource.
type Registry struct {
	source CalculationSource
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	seq       uint64 // sequence of the most recently issued fetch
	storedSeq uint64 // sequence of the fetch that produced snapshot
	snapshot  *Snapshot
	inflight  map[string]*call
}

// New creates a Registry backed by the given source.
func New(source CalculationSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		source:   source,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]*call),
	}
}

// Load fetches calculations for the given group level ("" for all), builds a
// snapshot and installs it as the registry's current one. Concurrent calls
// for the same group level share a single fetch. A fetch failure surfaces
// ErrAggregationUnavailable and leaves the previous snapshot untouched.
func (r *Registry) Load(ctx context.Context, groupLevel string) (Snapshot, error) {
	if groupLevel != "" && !domain.ValidGroupLevel(groupLevel) {
		return Snapshot{}, fmt.Errorf("invalid group level %q", groupLevel)
	}

	r.mu.Lock()
	if c, ok := r.inflight[groupLevel]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.snap, c.err
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	r.seq++
	seq := r.seq
	c := &call{done: make(chan struct{})}
	r.inflight[groupLevel] = c
	r.mu.Unlock()

	set, err := r.source.GetAllCalculations(ctx, groupLevel)

	r.mu.Lock()
	delete(r.inflight, groupLevel)
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("registry: calculation fetch failed", "group_level", groupLevel, "error", err)
		c.err = fmt.Errorf("%w: %v", ErrAggregationUnavailable, err)
		close(c.done)
		return Snapshot{}, c.err
	}

	snap := buildSnapshot(set, groupLevel, r.now())
	if seq > r.storedSeq {
		r.storedSeq = seq
		r.snapshot = &snap
	}
	r.mu.Unlock()

	c.snap = snap
	close(c.done)
	return snap, nil
}

// Current returns the last successfully loaded snapshot, if any.
func (r *Registry) Current() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return Snapshot{}, false
	}
	return *r.snapshot, true
}

// FilterByKind returns the snapshot's calculations of the given kind in
// their original insertion order. Static calculations are not registry
// collections, so CalcKindStatic yields nil.
func FilterByKind(snap Snapshot, kind domain.CalcKind) []domain.AvailableCalculation {
	switch kind {
	case domain.CalcKindUser:
		return snap.User
	case domain.CalcKindSystem:
		return snap.System
	default:
		return nil
	}
}

// buildSnapshot narrows the set to groupLevel (if given) and derives the
// summary counts.
func buildSnapshot(set domain.CalculationSet, groupLevel string, now time.Time) Snapshot {
	snap := Snapshot{
		User:       filterGroupLevel(set.User, groupLevel),
		System:     filterGroupLevel(set.System, groupLevel),
		GroupLevel: groupLevel,
		LoadedAt:   now,
	}

	snap.Summary.UserCount = len(snap.User)
	snap.Summary.SystemCount = len(snap.System)
	snap.Summary.Total = snap.Summary.UserCount + snap.Summary.SystemCount
	for _, calc := range snap.User {
		if calc.InUse {
			snap.Summary.UserInUse++
		}
	}
	for _, calc := range snap.System {
		if calc.InUse {
			snap.Summary.SystemInUse++
		}
	}
	snap.Summary.InUseTotal = snap.Summary.UserInUse + snap.Summary.SystemInUse
	return snap
}

func filterGroupLevel(calcs []domain.AvailableCalculation, groupLevel string) []domain.AvailableCalculation {
	if groupLevel == "" {
		return calcs
	}
	var out []domain.AvailableCalculation
	for _, calc := range calcs {
		if string(calc.GroupLevel) == groupLevel {
			out = append(out, calc)
		}
	}
	return out
}
