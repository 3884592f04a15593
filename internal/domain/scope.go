package domain

import (
	"errors"
	"fmt"
	"slices"
)

// Scope is the granularity a report operates at.
type Scope string

const (
	ScopeDeal    Scope = "deal"
	ScopeTranche Scope = "tranche"
)

// ValidScope checks if a string is a valid report scope.
func ValidScope(s string) bool {
	switch Scope(s) {
	case ScopeDeal, ScopeTranche:
		return true
	}
	return false
}

// Scope selection errors.
var (
	ErrDealNotSelected = errors.New("deal is not selected")
	ErrInvalidScope    = errors.New("invalid scope selection")
)

// ScopeSelection is the hierarchical deal→tranche selection of a report.
// Deals is an insertion-ordered set; Tranches maps a selected deal to the
// tranches selected under it. Every key in Tranches must also be in Deals,
// and at deal scope the tranche mapping must be empty.
//
// All operations are pure transformations returning a fresh value — the
// receiver is never mutated, so snapshots compare with reflect.DeepEqual and
// undo/redo is a matter of keeping old values around.
type ScopeSelection struct {
	Scope    Scope               `json:"scope"`
	Deals    []string            `json:"deals"`
	Tranches map[string][]string `json:"tranches,omitempty"`
}

// NewScopeSelection returns an empty selection at the given scope.
func NewScopeSelection(scope Scope) ScopeSelection {
	return ScopeSelection{Scope: scope}
}

// clone deep-copies the selection so transformations never alias the input.
func (s ScopeSelection) clone() ScopeSelection {
	out := ScopeSelection{Scope: s.Scope}
	if len(s.Deals) > 0 {
		out.Deals = slices.Clone(s.Deals)
	}
	if len(s.Tranches) > 0 {
		out.Tranches = make(map[string][]string, len(s.Tranches))
		for deal, tranches := range s.Tranches {
			out.Tranches[deal] = slices.Clone(tranches)
		}
	}
	return out
}

// SelectDeal adds dealID to the selection set. No-op if already present.
func (s ScopeSelection) SelectDeal(dealID string) ScopeSelection {
	if slices.Contains(s.Deals, dealID) {
		return s
	}
	out := s.clone()
	out.Deals = append(out.Deals, dealID)
	return out
}

// DeselectDeal removes dealID and, atomically, any tranche entry keyed by it.
func (s ScopeSelection) DeselectDeal(dealID string) ScopeSelection {
	if !slices.Contains(s.Deals, dealID) {
		return s
	}
	out := s.clone()
	i := slices.Index(out.Deals, dealID)
	out.Deals = slices.Delete(out.Deals, i, i+1)
	delete(out.Tranches, dealID)
	if len(out.Tranches) == 0 {
		out.Tranches = nil
	}
	return out
}

// ToggleTranche adds or removes trancheID under dealID. The parent deal must
// already be selected; toggling under an unselected deal fails with
// ErrDealNotSelected. When the last tranche of a deal is removed the map
// entry is removed entirely.
func (s ScopeSelection) ToggleTranche(dealID, trancheID string) (ScopeSelection, error) {
	if !slices.Contains(s.Deals, dealID) {
		return ScopeSelection{}, fmt.Errorf("%w: %q", ErrDealNotSelected, dealID)
	}

	out := s.clone()
	tranches := out.Tranches[dealID]
	if i := slices.Index(tranches, trancheID); i >= 0 {
		tranches = slices.Delete(tranches, i, i+1)
		if len(tranches) == 0 {
			delete(out.Tranches, dealID)
			if len(out.Tranches) == 0 {
				out.Tranches = nil
			}
			return out, nil
		}
		out.Tranches[dealID] = tranches
		return out, nil
	}

	if out.Tranches == nil {
		out.Tranches = make(map[string][]string)
	}
	out.Tranches[dealID] = append(tranches, trancheID)
	return out, nil
}

// SetScope changes the selection granularity. Narrowing from tranche to deal
// clears the entire tranche mapping — tranche selection has no meaning at
// deal scope.
func (s ScopeSelection) SetScope(scope Scope) ScopeSelection {
	out := s.clone()
	out.Scope = scope
	if scope == ScopeDeal {
		out.Tranches = nil
	}
	return out
}

// Validate re-checks the structural invariants: a known scope, every tranche
// entry owned by a selected deal, and an empty tranche mapping at deal scope.
// Called before a selection is persisted as part of a report configuration.
func (s ScopeSelection) Validate() error {
	if !ValidScope(string(s.Scope)) {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, s.Scope)
	}
	if s.Scope == ScopeDeal && len(s.Tranches) > 0 {
		return fmt.Errorf("%w: tranche selection present at deal scope", ErrInvalidScope)
	}
	for deal := range s.Tranches {
		if !slices.Contains(s.Deals, deal) {
			return fmt.Errorf("%w: tranches selected under unselected deal %q", ErrInvalidScope, deal)
		}
	}
	return nil
}
