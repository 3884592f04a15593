// Package domain defines the core business types shared across latticed.
// These types represent the platform's data model — not HTTP or persistence
// specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses. When the API shape diverges from the domain type (computed
// fields, omitted internal fields), define a response struct in the api
// package instead.
package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyExists indicates a create operation conflicted with an existing resource.
var ErrAlreadyExists = errors.New("resource already exists")

// GroupLevel is the aggregation granularity a calculation applies to.
type GroupLevel string

const (
	GroupLevelDeal  GroupLevel = "deal"
	GroupLevelAsset GroupLevel = "asset"
)

// ValidGroupLevel checks if a string is a valid group level.
func ValidGroupLevel(s string) bool {
	switch GroupLevel(s) {
	case GroupLevelDeal, GroupLevelAsset:
		return true
	}
	return false
}

// UserCalcMeta is the metadata specific to user-defined calculations:
// a runtime aggregation over a source model's field, optionally weighted.
type UserCalcMeta struct {
	SourceModel     string  `json:"source_model"`
	AggregationFunc string  `json:"aggregation_func"`
	WeightField     *string `json:"weight_field,omitempty"`
}

// StaticCalcMeta is the metadata specific to static calculations:
// a direct passthrough of a stored field.
type StaticCalcMeta struct {
	FieldPath string `json:"field_path"`
}

// AvailableCalculation is a named calculation exposed by the aggregation
// engine. Exactly one of User/Static is set depending on Ref.Kind; system
// calculations carry no metadata beyond the reference itself. Immutable once
// retrieved — the registry owns it for the duration of one snapshot.
type AvailableCalculation struct {
	Ref         CalcRef    `json:"ref"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	GroupLevel  GroupLevel `json:"group_level"`
	IsDefault   bool       `json:"is_default"`
	InUse       bool       `json:"in_use"`

	User   *UserCalcMeta   `json:"user,omitempty"`
	Static *StaticCalcMeta `json:"static,omitempty"`
}

// CalculationSet is the raw payload returned by the aggregation engine:
// user-defined and system-defined calculations as two disjoint ordered
// collections. Summary counts are derived locally, not trusted from the wire.
type CalculationSet struct {
	User   []AvailableCalculation `json:"user_calculations"`
	System []AvailableCalculation `json:"system_calculations"`
}

// Cycle is a reporting cycle choice offered by the aggregation engine.
type Cycle struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Report is a report configuration registered in the platform: a scope
// selection plus the calculation columns it renders.
type Report struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Owner        *string        `json:"owner"`
	Scope        ScopeSelection `json:"scope"`
	Calculations []CalcRef      `json:"calculations"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ScheduledReport wraps a report configuration in a recurrence rule.
// Parameters is a frozen snapshot of the report parameters at creation time;
// editing the underlying report does not retroactively change what a
// schedule fires. A scheduled report never auto-expires — it is mutated only
// via explicit update (toggle active, edit recurrence) or deleted.
type ScheduledReport struct {
	ID          uuid.UUID       `json:"id"`
	ReportID    uuid.UUID       `json:"report_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Recurrence  Recurrence      `json:"recurrence"`
	Active      bool            `json:"active"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	LastRunID   *uuid.UUID      `json:"last_run_id"`
	LastRunAt   *time.Time      `json:"last_run_at"`
	NextRunAt   *time.Time      `json:"next_run_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
