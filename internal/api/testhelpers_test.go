package api_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/domain"
	"github.com/lattice-data/lattice/platform/internal/registry"
)

// memoryReportStore is an in-memory ReportStore for tests.
type memoryReportStore struct {
	mu      sync.Mutex
	reports []domain.Report
}

func newMemoryReportStore() *memoryReportStore {
	return &memoryReportStore{}
}

func (m *memoryReportStore) filteredReports(filter api.ReportFilter) []domain.Report {
	var result []domain.Report
	for _, rep := range m.reports {
		if filter.Owner != "" && (rep.Owner == nil || *rep.Owner != filter.Owner) {
			continue
		}
		if filter.Scope != "" && string(rep.Scope.Scope) != filter.Scope {
			continue
		}
		result = append(result, rep)
	}
	return result
}

func (m *memoryReportStore) ListReports(_ context.Context, filter api.ReportFilter) ([]domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.filteredReports(filter)
	if filter.Limit > 0 {
		if filter.Offset >= len(result) {
			return []domain.Report{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[filter.Offset:end]
	}
	return result, nil
}

func (m *memoryReportStore) CountReports(_ context.Context, filter api.ReportFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.filteredReports(filter)), nil
}

func (m *memoryReportStore) GetReport(_ context.Context, id uuid.UUID) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rep := range m.reports {
		if rep.ID == id {
			return &rep, nil
		}
	}
	return nil, nil
}

func (m *memoryReportStore) CreateReport(_ context.Context, report *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rep := range m.reports {
		if rep.Name == report.Name {
			return domain.ErrAlreadyExists
		}
	}
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now
	m.reports = append(m.reports, *report)
	return nil
}

func (m *memoryReportStore) UpdateReport(_ context.Context, id uuid.UUID, update api.UpdateReportRequest) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.reports {
		if m.reports[i].ID != id {
			continue
		}
		if update.Description != nil {
			m.reports[i].Description = *update.Description
		}
		if update.Owner != nil {
			m.reports[i].Owner = update.Owner
		}
		if update.Scope != nil {
			m.reports[i].Scope = *update.Scope
		}
		if update.Calculations != nil {
			refs := make([]domain.CalcRef, 0, len(*update.Calculations))
			for _, token := range *update.Calculations {
				ref, err := domain.DecodeCalcRef(token)
				if err != nil {
					return nil, err
				}
				refs = append(refs, ref)
			}
			m.reports[i].Calculations = refs
		}
		m.reports[i].UpdatedAt = time.Now().UTC()
		rep := m.reports[i]
		return &rep, nil
	}
	return nil, nil
}

func (m *memoryReportStore) DeleteReport(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rep := range m.reports {
		if rep.ID == id {
			m.reports = append(m.reports[:i], m.reports[i+1:]...)
			return nil
		}
	}
	return nil
}

// memoryScheduleStore is an in-memory ScheduleStore for tests.
type memoryScheduleStore struct {
	mu        sync.Mutex
	schedules []domain.ScheduledReport
}

func newMemoryScheduleStore() *memoryScheduleStore {
	return &memoryScheduleStore{}
}

func (m *memoryScheduleStore) ListSchedules(_ context.Context, filter api.ScheduleFilter) ([]domain.ScheduledReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.ScheduledReport
	for _, s := range m.schedules {
		if filter.ReportID != nil && s.ReportID != *filter.ReportID {
			continue
		}
		if filter.Active != nil && s.Active != *filter.Active {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (m *memoryScheduleStore) GetSchedule(_ context.Context, id uuid.UUID) (*domain.ScheduledReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.schedules {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memoryScheduleStore) CreateSchedule(_ context.Context, schedule *domain.ScheduledReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	m.schedules = append(m.schedules, *schedule)
	return nil
}

func (m *memoryScheduleStore) UpdateSchedule(_ context.Context, id uuid.UUID, update api.UpdateScheduleRequest) (*domain.ScheduledReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.schedules {
		if m.schedules[i].ID != id {
			continue
		}
		if update.Description != nil {
			m.schedules[i].Description = *update.Description
		}
		if update.Recurrence != nil {
			rec, err := domain.NewRecurrence(
				domain.Frequency(update.Recurrence.Frequency),
				update.Recurrence.TimeOfDay,
				update.Recurrence.DayOfWeek,
				update.Recurrence.DayOfMonth,
			)
			if err != nil {
				return nil, err
			}
			m.schedules[i].Recurrence = rec
			m.schedules[i].NextRunAt = nil
		}
		if update.Active != nil {
			m.schedules[i].Active = *update.Active
		}
		m.schedules[i].UpdatedAt = time.Now().UTC()
		s := m.schedules[i]
		return &s, nil
	}
	return nil, nil
}

func (m *memoryScheduleStore) UpdateScheduleRun(_ context.Context, id uuid.UUID, lastRunID *uuid.UUID, lastRunAt *time.Time, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.schedules {
		if m.schedules[i].ID == id {
			if lastRunID != nil {
				m.schedules[i].LastRunID = lastRunID
			}
			if lastRunAt != nil {
				m.schedules[i].LastRunAt = lastRunAt
			}
			m.schedules[i].NextRunAt = &nextRunAt
			return nil
		}
	}
	return nil
}

func (m *memoryScheduleStore) DeleteSchedule(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.schedules {
		if s.ID == id {
			m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
			return nil
		}
	}
	return nil
}

// memoryExecutionStore is an in-memory ExecutionStore for tests.
type memoryExecutionStore struct {
	mu         sync.Mutex
	executions []domain.ReportExecution
}

func newMemoryExecutionStore() *memoryExecutionStore {
	return &memoryExecutionStore{}
}

func (m *memoryExecutionStore) filteredExecutions(filter api.ExecutionFilter) []domain.ReportExecution {
	var result []domain.ReportExecution
	for _, e := range m.executions {
		if filter.ReportID != nil && e.ReportID != *filter.ReportID {
			continue
		}
		if filter.Status != "" && string(e.Status) != filter.Status {
			continue
		}
		if filter.StartedAfter != nil && e.StartedAt.Before(*filter.StartedAfter) {
			continue
		}
		if filter.StartedBefore != nil && e.StartedAt.After(*filter.StartedBefore) {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (m *memoryExecutionStore) ListExecutions(_ context.Context, filter api.ExecutionFilter) ([]domain.ReportExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.filteredExecutions(filter)
	if filter.Limit > 0 {
		if filter.Offset >= len(result) {
			return []domain.ReportExecution{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[filter.Offset:end]
	}
	return result, nil
}

func (m *memoryExecutionStore) CountExecutions(_ context.Context, filter api.ExecutionFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.filteredExecutions(filter)), nil
}

func (m *memoryExecutionStore) GetExecution(_ context.Context, id uuid.UUID) (*domain.ReportExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.executions {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memoryExecutionStore) CreateExecution(_ context.Context, execution *domain.ReportExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	execution.CreatedAt = time.Now().UTC()
	m.executions = append(m.executions, *execution)
	return nil
}

func (m *memoryExecutionStore) UpdateExecution(_ context.Context, execution domain.ReportExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.executions {
		if m.executions[i].ID == execution.ID {
			m.executions[i] = execution
			return nil
		}
	}
	return nil
}

// stubRegistry is a canned CalculationRegistry for tests.
type stubRegistry struct {
	mu       sync.Mutex
	snapshot registry.Snapshot
	loadErr  error
	hasPrev  bool
	previous registry.Snapshot
}

func (s *stubRegistry) Load(_ context.Context, _ string) (registry.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return registry.Snapshot{}, s.loadErr
	}
	return s.snapshot, nil
}

func (s *stubRegistry) Current() (registry.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous, s.hasPrev
}

// stubCycleSource is a canned CycleSource for tests.
type stubCycleSource struct {
	mu     sync.Mutex
	cycles []domain.Cycle
	err    error
	calls  int
}

func (s *stubCycleSource) GetAvailableCycles(_ context.Context) ([]domain.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.cycles, nil
}

func (s *stubCycleSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubRunner records submitted executions for tests.
type stubRunner struct {
	mu        sync.Mutex
	submitted []uuid.UUID
	err       error
}

func (s *stubRunner) Submit(_ context.Context, execution *domain.ReportExecution, _ *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submitted = append(s.submitted, execution.ID)
	return nil
}

func (s *stubRunner) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

// memoryResultStore is an in-memory ResultStore for tests.
type memoryResultStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryResultStore() *memoryResultStore {
	return &memoryResultStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *memoryResultStore) put(path, contentType string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
	m.types[path] = contentType
}

func (m *memoryResultStore) ReadResult(_ context.Context, path string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, "", nil
	}
	return data, m.types[path], nil
}

// testStores bundles the in-memory stores behind a test server so tests can
// seed data and inspect side effects directly.
type testStores struct {
	reports    *memoryReportStore
	schedules  *memoryScheduleStore
	executions *memoryExecutionStore
	registry   *stubRegistry
	cycles     *stubCycleSource
	results    *memoryResultStore
	runner     *stubRunner
}

// newTestServer builds an api.Server backed entirely by in-memory stores.
func newTestServer() (*api.Server, *testStores) {
	stores := &testStores{
		reports:    newMemoryReportStore(),
		schedules:  newMemoryScheduleStore(),
		executions: newMemoryExecutionStore(),
		registry:   &stubRegistry{},
		cycles:     &stubCycleSource{},
		results:    newMemoryResultStore(),
		runner:     &stubRunner{},
	}
	srv := &api.Server{
		Reports:    stores.reports,
		Schedules:  stores.schedules,
		Executions: stores.executions,
		Registry:   stores.registry,
		Cycles:     stores.cycles,
		Results:    stores.results,
		Runner:     stores.runner,
	}
	return srv, stores
}
