package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

// stubSource returns canned calculation sets and counts its calls. An
// optional gate channel blocks each fetch until released, for exercising the
// in-flight dedup.
type stubSource struct {
	mu    sync.Mutex
	calls int
	set   domain.CalculationSet
	err   error
	gate  chan struct{}
}

func (s *stubSource) GetAllCalculations(ctx context.Context, groupLevel string) (domain.CalculationSet, error) {
	s.mu.Lock()
	s.calls++
	gate, fetchErr, set := s.gate, s.err, s.set
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.CalculationSet{}, ctx.Err()
		}
	}
	if fetchErr != nil {
		return domain.CalculationSet{}, fetchErr
	}
	return set, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func calc(kind domain.CalcKind, id string, level domain.GroupLevel, inUse bool) domain.AvailableCalculation {
	return domain.AvailableCalculation{
		Ref:        domain.CalcRef{Kind: kind, Identifier: id},
		Name:       id,
		GroupLevel: level,
		InUse:      inUse,
	}
}

func testSet() domain.CalculationSet {
	return domain.CalculationSet{
		User: []domain.AvailableCalculation{
			calc(domain.CalcKindUser, "wavg_coupon", domain.GroupLevelDeal, true),
			calc(domain.CalcKindUser, "sum_balance", domain.GroupLevelAsset, false),
			calc(domain.CalcKindUser, "max_ltv", domain.GroupLevelDeal, false),
		},
		System: []domain.AvailableCalculation{
			calc(domain.CalcKindSystem, "delinquency_rate", domain.GroupLevelDeal, true),
			calc(domain.CalcKindSystem, "pool_factor", domain.GroupLevelDeal, true),
		},
	}
}

func TestLoad_SummaryCounts(t *testing.T) {
	src := &stubSource{set: testSet()}
	reg := New(src, nil)

	snap, err := reg.Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Summary.UserCount)
	assert.Equal(t, 2, snap.Summary.SystemCount)
	assert.Equal(t, snap.Summary.UserCount+snap.Summary.SystemCount, snap.Summary.Total)
	assert.Equal(t, 1, snap.Summary.UserInUse)
	assert.Equal(t, 2, snap.Summary.SystemInUse)
	assert.Equal(t, 3, snap.Summary.InUseTotal)
	assert.LessOrEqual(t, snap.Summary.UserInUse, snap.Summary.UserCount)
	assert.LessOrEqual(t, snap.Summary.SystemInUse, snap.Summary.SystemCount)
	assert.False(t, snap.LoadedAt.IsZero())
}

func TestLoad_GroupLevelFilter(t *testing.T) {
	src := &stubSource{set: testSet()}
	reg := New(src, nil)

	snap, err := reg.Load(context.Background(), "deal")
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Summary.UserCount)
	assert.Equal(t, 2, snap.Summary.SystemCount)
	assert.Equal(t, 4, snap.Summary.Total)
	for _, c := range append(snap.User, snap.System...) {
		assert.Equal(t, domain.GroupLevelDeal, c.GroupLevel)
	}
}

func TestLoad_InvalidGroupLevel(t *testing.T) {
	reg := New(&stubSource{}, nil)
	_, err := reg.Load(context.Background(), "portfolio")
	assert.Error(t, err)
}

func TestLoad_FailureRetainsPreviousSnapshot(t *testing.T) {
	src := &stubSource{set: testSet()}
	reg := New(src, nil)

	first, err := reg.Load(context.Background(), "")
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	_, err = reg.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrAggregationUnavailable)

	cur, ok := reg.Current()
	require.True(t, ok)
	assert.Equal(t, first.Summary, cur.Summary)
}

func TestLoad_NoSnapshotBeforeFirstSuccess(t *testing.T) {
	reg := New(&stubSource{err: errors.New("down")}, nil)

	_, err := reg.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrAggregationUnavailable)

	_, ok := reg.Current()
	assert.False(t, ok)
}

func TestLoad_ConcurrentCallsShareOneFetch(t *testing.T) {
	src := &stubSource{set: testSet(), gate: make(chan struct{})}
	reg := New(src, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = reg.Load(context.Background(), "")
		}(i)
	}

	// Let all callers reach the registry before releasing the fetch.
	require.Eventually(t, func() bool { return src.callCount() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.callCount())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Summary, results[i].Summary)
	}
}

func TestLoad_StaleFetchDoesNotOverwriteNewer(t *testing.T) {
	gate := make(chan struct{})
	src := &stubSource{set: testSet(), gate: gate}
	reg := New(src, nil)

	// Start a slow fetch for asset-level calculations.
	staleDone := make(chan struct{})
	go func() {
		defer close(staleDone)
		_, _ = reg.Load(context.Background(), "asset")
	}()
	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, time.Millisecond)

	// A newer fetch for a different group level completes first.
	src.mu.Lock()
	src.gate = nil
	src.mu.Unlock()
	fresh, err := reg.Load(context.Background(), "deal")
	require.NoError(t, err)

	// Release the stale fetch; its result must not replace the fresh one.
	close(gate)
	<-staleDone

	cur, ok := reg.Current()
	require.True(t, ok)
	assert.Equal(t, "deal", cur.GroupLevel)
	assert.Equal(t, fresh.Summary, cur.Summary)
}

func TestFilterByKind(t *testing.T) {
	src := &stubSource{set: testSet()}
	reg := New(src, nil)
	snap, err := reg.Load(context.Background(), "")
	require.NoError(t, err)

	user := FilterByKind(snap, domain.CalcKindUser)
	require.Len(t, user, 3)
	assert.Equal(t, "wavg_coupon", user[0].Ref.Identifier)
	assert.Equal(t, "sum_balance", user[1].Ref.Identifier)
	assert.Equal(t, "max_ltv", user[2].Ref.Identifier)

	system := FilterByKind(snap, domain.CalcKindSystem)
	require.Len(t, system, 2)
	assert.Equal(t, "delinquency_rate", system[0].Ref.Identifier)

	assert.Nil(t, FilterByKind(snap, domain.CalcKindStatic))
}
