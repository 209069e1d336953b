package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/nav-engine/ingest"
	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/nav/store"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// MockPriceSource is a mock implementation of nav.PriceSource for testing
type MockPriceSource struct {
	mock.Mock
}

func (m *MockPriceSource) FetchLatest(ctx context.Context, code nav.SchemeCode) (nav.Quote, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(nav.Quote), args.Error(1)
}

func (m *MockPriceSource) FetchHistory(ctx context.Context, code nav.SchemeCode, limit int) ([]nav.Quote, error) {
	args := m.Called(ctx, code, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]nav.Quote), args.Error(1)
}

// failingStore fails selected writes on top of the memory store.
type failingStore struct {
	*store.Memory
	failLatest  map[nav.SchemeCode]bool
	failHistory map[nav.SchemeCode]bool
	failList    error
}

func (f *failingStore) UpsertLatest(ctx context.Context, p nav.LatestPrice) error {
	if f.failLatest[p.Code] {
		return errors.New("disk full")
	}
	return f.Memory.UpsertLatest(ctx, p)
}

func (f *failingStore) UpsertHistoryIfAbsent(ctx context.Context, r nav.PriceRecord) (bool, error) {
	if f.failHistory[r.Code] {
		return false, errors.New("disk full")
	}
	return f.Memory.UpsertHistoryIfAbsent(ctx, r)
}

func (f *failingStore) FindHolderSchemeIDs(ctx context.Context) ([]nav.SchemeCode, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	return f.Memory.FindHolderSchemeIDs(ctx)
}

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC)

func quote(price string, day int) nav.Quote {
	return nav.Quote{Price: decimal.RequireFromString(price), Date: nav.NewNavDate(2024, 3, day)}
}

func holdSchemes(t *testing.T, s nav.HoldingStore, codes ...nav.SchemeCode) {
	t.Helper()
	for _, code := range codes {
		_, _, err := s.AddUnits(context.Background(), "u1", code, decimal.NewFromInt(1))
		require.NoError(t, err)
	}
}

func newIngestor(s nav.Store, src nav.PriceSource, opts ...ingest.Option) *ingest.Ingestor {
	base := []ingest.Option{
		ingest.WithClock(func() time.Time { return fixedNow }),
		ingest.WithSleep(func(time.Duration) {}),
		ingest.WithConfig(ingest.Config{BatchSize: 10, BatchPause: time.Second, ManualLimit: 5, ManualDelay: time.Millisecond}),
	}
	return ingest.NewIngestor(s, s, src, append(base, opts...)...)
}

// =============================================================================
// CYCLE TESTS
// =============================================================================

func TestRunCycle_OneSuccessOneFailure(t *testing.T) {
	// GIVEN: Holdings in schemes 100 and 101
	// WHEN: 100 fetches fine and 101 fails
	// THEN: {succeeded 1, failed 1} and a LatestPrice only for 100
	mem := store.NewMemory()
	holdSchemes(t, mem, 100, 101)

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).Return(quote("50", 5), nil)
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(101)).
		Return(nav.Quote{}, &nav.FetchError{Code: 101, Op: "fetch latest", Err: errors.New("timeout")})

	result, err := newIngestor(mem, src).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Schemes)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, nav.SchemeCode(101), result.Failures[0].Code)
	assert.Equal(t, ingest.StageFetch, result.Failures[0].Stage)
	assert.Equal(t, 1, result.LatestTotal)
	assert.Equal(t, 1, result.HistoryTotal)
	assert.NotEmpty(t, result.RunID)

	lp, err := mem.GetLatest(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, lp.Price.Equal(decimal.NewFromInt(50)))
	assert.True(t, lp.RefreshedAt.Equal(fixedNow))

	_, err = mem.GetLatest(context.Background(), 101)
	assert.ErrorIs(t, err, nav.ErrPriceNotFound)

	src.AssertExpectations(t)
}

func TestRunCycle_FailuresLeaveLatestUnchanged(t *testing.T) {
	// GIVEN: 5 held schemes, each with an old LatestPrice
	// WHEN: 2 of them fail (one at fetch, one at the latest upsert)
	// THEN: 3 succeed, 2 fail, and the failed schemes keep the old snapshot
	mem := store.NewMemory()
	fs := &failingStore{Memory: mem, failLatest: map[nav.SchemeCode]bool{4: true}}
	holdSchemes(t, fs, 1, 2, 3, 4, 5)

	old := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, code := range []nav.SchemeCode{1, 2, 3, 4, 5} {
		require.NoError(t, mem.UpsertLatest(context.Background(), nav.NewLatestPrice(code, quote("10", 1), old)))
	}

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(2)).Return(nav.Quote{}, &nav.FetchError{Code: 2, Err: errors.New("502")})
	src.On("FetchLatest", mock.Anything, mock.Anything).Return(quote("11", 5), nil)

	result, err := newIngestor(fs, src).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 2, result.Failed)

	stages := map[nav.SchemeCode]ingest.Stage{}
	for _, f := range result.Failures {
		stages[f.Code] = f.Stage
	}
	assert.Equal(t, map[nav.SchemeCode]ingest.Stage{2: ingest.StageFetch, 4: ingest.StageLatest}, stages)

	for _, code := range []nav.SchemeCode{2, 4} {
		lp, err := mem.GetLatest(context.Background(), code)
		require.NoError(t, err)
		assert.True(t, lp.Price.Equal(decimal.NewFromInt(10)), "scheme %d changed", code)
		assert.True(t, lp.RefreshedAt.Equal(old))
	}

	// Failed latest upsert must not write history either
	recs, err := mem.History(context.Background(), 4, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunCycle_HistoryFailureCountsAsFailure(t *testing.T) {
	mem := store.NewMemory()
	fs := &failingStore{Memory: mem, failHistory: map[nav.SchemeCode]bool{100: true}}
	holdSchemes(t, fs, 100)

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).Return(quote("50", 5), nil)

	result, err := newIngestor(fs, src).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, ingest.StageHistory, result.Failures[0].Stage)

	// Snapshot was written before the history stage failed
	lp, err := mem.GetLatest(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "50", lp.Price.String())
	assert.Equal(t, "05-03-2024", lp.Date.String())

	recs, err := mem.History(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunCycle_HistoryIdempotent(t *testing.T) {
	// GIVEN: A cycle already recorded the 05-03-2024 NAV
	// WHEN: A second cycle sees the same date (with a corrected price)
	// THEN: History keeps one row; the snapshot takes the new price
	mem := store.NewMemory()
	holdSchemes(t, mem, 100)

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).Return(quote("50", 5), nil).Once()
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).Return(quote("51", 5), nil).Once()

	ing := newIngestor(mem, src)
	first, err := ing.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.NewHistory)

	second, err := ing.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Succeeded)
	assert.Equal(t, 0, second.NewHistory)
	assert.Equal(t, 1, second.HistoryTotal)

	recs, err := mem.History(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Price.Equal(decimal.NewFromInt(50)))

	lp, err := mem.GetLatest(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, lp.Price.Equal(decimal.NewFromInt(51)))
}

func TestRunCycle_NoHoldings(t *testing.T) {
	mem := store.NewMemory()
	src := &MockPriceSource{}

	ing := newIngestor(mem, src)
	result, err := ing.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Schemes)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	src.AssertNotCalled(t, "FetchLatest", mock.Anything, mock.Anything)
	assert.Same(t, result, ing.LastResult())
}

func TestRunCycle_ListFailureAborts(t *testing.T) {
	mem := store.NewMemory()
	fs := &failingStore{Memory: mem, failList: errors.New("connection reset")}
	src := &MockPriceSource{}

	ing := newIngestor(fs, src)
	result, err := ing.RunCycle(context.Background())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, nav.ErrFatalList)
	var listErr *nav.ListError
	assert.True(t, errors.As(err, &listErr))
	assert.Nil(t, ing.LastResult())
	assert.False(t, ing.Running(), "guard must be released")
}

func TestRunCycle_BatchPause(t *testing.T) {
	// GIVEN: 25 held schemes and batches of 10
	// THEN: Two pauses, before scheme 10 and before scheme 20
	mem := store.NewMemory()
	var codes []nav.SchemeCode
	for c := nav.SchemeCode(1); c <= 25; c++ {
		codes = append(codes, c)
	}
	holdSchemes(t, mem, codes...)

	var order []string
	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, mock.Anything).Return(quote("1", 5), nil).
		Run(func(args mock.Arguments) { order = append(order, args.Get(1).(nav.SchemeCode).String()) })

	var pauses []time.Duration
	sleep := func(d time.Duration) {
		pauses = append(pauses, d)
		order = append(order, "pause")
	}

	result, err := newIngestor(mem, src, ingest.WithSleep(sleep)).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, result.Succeeded)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, pauses)
	assert.Equal(t, "pause", order[10])
	assert.Equal(t, "11", order[11])
	assert.Equal(t, "pause", order[21])
	assert.Equal(t, "1", order[0], "first-seen order")
}

func TestRunCycle_IgnoresCancellation(t *testing.T) {
	mem := store.NewMemory()
	holdSchemes(t, mem, 100, 101)

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, mock.Anything).Return(quote("5", 5), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newIngestor(mem, src).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)

	for _, call := range src.Calls {
		callCtx := call.Arguments.Get(0).(context.Context)
		assert.NoError(t, callCtx.Err())
	}
}

// =============================================================================
// GUARD TESTS
// =============================================================================

func TestRunCycle_OverlapRejected(t *testing.T) {
	// GIVEN: A cycle blocked inside a fetch
	// WHEN: A second cycle and a manual run are requested
	// THEN: Both return ErrCycleInProgress; the first completes normally
	mem := store.NewMemory()
	holdSchemes(t, mem, 100)

	started := make(chan struct{})
	release := make(chan struct{})
	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).Return(quote("50", 5), nil).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).Once()

	ing := newIngestor(mem, src)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = ing.RunCycle(context.Background())
	}()

	<-started
	assert.True(t, ing.Running())

	_, err := ing.RunCycle(context.Background())
	assert.ErrorIs(t, err, nav.ErrCycleInProgress)
	_, err = ing.RunManual(context.Background())
	assert.ErrorIs(t, err, nav.ErrCycleInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, ing.Running())
	src.AssertNumberOfCalls(t, "FetchLatest", 1)
}

// =============================================================================
// MANUAL RUN TESTS
// =============================================================================

func TestRunManual_BoundedSubset(t *testing.T) {
	mem := store.NewMemory()
	holdSchemes(t, mem, 1, 2, 3, 4, 5, 6, 7)

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(3)).Return(nav.Quote{}, &nav.FetchError{Code: 3, Err: errors.New("404")})
	src.On("FetchLatest", mock.Anything, mock.Anything).Return(quote("9", 5), nil)

	ing := newIngestor(mem, src)
	result, err := ing.RunManual(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "Manual update completed: 4 successful, 1 failed", result.Message)
	src.AssertNumberOfCalls(t, "FetchLatest", 5)
	src.AssertNotCalled(t, "FetchLatest", mock.Anything, nav.SchemeCode(6))

	last := ing.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, ingest.TriggerManual, last.Trigger)
}

func TestRunManual_Paced(t *testing.T) {
	mem := store.NewMemory()
	holdSchemes(t, mem, 1, 2, 3)

	var calls []time.Time
	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, mock.Anything).Return(quote("9", 5), nil).
		Run(func(mock.Arguments) { calls = append(calls, time.Now()) })

	cfg := ingest.Config{BatchSize: 10, ManualLimit: 5, ManualDelay: 40 * time.Millisecond}
	_, err := newIngestor(mem, src, ingest.WithConfig(cfg)).RunManual(context.Background())
	require.NoError(t, err)

	require.Len(t, calls, 3)
	// Limiter spacing allows a little scheduling jitter
	assert.GreaterOrEqual(t, calls[2].Sub(calls[0]), 70*time.Millisecond)
}

func TestRunManual_NoSchemes(t *testing.T) {
	src := &MockPriceSource{}
	result, err := newIngestor(store.NewMemory(), src).RunManual(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, ingest.NoSchemesMessage, result.Message)
	src.AssertNotCalled(t, "FetchLatest", mock.Anything, mock.Anything)
}

func TestRunManual_ListFailure(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory(), failList: errors.New("boom")}
	_, err := newIngestor(fs, &MockPriceSource{}).RunManual(context.Background())
	assert.ErrorIs(t, err, nav.ErrFatalList)
}
