package valuation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/nav/store"
	"github.com/warp/nav-engine/valuation"
)

func insertScheme(t *testing.T, s nav.Store, code nav.SchemeCode) {
	t.Helper()
	_, err := s.InsertSchemes(context.Background(), []nav.Scheme{{Code: code, Name: "Growth Fund", House: "House"}})
	require.NoError(t, err)
}

// =============================================================================
// SCHEME HISTORY TESTS
// =============================================================================

func TestSchemeHistory_StoredSeries(t *testing.T) {
	// GIVEN: Two stored history rows and a latest snapshot
	mem := store.NewMemory()
	insertScheme(t, mem, 100)
	ctx := context.Background()
	_, err := mem.InsertHistory(ctx, []nav.PriceRecord{
		{Code: 100, Price: d("10"), Date: nav.NewNavDate(2024, 3, 1), CreatedAt: fixedNow},
		{Code: 100, Price: d("11"), Date: nav.NewNavDate(2024, 3, 4), CreatedAt: fixedNow},
	})
	require.NoError(t, err)
	require.NoError(t, mem.UpsertLatest(ctx, nav.LatestPrice{Code: 100, Price: d("11"), Date: nav.NewNavDate(2024, 3, 4), RefreshedAt: fixedNow}))

	src := &MockPriceSource{}

	// WHEN: History is requested
	report, err := newEngine(mem, src).SchemeHistory(ctx, 100)
	require.NoError(t, err)

	// THEN: Newest first, no upstream call
	assert.Equal(t, "Growth Fund", report.Name)
	assert.Equal(t, "11", report.CurrentNAV.String())
	assert.Equal(t, "04-03-2024", report.AsOn)
	require.Len(t, report.History, 2)
	assert.Equal(t, "04-03-2024", report.History[0].Date.String())
	assert.Equal(t, "01-03-2024", report.History[1].Date.String())
	src.AssertNotCalled(t, "FetchHistory", mock.Anything, mock.Anything, mock.Anything)
}

func TestSchemeHistory_BackfillsOnFirstUse(t *testing.T) {
	mem := store.NewMemory()
	insertScheme(t, mem, 100)

	src := &MockPriceSource{}
	src.On("FetchHistory", mock.Anything, nav.SchemeCode(100), valuation.HistoryLimit).Return([]nav.Quote{
		{Price: d("12.5"), Date: nav.NewNavDate(2024, 3, 4)},
		{Price: d("12.1"), Date: nav.NewNavDate(2024, 3, 1)},
		{Price: d("12.0"), Date: nav.NewNavDate(2024, 2, 29)},
	}, nil).Once()

	ctx := context.Background()
	report, err := newEngine(mem, src).SchemeHistory(ctx, 100)
	require.NoError(t, err)

	assert.Len(t, report.History, 3)
	assert.Equal(t, "12.5", report.CurrentNAV.String())
	assert.Equal(t, "04-03-2024", report.AsOn)

	count, err := mem.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Second read serves from storage
	_, err = newEngine(mem, src).SchemeHistory(ctx, 100)
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "FetchHistory", 1)
}

func TestSchemeHistory_FetchFailureYieldsEmpty(t *testing.T) {
	mem := store.NewMemory()
	insertScheme(t, mem, 100)

	src := &MockPriceSource{}
	src.On("FetchHistory", mock.Anything, nav.SchemeCode(100), valuation.HistoryLimit).
		Return(nil, &nav.FetchError{Code: 100, Op: "fetch history", Err: errors.New("boom")})

	report, err := newEngine(mem, src).SchemeHistory(context.Background(), 100)
	require.NoError(t, err)

	assert.Empty(t, report.History)
	assert.True(t, report.CurrentNAV.IsZero())
	assert.Equal(t, valuation.NotAvailable, report.AsOn)
}

func TestSchemeHistory_UnknownScheme(t *testing.T) {
	_, err := newEngine(store.NewMemory(), nil).SchemeHistory(context.Background(), 424242)
	assert.ErrorIs(t, err, nav.ErrSchemeNotFound)
}

func TestSchemeHistory_InvalidCode(t *testing.T) {
	_, err := newEngine(store.NewMemory(), nil).SchemeHistory(context.Background(), 0)
	assert.ErrorIs(t, err, nav.ErrValidation)
}

// =============================================================================
// REFRESH SCHEME TESTS
// =============================================================================

func TestRefreshScheme_StoresLatestAndHistory(t *testing.T) {
	mem := store.NewMemory()
	insertScheme(t, mem, 100)

	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).
		Return(nav.Quote{Price: d("101.25"), Date: nav.NewNavDate(2024, 3, 4)}, nil)

	ctx := context.Background()
	latest, err := newEngine(mem, src).RefreshScheme(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "101.25", latest.Price.String())

	stored, err := mem.GetLatest(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "101.25", stored.Price.String())

	history, err := mem.History(ctx, 100, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRefreshScheme_SurfacesUpstreamError(t *testing.T) {
	mem := store.NewMemory()
	src := &MockPriceSource{}
	src.On("FetchLatest", mock.Anything, nav.SchemeCode(100)).
		Return(nav.Quote{}, &nav.FetchError{Code: 100, Op: "fetch latest", Err: errors.New("503")})

	_, err := newEngine(mem, src).RefreshScheme(context.Background(), 100)
	assert.ErrorIs(t, err, nav.ErrUpstreamFetch)

	_, err = mem.GetLatest(context.Background(), 100)
	assert.ErrorIs(t, err, nav.ErrPriceNotFound)
}

func TestRefreshScheme_NoSource(t *testing.T) {
	_, err := newEngine(store.NewMemory(), nil).RefreshScheme(context.Background(), 100)
	assert.True(t, nav.IsUpstream(err))
}
