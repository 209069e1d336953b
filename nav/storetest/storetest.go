// Package storetest holds the behavioural checks every nav.Store adapter must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/nav-engine/nav"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) nav.Store

// Run exercises the full store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("SchemeInsertSkipsDuplicates", func(t *testing.T) { testSchemeInsertSkipsDuplicates(t, newStore(t)) })
	t.Run("GetSchemeNotFound", func(t *testing.T) { testGetSchemeNotFound(t, newStore(t)) })
	t.Run("UpsertLatestOverwrites", func(t *testing.T) { testUpsertLatestOverwrites(t, newStore(t)) })
	t.Run("HistoryIdempotent", func(t *testing.T) { testHistoryIdempotent(t, newStore(t)) })
	t.Run("HistoryNewestFirst", func(t *testing.T) { testHistoryNewestFirst(t, newStore(t)) })
	t.Run("InsertHistorySkipsDuplicates", func(t *testing.T) { testInsertHistorySkipsDuplicates(t, newStore(t)) })
	t.Run("AddUnitsIncrements", func(t *testing.T) { testAddUnitsIncrements(t, newStore(t)) })
	t.Run("RemoveMissingHolding", func(t *testing.T) { testRemoveMissingHolding(t, newStore(t)) })
	t.Run("DistinctSchemesFirstSeenOrder", func(t *testing.T) { testDistinctSchemesFirstSeenOrder(t, newStore(t)) })
	t.Run("ValuedHoldingsLeftJoin", func(t *testing.T) { testValuedHoldingsLeftJoin(t, newStore(t)) })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var at = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testSchemeInsertSkipsDuplicates(t *testing.T, s nav.Store) {
	ctx := context.Background()

	n, err := s.InsertSchemes(ctx, []nav.Scheme{
		{Code: 100, Name: "Alpha Fund", House: "Alpha AMC"},
		{Code: 101, Name: "Beta Fund", House: nav.UnknownHouse},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-sync with one new and one existing
	n, err = s.InsertSchemes(ctx, []nav.Scheme{
		{Code: 100, Name: "Renamed", House: "Other"},
		{Code: 102, Name: "Gamma Fund", House: "Gamma AMC"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountSchemes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := s.GetScheme(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Fund", got.Name, "existing scheme must not be rewritten")
	assert.Equal(t, "Alpha AMC", got.House)
}

func testGetSchemeNotFound(t *testing.T, s nav.Store) {
	_, err := s.GetScheme(context.Background(), 999)
	assert.ErrorIs(t, err, nav.ErrSchemeNotFound)

	_, err = s.GetLatest(context.Background(), 999)
	assert.ErrorIs(t, err, nav.ErrPriceNotFound)
}

func testUpsertLatestOverwrites(t *testing.T, s nav.Store) {
	ctx := context.Background()

	first := nav.LatestPrice{Code: 100, Price: dec("10.5"), Date: nav.NewNavDate(2024, 3, 1), RefreshedAt: at}
	second := nav.LatestPrice{Code: 100, Price: dec("11.25"), Date: nav.NewNavDate(2024, 3, 2), RefreshedAt: at.Add(24 * time.Hour)}

	require.NoError(t, s.UpsertLatest(ctx, first))
	require.NoError(t, s.UpsertLatest(ctx, second))

	got, err := s.GetLatest(ctx, 100)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(dec("11.25")), "got %s", got.Price)
	assert.True(t, got.Date.Equal(second.Date))
	assert.True(t, got.RefreshedAt.Equal(second.RefreshedAt))

	count, err := s.CountLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testHistoryIdempotent(t *testing.T, s nav.Store) {
	// GIVEN: A history row for (100, 01-03-2024) at 10.00
	// WHEN: The same key is observed again with a different price
	// THEN: One row, original price kept
	ctx := context.Background()
	date := nav.NewNavDate(2024, 3, 1)

	inserted, err := s.UpsertHistoryIfAbsent(ctx, nav.PriceRecord{Code: 100, Date: date, Price: dec("10.00"), CreatedAt: at})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertHistoryIfAbsent(ctx, nav.PriceRecord{Code: 100, Date: date, Price: dec("99.00"), CreatedAt: at})
	require.NoError(t, err)
	assert.False(t, inserted)

	recs, err := s.History(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Price.Equal(dec("10")), "got %s", recs[0].Price)

	count, err := s.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testHistoryNewestFirst(t *testing.T, s nav.Store) {
	ctx := context.Background()

	// Dates chosen so DD-MM-YYYY string order differs from calendar order
	dates := []nav.NavDate{
		nav.NewNavDate(2023, 12, 31),
		nav.NewNavDate(2024, 1, 2),
		nav.NewNavDate(2024, 1, 15),
		nav.NewNavDate(2024, 2, 1),
	}
	for i, d := range dates {
		_, err := s.UpsertHistoryIfAbsent(ctx, nav.PriceRecord{
			Code: 7, Date: d, Price: decimal.NewFromInt(int64(i + 1)), CreatedAt: at,
		})
		require.NoError(t, err)
	}

	recs, err := s.History(ctx, 7, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "01-02-2024", recs[0].Date.String())
	assert.Equal(t, "15-01-2024", recs[1].Date.String())
	assert.Equal(t, "02-01-2024", recs[2].Date.String())
}

func testInsertHistorySkipsDuplicates(t *testing.T, s nav.Store) {
	ctx := context.Background()

	_, err := s.UpsertHistoryIfAbsent(ctx, nav.PriceRecord{Code: 5, Date: nav.NewNavDate(2024, 3, 2), Price: dec("1"), CreatedAt: at})
	require.NoError(t, err)

	n, err := s.InsertHistory(ctx, []nav.PriceRecord{
		{Code: 5, Date: nav.NewNavDate(2024, 3, 3), Price: dec("3"), CreatedAt: at},
		{Code: 5, Date: nav.NewNavDate(2024, 3, 2), Price: dec("2"), CreatedAt: at},
		{Code: 5, Date: nav.NewNavDate(2024, 3, 1), Price: dec("1.5"), CreatedAt: at},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := s.History(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[1].Price.Equal(dec("1")), "existing row must keep its price")
}

func testAddUnitsIncrements(t *testing.T, s nav.Store) {
	// GIVEN: No holding for (u1, 100)
	// WHEN: Add 10 then 5.5 units
	// THEN: One holding with 15.5 units
	ctx := context.Background()

	h, created, err := s.AddUnits(ctx, "u1", 100, dec("10"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, h.Units.Equal(dec("10")))

	h, created, err = s.AddUnits(ctx, "u1", 100, dec("5.5"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, h.Units.Equal(dec("15.5")), "got %s", h.Units)

	list, err := s.ListHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Units.Equal(dec("15.5")))
	assert.Equal(t, nav.SchemeCode(100), list[0].Code)

	other, err := s.ListHoldings(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testRemoveMissingHolding(t *testing.T, s nav.Store) {
	ctx := context.Background()

	_, _, err := s.AddUnits(ctx, "u1", 100, dec("1"))
	require.NoError(t, err)

	err = s.RemoveHolding(ctx, "u1", 200)
	assert.ErrorIs(t, err, nav.ErrHoldingNotFound)
	err = s.RemoveHolding(ctx, "u2", 100)
	assert.ErrorIs(t, err, nav.ErrHoldingNotFound)

	list, err := s.ListHoldings(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1, "failed remove must not mutate")

	require.NoError(t, s.RemoveHolding(ctx, "u1", 100))
	list, err = s.ListHoldings(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testDistinctSchemesFirstSeenOrder(t *testing.T, s nav.Store) {
	ctx := context.Background()

	codes, err := s.FindHolderSchemeIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, codes)

	add := func(user string, code nav.SchemeCode) {
		_, _, err := s.AddUnits(ctx, user, code, dec("1"))
		require.NoError(t, err)
	}
	add("u1", 300)
	add("u2", 100)
	add("u2", 300)
	add("u3", 200)
	add("u1", 100)

	codes, err = s.FindHolderSchemeIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []nav.SchemeCode{300, 100, 200}, codes)
}

func testValuedHoldingsLeftJoin(t *testing.T, s nav.Store) {
	ctx := context.Background()

	_, err := s.InsertSchemes(ctx, []nav.Scheme{{Code: 100, Name: "Alpha Fund", House: "Alpha AMC"}})
	require.NoError(t, err)
	require.NoError(t, s.UpsertLatest(ctx, nav.LatestPrice{
		Code: 100, Price: dec("50"), Date: nav.NewNavDate(2024, 3, 1), RefreshedAt: at,
	}))

	_, _, err = s.AddUnits(ctx, "u1", 100, dec("10"))
	require.NoError(t, err)
	_, _, err = s.AddUnits(ctx, "u1", 555, dec("2"))
	require.NoError(t, err)

	rows, err := s.ValuedHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, nav.SchemeCode(100), rows[0].Holding.Code)
	require.NotNil(t, rows[0].Scheme)
	assert.Equal(t, "Alpha Fund", rows[0].Scheme.Name)
	require.NotNil(t, rows[0].Latest)
	assert.True(t, rows[0].Latest.Price.Equal(dec("50")))
	assert.Equal(t, "01-03-2024", rows[0].Latest.Date.String())

	assert.Equal(t, nav.SchemeCode(555), rows[1].Holding.Code)
	assert.Nil(t, rows[1].Scheme)
	assert.Nil(t, rows[1].Latest)
}
