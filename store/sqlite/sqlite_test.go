package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/nav/storetest"
	"github.com/warp/nav-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) nav.Store {
		return newTestStore(t)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with a holding and a price
	// WHEN: The store is closed and reopened
	// THEN: Data and date ordering survive
	path := filepath.Join(t.TempDir(), "nav.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)

	_, _, err = store.AddUnits(ctx, "u1", 100, decimal.RequireFromString("2.125"))
	require.NoError(t, err)
	require.NoError(t, store.UpsertLatest(ctx, nav.LatestPrice{
		Code:        100,
		Price:       decimal.RequireFromString("123.4567"),
		Date:        nav.NewNavDate(2024, 3, 1),
		RefreshedAt: time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC),
	}))
	require.NoError(t, store.Close())

	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	lp, err := store.GetLatest(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "123.4567", lp.Price.String())
	assert.Equal(t, "01-03-2024", lp.Date.String())

	holdings, err := store.ListHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "2.125", holdings[0].Units.String())
}

func TestSQLite_SchemeWithoutHouseDefaultsToUnknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSchemes(ctx, []nav.Scheme{{Code: 1, Name: "No House"}})
	require.NoError(t, err)

	sc, err := store.GetScheme(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, nav.UnknownHouse, sc.House)
}

func TestSQLite_UnitsKeepExactPrecision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 0.1 + 0.2 is not 0.3 in float64
	_, _, err := store.AddUnits(ctx, "u1", 9, decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	h, _, err := store.AddUnits(ctx, "u1", 9, decimal.RequireFromString("0.2"))
	require.NoError(t, err)

	assert.True(t, h.Units.Equal(decimal.RequireFromString("0.3")), "got %s", h.Units)
}
