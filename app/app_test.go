package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

func memoryConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Schedule.Enabled = false
	return cfg
}

func TestNew_MemoryStore(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_DefaultValuationFetchesMissingPrice(t *testing.T) {
	// GIVEN: The default config and a holding with no stored NAV
	// WHEN: The portfolio is valued
	// THEN: History is fetched from the provider and the holding is priced
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/mf/100" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"status":"SUCCESS","data":[{"date":"04-03-2024","nav":"21"},{"date":"01-03-2024","nav":"20"}]}`)
	}))
	defer upstream.Close()

	cfg := memoryConfig()
	cfg.Source.BaseURL = upstream.URL

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Store.InsertSchemes(ctx, []nav.Scheme{{Code: 100, Name: "Scheme 100", House: "H"}})
	require.NoError(t, err)
	_, _, err = a.Store.AddUnits(ctx, "u1", 100, decimal.NewFromInt(10))
	require.NoError(t, err)

	report, err := a.Engine.Value(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "210", report.CurrentValue.String())
	assert.Equal(t, "04-03-2024", report.Holdings[0].NavDate)
}

func TestNew_InvalidRatio(t *testing.T) {
	cfg := memoryConfig()
	cfg.Valuation.InvestedRatio = "ninety"

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestOpenStore_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "nav.db")

	st, err := OpenStore(context.Background(), common.StorageConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer st.Close()

	n, err := st.InsertSchemes(context.Background(), []nav.Scheme{{Code: 1, Name: "One", House: "H"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), common.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestClose_StopsScheduler(t *testing.T) {
	cfg := memoryConfig()
	cfg.Schedule.Enabled = true

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.StartScheduler()
	assert.NoError(t, a.Close())
	assert.False(t, a.schedulerStarted)
}
