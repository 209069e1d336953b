package mfapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/nav-engine/nav"
)

const latestBody = `{
	"meta": {"fund_house": "Axis Mutual Fund", "scheme_name": "Axis Bluechip Fund", "scheme_code": 119551},
	"data": [{"date": "05-03-2024", "nav": "52.34560"}],
	"status": "SUCCESS"
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL + "/"))
}

func TestFetchLatest_ParsesResponse(t *testing.T) {
	var capturedPath string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, latestBody)
	})

	q, err := client.FetchLatest(context.Background(), 119551)
	if err != nil {
		t.Fatalf("FetchLatest failed: %v", err)
	}

	if capturedPath != "/mf/119551/latest" {
		t.Errorf("expected path /mf/119551/latest, got %s", capturedPath)
	}
	if q.Price.String() != "52.3456" {
		t.Errorf("expected nav 52.3456, got %s", q.Price)
	}
	if q.Date.String() != "05-03-2024" {
		t.Errorf("expected date 05-03-2024, got %s", q.Date)
	}
}

func TestFetchLatest_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "boom", nil},
		{"not json", http.StatusOK, "<html>", nil},
		{"empty data", http.StatusOK, `{"meta":{},"data":[],"status":"SUCCESS"}`, ErrNoData},
		{"bad nav", http.StatusOK, `{"data":[{"date":"05-03-2024","nav":"N.A."}]}`, nil},
		{"bad date", http.StatusOK, `{"data":[{"date":"2024-03-05","nav":"10.0"}]}`, nil},
		{"negative nav", http.StatusOK, `{"data":[{"date":"05-03-2024","nav":"-1"}]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.FetchLatest(context.Background(), 100)
			require.Error(t, err)
			assert.ErrorIs(t, err, nav.ErrUpstreamFetch)

			var fe *nav.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, nav.SchemeCode(100), fe.Code)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFetchLatest_APIErrorCarriesStatus(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scheme not found", http.StatusNotFound)
	})

	_, err := client.FetchLatest(context.Background(), 42)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "/mf/42/latest", apiErr.Endpoint)
}

func TestFetchLatest_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(WithBaseURL(url), WithTimeout(time.Second))
	_, err := client.FetchLatest(context.Background(), 1)
	assert.ErrorIs(t, err, nav.ErrUpstreamFetch)
}

func TestFetchHistory_TruncatesAndSkipsMalformed(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mf/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[
			{"date":"04-03-2024","nav":"12.5"},
			{"date":"garbage","nav":"12.4"},
			{"date":"01-03-2024","nav":"12.3"},
			{"date":"29-02-2024","nav":"12.2"}
		]}`)
	})

	quotes, err := client.FetchHistory(context.Background(), 7, 3)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "04-03-2024", quotes[0].Date.String())
	assert.Equal(t, "01-03-2024", quotes[1].Date.String())

	all, err := client.FetchHistory(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFetchSchemes_DefaultsHouseAndAcceptsStringCodes(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"schemeCode": 100, "schemeName": "Alpha Fund"},
			{"schemeCode": "101", "schemeName": "Beta Fund", "fundHouse": "Beta AMC"},
			{"schemeCode": 0, "schemeName": "Invalid"}
		]`)
	})

	schemes, err := client.FetchSchemes(context.Background())
	require.NoError(t, err)
	require.Len(t, schemes, 2)

	assert.Equal(t, nav.Scheme{Code: 100, Name: "Alpha Fund", House: nav.UnknownHouse}, schemes[0])
	assert.Equal(t, nav.Scheme{Code: 101, Name: "Beta Fund", House: "Beta AMC"}, schemes[1])
}

func TestFetchSchemes_NotAnArray(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"maintenance"}`)
	})

	_, err := client.FetchSchemes(context.Background())
	assert.ErrorIs(t, err, nav.ErrUpstreamFetch)
}

func TestRateLimit_DisabledByDefault(t *testing.T) {
	var calls atomic.Int32
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, latestBody)
	})

	if client.limiter != nil {
		t.Fatal("expected no limiter by default")
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := client.FetchLatest(context.Background(), 119551)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)

	WithRateLimit(2)(client)
	assert.NotNil(t, client.limiter)
	WithRateLimit(0)(client)
	assert.Nil(t, client.limiter)
}

func TestRateLimit_CancelledContext(t *testing.T) {
	client := NewClient(WithRateLimit(1), WithBaseURL("http://127.0.0.1:0"))
	// Drain the single token
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchLatest(ctx, 1)
	assert.ErrorIs(t, err, nav.ErrUpstreamFetch)
}
