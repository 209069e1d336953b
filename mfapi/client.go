// Package mfapi provides a client for the mfapi.in mutual-fund NAV API
package mfapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

const (
	DefaultBaseURL = "https://api.mfapi.in"
	DefaultTimeout = 30 * time.Second
)

// ErrNoData is returned when the provider answers with an empty data array.
var ErrNoData = errors.New("no NAV data in response")

// Client implements nav.PriceSource and nav.CatalogSource
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit caps outbound requests per second. Zero or less disables the limiter.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new mfapi client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a non-200 answer from the provider
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mfapi error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type navResponse struct {
	Meta   navMeta    `json:"meta"`
	Data   []navEntry `json:"data"`
	Status string     `json:"status"`
}

type navMeta struct {
	FundHouse  string   `json:"fund_house"`
	SchemeName string   `json:"scheme_name"`
	SchemeCode flexCode `json:"scheme_code"`
}

type navEntry struct {
	Date string `json:"date"`
	NAV  string `json:"nav"`
}

type schemeEntry struct {
	SchemeCode flexCode `json:"schemeCode"`
	SchemeName string   `json:"schemeName"`
	FundHouse  string   `json:"fundHouse"`
}

// flexCode accepts a scheme code encoded as a JSON number or string.
type flexCode int64

func (f *flexCode) UnmarshalJSON(data []byte) error {
	var num int64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexCode(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid scheme code %q", s)
		}
		*f = flexCode(n)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into scheme code", string(data))
}

func (e navEntry) quote() (nav.Quote, error) {
	d, err := nav.ParseNavDate(strings.TrimSpace(e.Date))
	if err != nil {
		return nav.Quote{}, err
	}
	p, err := decimal.NewFromString(strings.TrimSpace(e.NAV))
	if err != nil {
		return nav.Quote{}, fmt.Errorf("invalid nav %q: %w", e.NAV, err)
	}
	if p.IsNegative() {
		return nav.Quote{}, fmt.Errorf("negative nav %s", p)
	}
	return nav.Quote{Price: p, Date: d}, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

// get performs a GET request, waiting on the limiter when one is configured
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", c.baseURL+path).Msg("mfapi request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// FetchLatest returns the most recent NAV for code.
func (c *Client) FetchLatest(ctx context.Context, code nav.SchemeCode) (nav.Quote, error) {
	var resp navResponse
	if err := c.get(ctx, fmt.Sprintf("/mf/%d/latest", code), &resp); err != nil {
		return nav.Quote{}, &nav.FetchError{Code: code, Op: "fetch latest", Err: err}
	}
	if len(resp.Data) == 0 {
		return nav.Quote{}, &nav.FetchError{Code: code, Op: "fetch latest", Err: ErrNoData}
	}

	q, err := resp.Data[0].quote()
	if err != nil {
		return nav.Quote{}, &nav.FetchError{Code: code, Op: "fetch latest", Err: err}
	}
	return q, nil
}

// FetchHistory returns up to limit quotes for code, newest first as served.
// Entries that fail to parse are skipped; limit <= 0 returns all.
func (c *Client) FetchHistory(ctx context.Context, code nav.SchemeCode, limit int) ([]nav.Quote, error) {
	var resp navResponse
	if err := c.get(ctx, fmt.Sprintf("/mf/%d", code), &resp); err != nil {
		return nil, &nav.FetchError{Code: code, Op: "fetch history", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &nav.FetchError{Code: code, Op: "fetch history", Err: ErrNoData}
	}

	entries := resp.Data
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	quotes := make([]nav.Quote, 0, len(entries))
	for _, e := range entries {
		q, err := e.quote()
		if err != nil {
			c.logger.Warn().Int64("scheme", int64(code)).Err(err).Msg("skipping malformed history entry")
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, &nav.FetchError{Code: code, Op: "fetch history", Err: ErrNoData}
	}
	return quotes, nil
}

// FetchSchemes returns the provider's full scheme list.
func (c *Client) FetchSchemes(ctx context.Context) ([]nav.Scheme, error) {
	var entries []schemeEntry
	if err := c.get(ctx, "/mf", &entries); err != nil {
		return nil, &nav.FetchError{Op: "fetch schemes", Err: err}
	}

	schemes := make([]nav.Scheme, 0, len(entries))
	for _, e := range entries {
		code := nav.SchemeCode(e.SchemeCode)
		if code.Validate() != nil {
			continue
		}
		house := strings.TrimSpace(e.FundHouse)
		if house == "" {
			house = nav.UnknownHouse
		}
		schemes = append(schemes, nav.Scheme{Code: code, Name: e.SchemeName, House: house})
	}
	return schemes, nil
}

var (
	_ nav.PriceSource   = (*Client)(nil)
	_ nav.CatalogSource = (*Client)(nil)
)
