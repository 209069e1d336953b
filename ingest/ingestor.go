/*
ingestor.go - NAV ingestion cycle

PURPOSE:
  Refreshes the latest NAV of every scheme somebody holds. For each scheme
  the price source is asked once; a good quote overwrites the LatestPrice
  snapshot and is appended to PriceHistory unless that date is already
  recorded.

CYCLE:
  1. FindHolderSchemeIDs (failure aborts the cycle with *nav.ListError)
  2. For each scheme, in first-seen order:
     fetch -> UpsertLatest -> UpsertHistoryIfAbsent
     any stage failing is recorded and the loop moves on. A fetch failure
     leaves the snapshot untouched; a history failure comes after
     UpsertLatest, so the scheme counts as failed with its snapshot
     already refreshed and the next cycle records the history row.
  3. Every BatchSize schemes, pause BatchPause before continuing
  4. Summarise: succeeded, failed, per-scheme failures, row totals

MUTUAL EXCLUSION:
  Scheduled and manual runs share one guard. A run that finds the guard
  taken returns nav.ErrCycleInProgress without touching the store. Once
  started, a run ignores caller cancellation and finishes.

MANUAL RUNS:
  RunManual processes at most ManualLimit schemes, one per ManualDelay.

SEE ALSO:
  - scheduler.go: Daily trigger
  - nav/store.go: Store contracts used here
*/
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Stage names the step of a scheme refresh that failed.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageLatest  Stage = "latest"
	StageHistory Stage = "history"
)

// SchemeFailure is one scheme that could not be refreshed.
type SchemeFailure struct {
	Code   nav.SchemeCode `json:"schemeCode"`
	Stage  Stage          `json:"stage"`
	Reason string         `json:"reason"`
}

// CycleResult summarises one run.
type CycleResult struct {
	RunID        string          `json:"runId"`
	Trigger      Trigger         `json:"trigger"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
	Schemes      int             `json:"schemes"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	NewHistory   int             `json:"newHistory"`
	Failures     []SchemeFailure `json:"failures,omitempty"`
	LatestTotal  int             `json:"latestTotal"`
	HistoryTotal int             `json:"historyTotal"`
}

// Duration returns how long the run took.
func (r *CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ManualResult is the outcome of an operator-triggered run.
type ManualResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Processed int             `json:"processed"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Failures  []SchemeFailure `json:"failures,omitempty"`
}

// NoSchemesMessage is returned by RunManual when nobody holds anything.
const NoSchemesMessage = "No schemes to update"

// Config tunes pacing.
type Config struct {
	BatchSize   int
	BatchPause  time.Duration
	ManualLimit int
	ManualDelay time.Duration
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		BatchSize:   10,
		BatchPause:  2 * time.Second,
		ManualLimit: 5,
		ManualDelay: 500 * time.Millisecond,
	}
}

// ConfigFrom maps the file configuration onto Config.
func ConfigFrom(c common.IngestConfig) Config {
	cfg := DefaultConfig()
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	cfg.BatchPause = c.GetBatchPause()
	if c.ManualLimit > 0 {
		cfg.ManualLimit = c.ManualLimit
	}
	cfg.ManualDelay = c.GetManualDelay()
	return cfg
}

// =============================================================================
// INGESTOR
// =============================================================================

// Ingestor runs ingestion cycles against a store and a price source.
type Ingestor struct {
	holdings nav.HoldingStore
	prices   nav.PriceStore
	source   nav.PriceSource
	cfg      Config
	logger   *common.Logger

	now   func() time.Time
	sleep func(time.Duration)

	running atomic.Bool

	mu   sync.RWMutex
	last *CycleResult
}

// Option configures an Ingestor.
type Option func(*Ingestor)

func WithConfig(cfg Config) Option {
	return func(i *Ingestor) { i.cfg = cfg }
}

func WithLogger(logger *common.Logger) Option {
	return func(i *Ingestor) { i.logger = logger.Component("ingest") }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// WithSleep overrides the batch pause.
func WithSleep(sleep func(time.Duration)) Option {
	return func(i *Ingestor) { i.sleep = sleep }
}

// NewIngestor creates an Ingestor.
func NewIngestor(holdings nav.HoldingStore, prices nav.PriceStore, source nav.PriceSource, opts ...Option) *Ingestor {
	i := &Ingestor{
		holdings: holdings,
		prices:   prices,
		source:   source,
		cfg:      DefaultConfig(),
		logger:   common.NewSilentLogger(),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// LastResult returns the most recent completed run, or nil.
func (i *Ingestor) LastResult() *CycleResult {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.last
}

// Running reports whether a run holds the guard.
func (i *Ingestor) Running() bool {
	return i.running.Load()
}

// RunCycle refreshes every held scheme.
func (i *Ingestor) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !i.running.CompareAndSwap(false, true) {
		return nil, nav.ErrCycleInProgress
	}
	defer i.running.Store(false)

	ctx = context.WithoutCancel(ctx)

	codes, err := i.listSchemes(ctx)
	if err != nil {
		return nil, err
	}

	result := i.newResult(TriggerScheduled, codes)
	if len(codes) == 0 {
		i.logger.Info().Str("run_id", result.RunID).Msg("no held schemes, nothing to refresh")
		return i.finish(ctx, result), nil
	}

	i.logger.Info().Str("run_id", result.RunID).Int("schemes", len(codes)).Msg("ingestion cycle started")

	for idx, code := range codes {
		if idx > 0 && i.cfg.BatchSize > 0 && idx%i.cfg.BatchSize == 0 && i.cfg.BatchPause > 0 {
			i.logger.Debug().Int("processed", idx).Dur("pause", i.cfg.BatchPause).Msg("batch pause")
			i.sleep(i.cfg.BatchPause)
		}
		i.record(result, code, i.refresh(ctx, code))
	}

	return i.finish(ctx, result), nil
}

// RunManual refreshes at most ManualLimit held schemes, paced by ManualDelay.
func (i *Ingestor) RunManual(ctx context.Context) (*ManualResult, error) {
	if !i.running.CompareAndSwap(false, true) {
		return nil, nav.ErrCycleInProgress
	}
	defer i.running.Store(false)

	ctx = context.WithoutCancel(ctx)

	codes, err := i.listSchemes(ctx)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		i.logger.Info().Msg("manual update requested with no held schemes")
		return &ManualResult{Success: false, Message: NoSchemesMessage}, nil
	}
	if i.cfg.ManualLimit > 0 && len(codes) > i.cfg.ManualLimit {
		codes = codes[:i.cfg.ManualLimit]
	}

	result := i.newResult(TriggerManual, codes)
	i.logger.Info().Str("run_id", result.RunID).Int("schemes", len(codes)).Msg("manual update started")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if i.cfg.ManualDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(i.cfg.ManualDelay), 1)
	}

	for _, code := range codes {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("manual pacing: %w", err)
		}
		i.record(result, code, i.refresh(ctx, code))
	}

	result = i.finish(ctx, result)
	return &ManualResult{
		Success:   true,
		Message:   fmt.Sprintf("Manual update completed: %d successful, %d failed", result.Succeeded, result.Failed),
		Processed: result.Schemes,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Failures:  result.Failures,
	}, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

type outcome struct {
	failure    *SchemeFailure
	newHistory bool
}

func (i *Ingestor) listSchemes(ctx context.Context) ([]nav.SchemeCode, error) {
	codes, err := i.holdings.FindHolderSchemeIDs(ctx)
	if err != nil {
		listErr := &nav.ListError{Err: err}
		i.logger.Error().Err(err).Msg("cannot list held schemes, cycle aborted")
		return nil, listErr
	}
	return codes, nil
}

func (i *Ingestor) newResult(trigger Trigger, codes []nav.SchemeCode) *CycleResult {
	return &CycleResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: i.now().UTC(),
		Schemes:   len(codes),
	}
}

// refresh performs fetch, latest upsert and history insert for one scheme.
func (i *Ingestor) refresh(ctx context.Context, code nav.SchemeCode) outcome {
	q, err := i.source.FetchLatest(ctx, code)
	if err != nil {
		return outcome{failure: &SchemeFailure{Code: code, Stage: StageFetch, Reason: err.Error()}}
	}

	now := i.now()
	if err := i.prices.UpsertLatest(ctx, nav.NewLatestPrice(code, q, now)); err != nil {
		return outcome{failure: &SchemeFailure{Code: code, Stage: StageLatest, Reason: err.Error()}}
	}

	inserted, err := i.prices.UpsertHistoryIfAbsent(ctx, nav.NewPriceRecord(code, q, now))
	if err != nil {
		return outcome{failure: &SchemeFailure{Code: code, Stage: StageHistory, Reason: err.Error()}}
	}

	i.logger.Info().
		Int64("scheme", int64(code)).
		Str("nav", q.Price.String()).
		Str("date", q.Date.String()).
		Bool("new_history", inserted).
		Msg("scheme refreshed")
	return outcome{newHistory: inserted}
}

func (i *Ingestor) record(result *CycleResult, code nav.SchemeCode, o outcome) {
	if o.failure != nil {
		result.Failed++
		result.Failures = append(result.Failures, *o.failure)
		i.logger.Warn().
			Int64("scheme", int64(code)).
			Str("stage", string(o.failure.Stage)).
			Str("reason", o.failure.Reason).
			Msg("scheme refresh failed")
		return
	}
	result.Succeeded++
	if o.newHistory {
		result.NewHistory++
	}
}

func (i *Ingestor) finish(ctx context.Context, result *CycleResult) *CycleResult {
	result.FinishedAt = i.now().UTC()

	if n, err := i.prices.CountLatest(ctx); err == nil {
		result.LatestTotal = n
	} else {
		i.logger.Warn().Err(err).Msg("cannot count latest prices")
	}
	if n, err := i.prices.CountHistory(ctx); err == nil {
		result.HistoryTotal = n
	} else {
		i.logger.Warn().Err(err).Msg("cannot count price history")
	}

	i.logger.Info().
		Str("run_id", result.RunID).
		Str("trigger", string(result.Trigger)).
		Int("schemes", result.Schemes).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("latest_total", result.LatestTotal).
		Int("history_total", result.HistoryTotal).
		Dur("duration", result.Duration()).
		Msg("ingestion cycle completed")

	i.mu.Lock()
	i.last = result
	i.mu.Unlock()
	return result
}
