/*
sync.go - Scheme catalogue synchronisation

PURPOSE:
  Copies the provider's scheme list into the local catalogue. Schemes are
  reference data: codes already present are left alone and counted as
  duplicates, never treated as failures.

FLOW:
  1. One catalogue fetch from the price source
  2. Insert in batches of BatchSize, duplicate keys skipped by the store
  3. Report inserted, duplicates and the provider's total

A failed fetch or a store error aborts the sync. Batches already written
stay written; running Sync again only inserts what is still missing.

SEE ALSO:
  - mfapi/client.go: FetchSchemes
  - nav/store.go: InsertSchemes
*/
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

const BatchSize = 100

// Result summarises one catalogue sync.
type Result struct {
	Inserted      int
	Duplicates    int
	ExternalTotal int
	Duration      time.Duration
}

// Syncer copies the provider's catalogue into a SchemeStore.
type Syncer struct {
	store     nav.SchemeStore
	source    nav.CatalogSource
	logger    *common.Logger
	batchSize int
	now       func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

func WithLogger(logger *common.Logger) Option {
	return func(s *Syncer) { s.logger = logger.Component("catalog") }
}

// WithBatchSize overrides BatchSize. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewSyncer(store nav.SchemeStore, source nav.CatalogSource, opts ...Option) *Syncer {
	s := &Syncer{
		store:     store,
		source:    source,
		logger:    common.NewSilentLogger(),
		batchSize: BatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync fetches the catalogue and inserts every scheme not yet stored.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	start := s.now()

	schemes, err := s.source.FetchSchemes(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("catalogue fetch failed")
		return nil, err
	}
	s.logger.Info().Int("external_total", len(schemes)).Msg("catalogue fetched")

	result := &Result{ExternalTotal: len(schemes)}
	for i := 0; i < len(schemes); i += s.batchSize {
		end := min(i+s.batchSize, len(schemes))
		batch := schemes[i:end]

		inserted, err := s.store.InsertSchemes(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("insert schemes %d-%d: %w", i, end-1, err)
		}
		result.Inserted += inserted
		result.Duplicates += len(batch) - inserted
	}

	result.Duration = s.now().Sub(start)
	s.logger.Info().
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Int("external_total", result.ExternalTotal).
		Dur("duration", result.Duration).
		Msg("catalogue synchronised")
	return result, nil
}
