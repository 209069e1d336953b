/*
store.go - Repository contracts for schemes, prices and holdings

PURPOSE:
  Defines the interface between the pipeline and persistence. The ingestion
  algorithm, the valuation engine and the holdings commands only see these
  interfaces, so they run unchanged on SQLite, PostgreSQL or the in-memory
  store used by tests.

KEY INTERFACES:
  SchemeStore:  Catalogue lookups and duplicate-tolerant bulk insert
  PriceStore:   LatestPrice upsert, PriceHistory insert-if-absent, reads
  HoldingStore: Per-user holdings and the distinct held-scheme query
  Store:        All of the above, what every adapter implements

UPSERT CONTRACT:
  - UpsertLatest overwrites the row for the scheme (last writer wins)
  - UpsertHistoryIfAbsent inserts (scheme, date) once; a second call for the
    same key leaves the stored price untouched and reports inserted=false
  - InsertHistory inserts in order and skips keys that already exist
  - AddUnits creates or increments the (user, scheme) row atomically

ORDERING:
  FindHolderSchemeIDs returns each scheme once, in the order the first
  holding of that scheme was created. Ingestion relies on this being stable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go
  - nav/store/memory.go
*/
package nav

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEME STORE
// =============================================================================

type SchemeStore interface {
	// GetScheme returns ErrSchemeNotFound when the code is unknown.
	GetScheme(ctx context.Context, code SchemeCode) (*Scheme, error)

	// InsertSchemes inserts the batch, skipping existing codes.
	// Returns how many rows were actually inserted.
	InsertSchemes(ctx context.Context, schemes []Scheme) (int, error)

	CountSchemes(ctx context.Context) (int, error)
}

// =============================================================================
// PRICE STORE
// =============================================================================

type PriceStore interface {
	UpsertLatest(ctx context.Context, p LatestPrice) error

	// UpsertHistoryIfAbsent reports whether a new row was written.
	UpsertHistoryIfAbsent(ctx context.Context, r PriceRecord) (bool, error)

	// InsertHistory inserts records in order, skipping duplicate keys.
	// Returns how many rows were actually inserted.
	InsertHistory(ctx context.Context, records []PriceRecord) (int, error)

	// GetLatest returns ErrPriceNotFound when no snapshot exists.
	GetLatest(ctx context.Context, code SchemeCode) (*LatestPrice, error)

	// History returns up to limit records, newest date first.
	History(ctx context.Context, code SchemeCode, limit int) ([]PriceRecord, error)

	CountLatest(ctx context.Context) (int, error)
	CountHistory(ctx context.Context) (int, error)
}

// =============================================================================
// HOLDING STORE
// =============================================================================

type HoldingStore interface {
	// FindHolderSchemeIDs returns the distinct schemes referenced by holdings.
	FindHolderSchemeIDs(ctx context.Context) ([]SchemeCode, error)

	// AddUnits creates the holding or increments its units.
	// created is true when a new row was inserted.
	AddUnits(ctx context.Context, userID string, code SchemeCode, units decimal.Decimal) (h Holding, created bool, err error)

	// RemoveHolding returns ErrHoldingNotFound when there is nothing to remove.
	RemoveHolding(ctx context.Context, userID string, code SchemeCode) error

	ListHoldings(ctx context.Context, userID string) ([]Holding, error)

	// ValuedHoldings left-joins the user's holdings with schemes and latest
	// prices, ordered by holding creation.
	ValuedHoldings(ctx context.Context, userID string) ([]ValuedHolding, error)
}

// Store is implemented by every persistence adapter.
type Store interface {
	SchemeStore
	PriceStore
	HoldingStore
	Close() error
}

// =============================================================================
// PRICE SOURCE - External NAV provider
// =============================================================================

// PriceSource fetches prices from the external provider. Implementations
// return *FetchError on failure and never retry.
type PriceSource interface {
	FetchLatest(ctx context.Context, code SchemeCode) (Quote, error)

	// FetchHistory returns up to limit quotes, newest first. limit <= 0 means all.
	FetchHistory(ctx context.Context, code SchemeCode, limit int) ([]Quote, error)
}

// CatalogSource lists every scheme known to the provider.
type CatalogSource interface {
	FetchSchemes(ctx context.Context) ([]Scheme, error)
}
