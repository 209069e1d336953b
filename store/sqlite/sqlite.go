/*
Package sqlite provides a SQLite-backed implementation of nav.Store.

PURPOSE:
  Persists the scheme catalogue, latest-price snapshots, the price history
  and user holdings. This is the default driver for a single-node deployment;
  store/postgres implements the same contract for shared databases.

KEY TABLES:
  schemes:        Catalogue reference data, keyed by scheme code
  latest_prices:  One row per scheme, overwritten on every refresh
  price_history:  One row per (scheme, date), never rewritten
  holdings:       One row per (user, scheme), units incremented in place

UPSERT SEMANTICS:
  - latest_prices uses ON CONFLICT(scheme_code) DO UPDATE
  - price_history uses ON CONFLICT(scheme_code, nav_date) DO NOTHING, so a
    re-observed date keeps the price first written
  - schemes uses ON CONFLICT(code) DO NOTHING during catalogue sync

DATES AND NUMBERS:
  NAV dates are stored as ISO YYYY-MM-DD text so ORDER BY nav_date is
  calendar order. Prices and units are stored as decimal strings and scanned
  back into decimal.Decimal without going through float64.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. AddUnits runs its read-modify-write in
  a transaction under the write lock.

USAGE:
  store, err := sqlite.New("./data/nav.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - nav/store.go: Interface definitions
  - nav/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/nav-engine/nav"
)

// Store implements nav.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is its own database
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Scheme catalogue
	CREATE TABLE IF NOT EXISTS schemes (
		code INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		house TEXT NOT NULL DEFAULT 'Unknown',
		created_at TEXT NOT NULL
	);

	-- Latest NAV snapshot, one row per scheme
	CREATE TABLE IF NOT EXISTS latest_prices (
		scheme_code INTEGER PRIMARY KEY,
		price TEXT NOT NULL,
		nav_date TEXT NOT NULL,
		refreshed_at TEXT NOT NULL
	);

	-- Append-only NAV history
	CREATE TABLE IF NOT EXISTS price_history (
		scheme_code INTEGER NOT NULL,
		nav_date TEXT NOT NULL,
		price TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (scheme_code, nav_date)
	);

	-- For newest-first history reads (hot path of the fund NAV endpoint)
	CREATE INDEX IF NOT EXISTS idx_price_history_scheme_date
		ON price_history(scheme_code, nav_date DESC);

	-- Holdings; id preserves creation order
	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		scheme_code INTEGER NOT NULL,
		units TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, scheme_code)
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_scheme
		ON holdings(scheme_code);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SCHEME STORE
// =============================================================================

// GetScheme returns the catalogue entry for code.
func (s *Store) GetScheme(ctx context.Context, code nav.SchemeCode) (*nav.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sc nav.Scheme
	err := s.db.QueryRowContext(ctx,
		"SELECT code, name, house FROM schemes WHERE code = ?", int64(code),
	).Scan(&sc.Code, &sc.Name, &sc.House)
	if err == sql.ErrNoRows {
		return nil, nav.ErrSchemeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheme %d: %w", code, err)
	}
	return &sc, nil
}

// InsertSchemes inserts the batch in one transaction, skipping existing codes.
func (s *Store) InsertSchemes(ctx context.Context, schemes []nav.Scheme) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schemes (code, name, house, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare scheme insert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(s.now())
	inserted := 0
	for _, sc := range schemes {
		house := sc.House
		if house == "" {
			house = nav.UnknownHouse
		}
		res, err := stmt.ExecContext(ctx, int64(sc.Code), sc.Name, house, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert scheme %d: %w", sc.Code, mapError(err))
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit schemes: %w", err)
	}
	return inserted, nil
}

// CountSchemes returns the catalogue size.
func (s *Store) CountSchemes(ctx context.Context) (int, error) {
	return s.count(ctx, "schemes")
}

// =============================================================================
// PRICE STORE
// =============================================================================

// UpsertLatest writes the snapshot for p.Code, replacing any previous one.
func (s *Store) UpsertLatest(ctx context.Context, p nav.LatestPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO latest_prices (scheme_code, price, nav_date, refreshed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scheme_code) DO UPDATE SET
			price = excluded.price,
			nav_date = excluded.nav_date,
			refreshed_at = excluded.refreshed_at
	`, int64(p.Code), p.Price.String(), p.Date.StorageString(), formatTime(p.RefreshedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert latest price for %d: %w", p.Code, err)
	}
	return nil
}

// UpsertHistoryIfAbsent inserts the record unless its (scheme, date) exists.
func (s *Store) UpsertHistoryIfAbsent(ctx context.Context, r nav.PriceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, insertHistorySQL,
		int64(r.Code), r.Date.StorageString(), r.Price.String(), formatTime(r.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert history for %d on %s: %w", r.Code, r.Date, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertHistory inserts records in order inside one transaction.
func (s *Store) InsertHistory(ctx context.Context, records []nav.PriceRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, r := range records {
		res, err := tx.ExecContext(ctx, insertHistorySQL,
			int64(r.Code), r.Date.StorageString(), r.Price.String(), formatTime(r.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert history for %d on %s: %w", r.Code, r.Date, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}
	return inserted, nil
}

const insertHistorySQL = `
	INSERT INTO price_history (scheme_code, nav_date, price, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(scheme_code, nav_date) DO NOTHING
`

// GetLatest returns the snapshot for code.
func (s *Store) GetLatest(ctx context.Context, code nav.SchemeCode) (*nav.LatestPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var price, date, refreshed string
	err := s.db.QueryRowContext(ctx,
		"SELECT price, nav_date, refreshed_at FROM latest_prices WHERE scheme_code = ?", int64(code),
	).Scan(&price, &date, &refreshed)
	if err == sql.ErrNoRows {
		return nil, nav.ErrPriceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price for %d: %w", code, err)
	}

	lp, err := parseLatest(code, price, date, refreshed)
	if err != nil {
		return nil, err
	}
	return &lp, nil
}

// History returns up to limit records for code, newest first.
func (s *Store) History(ctx context.Context, code nav.SchemeCode, limit int) ([]nav.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT nav_date, price, created_at FROM price_history
		WHERE scheme_code = ?
		ORDER BY nav_date DESC
	`
	args := []any{int64(code)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %d: %w", code, err)
	}
	defer rows.Close()

	var result []nav.PriceRecord
	for rows.Next() {
		var date, price, created string
		if err := rows.Scan(&date, &price, &created); err != nil {
			return nil, err
		}
		d, err := nav.ParseStorageDate(date)
		if err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
		}
		result = append(result, nav.PriceRecord{Code: code, Date: d, Price: p, CreatedAt: parseTime(created)})
	}
	return result, rows.Err()
}

// CountLatest returns the number of snapshot rows.
func (s *Store) CountLatest(ctx context.Context) (int, error) {
	return s.count(ctx, "latest_prices")
}

// CountHistory returns the number of history rows.
func (s *Store) CountHistory(ctx context.Context) (int, error) {
	return s.count(ctx, "price_history")
}

// =============================================================================
// HOLDING STORE
// =============================================================================

// FindHolderSchemeIDs returns each held scheme once, ordered by first holding.
func (s *Store) FindHolderSchemeIDs(ctx context.Context) ([]nav.SchemeCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT scheme_code FROM holdings
		GROUP BY scheme_code
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list held schemes: %w", err)
	}
	defer rows.Close()

	var codes []nav.SchemeCode
	for rows.Next() {
		var code int64
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, nav.SchemeCode(code))
	}
	return codes, rows.Err()
}

// AddUnits creates the (user, scheme) holding or adds units to it.
func (s *Store) AddUnits(ctx context.Context, userID string, code nav.SchemeCode, units decimal.Decimal) (nav.Holding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nav.Holding{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing, created string
	err = tx.QueryRowContext(ctx,
		"SELECT units, created_at FROM holdings WHERE user_id = ? AND scheme_code = ?",
		userID, int64(code),
	).Scan(&existing, &created)

	h := nav.Holding{UserID: userID, Code: code}
	isNew := false

	switch {
	case err == sql.ErrNoRows:
		h.Units = units
		h.CreatedAt = s.now().UTC()
		isNew = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO holdings (user_id, scheme_code, units, created_at)
			VALUES (?, ?, ?, ?)
		`, userID, int64(code), h.Units.String(), formatTime(h.CreatedAt))
	case err != nil:
		return nav.Holding{}, false, fmt.Errorf("failed to read holding: %w", err)
	default:
		prev, perr := decimal.NewFromString(existing)
		if perr != nil {
			return nav.Holding{}, false, fmt.Errorf("invalid stored units %q: %w", existing, perr)
		}
		h.Units = prev.Add(units)
		h.CreatedAt = parseTime(created)
		_, err = tx.ExecContext(ctx,
			"UPDATE holdings SET units = ? WHERE user_id = ? AND scheme_code = ?",
			h.Units.String(), userID, int64(code))
	}
	if err != nil {
		return nav.Holding{}, false, fmt.Errorf("failed to write holding: %w", mapError(err))
	}

	if err := tx.Commit(); err != nil {
		return nav.Holding{}, false, fmt.Errorf("failed to commit holding: %w", err)
	}
	return h, isNew, nil
}

// RemoveHolding deletes the (user, scheme) holding.
func (s *Store) RemoveHolding(ctx context.Context, userID string, code nav.SchemeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM holdings WHERE user_id = ? AND scheme_code = ?", userID, int64(code))
	if err != nil {
		return fmt.Errorf("failed to remove holding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nav.ErrHoldingNotFound
	}
	return nil
}

// ListHoldings returns the user's holdings in creation order.
func (s *Store) ListHoldings(ctx context.Context, userID string) ([]nav.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT scheme_code, units, created_at FROM holdings
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var result []nav.Holding
	for rows.Next() {
		var code int64
		var units, created string
		if err := rows.Scan(&code, &units, &created); err != nil {
			return nil, err
		}
		u, err := decimal.NewFromString(units)
		if err != nil {
			return nil, fmt.Errorf("invalid stored units %q: %w", units, err)
		}
		result = append(result, nav.Holding{
			UserID: userID, Code: nav.SchemeCode(code), Units: u, CreatedAt: parseTime(created),
		})
	}
	return result, rows.Err()
}

// ValuedHoldings left-joins holdings with schemes and latest prices.
func (s *Store) ValuedHoldings(ctx context.Context, userID string) ([]nav.ValuedHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT h.scheme_code, h.units, h.created_at,
		       s.name, s.house,
		       p.price, p.nav_date, p.refreshed_at
		FROM holdings h
		LEFT JOIN schemes s ON s.code = h.scheme_code
		LEFT JOIN latest_prices p ON p.scheme_code = h.scheme_code
		WHERE h.user_id = ?
		ORDER BY h.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query valued holdings: %w", err)
	}
	defer rows.Close()

	var result []nav.ValuedHolding
	for rows.Next() {
		var code int64
		var units, created string
		var name, house, price, date, refreshed sql.NullString
		if err := rows.Scan(&code, &units, &created, &name, &house, &price, &date, &refreshed); err != nil {
			return nil, err
		}

		u, err := decimal.NewFromString(units)
		if err != nil {
			return nil, fmt.Errorf("invalid stored units %q: %w", units, err)
		}
		vh := nav.ValuedHolding{Holding: nav.Holding{
			UserID: userID, Code: nav.SchemeCode(code), Units: u, CreatedAt: parseTime(created),
		}}
		if name.Valid {
			vh.Scheme = &nav.Scheme{Code: vh.Holding.Code, Name: name.String, House: house.String}
		}
		if price.Valid {
			lp, err := parseLatest(vh.Holding.Code, price.String, date.String, refreshed.String)
			if err != nil {
				return nil, err
			}
			vh.Latest = &lp
		}
		result = append(result, vh)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) count(ctx context.Context, table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func parseLatest(code nav.SchemeCode, price, date, refreshed string) (nav.LatestPrice, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nav.LatestPrice{}, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	d, err := nav.ParseStorageDate(date)
	if err != nil {
		return nav.LatestPrice{}, err
	}
	return nav.LatestPrice{Code: code, Price: p, Date: d, RefreshedAt: parseTime(refreshed)}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// mapError translates constraint violations into nav.ErrDuplicateKey.
func mapError(err error) error {
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %v", nav.ErrDuplicateKey, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var _ nav.Store = (*Store)(nil)
