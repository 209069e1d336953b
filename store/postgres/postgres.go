/*
Package postgres provides a PostgreSQL-backed implementation of nav.Store.

PURPOSE:
  Same contract as store/sqlite for deployments where several server
  instances share one database. Concurrency control is left to PostgreSQL:
  every write is a single statement with ON CONFLICT, so no process-level
  lock is needed.

DIALECT NOTES:
  - Prices and units are NUMERIC; they cross the wire as text so that
    decimal.Decimal never round-trips through float64
  - nav_date is a DATE column
  - AddUnits is one INSERT ... ON CONFLICT DO UPDATE ... RETURNING; the
    (xmax = 0) flag reports whether the row was inserted

SEE ALSO:
  - nav/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQLite implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/nav-engine/nav"
)

// Store implements nav.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{pool: pool, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS schemes (
		code BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		house TEXT NOT NULL DEFAULT 'Unknown',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS latest_prices (
		scheme_code BIGINT PRIMARY KEY,
		price NUMERIC NOT NULL,
		nav_date DATE NOT NULL,
		refreshed_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		scheme_code BIGINT NOT NULL,
		nav_date DATE NOT NULL,
		price NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (scheme_code, nav_date)
	);

	CREATE TABLE IF NOT EXISTS holdings (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		scheme_code BIGINT NOT NULL,
		units NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, scheme_code)
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_scheme ON holdings(scheme_code);
	`)
	return err
}

// =============================================================================
// SCHEME STORE
// =============================================================================

func (s *Store) GetScheme(ctx context.Context, code nav.SchemeCode) (*nav.Scheme, error) {
	sc := &nav.Scheme{Code: code}
	err := s.pool.QueryRow(ctx,
		"SELECT name, house FROM schemes WHERE code = $1", int64(code),
	).Scan(&sc.Name, &sc.House)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nav.ErrSchemeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheme %d: %w", code, err)
	}
	return sc, nil
}

// InsertSchemes sends the batch in one round trip inside a transaction.
func (s *Store) InsertSchemes(ctx context.Context, schemes []nav.Scheme) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	batch := &pgx.Batch{}
	for _, sc := range schemes {
		house := sc.House
		if house == "" {
			house = nav.UnknownHouse
		}
		batch.Queue(`
			INSERT INTO schemes (code, name, house, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code) DO NOTHING
		`, int64(sc.Code), sc.Name, house, now)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for _, sc := range schemes {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("failed to insert scheme %d: %w", sc.Code, mapError(err))
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to insert schemes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit schemes: %w", err)
	}
	return inserted, nil
}

func (s *Store) CountSchemes(ctx context.Context) (int, error) {
	return s.count(ctx, "schemes")
}

// =============================================================================
// PRICE STORE
// =============================================================================

func (s *Store) UpsertLatest(ctx context.Context, p nav.LatestPrice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO latest_prices (scheme_code, price, nav_date, refreshed_at)
		VALUES ($1, $2::numeric, $3, $4)
		ON CONFLICT (scheme_code) DO UPDATE SET
			price = EXCLUDED.price,
			nav_date = EXCLUDED.nav_date,
			refreshed_at = EXCLUDED.refreshed_at
	`, int64(p.Code), p.Price.String(), p.Date.Time(), p.RefreshedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert latest price for %d: %w", p.Code, err)
	}
	return nil
}

const insertHistorySQL = `
	INSERT INTO price_history (scheme_code, nav_date, price, created_at)
	VALUES ($1, $2, $3::numeric, $4)
	ON CONFLICT (scheme_code, nav_date) DO NOTHING
`

func (s *Store) UpsertHistoryIfAbsent(ctx context.Context, r nav.PriceRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertHistorySQL,
		int64(r.Code), r.Date.Time(), r.Price.String(), r.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert history for %d on %s: %w", r.Code, r.Date, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertHistory(ctx context.Context, records []nav.PriceRecord) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, r := range records {
		tag, err := tx.Exec(ctx, insertHistorySQL,
			int64(r.Code), r.Date.Time(), r.Price.String(), r.CreatedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to insert history for %d on %s: %w", r.Code, r.Date, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}
	return inserted, nil
}

func (s *Store) GetLatest(ctx context.Context, code nav.SchemeCode) (*nav.LatestPrice, error) {
	var price string
	var date, refreshed time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT price::text, nav_date, refreshed_at FROM latest_prices WHERE scheme_code = $1", int64(code),
	).Scan(&price, &date, &refreshed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nav.ErrPriceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price for %d: %w", code, err)
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	return &nav.LatestPrice{Code: code, Price: p, Date: nav.NavDateOf(date), RefreshedAt: refreshed.UTC()}, nil
}

func (s *Store) History(ctx context.Context, code nav.SchemeCode, limit int) ([]nav.PriceRecord, error) {
	query := `
		SELECT nav_date, price::text, created_at FROM price_history
		WHERE scheme_code = $1
		ORDER BY nav_date DESC
	`
	args := []any{int64(code)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %d: %w", code, err)
	}
	defer rows.Close()

	var result []nav.PriceRecord
	for rows.Next() {
		var date, created time.Time
		var price string
		if err := rows.Scan(&date, &price, &created); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
		}
		result = append(result, nav.PriceRecord{Code: code, Date: nav.NavDateOf(date), Price: p, CreatedAt: created.UTC()})
	}
	return result, rows.Err()
}

func (s *Store) CountLatest(ctx context.Context) (int, error) {
	return s.count(ctx, "latest_prices")
}

func (s *Store) CountHistory(ctx context.Context) (int, error) {
	return s.count(ctx, "price_history")
}

// =============================================================================
// HOLDING STORE
// =============================================================================

func (s *Store) FindHolderSchemeIDs(ctx context.Context) ([]nav.SchemeCode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scheme_code FROM holdings
		GROUP BY scheme_code
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list held schemes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (nav.SchemeCode, error) {
		var code int64
		err := row.Scan(&code)
		return nav.SchemeCode(code), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list held schemes: %w", err)
	}
	return codes, nil
}

func (s *Store) AddUnits(ctx context.Context, userID string, code nav.SchemeCode, units decimal.Decimal) (nav.Holding, bool, error) {
	h := nav.Holding{UserID: userID, Code: code}

	var total string
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO holdings (user_id, scheme_code, units, created_at)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (user_id, scheme_code) DO UPDATE SET
			units = holdings.units + EXCLUDED.units
		RETURNING units::text, created_at, (xmax = 0)
	`, userID, int64(code), units.String(), s.now().UTC()).Scan(&total, &h.CreatedAt, &inserted)
	if err != nil {
		return nav.Holding{}, false, fmt.Errorf("failed to write holding: %w", mapError(err))
	}

	h.Units, err = decimal.NewFromString(total)
	if err != nil {
		return nav.Holding{}, false, fmt.Errorf("invalid stored units %q: %w", total, err)
	}
	h.CreatedAt = h.CreatedAt.UTC()
	return h, inserted, nil
}

func (s *Store) RemoveHolding(ctx context.Context, userID string, code nav.SchemeCode) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM holdings WHERE user_id = $1 AND scheme_code = $2", userID, int64(code))
	if err != nil {
		return fmt.Errorf("failed to remove holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nav.ErrHoldingNotFound
	}
	return nil
}

func (s *Store) ListHoldings(ctx context.Context, userID string) ([]nav.Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scheme_code, units::text, created_at FROM holdings
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var result []nav.Holding
	for rows.Next() {
		var code int64
		var units string
		var created time.Time
		if err := rows.Scan(&code, &units, &created); err != nil {
			return nil, err
		}
		u, err := decimal.NewFromString(units)
		if err != nil {
			return nil, fmt.Errorf("invalid stored units %q: %w", units, err)
		}
		result = append(result, nav.Holding{UserID: userID, Code: nav.SchemeCode(code), Units: u, CreatedAt: created.UTC()})
	}
	return result, rows.Err()
}

func (s *Store) ValuedHoldings(ctx context.Context, userID string) ([]nav.ValuedHolding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.scheme_code, h.units::text, h.created_at,
		       s.name, s.house,
		       p.price::text, p.nav_date, p.refreshed_at
		FROM holdings h
		LEFT JOIN schemes s ON s.code = h.scheme_code
		LEFT JOIN latest_prices p ON p.scheme_code = h.scheme_code
		WHERE h.user_id = $1
		ORDER BY h.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query valued holdings: %w", err)
	}
	defer rows.Close()

	var result []nav.ValuedHolding
	for rows.Next() {
		var code int64
		var units string
		var created time.Time
		var name, house, price *string
		var date, refreshed *time.Time
		if err := rows.Scan(&code, &units, &created, &name, &house, &price, &date, &refreshed); err != nil {
			return nil, err
		}

		u, err := decimal.NewFromString(units)
		if err != nil {
			return nil, fmt.Errorf("invalid stored units %q: %w", units, err)
		}
		vh := nav.ValuedHolding{Holding: nav.Holding{
			UserID: userID, Code: nav.SchemeCode(code), Units: u, CreatedAt: created.UTC(),
		}}
		if name != nil {
			vh.Scheme = &nav.Scheme{Code: vh.Holding.Code, Name: *name, House: deref(house)}
		}
		if price != nil && date != nil {
			p, err := decimal.NewFromString(*price)
			if err != nil {
				return nil, fmt.Errorf("invalid stored price %q: %w", *price, err)
			}
			lp := nav.LatestPrice{Code: vh.Holding.Code, Price: p, Date: nav.NavDateOf(*date)}
			if refreshed != nil {
				lp.RefreshedAt = refreshed.UTC()
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
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// reset empties every table. Used by tests sharing one database.
func (s *Store) reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE schemes, latest_prices, price_history, holdings RESTART IDENTITY")
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mapError(err error) error {
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %v", nav.ErrDuplicateKey, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ nav.Store = (*Store)(nil)
