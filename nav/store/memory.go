// Package store provides an in-memory nav.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/nav-engine/nav"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	schemes  map[nav.SchemeCode]nav.Scheme
	latest   map[nav.SchemeCode]nav.LatestPrice
	history  map[nav.SchemeCode][]nav.PriceRecord // sorted newest first
	holdings []*holdingRow                        // creation order
	nextID   int64
	now      func() time.Time
}

type holdingRow struct {
	id int64
	nav.Holding
}

func NewMemory() *Memory {
	return &Memory{
		schemes: make(map[nav.SchemeCode]nav.Scheme),
		latest:  make(map[nav.SchemeCode]nav.LatestPrice),
		history: make(map[nav.SchemeCode][]nav.PriceRecord),
		now:     time.Now,
	}
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// SCHEMES
// =============================================================================

func (m *Memory) GetScheme(_ context.Context, code nav.SchemeCode) (*nav.Scheme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schemes[code]
	if !ok {
		return nil, nav.ErrSchemeNotFound
	}
	return &s, nil
}

func (m *Memory) InsertSchemes(_ context.Context, schemes []nav.Scheme) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, s := range schemes {
		if _, ok := m.schemes[s.Code]; ok {
			continue
		}
		m.schemes[s.Code] = s
		inserted++
	}
	return inserted, nil
}

func (m *Memory) CountSchemes(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.schemes), nil
}

// =============================================================================
// PRICES
// =============================================================================

func (m *Memory) UpsertLatest(_ context.Context, p nav.LatestPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[p.Code] = p
	return nil
}

func (m *Memory) UpsertHistoryIfAbsent(_ context.Context, r nav.PriceRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertHistoryLocked(r), nil
}

func (m *Memory) InsertHistory(_ context.Context, records []nav.PriceRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, r := range records {
		if m.insertHistoryLocked(r) {
			inserted++
		}
	}
	return inserted, nil
}

func (m *Memory) insertHistoryLocked(r nav.PriceRecord) bool {
	recs := m.history[r.Code]

	// Binary search on descending dates
	i := sort.Search(len(recs), func(i int) bool {
		return !recs[i].Date.After(r.Date)
	})
	if i < len(recs) && recs[i].Date.Equal(r.Date) {
		return false
	}

	recs = append(recs, nav.PriceRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = r
	m.history[r.Code] = recs
	return true
}

func (m *Memory) GetLatest(_ context.Context, code nav.SchemeCode) (*nav.LatestPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.latest[code]
	if !ok {
		return nil, nav.ErrPriceNotFound
	}
	return &p, nil
}

func (m *Memory) History(_ context.Context, code nav.SchemeCode, limit int) ([]nav.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.history[code]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	result := make([]nav.PriceRecord, len(recs))
	copy(result, recs)
	return result, nil
}

func (m *Memory) CountLatest(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.latest), nil
}

func (m *Memory) CountHistory(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, recs := range m.history {
		n += len(recs)
	}
	return n, nil
}

// =============================================================================
// HOLDINGS
// =============================================================================

func (m *Memory) FindHolderSchemeIDs(_ context.Context) ([]nav.SchemeCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[nav.SchemeCode]bool)
	var codes []nav.SchemeCode
	for _, h := range m.holdings {
		if seen[h.Code] {
			continue
		}
		seen[h.Code] = true
		codes = append(codes, h.Code)
	}
	return codes, nil
}

func (m *Memory) AddUnits(_ context.Context, userID string, code nav.SchemeCode, units decimal.Decimal) (nav.Holding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row := m.findLocked(userID, code); row != nil {
		row.Units = row.Units.Add(units)
		return row.Holding, false, nil
	}

	m.nextID++
	row := &holdingRow{
		id: m.nextID,
		Holding: nav.Holding{
			UserID:    userID,
			Code:      code,
			Units:     units,
			CreatedAt: m.now().UTC(),
		},
	}
	m.holdings = append(m.holdings, row)
	return row.Holding, true, nil
}

func (m *Memory) RemoveHolding(_ context.Context, userID string, code nav.SchemeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, h := range m.holdings {
		if h.UserID == userID && h.Code == code {
			m.holdings = append(m.holdings[:i], m.holdings[i+1:]...)
			return nil
		}
	}
	return nav.ErrHoldingNotFound
}

func (m *Memory) ListHoldings(_ context.Context, userID string) ([]nav.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []nav.Holding
	for _, h := range m.holdings {
		if h.UserID == userID {
			result = append(result, h.Holding)
		}
	}
	return result, nil
}

func (m *Memory) ValuedHoldings(_ context.Context, userID string) ([]nav.ValuedHolding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []nav.ValuedHolding
	for _, h := range m.holdings {
		if h.UserID != userID {
			continue
		}
		vh := nav.ValuedHolding{Holding: h.Holding}
		if s, ok := m.schemes[h.Code]; ok {
			vh.Scheme = &s
		}
		if p, ok := m.latest[h.Code]; ok {
			vh.Latest = &p
		}
		result = append(result, vh)
	}
	return result, nil
}

func (m *Memory) findLocked(userID string, code nav.SchemeCode) *holdingRow {
	for _, h := range m.holdings {
		if h.UserID == userID && h.Code == code {
			return h
		}
	}
	return nil
}

var _ nav.Store = (*Memory)(nil)
