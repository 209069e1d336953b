/*
engine.go - Read-time portfolio valuation

PURPOSE:
  Turns a user's holdings into priced positions. Nothing is stored: every
  call joins Holding -> Scheme -> LatestPrice and computes values on the
  fly, so a refresh by the ingestion cycle is visible on the next read.

KEY OPERATIONS:
  Holdings:       Units x latest NAV per scheme, plus the total
  Value:          Current value, invested value, profit and loss
  SchemeHistory:  Recent NAV history of one scheme, backfilled on first use
  RefreshScheme:  Fetch and store the latest NAV of one scheme now

MISSING DATA:
  - Unknown scheme: name "Unknown Fund", house "Unknown"
  - No LatestPrice: price 0, value 0, NAV date "N/A", Priced=false
  A holding is never dropped from a report because its joins are empty.

COST BASIS:
  Invested value is current value x InvestedRatio (default 0.9). This is a
  placeholder until purchase prices are recorded per holding.

PRECISION:
  All arithmetic is decimal and unrounded. Rounded() applies presentation
  rounding once: money 2dp, NAV 4dp, percent 2dp.

SEE ALSO:
  - history.go: SchemeHistory and RefreshScheme
  - nav/store.go: ValuedHoldings join contract
*/
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

const (
	UnknownFund  = "Unknown Fund"
	NotAvailable = "N/A"
	AsOnFormat   = "02/01/2006"
	HistoryLimit = 30
)

const (
	moneyPlaces   = 2
	pricePlaces   = 4
	percentPlaces = 2
	defaultRatio  = "0.9"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// REPORT TYPES
// =============================================================================

// HoldingLine is one priced holding in a HoldingsReport.
type HoldingLine struct {
	Code    nav.SchemeCode
	Name    string
	House   string
	Units   decimal.Decimal
	Price   decimal.Decimal
	Value   decimal.Decimal
	NavDate string
	Priced  bool
}

// HoldingsReport is the user's holdings with current values.
type HoldingsReport struct {
	TotalHoldings int
	TotalValue    decimal.Decimal
	Holdings      []HoldingLine
}

// Rounded returns a copy with presentation rounding applied.
func (r *HoldingsReport) Rounded() *HoldingsReport {
	out := &HoldingsReport{
		TotalHoldings: r.TotalHoldings,
		TotalValue:    r.TotalValue.Round(moneyPlaces),
		Holdings:      make([]HoldingLine, len(r.Holdings)),
	}
	for i, h := range r.Holdings {
		h.Price = h.Price.Round(pricePlaces)
		h.Value = h.Value.Round(moneyPlaces)
		out.Holdings[i] = h
	}
	return out
}

// ValueLine is one holding in a ValueReport.
type ValueLine struct {
	Code          nav.SchemeCode
	Name          string
	Units         decimal.Decimal
	Price         decimal.Decimal
	CurrentValue  decimal.Decimal
	InvestedValue decimal.Decimal
	ProfitLoss    decimal.Decimal
	NavDate       string
	Priced        bool
}

// ValueReport is the profit-and-loss view of a portfolio.
type ValueReport struct {
	TotalInvestment   decimal.Decimal
	CurrentValue      decimal.Decimal
	ProfitLoss        decimal.Decimal
	ProfitLossPercent decimal.Decimal
	AsOn              string
	Holdings          []ValueLine
}

// Rounded returns a copy with presentation rounding applied.
func (r *ValueReport) Rounded() *ValueReport {
	out := &ValueReport{
		TotalInvestment:   r.TotalInvestment.Round(moneyPlaces),
		CurrentValue:      r.CurrentValue.Round(moneyPlaces),
		ProfitLoss:        r.ProfitLoss.Round(moneyPlaces),
		ProfitLossPercent: r.ProfitLossPercent.Round(percentPlaces),
		AsOn:              r.AsOn,
		Holdings:          make([]ValueLine, len(r.Holdings)),
	}
	for i, h := range r.Holdings {
		h.Price = h.Price.Round(pricePlaces)
		h.CurrentValue = h.CurrentValue.Round(moneyPlaces)
		h.InvestedValue = h.InvestedValue.Round(moneyPlaces)
		h.ProfitLoss = h.ProfitLoss.Round(moneyPlaces)
		out.Holdings[i] = h
	}
	return out
}

// =============================================================================
// ENGINE
// =============================================================================

// Config holds valuation settings.
type Config struct {
	InvestedRatio decimal.Decimal
	FetchMissing  bool
}

// DefaultConfig returns the 0.9 placeholder ratio with fetching disabled.
// The shipped configuration (common.NewDefaultConfig) enables it.
func DefaultConfig() Config {
	return Config{InvestedRatio: decimal.RequireFromString(defaultRatio)}
}

// ConfigFrom maps the file configuration onto Config.
func ConfigFrom(c common.ValuationConfig) (Config, error) {
	cfg := DefaultConfig()
	cfg.FetchMissing = c.FetchMissing
	if c.InvestedRatio != "" {
		ratio, err := decimal.NewFromString(c.InvestedRatio)
		if err != nil {
			return Config{}, fmt.Errorf("valuation.invested_ratio: %w", err)
		}
		if ratio.IsNegative() {
			return Config{}, fmt.Errorf("valuation.invested_ratio must not be negative")
		}
		cfg.InvestedRatio = ratio
	}
	return cfg, nil
}

// Engine computes valuations from a store and, optionally, a price source.
type Engine struct {
	store  nav.Store
	source nav.PriceSource
	cfg    Config
	logger *common.Logger
	now    func() time.Time
	loc    *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(logger *common.Logger) Option {
	return func(e *Engine) { e.logger = logger.Component("valuation") }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone used for the as-on date.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// NewEngine creates an Engine. source may be nil when no backfill is wanted.
func NewEngine(store nav.Store, source nav.PriceSource, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		source: source,
		cfg:    DefaultConfig(),
		logger: common.NewSilentLogger(),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Holdings returns the user's holdings priced at the latest NAV.
func (e *Engine) Holdings(ctx context.Context, userID string) (*HoldingsReport, error) {
	rows, err := e.valuedHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &HoldingsReport{
		TotalHoldings: len(rows),
		TotalValue:    decimal.Zero,
		Holdings:      make([]HoldingLine, 0, len(rows)),
	}
	for _, row := range rows {
		name, house := schemeLabels(row.Scheme)
		price, date, priced := latestOf(row.Latest)
		value := row.Holding.Units.Mul(price)

		report.TotalValue = report.TotalValue.Add(value)
		report.Holdings = append(report.Holdings, HoldingLine{
			Code:    row.Holding.Code,
			Name:    name,
			House:   house,
			Units:   row.Holding.Units,
			Price:   price,
			Value:   value,
			NavDate: date,
			Priced:  priced,
		})
	}
	return report, nil
}

// Value returns profit and loss for the user's portfolio.
func (e *Engine) Value(ctx context.Context, userID string) (*ValueReport, error) {
	rows, err := e.valuedHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ValueReport{
		TotalInvestment:   decimal.Zero,
		CurrentValue:      decimal.Zero,
		ProfitLoss:        decimal.Zero,
		ProfitLossPercent: decimal.Zero,
		AsOn:              e.now().In(e.loc).Format(AsOnFormat),
		Holdings:          make([]ValueLine, 0, len(rows)),
	}

	for _, row := range rows {
		name, _ := schemeLabels(row.Scheme)
		price, date, priced := latestOf(row.Latest)

		current := row.Holding.Units.Mul(price)
		invested := current.Mul(e.cfg.InvestedRatio)

		report.CurrentValue = report.CurrentValue.Add(current)
		report.TotalInvestment = report.TotalInvestment.Add(invested)
		report.Holdings = append(report.Holdings, ValueLine{
			Code:          row.Holding.Code,
			Name:          name,
			Units:         row.Holding.Units,
			Price:         price,
			CurrentValue:  current,
			InvestedValue: invested,
			ProfitLoss:    current.Sub(invested),
			NavDate:       date,
			Priced:        priced,
		})
	}

	report.ProfitLoss = report.CurrentValue.Sub(report.TotalInvestment)
	if report.TotalInvestment.IsPositive() {
		report.ProfitLossPercent = report.ProfitLoss.Div(report.TotalInvestment).Mul(hundred)
	}
	return report, nil
}

// valuedHoldings loads the join and, when enabled, backfills missing prices.
func (e *Engine) valuedHoldings(ctx context.Context, userID string) ([]nav.ValuedHolding, error) {
	rows, err := e.store.ValuedHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings for %s: %w", userID, err)
	}
	if !e.cfg.FetchMissing || e.source == nil {
		return rows, nil
	}

	for i := range rows {
		if rows[i].Latest != nil {
			continue
		}
		latest, err := e.restoreLatest(ctx, rows[i].Holding.Code)
		if err != nil {
			e.logger.Warn().Int64("scheme", int64(rows[i].Holding.Code)).Err(err).Msg("price backfill failed, valuing at zero")
			continue
		}
		rows[i].Latest = latest
	}
	return rows, nil
}

// restoreLatest sets a missing snapshot from the newest stored history row,
// and backfills from the source only when no history is stored.
func (e *Engine) restoreLatest(ctx context.Context, code nav.SchemeCode) (*nav.LatestPrice, error) {
	records, err := e.store.History(ctx, code, 1)
	if err != nil {
		return nil, fmt.Errorf("load history for %d: %w", code, err)
	}
	if len(records) == 0 {
		return e.backfill(ctx, code)
	}

	latest := nav.NewLatestPrice(code, nav.Quote{Price: records[0].Price, Date: records[0].Date}, e.now())
	if err := e.store.UpsertLatest(ctx, latest); err != nil {
		return nil, fmt.Errorf("update latest price for %d: %w", code, err)
	}
	return &latest, nil
}

func schemeLabels(s *nav.Scheme) (name, house string) {
	if s == nil {
		return UnknownFund, nav.UnknownHouse
	}
	name, house = s.Name, s.House
	if name == "" {
		name = UnknownFund
	}
	if house == "" {
		house = nav.UnknownHouse
	}
	return name, house
}

func latestOf(p *nav.LatestPrice) (price decimal.Decimal, date string, priced bool) {
	if p == nil {
		return decimal.Zero, NotAvailable, false
	}
	return p.Price, p.Date.String(), true
}
