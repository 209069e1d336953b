package valuation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/nav-engine/nav"
)

// HistoryPoint is one dated NAV.
type HistoryPoint struct {
	Date  nav.NavDate
	Price decimal.Decimal
}

// HistoryReport is the recent NAV series of one scheme.
type HistoryReport struct {
	Code       nav.SchemeCode
	Name       string
	CurrentNAV decimal.Decimal
	AsOn       string
	History    []HistoryPoint
}

// SchemeHistory returns up to HistoryLimit recent NAVs for code, newest
// first. When nothing is stored yet the series is fetched from the price
// source and persisted; a fetch failure yields an empty series.
func (e *Engine) SchemeHistory(ctx context.Context, code nav.SchemeCode) (*HistoryReport, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}

	scheme, err := e.store.GetScheme(ctx, code)
	if err != nil {
		return nil, err
	}

	records, err := e.store.History(ctx, code, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for %d: %w", code, err)
	}

	if len(records) == 0 && e.source != nil {
		if _, err := e.backfill(ctx, code); err != nil {
			e.logger.Warn().Int64("scheme", int64(code)).Err(err).Msg("history backfill failed")
		} else if records, err = e.store.History(ctx, code, HistoryLimit); err != nil {
			return nil, fmt.Errorf("load history for %d: %w", code, err)
		}
	}

	report := &HistoryReport{
		Code:       code,
		Name:       scheme.Name,
		CurrentNAV: decimal.Zero,
		AsOn:       NotAvailable,
		History:    make([]HistoryPoint, 0, len(records)),
	}
	for _, r := range records {
		report.History = append(report.History, HistoryPoint{Date: r.Date, Price: r.Price})
	}

	latest, err := e.store.GetLatest(ctx, code)
	switch {
	case err == nil:
		report.CurrentNAV = latest.Price
		report.AsOn = latest.Date.String()
	case !errors.Is(err, nav.ErrPriceNotFound):
		return nil, fmt.Errorf("load latest price for %d: %w", code, err)
	}
	return report, nil
}

// RefreshScheme fetches the latest NAV of code and stores it. Unlike an
// ingestion cycle, upstream failures are returned to the caller.
func (e *Engine) RefreshScheme(ctx context.Context, code nav.SchemeCode) (*nav.LatestPrice, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}
	if e.source == nil {
		return nil, &nav.FetchError{Code: code, Op: "refresh", Err: errors.New("no price source configured")}
	}

	q, err := e.source.FetchLatest(ctx, code)
	if err != nil {
		return nil, err
	}

	now := e.now()
	latest := nav.NewLatestPrice(code, q, now)
	if err := e.store.UpsertLatest(ctx, latest); err != nil {
		return nil, fmt.Errorf("update latest price for %d: %w", code, err)
	}
	if _, err := e.store.UpsertHistoryIfAbsent(ctx, nav.NewPriceRecord(code, q, now)); err != nil {
		return nil, fmt.Errorf("record price history for %d: %w", code, err)
	}

	e.logger.Info().Int64("scheme", int64(code)).Str("nav", q.Price.String()).Str("date", q.Date.String()).Msg("scheme refreshed on demand")
	return &latest, nil
}

// backfill fetches recent history, stores it and sets the snapshot from the
// newest quote.
func (e *Engine) backfill(ctx context.Context, code nav.SchemeCode) (*nav.LatestPrice, error) {
	quotes, err := e.source.FetchHistory(ctx, code, HistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, &nav.FetchError{Code: code, Op: "fetch history", Err: errors.New("empty history")}
	}

	now := e.now()
	records := make([]nav.PriceRecord, len(quotes))
	for i, q := range quotes {
		records[i] = nav.NewPriceRecord(code, q, now)
	}
	inserted, err := e.store.InsertHistory(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("store history for %d: %w", code, err)
	}

	newest := quotes[0]
	for _, q := range quotes[1:] {
		if q.Date.After(newest.Date) {
			newest = q
		}
	}
	latest := nav.NewLatestPrice(code, newest, now)
	if err := e.store.UpsertLatest(ctx, latest); err != nil {
		return nil, fmt.Errorf("update latest price for %d: %w", code, err)
	}

	e.logger.Info().Int64("scheme", int64(code)).Int("fetched", len(quotes)).Int("inserted", inserted).Msg("history backfilled")
	return &latest, nil
}
