/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow the
  public contract (camelCase, schemeCode, currentNav, ...), decoupled from
  the decimal domain types in nav/ and valuation/.

NAMING CONVENTION:
  - *DTO: Response payloads carried in Response.Data
  - *Request: Request body types from clients
  - Response: The envelope every endpoint returns

NUMBERS:
  Money and NAV values leave the engine as decimals, already rounded by
  Rounded(), and are emitted as JSON numbers. Requests accept numbers or
  numeric strings for schemeCode and units.

SEE ALSO:
  - handlers.go: Uses these types
  - valuation/engine.go: Report types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/nav-engine/catalog"
	"github.com/warp/nav-engine/ingest"
	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/valuation"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Response is the envelope of every API response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// =============================================================================
// PORTFOLIO
// =============================================================================

// AddHoldingRequest is the body of POST /api/portfolio/add.
type AddHoldingRequest struct {
	SchemeCode json.Number     `json:"schemeCode"`
	Units      decimal.Decimal `json:"units"`
}

// HoldingDTO is the holding written by an add.
type HoldingDTO struct {
	SchemeCode int64   `json:"schemeCode"`
	SchemeName string  `json:"schemeName"`
	Units      float64 `json:"units"`
	AddedAt    string  `json:"addedAt"`
}

// PortfolioListDTO is the body of GET /api/portfolio/list.
type PortfolioListDTO struct {
	TotalHoldings int                   `json:"totalHoldings"`
	TotalValue    float64               `json:"totalValue"`
	Holdings      []PortfolioHoldingDTO `json:"holdings"`
}

type PortfolioHoldingDTO struct {
	SchemeCode   int64   `json:"schemeCode"`
	SchemeName   string  `json:"schemeName"`
	FundHouse    string  `json:"fundHouse"`
	Units        float64 `json:"units"`
	CurrentNav   float64 `json:"currentNav"`
	CurrentValue float64 `json:"currentValue"`
	NavDate      string  `json:"navDate"`
}

// PortfolioValueDTO is the body of GET /api/portfolio/value.
type PortfolioValueDTO struct {
	TotalInvestment   float64           `json:"totalInvestment"`
	CurrentValue      float64           `json:"currentValue"`
	ProfitLoss        float64           `json:"profitLoss"`
	ProfitLossPercent float64           `json:"profitLossPercent"`
	AsOn              string            `json:"asOn"`
	Holdings          []ValueHoldingDTO `json:"holdings"`
}

type ValueHoldingDTO struct {
	SchemeCode    int64   `json:"schemeCode"`
	SchemeName    string  `json:"schemeName"`
	Units         float64 `json:"units"`
	CurrentNav    float64 `json:"currentNav"`
	CurrentValue  float64 `json:"currentValue"`
	InvestedValue float64 `json:"investedValue"`
	ProfitLoss    float64 `json:"profitLoss"`
	NavDate       string  `json:"navDate"`
}

// =============================================================================
// FUNDS
// =============================================================================

// NavHistoryDTO is the body of GET /api/funds/{schemeCode}/nav.
type NavHistoryDTO struct {
	SchemeCode int64         `json:"schemeCode"`
	SchemeName string        `json:"schemeName"`
	CurrentNav float64       `json:"currentNav"`
	AsOn       string        `json:"asOn"`
	History    []NavPointDTO `json:"history"`
}

type NavPointDTO struct {
	Date string  `json:"date"`
	Nav  float64 `json:"nav"`
}

// NavUpdateDTO is the body of POST /api/funds/{schemeCode}/update-nav.
type NavUpdateDTO struct {
	SchemeCode int64   `json:"schemeCode"`
	Nav        float64 `json:"nav"`
	Date       string  `json:"date"`
}

// SyncResultDTO is the body of POST /api/funds/sync.
type SyncResultDTO struct {
	TotalFunds    int `json:"totalFunds"`
	Duplicates    int `json:"duplicates"`
	ExternalTotal int `json:"externalTotal"`
}

// =============================================================================
// AUTOMATION
// =============================================================================

// ManualUpdateDTO is the body of POST /api/automation/manual-update.
type ManualUpdateDTO struct {
	Processed int                    `json:"processed"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Failures  []ingest.SchemeFailure `json:"failures,omitempty"`
}

// HealthDTO is the body of GET /api/health.
type HealthDTO struct {
	Status         string `json:"status"`
	IngestRunning  bool   `json:"ingestRunning"`
	LastRunAt      string `json:"lastRunAt,omitempty"`
	LastRunFailed  int    `json:"lastRunFailed,omitempty"`
	LastRunSchemes int    `json:"lastRunSchemes,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toHoldingDTO(h nav.Holding, schemeName string) HoldingDTO {
	return HoldingDTO{
		SchemeCode: int64(h.Code),
		SchemeName: schemeName,
		Units:      h.Units.InexactFloat64(),
		AddedAt:    h.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPortfolioListDTO(r *valuation.HoldingsReport) PortfolioListDTO {
	r = r.Rounded()
	dto := PortfolioListDTO{
		TotalHoldings: r.TotalHoldings,
		TotalValue:    r.TotalValue.InexactFloat64(),
		Holdings:      make([]PortfolioHoldingDTO, len(r.Holdings)),
	}
	for i, h := range r.Holdings {
		dto.Holdings[i] = PortfolioHoldingDTO{
			SchemeCode:   int64(h.Code),
			SchemeName:   h.Name,
			FundHouse:    h.House,
			Units:        h.Units.InexactFloat64(),
			CurrentNav:   h.Price.InexactFloat64(),
			CurrentValue: h.Value.InexactFloat64(),
			NavDate:      h.NavDate,
		}
	}
	return dto
}

func toPortfolioValueDTO(r *valuation.ValueReport) PortfolioValueDTO {
	r = r.Rounded()
	dto := PortfolioValueDTO{
		TotalInvestment:   r.TotalInvestment.InexactFloat64(),
		CurrentValue:      r.CurrentValue.InexactFloat64(),
		ProfitLoss:        r.ProfitLoss.InexactFloat64(),
		ProfitLossPercent: r.ProfitLossPercent.InexactFloat64(),
		AsOn:              r.AsOn,
		Holdings:          make([]ValueHoldingDTO, len(r.Holdings)),
	}
	for i, h := range r.Holdings {
		dto.Holdings[i] = ValueHoldingDTO{
			SchemeCode:    int64(h.Code),
			SchemeName:    h.Name,
			Units:         h.Units.InexactFloat64(),
			CurrentNav:    h.Price.InexactFloat64(),
			CurrentValue:  h.CurrentValue.InexactFloat64(),
			InvestedValue: h.InvestedValue.InexactFloat64(),
			ProfitLoss:    h.ProfitLoss.InexactFloat64(),
			NavDate:       h.NavDate,
		}
	}
	return dto
}

func toNavHistoryDTO(r *valuation.HistoryReport) NavHistoryDTO {
	dto := NavHistoryDTO{
		SchemeCode: int64(r.Code),
		SchemeName: r.Name,
		CurrentNav: r.CurrentNAV.InexactFloat64(),
		AsOn:       r.AsOn,
		History:    make([]NavPointDTO, len(r.History)),
	}
	for i, p := range r.History {
		dto.History[i] = NavPointDTO{Date: p.Date.String(), Nav: p.Price.InexactFloat64()}
	}
	return dto
}

func toNavUpdateDTO(p *nav.LatestPrice) NavUpdateDTO {
	return NavUpdateDTO{
		SchemeCode: int64(p.Code),
		Nav:        p.Price.InexactFloat64(),
		Date:       p.Date.String(),
	}
}

func toSyncResultDTO(r *catalog.Result) SyncResultDTO {
	return SyncResultDTO{
		TotalFunds:    r.Inserted,
		Duplicates:    r.Duplicates,
		ExternalTotal: r.ExternalTotal,
	}
}

func toManualUpdateDTO(r *ingest.ManualResult) ManualUpdateDTO {
	return ManualUpdateDTO{
		Processed: r.Processed,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Failures:  r.Failures,
	}
}
