/*
handlers.go - HTTP API handlers for the NAV engine

PURPOSE:
  Exposes holdings, valuation, fund data and ingestion controls via REST.
  Handles HTTP request/response and JSON serialisation; every decision is
  delegated to portfolio, valuation, catalog or ingest.

ENDPOINTS:
  Portfolio (user token):
    POST   /api/portfolio/add                  Add units (201 new, 200 increment)
    GET    /api/portfolio/list                 Holdings at latest NAV
    GET    /api/portfolio/value                Profit and loss
    DELETE /api/portfolio/remove/{schemeCode}  Remove a holding

  Funds:
    GET    /api/funds/{schemeCode}/nav         Recent NAV history (public)
    POST   /api/funds/{schemeCode}/update-nav  Refresh one scheme (operator)
    POST   /api/funds/sync                     Catalogue sync (operator)

  Automation (operator token):
    POST   /api/automation/manual-update       Bounded ingestion run
    GET    /api/automation/last-run            Last cycle summary

ERROR HANDLING:
  Every response uses the Response envelope. Status comes from the error:
  - 400: Validation errors, malformed body
  - 404: Unknown scheme, missing holding
  - 409: Ingestion already running
  - 502: Price provider failure
  - 500: Anything else, logged, generic message to the client

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Bearer token middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/nav-engine/catalog"
	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/ingest"
	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/portfolio"
	"github.com/warp/nav-engine/valuation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *valuation.Engine
	Portfolio *portfolio.Service
	Catalog   *catalog.Syncer
	Ingestor  *ingest.Ingestor
	Schemes   nav.SchemeStore

	logger *common.Logger
}

// NewHandler creates a handler over the domain services.
func NewHandler(engine *valuation.Engine, svc *portfolio.Service, syncer *catalog.Syncer, ingestor *ingest.Ingestor, schemes nav.SchemeStore, logger *common.Logger) *Handler {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Handler{
		Engine:    engine,
		Portfolio: svc,
		Catalog:   syncer,
		Ingestor:  ingestor,
		Schemes:   schemes,
		logger:    logger.Component("api"),
	}
}

// Health reports liveness and the state of the ingestion pipeline.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dto := HealthDTO{Status: "ok", IngestRunning: h.Ingestor.Running()}
	if last := h.Ingestor.LastResult(); last != nil {
		dto.LastRunAt = last.FinishedAt.Format(time.RFC3339)
		dto.LastRunSchemes = last.Schemes
		dto.LastRunFailed = last.Failed
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: dto})
}

// =============================================================================
// PORTFOLIO HANDLERS
// =============================================================================

// AddHolding adds units of a scheme to the caller's portfolio.
func (h *Handler) AddHolding(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)

	var req AddHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SchemeCode == "" {
		writeError(w, http.StatusBadRequest, "Scheme code and units are required")
		return
	}
	code, err := nav.ParseSchemeCode(req.SchemeCode.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	holding, created, err := h.Portfolio.Add(r.Context(), userID, code, req.Units)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	name := valuation.UnknownFund
	if scheme, err := h.Schemes.GetScheme(r.Context(), code); err == nil {
		name = scheme.Name
	}

	if created {
		writeJSON(w, http.StatusCreated, Response{
			Success: true,
			Message: "Fund added to portfolio successfully",
			Data:    toHoldingDTO(holding, name),
		})
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Units added to existing fund successfully",
		Data:    toHoldingDTO(holding, name),
	})
}

// ListHoldings returns the caller's holdings at the latest NAV.
func (h *Handler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Holdings(r.Context(), callerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toPortfolioListDTO(report)})
}

// PortfolioValue returns the caller's profit and loss.
func (h *Handler) PortfolioValue(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Value(r.Context(), callerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toPortfolioValueDTO(report)})
}

// RemoveHolding deletes one holding from the caller's portfolio.
func (h *Handler) RemoveHolding(w http.ResponseWriter, r *http.Request) {
	code, err := nav.ParseSchemeCode(chi.URLParam(r, "schemeCode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Portfolio.Remove(r.Context(), callerID(r), code); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Fund removed from portfolio successfully"})
}

// =============================================================================
// FUND HANDLERS
// =============================================================================

// SchemeHistory returns recent NAVs of one scheme.
func (h *Handler) SchemeHistory(w http.ResponseWriter, r *http.Request) {
	code, err := nav.ParseSchemeCode(chi.URLParam(r, "schemeCode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Engine.SchemeHistory(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toNavHistoryDTO(report)})
}

// UpdateSchemeNav refreshes one scheme from the provider now.
func (h *Handler) UpdateSchemeNav(w http.ResponseWriter, r *http.Request) {
	code, err := nav.ParseSchemeCode(chi.URLParam(r, "schemeCode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	latest, err := h.Engine.RefreshScheme(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "NAV updated successfully", Data: toNavUpdateDTO(latest)})
}

// SyncFunds copies the provider's catalogue into the local store.
func (h *Handler) SyncFunds(w http.ResponseWriter, r *http.Request) {
	result, err := h.Catalog.Sync(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Fund data synchronized successfully", Data: toSyncResultDTO(result)})
}

// =============================================================================
// AUTOMATION HANDLERS
// =============================================================================

// ManualUpdate runs a bounded ingestion pass over the first held schemes.
func (h *Handler) ManualUpdate(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ingestor.RunManual(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: result.Success, Message: result.Message, Data: toManualUpdateDTO(result)})
}

// LastRun returns the summary of the most recent ingestion run.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	last := h.Ingestor.LastResult()
	if last == nil {
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "No ingestion run recorded yet"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: last})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

// fail maps err to a status and writes the error envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeError(w, status, message)
}

func statusFor(err error) (int, string) {
	var verr *nav.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case nav.IsClientError(err):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, nav.ErrSchemeNotFound):
		return http.StatusNotFound, "Fund not found"
	case errors.Is(err, nav.ErrHoldingNotFound):
		return http.StatusNotFound, "Fund not found in your portfolio"
	case errors.Is(err, nav.ErrPriceNotFound):
		return http.StatusNotFound, "NAV data not available for this fund"
	case errors.Is(err, nav.ErrCycleInProgress):
		return http.StatusConflict, "NAV update already in progress"
	case nav.IsUpstream(err):
		return http.StatusBadGateway, "Failed to fetch data from NAV provider"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func callerID(r *http.Request) string {
	if uc := common.UserContextFromContext(r.Context()); uc != nil {
		return uc.UserID
	}
	return ""
}
