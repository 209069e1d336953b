/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/health           Liveness, public
  /api/portfolio/*      Holdings and valuation, user token
  /api/funds/*          NAV history public, refresh and sync operator
  /api/automation/*     Ingestion controls, operator token

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: RequireUser / RequireOperator
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local frontend origins accepted by CORS.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   DefaultAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Portfolio routes
		r.Route("/portfolio", func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Post("/add", h.AddHolding)
			r.Get("/list", h.ListHoldings)
			r.Get("/value", h.PortfolioValue)
			r.Delete("/remove/{schemeCode}", h.RemoveHolding)
		})

		// Fund routes
		r.Route("/funds", func(r chi.Router) {
			r.Get("/{schemeCode}/nav", h.SchemeHistory)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireUser, auth.RequireOperator)
				r.Post("/{schemeCode}/update-nav", h.UpdateSchemeNav)
				r.Post("/sync", h.SyncFunds)
			})
		})

		// Automation routes
		r.Route("/automation", func(r chi.Router) {
			r.Use(auth.RequireUser, auth.RequireOperator)
			r.Post("/manual-update", h.ManualUpdate)
			r.Get("/last-run", h.LastRun)
		})
	})

	return r
}
