/*
app.go - Dependency graph shared by the server and the operator CLI

PURPOSE:
  Builds every component from a Config in one place: store, price client,
  ingestor, scheduler, valuation engine, holdings service, catalogue syncer
  and the HTTP router. cmd/server and cmd/navctl both start from New.

STORAGE DRIVERS:
  sqlite    store/sqlite, file path or ":memory:"
  postgres  store/postgres, pgx pool on storage.dsn
  memory    nav/store, lost on exit

LIFECYCLE:
  New opens the store; Close stops the scheduler (if started) and closes it.
  The scheduler is built but not started; the server calls StartScheduler.

SEE ALSO:
  - common/config.go: Config sections
  - api/server.go: Routes
*/
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/warp/nav-engine/api"
	"github.com/warp/nav-engine/catalog"
	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/ingest"
	"github.com/warp/nav-engine/mfapi"
	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/nav/store"
	"github.com/warp/nav-engine/portfolio"
	"github.com/warp/nav-engine/store/postgres"
	"github.com/warp/nav-engine/store/sqlite"
	"github.com/warp/nav-engine/valuation"
)

// App holds all initialised components.
type App struct {
	Config    *common.Config
	Logger    *common.Logger
	Store     nav.Store
	Client    *mfapi.Client
	Ingestor  *ingest.Ingestor
	Scheduler *ingest.Scheduler
	Engine    *valuation.Engine
	Portfolio *portfolio.Service
	Catalog   *catalog.Syncer
	Auth      *api.Authenticator

	schedulerStarted bool
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *common.Config, logger *common.Logger) (*App, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	valuationCfg, err := valuation.ConfigFrom(cfg.Valuation)
	if err != nil {
		return nil, err
	}

	st, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	client := mfapi.NewClient(
		mfapi.WithBaseURL(cfg.Source.BaseURL),
		mfapi.WithTimeout(cfg.Source.GetTimeout()),
		mfapi.WithRateLimit(cfg.Source.RateLimit),
		mfapi.WithLogger(logger),
	)

	ingestor := ingest.NewIngestor(st, st, client,
		ingest.WithConfig(ingest.ConfigFrom(cfg.Ingest)),
		ingest.WithLogger(logger),
	)

	scheduler, err := ingest.NewScheduler(ingestor, cfg.Schedule, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Client:    client,
		Ingestor:  ingestor,
		Scheduler: scheduler,
		Engine: valuation.NewEngine(st, client,
			valuation.WithConfig(valuationCfg),
			valuation.WithLogger(logger),
			valuation.WithLocation(cfg.Schedule.GetLocation()),
		),
		Portfolio: portfolio.NewService(st, portfolio.WithLogger(logger)),
		Catalog:   catalog.NewSyncer(st, client, catalog.WithLogger(logger)),
		Auth:      api.NewAuthenticator(cfg.Auth.JWTSecret, logger),
	}

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("source", cfg.Source.BaseURL).
		Bool("schedule", cfg.Schedule.Enabled).
		Msg("application initialised")
	return a, nil
}

// OpenStore opens the configured persistence driver.
func OpenStore(ctx context.Context, cfg common.StorageConfig) (nav.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.Path != ":memory:" {
			if dir := filepath.Dir(cfg.Path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create data directory: %w", err)
				}
			}
		}
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Router returns the HTTP handler for the API.
func (a *App) Router() http.Handler {
	h := api.NewHandler(a.Engine, a.Portfolio, a.Catalog, a.Ingestor, a.Store, a.Logger)
	return api.NewRouter(h, a.Auth)
}

// StartScheduler starts the daily ingestion trigger.
func (a *App) StartScheduler() {
	a.Scheduler.Start()
	a.schedulerStarted = true
}

// Close stops the scheduler and closes the store.
func (a *App) Close() error {
	if a.schedulerStarted {
		a.Scheduler.Stop()
		a.schedulerStarted = false
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
