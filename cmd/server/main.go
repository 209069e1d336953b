/*
main.go - Application entry point

PURPOSE:
  Starts the NAV engine server: HTTP API plus the daily ingestion
  scheduler. Handles configuration, dependency wiring, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load TOML config (NAV_* environment overrides apply)
  3. Build the application (store, client, ingestor, engine, router)
  4. Start the scheduler
  5. Start the HTTP server

COMMAND-LINE FLAGS:
  -config  TOML config file, may be repeated (later files win)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, waiting for a running cycle to finish
  4. Close the store
  5. Exit

EXAMPLES:
  # Defaults: SQLite at ./data/nav.db, daily run at 00:00 Asia/Kolkata
  ./server

  # PostgreSQL
  NAV_STORAGE_DRIVER=postgres NAV_DB_DSN=postgres://... ./server

SEE ALSO:
  - app/app.go: Dependency graph
  - api/server.go: Router configuration
  - common/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/warp/nav-engine/app"
	"github.com/warp/nav-engine/common"
)

type configPaths []string

func (p *configPaths) String() string { return strings.Join(*p, ",") }

func (p *configPaths) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	// Flags
	var paths configPaths
	flag.Var(&paths, "config", "TOML config file (repeatable)")
	flag.Parse()

	cfg, err := common.LoadConfig(paths...)
	if err != nil {
		common.NewLogger("info").Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := common.NewLoggerFromConfig(cfg.Logging)

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise application")
	}

	application.StartScheduler()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      application.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Str("env", cfg.Environment).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("close failed")
	}

	logger.Info().Msg("server stopped")
}
