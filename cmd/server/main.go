/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the forecast dashboard service. Handles
  configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve    Run the HTTP service (default)
  project  Run the projection engine over a JSON file, print the result
  ledger   Dump (or reset) the persisted ledgers, snapshots and audit stats

STARTUP SEQUENCE (serve):
  1. Load configuration (.env + environment, see config/config.go)
  2. Initialize SQLite store and restore ledgers
  3. Build the upstream client (redis page cache in front when enabled)
  4. Start the retry scheduler
  5. Configure HTTP router and start the server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Cancel a running fetch, stop retries, drain pending pushes
  4. Close database connection

EXAMPLES:
  # Run against the forecast backend
  BACKEND_BASE_URL=https://api.example.com ./server serve

  # Run with in-memory ledgers on another port
  ./server serve --db=":memory:" --port=3000

  # Project a saved page offline
  ./server project --input page.json --today 2025-03-12

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment keys
  - store/sqlite/sqlite.go: Ledger persistence
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/warp/forecast-engine/api"
	"github.com/warp/forecast-engine/backend"
	"github.com/warp/forecast-engine/cache"
	"github.com/warp/forecast-engine/config"
	"github.com/warp/forecast-engine/dashboard"
	"github.com/warp/forecast-engine/forecast"
	"github.com/warp/forecast-engine/pkg/logger"
	"github.com/warp/forecast-engine/store/sqlite"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("exit")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "forecast",
		Usage: "Inventory forecast dashboard service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "HTTP port (overrides SERVER_PORT)"},
					&cli.StringFlag{Name: "db", Usage: "SQLite path, \":memory:\" for none (overrides DB_PATH)"},
					&cli.BoolFlag{Name: "preload", Usage: "Fetch page 1 on startup"},
				},
				Action: runServe,
			},
			{
				Name:  "project",
				Usage: "Project variants from a JSON file and print them",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "JSON file, \"-\" for stdin", Value: "-"},
					&cli.StringFlag{Name: "today", Usage: "Date to project from (YYYY-MM-DD)"},
					&cli.IntFlag{Name: "workers", Usage: "Parallel projections", Value: 4},
					&cli.BoolFlag{Name: "strict", Usage: "Fail on malformed variants"},
				},
				Action: runProject,
			},
			{
				Name:  "ledger",
				Usage: "Dump persisted ledger state",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "SQLite path (overrides DB_PATH)"},
					&cli.StringFlag{Name: "variant", Usage: "Only show this variant"},
					&cli.IntFlag{Name: "audit", Usage: "Include the last N audit entries"},
					&cli.BoolFlag{Name: "reset", Usage: "Delete all persisted state instead"},
				},
				Action: runLedger,
			},
		},
		DefaultCommand: "serve",
	}
}

func setupLogging(cfg config.LogConfig) {
	if cfg.JSON {
		logger.UseJSON(os.Stderr)
	}
	logger.SetLevel(cfg.Level)
}

func openStore(path string) (*sqlite.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return sqlite.New(path)
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(c *cli.Context) error {
	cfg := config.Load()
	if c.IsSet("port") {
		cfg.Server.Port = c.String("port")
	}
	if c.IsSet("db") {
		cfg.DB.Path = c.String("db")
	}
	setupLogging(cfg.Log)
	log := logger.Log

	store, err := openStore(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	engine := forecast.NewEngine(time.Now)
	engine.Strict = cfg.Engine.Strict

	opts := dashboard.Options{
		Engine:           engine,
		State:            store,
		Audit:            store,
		Registry:         prometheus.DefaultRegisterer,
		Logger:           log,
		RetryConcurrency: cfg.Retry.Concurrency,
	}

	client, err := backend.New(backend.OptionsFromConfig(cfg.Backend, log))
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		log.Warn().Msg("BACKEND_BASE_URL not set, running without upstream")
	case err != nil:
		return err
	default:
		pages, err := cache.NewPageCache(cfg.Cache)
		if err != nil {
			log.Warn().Err(err).Msg("page cache unavailable, continuing without")
			pages = cache.NewNoopPageCache()
		}
		upstream := backend.NewCachedClient(client, pages, log)
		opts.Fetcher = upstream
		opts.Persister = upstream
	}

	app := dashboard.New(opts)
	defer app.Close()
	if err := app.Restore(c.Context); err != nil {
		return fmt.Errorf("restore ledgers: %w", err)
	}

	scheduler := api.NewRetryScheduler(app.Outbox, log)
	scheduler.Interval = cfg.Retry.Interval()
	scheduler.Start()
	defer scheduler.Stop()

	if app.Loader != nil {
		defer app.Loader.Wait()
		defer app.Loader.Cancel()
		if c.Bool("preload") {
			app.Loader.Start(dashboard.Query{Page: 1})
		}
	}

	router := api.NewRouter(api.NewHandler(app, log), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	failed := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("db", cfg.DB.Path).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-failed:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
