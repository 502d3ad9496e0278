/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the planner HTTP server. Handles configuration,
  dependency injection, periodic reconciliation and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file + environment)
  2. Initialize SQLite store
  3. Create API handler with the configured expander
  4. Start the reconciliation scheduler (if enabled)
  5. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: planner.yaml, created if missing)
  -listen  HTTP listen address, overrides the config file
  -db      SQLite database path, overrides the config file
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop scheduling reconciliation and wait for a running pass
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

ENVIRONMENT:
  PLANNER_* variables override the config file; see config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - cmd/reconciler: Standalone worker (SQLite or PostgreSQL)
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lifeplan/planner/api"
	"github.com/lifeplan/planner/config"
	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/recurrence"
	"github.com/lifeplan/planner/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "planner.yaml", "YAML config path")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	if cfg.Database.Driver == config.DriverPostgres {
		fatal("unsupported driver", errors.New("the HTTP server runs on SQLite; use cmd/reconciler for PostgreSQL"))
	}

	// Initialize store
	store, err := sqlite.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		fatal("failed to initialize database", err)
	}
	defer store.Close()

	expander := recurrence.Expander{
		Location:       cfg.Location(),
		MaxOccurrences: cfg.Recurrence.MaxOccurrences,
		ScanLimit:      cfg.Recurrence.ScanLimit,
	}
	handler := api.NewHandler(store, expander, cfg.WeekStartDay())

	var scheduler *api.ReconciliationScheduler
	if cfg.Reconcile.Enabled {
		purgeAfter, _ := cfg.PurgeAfter()
		scheduler, err = api.NewReconciliationScheduler(handler.Reconciler, store, api.SchedulerOptions{
			Cron:       cfg.Reconcile.Cron,
			Range:      cfg.Reconcile.Range,
			Location:   cfg.Location(),
			WeekStart:  cfg.WeekStartDay(),
			PurgeAfter: purgeAfter,
			Purge:      cfg.Reconcile.PurgeArchivedAfter != "",
		})
		if err != nil {
			fatal("invalid reconciliation schedule", err)
		}
		if err := scheduler.Start(); err != nil {
			fatal("failed to start scheduler", err)
		}
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.NewRouter(handler, cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLog.Info("server starting", "addr", cfg.Listen, "db", cfg.Database.Path, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLog.Error("server forced to shutdown", err)
	}
	appLog.Info("server stopped")
}

func fatal(msg string, err error) {
	appLog.Error(msg, err)
	os.Exit(1)
}
