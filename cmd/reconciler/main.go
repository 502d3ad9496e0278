/*
main.go - Standalone reconciliation worker

PURPOSE:
  Reconciles every schedulable task against its persisted records without
  the HTTP server, either once (for system cron or CI) or on the configured
  cron schedule. Runs against SQLite or PostgreSQL.

COMMAND-LINE FLAGS:
  -config  YAML config path (default: planner.yaml)
  -once    Reconcile a single time and exit
  -range   Named window: today, week, month, year (overrides config)
  -seed    YAML file of tasks to upsert before reconciling

EXIT STATUS:
  Non-zero when configuration or storage fails. Individual task failures
  are logged and recorded on the run; they do not fail the process.

EXAMPLES:
  # Hourly against PostgreSQL
  PLANNER_DB_DRIVER=postgres PLANNER_DB_DSN=postgres://... ./reconciler

  # One pass over the current week
  ./reconciler -once -range=week

SEE ALSO:
  - api/scheduler.go: The cron loop shared with the server
  - store/postgres: PostgreSQL backend
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lifeplan/planner/api"
	"github.com/lifeplan/planner/config"
	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
	"github.com/lifeplan/planner/store/postgres"
	"github.com/lifeplan/planner/store/sqlite"
)

// backend is what the worker needs from a store.
type backend interface {
	planner.TaskSource
	planner.EventStore
	planner.RunRecorder
	taskSaver
}

func main() {
	configPath := flag.String("config", "planner.yaml", "YAML config path")
	once := flag.Bool("once", false, "reconcile once and exit")
	rangeName := flag.String("range", "", "named window: today, week, month, year")
	seedPath := flag.String("seed", "", "YAML file of tasks to upsert first")
	flag.Parse()

	if err := run(*configPath, *rangeName, *seedPath, *once); err != nil {
		appLog.Error("reconciler failed", err)
		os.Exit(1)
	}
}

func run(configPath, rangeName, seedPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rangeName != "" {
		cfg.Reconcile.Range = rangeName
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if seedPath != "" {
		n, err := seedTasks(ctx, store, seedPath)
		if err != nil {
			return fmt.Errorf("seed %s: %w", seedPath, err)
		}
		appLog.Info("seeded tasks", "count", n, "file", seedPath)
	}

	rec := planner.NewReconciler(store, store, recurrence.Expander{
		Location:       cfg.Location(),
		MaxOccurrences: cfg.Recurrence.MaxOccurrences,
		ScanLimit:      cfg.Recurrence.ScanLimit,
	})
	purgeAfter, _ := cfg.PurgeAfter()
	scheduler, err := api.NewReconciliationScheduler(rec, store, api.SchedulerOptions{
		Cron:       cfg.Reconcile.Cron,
		Range:      cfg.Reconcile.Range,
		Location:   cfg.Location(),
		WeekStart:  cfg.WeekStartDay(),
		PurgeAfter: purgeAfter,
		Purge:      cfg.Reconcile.PurgeArchivedAfter != "",
	})
	if err != nil {
		return err
	}

	if once {
		r, err := scheduler.RunNow(ctx)
		if err != nil {
			return err
		}
		appLog.Info("reconciliation finished",
			"run", r.ID, "tasks", r.Tasks, "created", r.Created, "archived", r.Archived, "failed", r.Failed)
		return nil
	}

	if err := scheduler.Start(); err != nil {
		return err
	}
	appLog.Info("waiting for schedule", "next", scheduler.NextRun())
	<-ctx.Done()
	scheduler.Stop()
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, store.Close, nil
	default:
		store, err := sqlite.Open(cfg.Database.Driver, cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() { store.Close() }, nil
	}
}
