/*
scheduler.go - Periodic reconciliation

PURPOSE:
  Reconciles every schedulable task over a named range (default: the current
  month) on a cron schedule, then optionally purges archived records that
  were never completed.

DESIGN:
  - robfig/cron drives the schedule; overlapping runs are skipped
  - Each run is recorded through planner.RunReconciliation
  - RunNow is the same code path, used by -once and by tests

CONFIGURATION (config.ReconcileConfig):
  - Cron: standard five-field spec, e.g. "0 * * * *"
  - Range: today, week, month or year
  - PurgeArchivedAfter: retention for archived, never-completed records

USAGE:
  scheduler, err := NewReconciliationScheduler(rec, store, opts)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - planner/run.go: RunReconciliation
  - handlers.go: GenerateEvents (manual trigger)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
)

// SchedulerOptions configures a ReconciliationScheduler.
type SchedulerOptions struct {
	Cron       string
	Range      string
	Location   *time.Location
	WeekStart  recurrence.Weekday
	PurgeAfter time.Duration
	Purge      bool
}

// ReconciliationScheduler runs reconciliation on a cron schedule.
type ReconciliationScheduler struct {
	Reconciler *planner.Reconciler
	Runs       planner.RunRecorder
	Options    SchedulerOptions

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

// NewReconciliationScheduler validates the cron spec and range.
func NewReconciliationScheduler(rec *planner.Reconciler, runs planner.RunRecorder, opts SchedulerOptions) (*ReconciliationScheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if _, err := cron.ParseStandard(opts.Cron); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", opts.Cron, err)
	}
	if _, err := recurrence.NamedRange(opts.Range, time.Now(), opts.WeekStart); err != nil {
		return nil, err
	}
	return &ReconciliationScheduler{Reconciler: rec, Runs: runs, Options: opts}, nil
}

// Start schedules the job. Calling Start twice is a no-op.
func (rs *ReconciliationScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron != nil {
		return nil
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(rs.Options.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(rs.Options.Cron, func() {
		if _, err := rs.RunNow(context.Background()); err != nil {
			appLog.Error("scheduler: run failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	c.Start()
	rs.cron, rs.entry = c, id

	appLog.Info("scheduler: started", "cron", rs.Options.Cron, "range", rs.Options.Range)
	return nil
}

// Stop stops scheduling and waits for a running job to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	c := rs.cron
	rs.cron = nil
	rs.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("scheduler: stopped")
}

// RunNow reconciles the configured range and purges if enabled.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (planner.Run, error) {
	now := time.Now()
	if rs.Reconciler.Now != nil {
		now = rs.Reconciler.Now()
	}
	w, err := recurrence.NamedRange(rs.Options.Range, now.In(rs.Options.Location), rs.Options.WeekStart)
	if err != nil {
		return planner.Run{}, err
	}

	_, run, err := planner.RunReconciliation(ctx, rs.Reconciler, rs.Runs, planner.TriggerScheduled, w)
	if err != nil {
		return run, err
	}

	if rs.Options.Purge {
		if _, err := rs.Reconciler.Purge(ctx, rs.Options.PurgeAfter); err != nil {
			return run, err
		}
	}
	return run, nil
}

// NextRun returns the next scheduled time, or zero when not started.
func (rs *ReconciliationScheduler) NextRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.next()
}

func (rs *ReconciliationScheduler) next() time.Time {
	if rs.cron == nil {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entry).Next
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
