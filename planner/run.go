package planner

import (
	"context"
	"time"

	"github.com/google/uuid"

	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/metrics"
	"github.com/lifeplan/planner/recurrence"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Triggers recorded on runs.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerTask      = "task"
)

// Run is one entry of the reconciliation history.
type Run struct {
	ID          string
	Trigger     string
	WindowStart time.Time
	WindowEnd   time.Time
	Status      RunStatus
	Tasks       int
	Created     int
	Archived    int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunReconciliation reconciles all tasks in w and records the run. A nil
// recorder skips bookkeeping. Failing to save the run record is logged, not
// returned.
func RunReconciliation(ctx context.Context, rec *Reconciler, recorder RunRecorder, trigger string, w recurrence.Window) (Report, Run, error) {
	run := Run{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Status:      RunRunning,
		StartedAt:   rec.now(),
	}
	saveRun(ctx, recorder, run)

	report, err := rec.ReconcileAll(ctx, w)

	done := rec.now()
	run.CompletedAt = &done
	run.Tasks = report.Tasks
	run.Created = len(report.Created)
	run.Archived = report.Archived
	run.Failed = len(report.Failures)
	run.Status = RunCompleted
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	}
	// The run record outlives a cancelled request context.
	saveRun(context.WithoutCancel(ctx), recorder, run)
	metrics.ObserveRun(trigger, string(run.Status), done.Sub(run.StartedAt))

	return report, run, err
}

func saveRun(ctx context.Context, recorder RunRecorder, run Run) {
	if recorder == nil {
		return
	}
	if err := recorder.SaveRun(ctx, run); err != nil {
		appLog.Error("reconcile: save run record", err, "run", run.ID, "status", string(run.Status))
	}
}
