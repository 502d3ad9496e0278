/*
reconcile.go - EventReconciler

PURPOSE:
  Aligns persisted Event records with the occurrences each task's schedule
  says should exist inside a window.

PER TASK:
  1. Expand the schedule inside the window (expected instants)
  2. Load the task's records in the window
  3. Archive active records whose start is no longer expected; only the
     rows the store actually changed are reported
  4. Create a record for every expected instant without a live record
     (active or completed); archived rows do not count, so a reappearing
     instant gets a fresh record and the archived row stays archived

GUARANTEES:
  - Completed records are never archived or deleted
  - A schedule the store could not decode counts as an invalid rule for
    that task alone
  - Re-running with an unchanged schedule creates nothing
  - One task's failure never aborts the batch
  - Persistence calls are retried once, then reported and skipped
  - ErrDuplicateEvent from the store counts as "already exists"
  - Work on a task is serialized through TaskLocks
  - Cancellation is honoured between tasks

SEE ALSO:
  - recurrence/expand.go: Expander
  - store.go: EventStore, TaskSource
  - run.go: Run bookkeeping around a reconciliation
*/
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/metrics"
	"github.com/lifeplan/planner/recurrence"
)

// Reconciler holds the collaborators of a reconciliation pass.
type Reconciler struct {
	Tasks    TaskSource
	Events   EventStore
	Expander recurrence.Expander
	Locks    *TaskLocks

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() EventID
}

// NewReconciler wires a reconciler with a fresh lock table.
func NewReconciler(tasks TaskSource, events EventStore, expander recurrence.Expander) *Reconciler {
	return &Reconciler{
		Tasks:    tasks,
		Events:   events,
		Expander: expander,
		Locks:    NewTaskLocks(),
		Now:      time.Now,
		NewID:    func() EventID { return EventID(uuid.NewString()) },
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// TaskOutcome is what happened to one task.
type TaskOutcome struct {
	TaskID    TaskID
	Expected  int
	Created   []Event
	Archived  []EventID
	Truncated bool

	// SpecErr is set when the schedule could not be expanded. The task is
	// then reconciled against an empty expectation.
	SpecErr error
	// Errs collects persistence failures that survived the retry.
	Errs []error
}

func (o TaskOutcome) Failed() bool { return len(o.Errs) > 0 }

// TaskFailure is the reportable form of a failed task.
type TaskFailure struct {
	TaskID TaskID
	Error  string
}

// Report summarises a reconciliation pass.
type Report struct {
	Window   recurrence.Window
	Tasks    int
	Created  []Event
	Archived int
	Failures []TaskFailure
	Outcomes []TaskOutcome
}

func (r *Report) add(o TaskOutcome) {
	r.Tasks++
	r.Created = append(r.Created, o.Created...)
	r.Archived += len(o.Archived)
	r.Outcomes = append(r.Outcomes, o)
	for _, err := range o.Errs {
		r.Failures = append(r.Failures, TaskFailure{TaskID: o.TaskID, Error: err.Error()})
	}
	if o.SpecErr != nil {
		r.Failures = append(r.Failures, TaskFailure{TaskID: o.TaskID, Error: o.SpecErr.Error()})
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileAll reconciles every task from the task source.
func (r *Reconciler) ReconcileAll(ctx context.Context, w recurrence.Window) (Report, error) {
	var tasks []Task
	err := retryOnce(func() error {
		var err error
		tasks, err = r.Tasks.ListSchedulableTasks(ctx)
		return err
	})
	if err != nil {
		return Report{Window: w}, fmt.Errorf("list schedulable tasks: %w", err)
	}
	return r.Reconcile(ctx, tasks, w)
}

// Reconcile processes tasks in order. The returned error is non-nil only when
// ctx was cancelled; the report then covers the tasks finished so far.
func (r *Reconciler) Reconcile(ctx context.Context, tasks []Task, w recurrence.Window) (Report, error) {
	report := Report{Window: w, Created: []Event{}}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			appLog.Info("reconcile: cancelled", "done", report.Tasks, "remaining", len(tasks)-report.Tasks)
			return report, err
		}
		if !task.Schedulable() {
			continue
		}
		report.add(r.ReconcileTask(ctx, task, w))
	}

	appLog.Info("reconcile: finished",
		"window", w.String(),
		"tasks", report.Tasks,
		"created", len(report.Created),
		"archived", report.Archived,
		"failed", len(report.Failures))
	return report, nil
}

// ReconcileTask reconciles a single task under its lock.
func (r *Reconciler) ReconcileTask(ctx context.Context, task Task, w recurrence.Window) TaskOutcome {
	out := TaskOutcome{TaskID: task.ID}
	if task.Schedule == nil && task.ScheduleErr == nil {
		return out
	}

	if r.Locks != nil {
		unlock := r.Locks.Lock(task.ID)
		defer unlock()
	}

	var exp recurrence.Expansion
	if task.ScheduleErr != nil {
		exp = recurrence.Expansion{Occurrences: []time.Time{}, Err: task.ScheduleErr}
	} else {
		expander, err := r.expanderFor(task)
		if err != nil {
			return r.failed(out, "timezone", err)
		}
		exp = expander.Run(task.Schedule, w)
	}
	switch {
	case exp.Err != nil:
		out.SpecErr = &TaskError{TaskID: task.ID, Op: "expand", Err: exp.Err}
		metrics.Expansion("invalid")
		appLog.Error("reconcile: schedule not expandable, treating as no occurrences", exp.Err, "task", task.ID)
	case exp.Truncated:
		out.Truncated = true
		metrics.Expansion("truncated")
	default:
		metrics.Expansion("ok")
	}
	out.Expected = len(exp.Occurrences)

	var existing []Event
	if err := retryOnce(func() error {
		var err error
		existing, err = r.Events.FindEventsForTaskInWindow(ctx, task.ID, w)
		return err
	}); err != nil {
		return r.failed(out, "find", err)
	}

	expected := make(map[int64]bool, len(exp.Occurrences))
	for _, t := range exp.Occurrences {
		expected[t.Unix()] = true
	}

	live := make(map[int64]bool, len(existing))
	var stale []EventID
	for _, e := range existing {
		if e.IsArchived {
			continue
		}
		if e.IsActive() && !expected[e.Start.Unix()] {
			stale = append(stale, e.ID)
			continue
		}
		live[e.Start.Unix()] = true
	}

	now := r.now()
	if len(stale) > 0 {
		var archived []EventID
		if err := retryOnce(func() error {
			var err error
			archived, err = r.Events.ArchiveEvents(ctx, stale, now)
			return err
		}); err != nil {
			out = r.failed(out, "archive", err)
		} else {
			out.Archived = archived
			metrics.EventsArchived(len(archived))
		}
	}

	for _, start := range exp.Occurrences {
		if live[start.Unix()] {
			continue
		}
		ev := NewEventFor(task, r.newID(), start, now)
		err := retryOnce(func() error { return r.Events.CreateEvent(ctx, ev) })
		switch {
		case errors.Is(err, ErrDuplicateEvent):
			appLog.Debug("reconcile: event already exists", "task", task.ID, "start", start)
		case err != nil:
			out = r.failed(out, "create", fmt.Errorf("%s: %w", start.Format(time.RFC3339), err))
		default:
			live[start.Unix()] = true
			out.Created = append(out.Created, ev)
		}
	}
	metrics.EventsCreated(len(out.Created))

	return out
}

// Purge removes archived, never-completed records archived more than
// olderThan ago. Zero purges all of them.
func (r *Reconciler) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	var cutoff *time.Time
	if olderThan > 0 {
		t := r.now().Add(-olderThan)
		cutoff = &t
	}
	n, err := r.Events.PurgeArchivedIncomplete(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge archived events: %w", err)
	}
	metrics.EventsPurged(n)
	appLog.Info("reconcile: purged archived events", "count", n, "older_than", olderThan.String())
	return n, nil
}

func (r *Reconciler) failed(out TaskOutcome, op string, err error) TaskOutcome {
	te := &TaskError{TaskID: out.TaskID, Op: op, Err: err}
	out.Errs = append(out.Errs, te)
	metrics.TaskFailure(op)
	appLog.Error("reconcile: task step failed", err, "task", out.TaskID, "op", op)
	return out
}

func (r *Reconciler) expanderFor(task Task) (recurrence.Expander, error) {
	if task.Timezone == "" {
		return r.Expander, nil
	}
	loc, err := time.LoadLocation(task.Timezone)
	if err != nil {
		return r.Expander, fmt.Errorf("load location %q: %w", task.Timezone, err)
	}
	return r.Expander.In(loc), nil
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Reconciler) newID() EventID {
	if r.NewID == nil {
		return EventID(uuid.NewString())
	}
	return r.NewID()
}

// retryOnce runs fn and, if it fails with anything but a duplicate, runs it
// one more time.
func retryOnce(fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, ErrDuplicateEvent) {
		return err
	}
	return fn()
}
