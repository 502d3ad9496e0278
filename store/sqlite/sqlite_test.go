package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func mondays() *recurrence.Spec {
	start := recurrence.NewDate(2025, time.January, 6)
	return &recurrence.Spec{
		Frequency: recurrence.Weekly,
		Interval:  1,
		ByWeekday: recurrence.Every(recurrence.Monday),
		StartDate: &start,
	}
}

func archive(t *testing.T, store *Store, when time.Time, ids ...planner.EventID) {
	t.Helper()
	_, err := store.ArchiveEvents(context.Background(), ids, when)
	require.NoError(t, err)
}

func seedTask(t *testing.T, store *Store, id planner.TaskID) planner.Task {
	t.Helper()
	task := planner.Task{ID: id, Title: "Task " + string(id), Schedule: mondays()}
	require.NoError(t, store.SaveTask(context.Background(), task))
	return task
}

// =============================================================================
// SCHEDULES AND TASKS
// =============================================================================

func TestSchedule_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	count := planner.Schedule{ID: "sched-1", Name: "Standup", Spec: *mondays()}
	count.Spec.Count = 4

	require.NoError(t, store.SaveSchedule(ctx, count))
	got, err := store.GetSchedule(ctx, "sched-1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Standup", got.Name)
	assert.Equal(t, count.Spec, got.Spec)

	missing, err := store.GetSchedule(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.DeleteSchedule(ctx, "sched-1"))
	list, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTasks_SchedulableListing(t *testing.T) {
	// GIVEN: A scheduled task, an archived one, one without schedule and one
	// pointing at a shared schedule
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "scheduled")

	archived := planner.Task{ID: "archived", Title: "Old", Schedule: mondays(), IsArchived: true}
	require.NoError(t, store.SaveTask(ctx, archived))
	require.NoError(t, store.SaveTask(ctx, planner.Task{ID: "plain", Title: "Buy milk"}))
	require.NoError(t, store.SaveSchedule(ctx, planner.Schedule{ID: "shared", Spec: *mondays()}))
	require.NoError(t, store.SaveTask(ctx, planner.Task{ID: "shared-user", Title: "Uses shared", ScheduleID: "shared"}))

	// WHEN: Listing schedulable tasks
	tasks, err := store.ListSchedulableTasks(ctx)

	// THEN: Only live tasks with a schedule come back, with their rule loaded
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, planner.TaskID("scheduled"), tasks[0].ID)
	assert.Equal(t, "scheduled", tasks[0].ScheduleID)
	assert.Equal(t, mondays(), tasks[0].Schedule)
	assert.Equal(t, planner.TaskID("shared-user"), tasks[1].ID)
	require.NotNil(t, tasks[1].Schedule)

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestTasks_FieldsSurviveSave(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveGoal(ctx, planner.Goal{ID: "g1", Title: "Goal"}))
	due := recurrence.NewDate(2025, time.March, 31)
	done := at(2025, 3, 1, 10)
	task := planner.Task{
		ID: "t1", Title: "Write", Description: "Chapter 1", Location: "Library",
		Timezone: "Europe/Paris", GoalID: "g1", Importance: 7, DueDate: &due,
		DateCompleted: &done,
	}

	require.NoError(t, store.SaveTask(ctx, task))
	got, err := store.GetTask(ctx, "t1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Chapter 1", got.Description)
	assert.Equal(t, "Library", got.Location)
	assert.Equal(t, "Europe/Paris", got.Timezone)
	assert.Equal(t, planner.GoalID("g1"), got.GoalID)
	assert.Equal(t, 7, got.Importance)
	assert.Equal(t, due, *got.DueDate)
	assert.Equal(t, done, *got.DateCompleted)
	assert.Nil(t, got.Schedule)

	byGoal, err := store.ListTasksByGoal(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, byGoal, 1)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestCreateEvent_LiveUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "t1")
	start := at(2025, 3, 10, 0)

	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "e1", TaskID: "t1", Start: start}))

	// A second live record for the same instant is rejected
	err := store.CreateEvent(ctx, planner.Event{ID: "e2", TaskID: "t1", Start: start})
	assert.ErrorIs(t, err, planner.ErrDuplicateEvent)

	// Once archived, the instant may get a fresh record
	archive(t, store, at(2025, 3, 1, 0), "e1")
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "e3", TaskID: "t1", Start: start}))

	events, err := store.FindEventsForTaskInWindow(ctx, "t1", recurrence.Window{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].IsArchived)
	assert.Equal(t, at(2025, 3, 1, 0), *events[0].ArchivedAt)
	assert.False(t, events[1].IsArchived)
}

func TestArchiveEvents_LeavesCompletedAlone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "t1")
	done := at(2025, 3, 3, 9)
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "open", TaskID: "t1", Start: at(2025, 3, 3, 0)}))
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "done", TaskID: "t1", Start: at(2025, 3, 10, 0), Completed: &done}))

	changed, err := store.ArchiveEvents(ctx, []planner.EventID{"open", "done", "open"}, at(2025, 3, 20, 0))
	require.NoError(t, err)
	assert.Equal(t, []planner.EventID{"open"}, changed)

	open, err := store.GetEvent(ctx, "open")
	require.NoError(t, err)
	assert.True(t, open.IsArchived)
	completed, err := store.GetEvent(ctx, "done")
	require.NoError(t, err)
	assert.False(t, completed.IsArchived)
	assert.Equal(t, done, *completed.Completed)
}

func TestFindEventsForTaskInWindow_Bounds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "t1")
	seedTask(t, store, "t2")
	for i, day := range []int{1, 10, 31} {
		require.NoError(t, store.CreateEvent(ctx, planner.Event{
			ID: planner.EventID(fmt.Sprintf("e%d", i)), TaskID: "t1", Start: at(2025, 3, day, 0),
		}))
	}
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "other", TaskID: "t2", Start: at(2025, 3, 10, 0)}))

	w := recurrence.Window{Start: at(2025, 3, 1, 0), End: at(2025, 3, 31, 0)}
	events, err := store.FindEventsForTaskInWindow(ctx, "t1", w)
	require.NoError(t, err)
	assert.Len(t, events, 3, "both bounds are inclusive")

	w.End = at(2025, 3, 30, 23)
	events, err = store.FindEventsForTaskInWindow(ctx, "t1", w)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	listed, err := store.ListEvents(ctx, EventFilter{Window: w})
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestPurgeArchivedIncomplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "t1")
	done := at(2025, 1, 1, 0)
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "old", TaskID: "t1", Start: at(2025, 1, 6, 0)}))
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "new", TaskID: "t1", Start: at(2025, 1, 13, 0)}))
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "kept", TaskID: "t1", Start: at(2025, 1, 20, 0)}))
	archive(t, store, at(2025, 1, 1, 0), "old")
	archive(t, store, at(2025, 3, 1, 0), "new")
	archivedDone := planner.Event{ID: "done", TaskID: "t1", Start: at(2025, 1, 27, 0), Completed: &done, IsArchived: true, ArchivedAt: &done}
	require.NoError(t, store.SaveEvent(ctx, archivedDone))

	cutoff := at(2025, 2, 1, 0)
	n, err := store.PurgeArchivedIncomplete(ctx, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.PurgeArchivedIncomplete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := store.ListEventsForTask(ctx, "t1", true)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

// =============================================================================
// GOALS, HABITS, RUNS
// =============================================================================

func TestHabits_LogsAreIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveGoal(ctx, planner.Goal{ID: "g1", Title: "Health"}))
	require.NoError(t, store.SaveGoal(ctx, planner.Goal{ID: "g2", Title: "Sleep", ParentID: "g1"}))
	require.NoError(t, store.SaveHabit(ctx, planner.Habit{ID: "h1", Title: "Stretch", GoalID: "g1", Points: decimal.NewFromInt(2)}))

	habit, err := store.GetHabit(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, habit.ThresholdPercent.Equal(decimal.NewFromInt(80)))
	assert.True(t, habit.Points.Equal(decimal.NewFromInt(2)))

	logged := at(2025, 3, 3, 7)
	require.NoError(t, store.SaveHabitLog(ctx, planner.HabitLog{ID: "l1", HabitID: "h1", LoggedAt: logged}))
	require.NoError(t, store.SaveHabitLog(ctx, planner.HabitLog{ID: "l2", HabitID: "h1", LoggedAt: logged}))

	logs, err := store.ListHabitLogs(ctx, "h1", recurrence.Window{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, logged, logs[0].LoggedAt)

	require.NoError(t, store.DeleteHabitLogs(ctx, "h1", logged))
	logs, err = store.ListHabitLogs(ctx, "h1", recurrence.Window{})
	require.NoError(t, err)
	assert.Empty(t, logs)

	subs, err := store.ListSubgoals(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, planner.GoalID("g2"), subs[0].ID)
	byGoal, err := store.ListHabitsByGoal(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, byGoal, 1)
}

func TestRuns_UpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := planner.Run{
		ID: "run-1", Trigger: planner.TriggerManual, Status: planner.RunRunning,
		WindowStart: at(2025, 3, 1, 0), WindowEnd: at(2025, 3, 31, 23), StartedAt: at(2025, 3, 1, 12),
	}
	require.NoError(t, store.SaveRun(ctx, run))

	done := at(2025, 3, 1, 13)
	run.Status, run.Created, run.CompletedAt = planner.RunCompleted, 5, &done
	require.NoError(t, store.SaveRun(ctx, run))
	require.NoError(t, store.SaveRun(ctx, planner.Run{ID: "run-0", Trigger: planner.TriggerScheduled, Status: planner.RunFailed, StartedAt: at(2025, 2, 1, 0), Error: "boom"}))

	runs, err := store.ListRuns(ctx, 0)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, planner.RunCompleted, runs[0].Status)
	assert.Equal(t, 5, runs[0].Created)
	assert.Equal(t, done, *runs[0].CompletedAt)
	assert.Equal(t, at(2025, 3, 1, 0), runs[0].WindowStart)
	assert.Equal(t, "boom", runs[1].Error)
	assert.True(t, runs[1].WindowStart.IsZero())

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// =============================================================================
// RECONCILIATION AGAINST BOTH DRIVERS
// =============================================================================

func TestReconcile_AgainstSQLiteDrivers(t *testing.T) {
	for _, driver := range []string{DriverSQLite3, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			// GIVEN: A Monday task stored in SQLite
			store, err := Open(driver, ":memory:")
			require.NoError(t, err)
			defer store.Close()
			ctx := context.Background()
			task := seedTask(t, store, "t1")
			rec := planner.NewReconciler(store, store, recurrence.NewExpander(time.UTC, 0))
			march := recurrence.Window{Start: at(2025, 3, 1, 0), End: time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)}

			// WHEN: Reconciling twice, then moving the task to Tuesdays
			first, err := rec.ReconcileAll(ctx, march)
			require.NoError(t, err)
			second, err := rec.ReconcileAll(ctx, march)
			require.NoError(t, err)

			task.Schedule.ByWeekday = recurrence.Every(recurrence.Tuesday)
			require.NoError(t, store.SaveTask(ctx, task))
			third, err := rec.ReconcileAll(ctx, march)
			require.NoError(t, err)

			// THEN: The second run is a no-op and the third swaps the records
			assert.Len(t, first.Created, 5)
			assert.Empty(t, second.Created)
			assert.Zero(t, second.Archived)
			assert.Equal(t, 5, third.Archived)
			assert.Len(t, third.Created, 4)

			live, err := store.ListEventsForTask(ctx, "t1", false)
			require.NoError(t, err)
			require.Len(t, live, 4)
			for _, e := range live {
				assert.Equal(t, time.Tuesday, e.Start.Weekday())
				assert.Equal(t, "Task t1", e.Title)
			}
		})
	}
}

func TestReconcile_UndecodableScheduleOnlyAffectsItsTask(t *testing.T) {
	// GIVEN: A good Monday task next to one whose stored schedule has an unknown weekday
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "a-good")
	now := formatTime(at(2025, 1, 1, 0))
	_, err := store.db.ExecContext(ctx,
		"INSERT INTO schedules (id, name, spec_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		"bad", "Bad", `{"freq":"weekly","by_week_day":["XX"],"start_date":"2025-01-06"}`, now, now)
	require.NoError(t, err)
	require.NoError(t, store.SaveTask(ctx, planner.Task{ID: "b-bad", Title: "Bad", ScheduleID: "bad"}))
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "stale", TaskID: "b-bad", Start: at(2025, 3, 3, 0)}))
	rec := planner.NewReconciler(store, store, recurrence.NewExpander(time.UTC, 0))
	march := recurrence.Window{Start: at(2025, 3, 1, 0), End: time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)}

	// WHEN: Reconciling every task
	report, err := rec.ReconcileAll(ctx, march)

	// THEN: The good task gets its records and the bad one is reconciled against nothing
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tasks)
	assert.Len(t, report.Created, 5)
	assert.Equal(t, 1, report.Archived)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, planner.TaskID("b-bad"), report.Failures[0].TaskID)
	assert.Contains(t, report.Failures[0].Error, "XX")

	bad, err := store.GetTask(ctx, "b-bad")
	require.NoError(t, err)
	require.NotNil(t, bad)
	assert.Nil(t, bad.Schedule)
	assert.ErrorIs(t, bad.ScheduleErr, recurrence.ErrInvalidSpec)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTask(t, store, "t1")
	require.NoError(t, store.CreateEvent(ctx, planner.Event{ID: "e1", TaskID: "t1", Start: at(2025, 3, 3, 0)}))

	require.NoError(t, store.Reset(ctx))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	events, err := store.ListEvents(ctx, EventFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, events)
}
