package planner

import (
	"context"
	"time"

	"github.com/lifeplan/planner/recurrence"
)

// =============================================================================
// RECONCILIATION PERSISTENCE
// =============================================================================

// TaskSource lists the tasks reconciliation should look at.
type TaskSource interface {
	// ListSchedulableTasks returns non-archived tasks that carry a schedule.
	ListSchedulableTasks(ctx context.Context) ([]Task, error)
}

// EventStore persists occurrence records. Implementations enforce that at
// most one non-archived record exists per (task, start) and report violations
// as ErrDuplicateEvent.
type EventStore interface {
	// FindEventsForTaskInWindow returns every record of the task whose start
	// lies in w, archived and completed ones included.
	FindEventsForTaskInWindow(ctx context.Context, taskID TaskID, w recurrence.Window) ([]Event, error)

	// ArchiveEvents marks the records archived at the given time and returns
	// the IDs it changed. Completed or already archived records are left
	// alone and not returned.
	ArchiveEvents(ctx context.Context, ids []EventID, at time.Time) ([]EventID, error)

	CreateEvent(ctx context.Context, e Event) error

	// PurgeArchivedIncomplete deletes archived, never-completed records that
	// were archived before olderThan, or all of them when olderThan is nil.
	PurgeArchivedIncomplete(ctx context.Context, olderThan *time.Time) (int, error)
}

// RunRecorder keeps the reconciliation history.
type RunRecorder interface {
	SaveRun(ctx context.Context, run Run) error
}

// =============================================================================
// SYNC PERSISTENCE - Used by Syncer
// =============================================================================

// Getters return (nil, nil) when the entity does not exist.

type TaskStore interface {
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	SaveTask(ctx context.Context, t Task) error
	ListTasksByGoal(ctx context.Context, goalID GoalID) ([]Task, error)
}

type EventRepository interface {
	GetEvent(ctx context.Context, id EventID) (*Event, error)
	SaveEvent(ctx context.Context, e Event) error
	ListEventsForTask(ctx context.Context, taskID TaskID, includeArchived bool) ([]Event, error)
}

type GoalStore interface {
	GetGoal(ctx context.Context, id GoalID) (*Goal, error)
	SaveGoal(ctx context.Context, g Goal) error
	ListSubgoals(ctx context.Context, parent GoalID) ([]Goal, error)
}

type HabitStore interface {
	GetHabit(ctx context.Context, id HabitID) (*Habit, error)
	SaveHabit(ctx context.Context, h Habit) error
	ListHabitsByGoal(ctx context.Context, goalID GoalID) ([]Habit, error)

	// SaveHabitLog is idempotent on (habit, logged_at).
	SaveHabitLog(ctx context.Context, l HabitLog) error
	DeleteHabitLogs(ctx context.Context, habitID HabitID, at time.Time) error
	ListHabitLogs(ctx context.Context, habitID HabitID, w recurrence.Window) ([]HabitLog, error)
}
