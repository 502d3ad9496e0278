/*
Package planner reconciles persisted occurrence records with the occurrences
a task's recurrence rule says should exist.

CORE TYPES:
  Task:     Something to do, optionally recurring (Schedule != nil)
  Event:    One tracked occurrence of a task at a concrete start instant
  Goal:     Groups tasks, habits and sub-goals; completes when they all do
  Habit:    A recurring behaviour tracked through HabitLogs
  HabitLog: One completed habit occurrence
  Schedule: A named recurrence rule shared by tasks and habits

EVENT STATES:
  Active    not archived, not completed
  Archived  no longer expected by the rule; kept for history
  Completed set by the user; never touched by reconciliation

SEE ALSO:
  - reconcile.go: Reconciler
  - sync.go: Completion propagation after user actions
  - store.go: Persistence interfaces
*/
package planner

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lifeplan/planner/recurrence"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	TaskID  string
	EventID string
	GoalID  string
	HabitID string
)

// =============================================================================
// TASK
// =============================================================================

// Task is a schedulable unit of work. Only tasks with a Schedule take part in
// reconciliation.
type Task struct {
	ID          TaskID
	Title       string
	Description string
	Location    string

	ScheduleID string
	Schedule   *recurrence.Spec
	// ScheduleErr is set by stores when the persisted schedule could not be
	// decoded. Schedule is nil in that case.
	ScheduleErr error

	// Timezone overrides the configured default location when set.
	Timezone string

	GoalID     GoalID
	HabitID    HabitID
	Importance int
	DueDate    *recurrence.Date

	DateStart     *time.Time
	DateEnd       *time.Time
	DateCompleted *time.Time
	IsArchived    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Task) IsCompleted() bool { return t.DateCompleted != nil }

// Schedulable reports whether reconciliation should look at the task. A task
// whose schedule failed to decode still takes part so its records get
// reconciled against an empty expectation.
func (t Task) Schedulable() bool {
	return (t.Schedule != nil || t.ScheduleErr != nil) && !t.IsArchived
}

// =============================================================================
// EVENT - Tracked occurrence record
// =============================================================================

// Event is the persisted record of one occurrence. Title, Description and
// Location are copied from the task when the record is created and are not
// rewritten by later task edits.
type Event struct {
	ID          EventID
	TaskID      TaskID
	Title       string
	Description string
	Location    string

	Start  time.Time
	End    *time.Time
	AllDay bool

	Completed  *time.Time
	Excuse     string
	IsArchived bool
	ArchivedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e Event) IsCompleted() bool { return e.Completed != nil }

// IsActive is true for records reconciliation may archive.
func (e Event) IsActive() bool { return !e.IsArchived && e.Completed == nil }

// NewEventFor snapshots the task's descriptive fields into a fresh record.
func NewEventFor(task Task, id EventID, start, now time.Time) Event {
	return Event{
		ID:          id,
		TaskID:      task.ID,
		Title:       task.Title,
		Description: task.Description,
		Location:    task.Location,
		Start:       start,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Complete marks the event done. A non-empty excuse also counts as done.
func (e *Event) Complete(at time.Time, excuse string) {
	e.Completed = &at
	e.Excuse = excuse
	e.UpdatedAt = at
}

// Reopen clears completion together with any excuse.
func (e *Event) Reopen(at time.Time) {
	e.Completed = nil
	e.Excuse = ""
	e.UpdatedAt = at
}

// =============================================================================
// SCHEDULE - Named, reusable recurrence rule
// =============================================================================

// Schedule is a stored recurrence rule that tasks and habits point at.
type Schedule struct {
	ID        string
	Name      string
	Spec      recurrence.Spec
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// GOALS AND HABITS
// =============================================================================

type Goal struct {
	ID            GoalID
	Title         string
	Description   string
	ParentID      GoalID
	DateCompleted *time.Time
	IsArchived    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	DefaultHabitThreshold = decimal.NewFromInt(80)
	DefaultHabitPoints    = decimal.NewFromInt(1)
)

// Habit is tracked through HabitLogs written when its task's events complete.
type Habit struct {
	ID          HabitID
	Title       string
	Description string
	GoalID      GoalID

	ScheduleID string
	Schedule   *recurrence.Spec
	// ScheduleErr is set by stores when the persisted schedule could not be
	// decoded. Schedule is nil in that case.
	ScheduleErr error

	// ThresholdPercent is the share of expected occurrences that must be
	// logged for the habit to count as on track, 0-100.
	ThresholdPercent decimal.Decimal
	// Points awarded per log, 1-3.
	Points decimal.Decimal

	DateCompleted *time.Time
	IsArchived    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type HabitLog struct {
	ID       string
	HabitID  HabitID
	LoggedAt time.Time
}
