/*
sync.go - Completion propagation

PURPOSE:
  After a user completes or reopens an event, derived state has to follow:
  the task may now be complete, the habit log changes, and goals up the
  parent chain may complete or reopen.

ORDER:
  Syncer.AfterEventChange calls the steps explicitly, always in this order:
    1. task completion from its events
    2. habit log for the event
    3. habit completion mirrored from the task
    4. goal completion for the task's goal, then the habit's goal,
       each walking up through parent goals

  Each step reads what the previous one saved, so nothing needs to be
  re-entrant.

SEE ALSO:
  - reconcile.go: Creates and archives the events this reacts to
*/
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/recurrence"
)

// Syncer owns the explicit propagation chain.
type Syncer struct {
	Tasks    TaskStore
	Events   EventRepository
	Goals    GoalStore
	Habits   HabitStore
	Expander recurrence.Expander
	Now      func() time.Time
}

// =============================================================================
// USER ACTIONS
// =============================================================================

// CompleteEvent marks an event done, optionally with an excuse, and
// propagates the change.
func (s *Syncer) CompleteEvent(ctx context.Context, id EventID, excuse string) (*Event, error) {
	ev, err := s.Events.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		return nil, ErrEventNotFound
	}
	if ev.IsArchived {
		return nil, ErrEventArchived
	}

	ev.Complete(s.now(), excuse)
	if err := s.Events.SaveEvent(ctx, *ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}
	return ev, s.AfterEventChange(ctx, *ev)
}

// ReopenEvent clears completion and excuse and propagates the change.
func (s *Syncer) ReopenEvent(ctx context.Context, id EventID) (*Event, error) {
	ev, err := s.Events.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		return nil, ErrEventNotFound
	}

	ev.Reopen(s.now())
	if err := s.Events.SaveEvent(ctx, *ev); err != nil {
		return nil, fmt.Errorf("save event: %w", err)
	}
	return ev, s.AfterEventChange(ctx, *ev)
}

// AfterEventChange runs the propagation chain for one event.
func (s *Syncer) AfterEventChange(ctx context.Context, ev Event) error {
	task, err := s.Tasks.GetTask(ctx, ev.TaskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil
	}

	if _, err := s.SyncTaskCompletion(ctx, task); err != nil {
		return err
	}

	var habit *Habit
	if task.HabitID != "" {
		if err := s.syncHabitLog(ctx, task.HabitID, ev); err != nil {
			return err
		}
		if habit, err = s.syncHabitCompletion(ctx, task); err != nil {
			return err
		}
	}

	if err := s.SyncGoal(ctx, task.GoalID); err != nil {
		return err
	}
	if habit != nil && habit.GoalID != task.GoalID {
		return s.SyncGoal(ctx, habit.GoalID)
	}
	return nil
}

// =============================================================================
// STEPS
// =============================================================================

// SyncTaskCompletion completes a count-bounded recurring task once every
// expected occurrence has a live record and all live records are completed.
// Otherwise completion is cleared. task is updated in place.
func (s *Syncer) SyncTaskCompletion(ctx context.Context, task *Task) (bool, error) {
	if task.Schedule == nil {
		return false, nil
	}

	var completed *time.Time
	if task.Schedule.Count > 0 {
		events, err := s.Events.ListEventsForTask(ctx, task.ID, false)
		if err != nil {
			return false, fmt.Errorf("list events for task %s: %w", task.ID, err)
		}
		// The whole rule is needed here, so the count replaces the safety cap.
		expander := s.expanderFor(task)
		expander.MaxOccurrences = task.Schedule.Count
		completed = completionFrom(expander.Expand(task.Schedule, recurrence.Window{}), events)
	}

	if sameTime(task.DateCompleted, completed) {
		return false, nil
	}
	task.DateCompleted = completed
	task.UpdatedAt = s.now()
	if err := s.Tasks.SaveTask(ctx, *task); err != nil {
		return false, fmt.Errorf("save task %s: %w", task.ID, err)
	}
	appLog.Debug("sync: task completion changed", "task", task.ID, "completed", completed != nil)
	return true, nil
}

// completionFrom returns the latest completion time when events cover every
// expected instant and are all completed, else nil.
func completionFrom(expected []time.Time, events []Event) *time.Time {
	if len(events) == 0 {
		return nil
	}
	have := make(map[int64]bool, len(events))
	var latest time.Time
	for _, e := range events {
		if e.Completed == nil {
			return nil
		}
		have[e.Start.Unix()] = true
		if e.Completed.After(latest) {
			latest = *e.Completed
		}
	}
	for _, t := range expected {
		if !have[t.Unix()] {
			return nil
		}
	}
	return &latest
}

func (s *Syncer) syncHabitLog(ctx context.Context, habitID HabitID, ev Event) error {
	if ev.IsCompleted() {
		err := s.Habits.SaveHabitLog(ctx, HabitLog{ID: uuid.NewString(), HabitID: habitID, LoggedAt: ev.Start})
		if err != nil {
			return fmt.Errorf("save habit log: %w", err)
		}
		return nil
	}
	if err := s.Habits.DeleteHabitLogs(ctx, habitID, ev.Start); err != nil {
		return fmt.Errorf("delete habit logs: %w", err)
	}
	return nil
}

func (s *Syncer) syncHabitCompletion(ctx context.Context, task *Task) (*Habit, error) {
	habit, err := s.Habits.GetHabit(ctx, task.HabitID)
	if err != nil {
		return nil, fmt.Errorf("get habit: %w", err)
	}
	if habit == nil {
		return nil, nil
	}
	if sameTime(habit.DateCompleted, task.DateCompleted) {
		return habit, nil
	}
	habit.DateCompleted = task.DateCompleted
	habit.UpdatedAt = s.now()
	if err := s.Habits.SaveHabit(ctx, *habit); err != nil {
		return nil, fmt.Errorf("save habit: %w", err)
	}
	return habit, nil
}

// SyncGoal recomputes completion for the goal and each of its ancestors. A
// goal is complete, at the latest child completion, when it has children and
// every non-archived task, habit and sub-goal is complete.
func (s *Syncer) SyncGoal(ctx context.Context, id GoalID) error {
	visited := make(map[GoalID]bool)
	for id != "" && !visited[id] {
		visited[id] = true

		goal, err := s.Goals.GetGoal(ctx, id)
		if err != nil {
			return fmt.Errorf("get goal %s: %w", id, err)
		}
		if goal == nil {
			return nil
		}

		completed, err := s.goalCompletion(ctx, id)
		if err != nil {
			return err
		}
		if !sameTime(goal.DateCompleted, completed) {
			goal.DateCompleted = completed
			goal.UpdatedAt = s.now()
			if err := s.Goals.SaveGoal(ctx, *goal); err != nil {
				return fmt.Errorf("save goal %s: %w", id, err)
			}
		}
		id = goal.ParentID
	}
	return nil
}

func (s *Syncer) goalCompletion(ctx context.Context, id GoalID) (*time.Time, error) {
	tasks, err := s.Tasks.ListTasksByGoal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tasks for goal %s: %w", id, err)
	}
	habits, err := s.Habits.ListHabitsByGoal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list habits for goal %s: %w", id, err)
	}
	subgoals, err := s.Goals.ListSubgoals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list subgoals for goal %s: %w", id, err)
	}

	var dates []*time.Time
	for _, t := range tasks {
		if !t.IsArchived {
			dates = append(dates, t.DateCompleted)
		}
	}
	for _, h := range habits {
		if !h.IsArchived {
			dates = append(dates, h.DateCompleted)
		}
	}
	for _, g := range subgoals {
		if !g.IsArchived {
			dates = append(dates, g.DateCompleted)
		}
	}
	return latestIfAll(dates), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func latestIfAll(dates []*time.Time) *time.Time {
	var latest *time.Time
	for _, d := range dates {
		if d == nil {
			return nil
		}
		if latest == nil || d.After(*latest) {
			latest = d
		}
	}
	return latest
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *Syncer) expanderFor(task *Task) recurrence.Expander {
	if task.Timezone != "" {
		if loc, err := time.LoadLocation(task.Timezone); err == nil {
			return s.Expander.In(loc)
		}
	}
	return s.Expander
}

func (s *Syncer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
