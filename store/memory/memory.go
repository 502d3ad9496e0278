// Package memory provides in-memory implementations of the planner stores
// (for tests and dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	tasks  map[planner.TaskID]planner.Task
	events map[planner.EventID]planner.Event
	goals  map[planner.GoalID]planner.Goal
	habits map[planner.HabitID]planner.Habit
	logs   map[logKey]planner.HabitLog
	runs   map[string]planner.Run
}

type logKey struct {
	HabitID planner.HabitID
	At      int64
}

func New() *Memory {
	return &Memory{
		tasks:  make(map[planner.TaskID]planner.Task),
		events: make(map[planner.EventID]planner.Event),
		goals:  make(map[planner.GoalID]planner.Goal),
		habits: make(map[planner.HabitID]planner.Habit),
		logs:   make(map[logKey]planner.HabitLog),
		runs:   make(map[string]planner.Run),
	}
}

// =============================================================================
// TASKS
// =============================================================================

func (m *Memory) ListSchedulableTasks(_ context.Context) ([]planner.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []planner.Task
	for _, t := range m.tasks {
		if t.Schedulable() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetTask(_ context.Context, id planner.TaskID) (*planner.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) SaveTask(_ context.Context, t planner.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) ListTasksByGoal(_ context.Context, goalID planner.GoalID) ([]planner.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []planner.Task
	for _, t := range m.tasks {
		if t.GoalID == goalID {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) FindEventsForTaskInWindow(_ context.Context, taskID planner.TaskID, w recurrence.Window) ([]planner.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []planner.Event
	for _, e := range m.events {
		if e.TaskID == taskID && w.Contains(e.Start) {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) ArchiveEvents(_ context.Context, ids []planner.EventID, at time.Time) ([]planner.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var archived []planner.EventID
	for _, id := range ids {
		e, ok := m.events[id]
		if !ok || e.IsCompleted() || e.IsArchived {
			continue
		}
		e.IsArchived = true
		e.ArchivedAt = &at
		e.UpdatedAt = at
		m.events[id] = e
		archived = append(archived, id)
	}
	return archived, nil
}

func (m *Memory) CreateEvent(_ context.Context, e planner.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.events {
		if existing.TaskID == e.TaskID && !existing.IsArchived && existing.Start.Equal(e.Start) {
			return planner.ErrDuplicateEvent
		}
	}
	m.events[e.ID] = e
	return nil
}

func (m *Memory) PurgeArchivedIncomplete(_ context.Context, olderThan *time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.events {
		if !e.IsArchived || e.IsCompleted() {
			continue
		}
		if olderThan != nil && e.ArchivedAt != nil && !e.ArchivedAt.Before(*olderThan) {
			continue
		}
		delete(m.events, id)
		n++
	}
	return n, nil
}

func (m *Memory) GetEvent(_ context.Context, id planner.EventID) (*planner.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) SaveEvent(_ context.Context, e planner.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *Memory) ListEventsForTask(_ context.Context, taskID planner.TaskID, includeArchived bool) ([]planner.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []planner.Event
	for _, e := range m.events {
		if e.TaskID == taskID && (includeArchived || !e.IsArchived) {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

// AllEvents returns every record, ordered by start.
func (m *Memory) AllEvents() []planner.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]planner.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	sortEvents(out)
	return out
}

func sortEvents(events []planner.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}

// =============================================================================
// GOALS, HABITS, RUNS
// =============================================================================

func (m *Memory) GetGoal(_ context.Context, id planner.GoalID) (*planner.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *Memory) SaveGoal(_ context.Context, g planner.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.ID] = g
	return nil
}

func (m *Memory) ListSubgoals(_ context.Context, parent planner.GoalID) ([]planner.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []planner.Goal
	for _, g := range m.goals {
		if g.ParentID == parent {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) GetHabit(_ context.Context, id planner.HabitID) (*planner.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.habits[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *Memory) SaveHabit(_ context.Context, h planner.Habit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.habits[h.ID] = h
	return nil
}

func (m *Memory) ListHabitsByGoal(_ context.Context, goalID planner.GoalID) ([]planner.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []planner.Habit
	for _, h := range m.habits {
		if h.GoalID == goalID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) SaveHabitLog(_ context.Context, l planner.HabitLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := logKey{HabitID: l.HabitID, At: l.LoggedAt.Unix()}
	if _, ok := m.logs[k]; !ok {
		m.logs[k] = l
	}
	return nil
}

func (m *Memory) DeleteHabitLogs(_ context.Context, habitID planner.HabitID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, logKey{HabitID: habitID, At: at.Unix()})
	return nil
}

func (m *Memory) ListHabitLogs(_ context.Context, habitID planner.HabitID, w recurrence.Window) ([]planner.HabitLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []planner.HabitLog
	for k, l := range m.logs {
		if k.HabitID == habitID && w.Contains(l.LoggedAt) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoggedAt.Before(out[j].LoggedAt) })
	return out, nil
}

func (m *Memory) SaveRun(_ context.Context, r planner.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

// Runs returns the recorded runs, newest first.
func (m *Memory) Runs() []planner.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]planner.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

var (
	_ planner.TaskSource      = (*Memory)(nil)
	_ planner.EventStore      = (*Memory)(nil)
	_ planner.RunRecorder     = (*Memory)(nil)
	_ planner.TaskStore       = (*Memory)(nil)
	_ planner.EventRepository = (*Memory)(nil)
	_ planner.GoalStore       = (*Memory)(nil)
	_ planner.HabitStore      = (*Memory)(nil)
)
