/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for testing and demos. Each scenario creates schedules, tasks, goals
  and habits, then reconciles the current month so records exist right away.

AVAILABLE SCENARIOS:
  weekly-standup:  Shared weekday schedule plus an inline monthly review
  daily-habits:    Habit-backed daily task with some occurrences completed
  goal-tree:       Goal with a sub-goal, a counted task and a one-off task

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create schedules from JSON documents via factory
 3. Create goals, habits and tasks
 4. Reconcile the current month
 5. Optionally complete some records

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "daily-habits"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - factory/schedule.go: Schedule JSON documents
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-standup",
		Name:        "Weekly Standup",
		Description: "Weekday standup on a shared schedule and a monthly review with an inline rule",
	},
	{
		ID:          "daily-habits",
		Name:        "Daily Habits",
		Description: "Daily meditation habit under a wellbeing goal, partly completed",
	},
	{
		ID:          "goal-tree",
		Name:        "Goal Tree",
		Description: "Half-marathon goal with a training sub-goal and a four-run plan",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "weekly-standup":
		load = h.loadWeeklyStandupScenario
	case "daily-habits":
		load = h.loadDailyHabitsScenario
	case "goal-tree":
		load = h.loadGoalTreeScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	report, err := h.reconcileMonth(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile scenario", err)
		return
	}
	if req.ScenarioID == "daily-habits" {
		if err := h.completePastHabitEvents(ctx, "task-meditate"); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to complete scenario events", err)
			return
		}
	}

	h.setScenario(req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"created":  len(report.Created),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWeeklyStandupScenario(ctx context.Context) error {
	first := h.monthStart()

	err := h.createScheduleFromJSON(ctx, "weekdays-0930", "Weekdays 09:30", fmt.Sprintf(`{
		"freq": "weekly",
		"by_week_day": ["MO", "TU", "WE", "TH", "FR"],
		"start_date": %q,
		"start_time": "09:30"
	}`, first))
	if err != nil {
		return err
	}

	standup := planner.Task{
		ID:         "task-standup",
		Title:      "Team standup",
		Location:   "Room 4",
		ScheduleID: "weekdays-0930",
		Importance: 2,
	}
	if err := h.Store.SaveTask(ctx, standup); err != nil {
		return err
	}

	review, err := h.Schedules.ParseSchedule([]byte(fmt.Sprintf(`{
		"freq": "monthly",
		"by_month_day": [-1],
		"start_date": %q,
		"start_time": "16:00"
	}`, first)))
	if err != nil {
		return err
	}
	return h.Store.SaveTask(ctx, planner.Task{
		ID:          "task-monthly-review",
		Title:       "Monthly review",
		Description: "Look back at the month's standup notes",
		Schedule:    review,
		Importance:  3,
	})
}

func (h *Handler) loadDailyHabitsScenario(ctx context.Context) error {
	if err := h.Store.SaveGoal(ctx, planner.Goal{ID: "goal-wellbeing", Title: "Wellbeing"}); err != nil {
		return err
	}

	err := h.createScheduleFromJSON(ctx, "daily-0700", "Every morning", fmt.Sprintf(`{
		"freq": "daily",
		"start_date": %q,
		"start_time": "07:00"
	}`, h.monthStart()))
	if err != nil {
		return err
	}

	habit := planner.Habit{
		ID:               "habit-meditate",
		Title:            "Meditate",
		GoalID:           "goal-wellbeing",
		ScheduleID:       "daily-0700",
		ThresholdPercent: decimal.NewFromInt(70),
		Points:           decimal.NewFromInt(2),
	}
	if err := h.Store.SaveHabit(ctx, habit); err != nil {
		return err
	}

	return h.Store.SaveTask(ctx, planner.Task{
		ID:         "task-meditate",
		Title:      "Meditate 10 minutes",
		ScheduleID: "daily-0700",
		GoalID:     "goal-wellbeing",
		HabitID:    "habit-meditate",
		Importance: 1,
	})
}

func (h *Handler) loadGoalTreeScenario(ctx context.Context) error {
	goals := []planner.Goal{
		{ID: "goal-half-marathon", Title: "Run a half marathon"},
		{ID: "goal-base", Title: "Build an aerobic base", ParentID: "goal-half-marathon"},
	}
	for _, g := range goals {
		if err := h.Store.SaveGoal(ctx, g); err != nil {
			return err
		}
	}

	runs, err := h.Schedules.ParseSchedule([]byte(fmt.Sprintf(`{
		"freq": "weekly",
		"by_week_day": ["SA"],
		"count": 4,
		"start_date": %q,
		"start_time": "08:00"
	}`, h.monthStart())))
	if err != nil {
		return err
	}

	tasks := []planner.Task{
		{
			ID:         "task-long-run",
			Title:      "Long run",
			Schedule:   runs,
			GoalID:     "goal-base",
			Importance: 3,
		},
		{
			// One-off tasks have no schedule and never get records.
			ID:     "task-shoes",
			Title:  "Buy running shoes",
			GoalID: "goal-half-marathon",
		},
	}
	for _, t := range tasks {
		if err := h.Store.SaveTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createScheduleFromJSON(ctx context.Context, id, name, doc string) error {
	spec, err := h.Schedules.ParseSchedule([]byte(doc))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	return h.Store.SaveSchedule(ctx, planner.Schedule{ID: id, Name: name, Spec: *spec})
}

// monthStart is the first day of the current month as YYYY-MM-DD.
func (h *Handler) monthStart() string {
	now := h.now().In(h.location())
	return recurrence.NewDate(now.Year(), now.Month(), 1).String()
}

func (h *Handler) reconcileMonth(ctx context.Context) (planner.Report, error) {
	win, err := recurrence.NamedRange(recurrence.RangeMonth, h.now().In(h.location()), h.WeekStart)
	if err != nil {
		return planner.Report{}, err
	}
	report, _, err := planner.RunReconciliation(ctx, h.Reconciler, h.Store, planner.TriggerManual, win)
	return report, err
}

// completePastHabitEvents completes two out of every three records that
// already started, so habit progress shows a partial streak.
func (h *Handler) completePastHabitEvents(ctx context.Context, taskID planner.TaskID) error {
	events, err := h.Store.ListEventsForTask(ctx, taskID, false)
	if err != nil {
		return err
	}
	now := h.now()
	for i, ev := range events {
		if !ev.Start.Before(now) || i%3 == 2 {
			continue
		}
		if _, err := h.Syncer.CompleteEvent(ctx, ev.ID, ""); err != nil {
			return err
		}
	}
	return nil
}
