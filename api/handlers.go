/*
handlers.go - HTTP API handlers for the planner

PURPOSE:
  Exposes reconciliation, occurrence records, schedules, tasks, goals and
  habits via REST API. Handles HTTP request/response and JSON serialization,
  and delegates to the planner package.

ENDPOINTS:
  Reconciliation:
    GET|POST /api/events/generate        Reconcile all tasks over a window
    POST     /api/events/purge           Purge archived, never-completed records
    GET      /api/reconciliation/runs    Run history

  Events:
    GET    /api/events                   List records in a window
    GET    /api/events/{id}              Get one record
    POST   /api/events/{id}/complete     Complete (optionally with excuse)
    POST   /api/events/{id}/reopen       Clear completion
    GET    /api/calendar.ics             iCalendar feed

  Schedules:
    GET|POST            /api/schedules
    GET|PUT|DELETE      /api/schedules/{id}
    GET                 /api/schedules/{id}/occurrences

  Tasks:
    GET|POST            /api/tasks
    GET|PUT|DELETE      /api/tasks/{id}

  Goals & Habits:
    GET|POST /api/goals, GET /api/goals/{id}
    GET|POST /api/habits, GET /api/habits/{id}/logs

WINDOWS:
  start/end accept RFC 3339, "YYYY-MM-DDTHH:MM[:SS]" or "YYYY-MM-DD"; range
  is today, week, month or year. Without any of them the current month is
  used. A parameter that does not parse is rejected with 400.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unparseable window
  - 404: Entity not found
  - 409: Conflict (duplicate live record, archived event)
  - 429: Reconciliation trigger rate limit
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/lifeplan/planner/factory"
	"github.com/lifeplan/planner/ical"
	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
	"github.com/lifeplan/planner/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Schedules  *factory.ScheduleFactory
	Reconciler *planner.Reconciler
	Syncer     *planner.Syncer
	WeekStart  recurrence.Weekday

	// Now is replaceable for tests.
	Now func() time.Time

	// generate coalesces concurrent triggers for the same window.
	generate singleflight.Group

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a handler around store. expander sets the default zone
// and safety cap for every expansion.
func NewHandler(store *sqlite.Store, expander recurrence.Expander, weekStart recurrence.Weekday) *Handler {
	h := &Handler{
		Store:      store,
		Schedules:  factory.NewScheduleFactory(),
		Reconciler: planner.NewReconciler(store, store, expander),
		WeekStart:  weekStart,
		Now:        time.Now,
	}
	h.Syncer = &planner.Syncer{
		Tasks:    store,
		Events:   store,
		Goals:    store,
		Habits:   store,
		Expander: expander,
		Now:      h.now,
	}
	h.Reconciler.Now = h.now
	return h
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) location() *time.Location {
	if loc := h.Reconciler.Expander.Location; loc != nil {
		return loc
	}
	return time.UTC
}

// window resolves the start/end/range query parameters.
func (h *Handler) window(r *http.Request) (recurrence.Window, error) {
	q := r.URL.Query()
	return recurrence.ParseWindow(recurrence.WindowQuery{
		Start: q.Get("start"),
		End:   q.Get("end"),
		Range: q.Get("range"),
	}, h.now().In(h.location()), h.WeekStart)
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

type generateResult struct {
	report planner.Report
	run    planner.Run
}

// GenerateEvents reconciles every schedulable task over the requested window
// and returns the records it created.
// GET|POST /api/events/generate?start=&end=&range=
func (h *Handler) GenerateEvents(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}

	// The shared run is detached from any single caller's cancellation.
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := h.generate.Do(win.String(), func() (any, error) {
		report, run, err := planner.RunReconciliation(ctx, h.Reconciler, h.Store, planner.TriggerManual, win)
		return generateResult{report: report, run: run}, err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	res := v.(generateResult)
	if shared {
		appLog.Debug("generate: joined in-flight run", "run", res.run.ID)
	}

	resp := GenerateResponse{
		Count:    len(res.report.Created),
		IDs:      make([]string, 0, len(res.report.Created)),
		Results:  toEventDTOs(res.report.Created),
		Archived: res.report.Archived,
		Failures: make([]FailureDTO, 0, len(res.report.Failures)),
		Window:   toWindowDTO(win.Start, win.End),
		RunID:    res.run.ID,
	}
	for _, e := range res.report.Created {
		resp.IDs = append(resp.IDs, string(e.ID))
	}
	for _, f := range res.report.Failures {
		resp.Failures = append(resp.Failures, FailureDTO{TaskID: string(f.TaskID), Error: f.Error})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PurgeEvents deletes archived records that were never completed.
// POST /api/events/purge?older_than=720h
func (h *Handler) PurgeEvents(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if s := r.URL.Query().Get("older_than"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid older_than (use a duration like 720h)", err)
			return
		}
		olderThan = d
	}

	n, err := h.Reconciler.Purge(r.Context(), olderThan)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// ListReconciliationRuns returns reconciliation run history, newest first.
// GET /api/reconciliation/runs?limit=50
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns records in a window.
// GET /api/events?start=&end=&range=&task_id=&include_archived=true
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}
	q := r.URL.Query()
	includeArchived, _ := strconv.ParseBool(q.Get("include_archived"))

	events, err := h.Store.ListEvents(r.Context(), sqlite.EventFilter{
		Window:          win,
		TaskID:          planner.TaskID(q.Get("task_id")),
		IncludeArchived: includeArchived,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// GetEvent returns a single record.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Store.GetEvent(r.Context(), planner.EventID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get event", err)
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "Event not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*ev))
}

// CompleteEvent marks a record done and propagates completion.
// POST /api/events/{id}/complete {"excuse": "..."}
func (h *Handler) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	var req CompleteEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev, err := h.Syncer.CompleteEvent(r.Context(), planner.EventID(chi.URLParam(r, "id")), strings.TrimSpace(req.Excuse))
	if err != nil {
		writeDomainError(w, "Failed to complete event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*ev))
}

// ReopenEvent clears completion and excuse and propagates.
func (h *Handler) ReopenEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Syncer.ReopenEvent(r.Context(), planner.EventID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to reopen event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*ev))
}

// CalendarFeed renders live records in a window as text/calendar.
// GET /api/calendar.ics?range=month
func (h *Handler) CalendarFeed(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}
	events, err := h.Store.ListEvents(r.Context(), sqlite.EventFilter{Window: win})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="planner.ics"`)
	if err := ical.WriteFeed(w, "Planner", events, h.now()); err != nil {
		appLog.Error("calendar: write feed", err)
	}
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

func (h *Handler) toScheduleDTO(sc planner.Schedule) ScheduleDTO {
	return ScheduleDTO{
		ID:        sc.ID,
		Name:      sc.Name,
		Rule:      sc.Spec.String(),
		Spec:      h.Schedules.ToJSON(&sc.Spec),
		CreatedAt: formatStamp(sc.CreatedAt),
		UpdatedAt: formatStamp(sc.UpdatedAt),
	}
}

// ListSchedules returns all schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}
	dtos := make([]ScheduleDTO, len(list))
	for i, sc := range list {
		dtos[i] = h.toScheduleDTO(sc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule returns a single schedule.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.loadSchedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toScheduleDTO(*sc))
}

// CreateSchedule validates and stores a schedule document.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	h.saveSchedule(w, r, "", http.StatusCreated)
}

// UpdateSchedule replaces a schedule. Tasks using it pick up the new rule at
// their next reconciliation.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.loadSchedule(w, r); !ok {
		return
	}
	h.saveSchedule(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (h *Handler) saveSchedule(w http.ResponseWriter, r *http.Request, id string, status int) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	spec, err := h.Schedules.FromJSON(req.Spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid schedule", err)
		return
	}

	if id == "" {
		id = req.ID
	}
	if id == "" {
		id = uuid.NewString()
	}
	name := req.Name
	if name == "" {
		name = req.Spec.Name
	}
	sc := planner.Schedule{ID: id, Name: name, Spec: *spec}
	if err := h.Store.SaveSchedule(r.Context(), sc); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save schedule", err)
		return
	}

	saved, err := h.Store.GetSchedule(r.Context(), id)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload schedule", err)
		return
	}
	writeJSON(w, status, h.toScheduleDTO(*saved))
}

// DeleteSchedule removes a schedule and every task using it.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScheduleOccurrences previews a schedule's occurrences in a window.
// GET /api/schedules/{id}/occurrences?range=month
func (h *Handler) ScheduleOccurrences(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}
	sc, ok := h.loadSchedule(w, r)
	if !ok {
		return
	}

	res := h.Reconciler.Expander.Run(&sc.Spec, win)
	if res.Err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Schedule cannot be expanded", res.Err)
		return
	}
	resp := OccurrencesResponse{
		ScheduleID:  sc.ID,
		Window:      toWindowDTO(win.Start, win.End),
		Occurrences: make([]string, len(res.Occurrences)),
		Truncated:   res.Truncated,
	}
	for i, t := range res.Occurrences {
		resp.Occurrences[i] = t.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loadSchedule(w http.ResponseWriter, r *http.Request) (*planner.Schedule, bool) {
	sc, err := h.Store.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get schedule", err)
		return nil, false
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "Schedule not found", nil)
		return nil, false
	}
	return sc, true
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

func (h *Handler) toTaskDTO(t planner.Task) TaskDTO {
	dto := TaskDTO{
		ID:            string(t.ID),
		Title:         t.Title,
		Description:   t.Description,
		Location:      t.Location,
		ScheduleID:    t.ScheduleID,
		Timezone:      t.Timezone,
		GoalID:        string(t.GoalID),
		HabitID:       string(t.HabitID),
		Importance:    t.Importance,
		DateCompleted: formatOptional(t.DateCompleted),
		IsArchived:    t.IsArchived,
	}
	if t.Schedule != nil {
		doc := h.Schedules.ToJSON(t.Schedule)
		dto.Schedule = &doc
	}
	if t.ScheduleErr != nil {
		dto.ScheduleError = t.ScheduleErr.Error()
	}
	if t.DueDate != nil {
		dto.DueDate = t.DueDate.String()
	}
	if !t.CreatedAt.IsZero() {
		dto.CreatedAt = formatStamp(t.CreatedAt)
	}
	return dto
}

// ListTasks returns every task, most important first.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}
	dtos := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = h.toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTask returns a single task.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Store.GetTask(r.Context(), planner.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get task", err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "Task not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.toTaskDTO(*task))
}

// CreateTask stores a task and reconciles it over the default window.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	h.saveTask(w, r, nil, http.StatusCreated)
}

// UpdateTask replaces a task's fields and re-reconciles it. Existing
// records keep the title they were created with.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	existing, err := h.Store.GetTask(r.Context(), planner.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get task", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Task not found", nil)
		return
	}
	h.saveTask(w, r, existing, http.StatusOK)
}

func (h *Handler) saveTask(w http.ResponseWriter, r *http.Request, existing *planner.Task, status int) {
	ctx := r.Context()
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}

	task := planner.Task{
		ID:          planner.TaskID(req.ID),
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		ScheduleID:  req.ScheduleID,
		Timezone:    req.Timezone,
		GoalID:      planner.GoalID(req.GoalID),
		HabitID:     planner.HabitID(req.HabitID),
		Importance:  req.Importance,
		IsArchived:  req.IsArchived,
		UpdatedAt:   h.now(),
	}
	if existing != nil {
		task.ID = existing.ID
		task.CreatedAt = existing.CreatedAt
		task.DateCompleted = existing.DateCompleted
	}
	if task.ID == "" {
		task.ID = planner.TaskID(uuid.NewString())
	}

	if req.Schedule != nil {
		spec, err := h.Schedules.FromJSON(*req.Schedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid schedule", err)
			return
		}
		task.Schedule = spec
	} else if req.ScheduleID != "" {
		sc, err := h.Store.GetSchedule(ctx, req.ScheduleID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get schedule", err)
			return
		}
		if sc == nil {
			writeError(w, http.StatusBadRequest, "Unknown schedule_id", nil)
			return
		}
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timezone", err)
			return
		}
	}
	if req.DueDate != "" {
		d, err := recurrence.ParseDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
			return
		}
		task.DueDate = &d
	}

	if err := h.Store.SaveTask(ctx, task); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save task", err)
		return
	}
	saved, err := h.Store.GetTask(ctx, task.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload task", err)
		return
	}

	h.reconcileTask(ctx, *saved)
	writeJSON(w, status, h.toTaskDTO(*saved))
}

// reconcileTask brings one task's records in line over the default window.
// Failures are logged; the next scheduled run repairs them.
func (h *Handler) reconcileTask(ctx context.Context, task planner.Task) {
	if !task.Schedulable() {
		return
	}
	win, err := recurrence.NamedRange(recurrence.DefaultRange, h.now().In(h.location()), h.WeekStart)
	if err != nil {
		return
	}
	out := h.Reconciler.ReconcileTask(ctx, task, win)
	appLog.Debug("task saved: reconciled",
		"task", task.ID, "trigger", planner.TriggerTask,
		"created", len(out.Created), "archived", len(out.Archived), "failed", out.Failed())
}

// DeleteTask removes a task with its records.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteTask(r.Context(), planner.TaskID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// GOAL HANDLERS
// =============================================================================

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.Store.ListGoals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list goals", err)
		return
	}
	dtos := make([]GoalDTO, len(goals))
	for i, g := range goals {
		dtos[i] = toGoalDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	g, err := h.Store.GetGoal(r.Context(), planner.GoalID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get goal", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "Goal not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDTO(*g))
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	g := planner.Goal{
		ID:          planner.GoalID(req.ID),
		Title:       req.Title,
		Description: req.Description,
		ParentID:    planner.GoalID(req.ParentID),
	}
	if err := h.Store.SaveGoal(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save goal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalDTO(g))
}

// =============================================================================
// HABIT HANDLERS
// =============================================================================

func (h *Handler) ListHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := h.Store.ListHabits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list habits", err)
		return
	}
	dtos := make([]HabitDTO, len(habits))
	for i, hb := range habits {
		dtos[i] = toHabitDTO(hb)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateHabit(w http.ResponseWriter, r *http.Request) {
	var req HabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	hb := planner.Habit{
		ID:          planner.HabitID(req.ID),
		Title:       req.Title,
		Description: req.Description,
		GoalID:      planner.GoalID(req.GoalID),
		ScheduleID:  req.ScheduleID,
	}
	if req.ThresholdPercent != nil {
		hb.ThresholdPercent = req.ThresholdPercent.Decimal
	}
	if req.Points != nil {
		hb.Points = req.Points.Decimal
	}
	if err := h.Store.SaveHabit(r.Context(), hb); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save habit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHabitDTO(hb))
}

// HabitLogs lists a habit's logs in a window with progress against its
// schedule.
// GET /api/habits/{id}/logs?range=month
func (h *Handler) HabitLogs(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}
	ctx := r.Context()
	hb, err := h.Store.GetHabit(ctx, planner.HabitID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get habit", err)
		return
	}
	if hb == nil {
		writeError(w, http.StatusNotFound, "Habit not found", nil)
		return
	}

	logs, err := h.Store.ListHabitLogs(ctx, hb.ID, win)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list habit logs", err)
		return
	}
	var expected []time.Time
	if hb.Schedule != nil {
		expected = h.Reconciler.Expander.Expand(hb.Schedule, win)
	}
	progress := planner.Progress(*hb, logs, expected)

	resp := HabitLogsResponse{
		HabitID:  string(hb.ID),
		Window:   toWindowDTO(win.Start, win.End),
		Logs:     make([]string, len(logs)),
		Expected: progress.Expected,
		Logged:   progress.Logged,
		Percent:  progress.Percent.String(),
		OnTrack:  progress.OnTrack,
		Points:   progress.Points.String(),
	}
	for i, l := range logs {
		resp.Logs[i] = l.LoggedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps planner and recurrence errors to a status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case planner.IsNotFound(err):
		status = http.StatusNotFound
	case planner.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, recurrence.ErrInvalidSpec), errors.Is(err, recurrence.ErrWindowParse):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}
