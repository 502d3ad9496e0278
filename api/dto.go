/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the planner
  domain types from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Events:      EventDTO, GenerateResponse, CompleteEventRequest
  Schedules:   ScheduleDTO, ScheduleRequest, OccurrencesResponse
  Tasks:       TaskDTO, TaskRequest
  Goals:       GoalDTO, GoalRequest
  Habits:      HabitDTO, HabitRequest, HabitLogsResponse
  Runs:        RunDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/schedule.go: ScheduleJSON document
*/
package api

import (
	"time"

	"github.com/lifeplan/planner/factory"
	"github.com/lifeplan/planner/planner"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO represents an occurrence record in API responses.
type EventDTO struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Location    string  `json:"location,omitempty"`
	DateStart   string  `json:"date_start"`
	DateEnd     *string `json:"date_end,omitempty"`
	AllDay      bool    `json:"all_day"`
	Completed   *string `json:"completed,omitempty"`
	Excuse      string  `json:"excuse,omitempty"`
	IsArchived  bool    `json:"is_archived"`
	ArchivedAt  *string `json:"archived_at,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// GenerateResponse is returned by a reconciliation trigger.
type GenerateResponse struct {
	Count    int          `json:"count"`
	IDs      []string     `json:"ids"`
	Results  []EventDTO   `json:"results"`
	Archived int          `json:"archived"`
	Failures []FailureDTO `json:"failures"`
	Window   WindowDTO    `json:"window"`
	RunID    string       `json:"run_id,omitempty"`
}

// FailureDTO names a task that could not be reconciled.
type FailureDTO struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type WindowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CompleteEventRequest completes an event; a non-empty excuse also counts.
type CompleteEventRequest struct {
	Excuse string `json:"excuse"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

type ScheduleDTO struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Rule      string               `json:"rrule"`
	Spec      factory.ScheduleJSON `json:"spec"`
	CreatedAt string               `json:"created_at,omitempty"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

// ScheduleRequest creates or replaces a schedule. ID is optional on create.
type ScheduleRequest struct {
	ID   string               `json:"id"`
	Name string               `json:"name"`
	Spec factory.ScheduleJSON `json:"spec"`
}

type OccurrencesResponse struct {
	ScheduleID  string    `json:"schedule_id"`
	Window      WindowDTO `json:"window"`
	Occurrences []string  `json:"occurrences"`
	Truncated   bool      `json:"truncated"`
}

// =============================================================================
// TASKS
// =============================================================================

type TaskDTO struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	Location      string                `json:"location,omitempty"`
	ScheduleID    string                `json:"schedule_id,omitempty"`
	Schedule      *factory.ScheduleJSON `json:"schedule,omitempty"`
	ScheduleError string                `json:"schedule_error,omitempty"`
	Timezone      string                `json:"timezone,omitempty"`
	GoalID        string                `json:"goal_id,omitempty"`
	HabitID       string                `json:"habit_id,omitempty"`
	Importance    int                   `json:"importance"`
	DueDate       string                `json:"due_date,omitempty"`
	DateCompleted *string               `json:"date_completed,omitempty"`
	IsArchived    bool                  `json:"is_archived"`
	CreatedAt     string                `json:"created_at,omitempty"`
}

// TaskRequest creates or updates a task. Either ScheduleID or an inline
// Schedule may be given.
type TaskRequest struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Location    string                `json:"location"`
	ScheduleID  string                `json:"schedule_id"`
	Schedule    *factory.ScheduleJSON `json:"schedule"`
	Timezone    string                `json:"timezone"`
	GoalID      string                `json:"goal_id"`
	HabitID     string                `json:"habit_id"`
	Importance  int                   `json:"importance"`
	DueDate     string                `json:"due_date"`
	IsArchived  bool                  `json:"is_archived"`
}

// =============================================================================
// GOALS & HABITS
// =============================================================================

type GoalDTO struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	ParentID      string  `json:"parent_id,omitempty"`
	DateCompleted *string `json:"date_completed,omitempty"`
	IsArchived    bool    `json:"is_archived"`
}

type GoalRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id"`
}

type HabitDTO struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	GoalID           string  `json:"goal_id,omitempty"`
	ScheduleID       string  `json:"schedule_id,omitempty"`
	ThresholdPercent string  `json:"threshold_percent"`
	Points           string  `json:"points"`
	DateCompleted    *string `json:"date_completed,omitempty"`
}

type HabitRequest struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	GoalID           string          `json:"goal_id"`
	ScheduleID       string          `json:"schedule_id"`
	ThresholdPercent *factory.Number `json:"threshold_percent"`
	Points           *factory.Number `json:"points"`
}

// HabitLogsResponse lists logs in a window together with progress against
// the habit's schedule.
type HabitLogsResponse struct {
	HabitID  string    `json:"habit_id"`
	Window   WindowDTO `json:"window"`
	Logs     []string  `json:"logs"`
	Expected int       `json:"expected"`
	Logged   int       `json:"logged"`
	Percent  string    `json:"percent"`
	OnTrack  bool      `json:"on_track"`
	Points   string    `json:"points"`
}

// =============================================================================
// RUNS & SCENARIOS
// =============================================================================

type RunDTO struct {
	ID          string `json:"id"`
	Trigger     string `json:"trigger"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	Status      string `json:"status"`
	Tasks       int    `json:"tasks"`
	Created     int    `json:"created"`
	Archived    int    `json:"archived"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatStamp(*t)
	return &s
}

func toWindowDTO(start, end time.Time) WindowDTO {
	var w WindowDTO
	if !start.IsZero() {
		w.Start = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		w.End = end.Format(time.RFC3339)
	}
	return w
}

func toEventDTO(e planner.Event) EventDTO {
	dto := EventDTO{
		ID:          string(e.ID),
		TaskID:      string(e.TaskID),
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		DateStart:   e.Start.Format(time.RFC3339),
		DateEnd:     formatOptional(e.End),
		AllDay:      e.AllDay,
		Completed:   formatOptional(e.Completed),
		Excuse:      e.Excuse,
		IsArchived:  e.IsArchived,
		ArchivedAt:  formatOptional(e.ArchivedAt),
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = formatStamp(e.CreatedAt)
	}
	return dto
}

func toEventDTOs(events []planner.Event) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	return dtos
}

func toGoalDTO(g planner.Goal) GoalDTO {
	return GoalDTO{
		ID:            string(g.ID),
		Title:         g.Title,
		Description:   g.Description,
		ParentID:      string(g.ParentID),
		DateCompleted: formatOptional(g.DateCompleted),
		IsArchived:    g.IsArchived,
	}
}

func toHabitDTO(h planner.Habit) HabitDTO {
	threshold, points := h.ThresholdPercent, h.Points
	if threshold.IsZero() {
		threshold = planner.DefaultHabitThreshold
	}
	if points.IsZero() {
		points = planner.DefaultHabitPoints
	}
	return HabitDTO{
		ID:               string(h.ID),
		Title:            h.Title,
		Description:      h.Description,
		GoalID:           string(h.GoalID),
		ScheduleID:       h.ScheduleID,
		ThresholdPercent: threshold.String(),
		Points:           points.String(),
		DateCompleted:    formatOptional(h.DateCompleted),
	}
}

func toRunDTO(r planner.Run) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		Trigger:   r.Trigger,
		Status:    string(r.Status),
		Tasks:     r.Tasks,
		Created:   r.Created,
		Archived:  r.Archived,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: formatStamp(r.StartedAt),
	}
	if !r.WindowStart.IsZero() {
		dto.WindowStart = r.WindowStart.Format(time.RFC3339)
	}
	if !r.WindowEnd.IsZero() {
		dto.WindowEnd = r.WindowEnd.Format(time.RFC3339)
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatStamp(*r.CompletedAt)
	}
	return dto
}
