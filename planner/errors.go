package planner

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateEvent is returned by stores when a non-archived record for
	// the same (task, start) already exists. Reconciliation treats it as a no-op.
	ErrDuplicateEvent = errors.New("event already exists for task and start")

	ErrTaskNotFound  = errors.New("task not found")
	ErrEventNotFound = errors.New("event not found")
	ErrGoalNotFound  = errors.New("goal not found")
	ErrHabitNotFound = errors.New("habit not found")

	// ErrEventArchived is returned when completing an archived record.
	ErrEventArchived = errors.New("event is archived")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TaskError ties a failure to the task and step that produced it.
type TaskError struct {
	TaskID TaskID
	Op     string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Op, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrGoalNotFound) ||
		errors.Is(err, ErrHabitNotFound)
}

// IsConflict returns true if the error is a uniqueness or state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) || errors.Is(err, ErrEventArchived)
}
