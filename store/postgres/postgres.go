/*
postgres.go - PostgreSQL persistence for the reconciliation worker

The worker only needs the reconciliation side of the domain: schedulable
tasks, occurrence records and the run history. Schedules live in a JSONB
column in the same document format the HTTP API accepts.

Live-record uniqueness is the partial index idx_events_live_unique; a
violation (SQLSTATE 23505) surfaces as planner.ErrDuplicateEvent.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifeplan/planner/factory"
	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/metrics"
	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements planner.TaskSource, planner.EventStore and
// planner.RunRecorder on a pgx pool.
type Store struct {
	db        PgxPool
	close     func()
	schedules *factory.ScheduleFactory
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	s := NewWithPool(pool)
	s.close = pool.Close
	return s, nil
}

// NewWithPool wraps an existing pool. The schema must already exist.
func NewWithPool(pool PgxPool) *Store {
	return &Store{db: pool, schedules: factory.NewScheduleFactory()}
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// =============================================================================
// SCHEDULES & TASKS
// =============================================================================

// SaveSchedule inserts or updates a schedule document.
func (s *Store) SaveSchedule(ctx context.Context, sc planner.Schedule) error {
	doc, err := s.schedules.Marshal(&sc.Spec)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", sc.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO schedules (id, name, spec_json, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			spec_json = EXCLUDED.spec_json,
			updated_at = EXCLUDED.updated_at`,
		sc.ID, sc.Name, string(doc), stamp(sc.CreatedAt), stamp(sc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", sc.ID, err)
	}
	return nil
}

// SaveTask inserts or updates a task. An inline Schedule without a
// ScheduleID is stored under the task's own ID.
func (s *Store) SaveTask(ctx context.Context, t planner.Task) error {
	defer metrics.ObserveDB(ctx, "save_task")()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	scheduleID := t.ScheduleID
	if t.Schedule != nil {
		if scheduleID == "" {
			scheduleID = string(t.ID)
		}
		doc, err := s.schedules.Marshal(t.Schedule)
		if err != nil {
			return fmt.Errorf("encode schedule for task %s: %w", t.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedules (id, name, spec_json) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (id) DO UPDATE SET spec_json = EXCLUDED.spec_json, updated_at = NOW()`,
			scheduleID, t.Title, string(doc),
		); err != nil {
			return fmt.Errorf("save schedule for task %s: %w", t.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO tasks (id, title, description, location, schedule_id, timezone, goal_id,
			habit_id, importance, date_completed, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			schedule_id = EXCLUDED.schedule_id,
			timezone = EXCLUDED.timezone,
			goal_id = EXCLUDED.goal_id,
			habit_id = EXCLUDED.habit_id,
			importance = EXCLUDED.importance,
			date_completed = EXCLUDED.date_completed,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at`,
		string(t.ID), t.Title, t.Description, t.Location, optional(scheduleID), t.Timezone,
		optional(string(t.GoalID)), optional(string(t.HabitID)), t.Importance,
		t.DateCompleted, t.IsArchived, stamp(t.CreatedAt), stamp(t.UpdatedAt),
	); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return tx.Commit(ctx)
}

// ListSchedulableTasks returns non-archived tasks that have a schedule.
func (s *Store) ListSchedulableTasks(ctx context.Context) ([]planner.Task, error) {
	defer metrics.ObserveDB(ctx, "list_schedulable_tasks")()

	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.title, t.description, t.location, t.schedule_id, sc.spec_json::text,
			t.timezone, t.goal_id, t.habit_id, t.importance, t.date_completed, t.is_archived,
			t.created_at, t.updated_at
		FROM tasks t JOIN schedules sc ON sc.id = t.schedule_id
		WHERE NOT t.is_archived
		ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []planner.Task
	for rows.Next() {
		var t planner.Task
		var id, doc string
		var scheduleID, goalID, habitID *string
		if err := rows.Scan(
			&id, &t.Title, &t.Description, &t.Location, &scheduleID, &doc,
			&t.Timezone, &goalID, &habitID, &t.Importance, &t.DateCompleted, &t.IsArchived,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		t.ID = planner.TaskID(id)
		t.ScheduleID = deref(scheduleID)
		t.GoalID = planner.GoalID(deref(goalID))
		t.HabitID = planner.HabitID(deref(habitID))
		t.Schedule, t.ScheduleErr = s.decodeTaskSchedule(t.ID, doc)
		t.DateCompleted = utcPtr(t.DateCompleted)
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// decodeTaskSchedule keeps a row with an undecodable schedule in the listing
// and carries the error on the task instead.
func (s *Store) decodeTaskSchedule(id planner.TaskID, doc string) (*recurrence.Spec, error) {
	spec, err := s.schedules.Unmarshal([]byte(doc))
	if err != nil {
		err = fmt.Errorf("decode schedule for task %s: %w", id, err)
		appLog.Error("postgres: stored schedule not decodable", err, "task", id)
		return nil, err
	}
	return spec, nil
}

// =============================================================================
// EVENTS (planner.EventStore)
// =============================================================================

const eventColumns = `id, task_id, title, description, location, date_start, date_end, all_day,
	date_completed, excuse, is_archived, archived_at, created_at, updated_at`

// FindEventsForTaskInWindow returns all of the task's records, archived or
// not, whose start lies inside w.
func (s *Store) FindEventsForTaskInWindow(ctx context.Context, taskID planner.TaskID, w recurrence.Window) ([]planner.Event, error) {
	defer metrics.ObserveDB(ctx, "find_events")()

	where := []string{"task_id = $1"}
	args := []any{string(taskID)}
	if !w.Start.IsZero() {
		args = append(args, w.Start)
		where = append(where, "date_start >= $"+strconv.Itoa(len(args)))
	}
	if !w.End.IsZero() {
		args = append(args, w.End)
		where = append(where, "date_start <= $"+strconv.Itoa(len(args)))
	}
	query := "SELECT " + eventColumns + " FROM events WHERE " +
		strings.Join(where, " AND ") + " ORDER BY date_start, id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []planner.Event
	for rows.Next() {
		var e planner.Event
		var id, task string
		if err := rows.Scan(
			&id, &task, &e.Title, &e.Description, &e.Location, &e.Start, &e.End, &e.AllDay,
			&e.Completed, &e.Excuse, &e.IsArchived, &e.ArchivedAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		e.ID = planner.EventID(id)
		e.TaskID = planner.TaskID(task)
		e.Start = e.Start.UTC()
		e.End = utcPtr(e.End)
		e.Completed = utcPtr(e.Completed)
		e.ArchivedAt = utcPtr(e.ArchivedAt)
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateEvent inserts a new record. A live record for the same task and
// start yields planner.ErrDuplicateEvent.
func (s *Store) CreateEvent(ctx context.Context, e planner.Event) error {
	defer metrics.ObserveDB(ctx, "create_event")()

	_, err := s.db.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(e.ID), string(e.TaskID), e.Title, e.Description, e.Location,
		e.Start, e.End, e.AllDay, e.Completed, e.Excuse, e.IsArchived, e.ArchivedAt,
		stamp(e.CreatedAt), stamp(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s at %s: %w", e.TaskID, e.Start.UTC().Format(time.RFC3339), planner.ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// ArchiveEvents archives the given records in one statement and returns the
// IDs it changed. Completed or already archived records are left untouched.
func (s *Store) ArchiveEvents(ctx context.Context, ids []planner.EventID, at time.Time) ([]planner.EventID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer metrics.ObserveDB(ctx, "archive_events")()

	list := make([]string, len(ids))
	for i, id := range ids {
		list[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		UPDATE events SET is_archived = TRUE, archived_at = $1, updated_at = $1
		WHERE NOT is_archived AND date_completed IS NULL AND id = ANY($2)
		RETURNING id`,
		at, list,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to archive events: %w", err)
	}
	changed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to archive events: %w", err)
	}
	archived := make([]planner.EventID, len(changed))
	for i, id := range changed {
		archived[i] = planner.EventID(id)
	}
	return archived, nil
}

// PurgeArchivedIncomplete deletes archived, never-completed records archived
// before olderThan, or all of them when olderThan is nil.
func (s *Store) PurgeArchivedIncomplete(ctx context.Context, olderThan *time.Time) (int, error) {
	defer metrics.ObserveDB(ctx, "purge_events")()

	query := "DELETE FROM events WHERE is_archived AND date_completed IS NULL"
	var args []any
	if olderThan != nil {
		query += " AND archived_at < $1"
		args = append(args, *olderThan)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// RECONCILIATION RUNS (planner.RunRecorder)
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r planner.Run) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reconciliation_runs (id, run_trigger, window_start, window_end, status,
			tasks, created, archived, failed, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tasks = EXCLUDED.tasks,
			created = EXCLUDED.created,
			archived = EXCLUDED.archived,
			failed = EXCLUDED.failed,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		r.ID, r.Trigger, optionalTime(r.WindowStart), optionalTime(r.WindowEnd), string(r.Status),
		r.Tasks, r.Created, r.Archived, r.Failed, r.Error, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first; limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]planner.Run, error) {
	query := `
		SELECT id, run_trigger, window_start, window_end, status, tasks, created, archived,
			failed, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []planner.Run
	for rows.Next() {
		var r planner.Run
		var status string
		var start, end *time.Time
		if err := rows.Scan(
			&r.ID, &r.Trigger, &start, &end, &status, &r.Tasks, &r.Created, &r.Archived,
			&r.Failed, &r.Error, &r.StartedAt, &r.CompletedAt,
		); err != nil {
			return nil, err
		}
		r.Status = planner.RunStatus(status)
		if start != nil {
			r.WindowStart = start.UTC()
		}
		if end != nil {
			r.WindowEnd = end.UTC()
		}
		r.StartedAt = r.StartedAt.UTC()
		r.CompletedAt = utcPtr(r.CompletedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// stamp substitutes now for an unset timestamp.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var (
	_ planner.TaskSource  = (*Store)(nil)
	_ planner.EventStore  = (*Store)(nil)
	_ planner.RunRecorder = (*Store)(nil)
)
