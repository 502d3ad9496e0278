/*
Package sqlite provides a SQLite-backed implementation of the planner stores.

PURPOSE:
  Implements every persistence interface of the planner package (TaskSource,
  EventStore, RunRecorder, TaskStore, EventRepository, GoalStore, HabitStore)
  plus the CRUD the HTTP API needs for schedules, tasks, goals and habits.

DRIVERS:
  sqlite3  github.com/mattn/go-sqlite3 (cgo, default)
  sqlite   modernc.org/sqlite (pure Go, for CGO_ENABLED=0 builds)

KEY TABLES:
  schedules:           Recurrence rules stored as factory JSON documents
  tasks:               Work items, optionally pointing at a schedule
  events:              Tracked occurrences, one live row per (task, start)
  goals / habits:      Grouping and habit tracking
  habit_logs:          One row per completed habit occurrence
  reconciliation_runs: Run history

INDEXES:
  - idx_events_live_unique: at most one non-archived row per (task, start);
    archived rows are history and may repeat
  - idx_events_task_start: window lookups per task (hot path)

TIME STORAGE:
  Instants are stored as fixed-width UTC strings so that lexical comparison
  in SQL matches chronological order.

CONCURRENCY:
  Uses sync.RWMutex around the connection pool. SQLite allows a single
  writer at a time; WAL mode lets readers proceed during writes.

USAGE:
  store, err := sqlite.New("./data/planner.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  rec := planner.NewReconciler(store, store, expander)

SEE ALSO:
  - planner/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: Worker-side implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/lifeplan/planner/factory"
	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/metrics"
	"github.com/lifeplan/planner/planner"
	"github.com/lifeplan/planner/recurrence"
)

const (
	DriverSQLite3 = "sqlite3"
	DriverSQLite  = "sqlite"
)

// timeFormat is fixed width so stored strings sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements the planner stores using SQLite.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	schedules *factory.ScheduleFactory
}

// New opens dbPath with the default cgo driver.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite3, dbPath)
}

// Open opens dbPath with the named driver, "sqlite3" or "sqlite".
func Open(driver, dbPath string) (*Store, error) {
	var dsn string
	switch driver {
	case DriverSQLite3:
		dsn = dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	case DriverSQLite:
		dsn = dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, schedules: factory.NewScheduleFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (used by /health).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		spec_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		parent_id TEXT REFERENCES goals(id) ON DELETE CASCADE,
		date_completed TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_goals_parent ON goals(parent_id);

	CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		goal_id TEXT REFERENCES goals(id) ON DELETE CASCADE,
		schedule_id TEXT REFERENCES schedules(id) ON DELETE CASCADE,
		threshold_percent TEXT NOT NULL DEFAULT '80',
		points TEXT NOT NULL DEFAULT '1',
		date_completed TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_habits_goal ON habits(goal_id);

	CREATE TABLE IF NOT EXISTS habit_logs (
		id TEXT PRIMARY KEY,
		habit_id TEXT NOT NULL REFERENCES habits(id) ON DELETE CASCADE,
		logged_at TEXT NOT NULL,
		UNIQUE(habit_id, logged_at)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		schedule_id TEXT REFERENCES schedules(id) ON DELETE CASCADE,
		timezone TEXT NOT NULL DEFAULT '',
		goal_id TEXT REFERENCES goals(id) ON DELETE CASCADE,
		habit_id TEXT REFERENCES habits(id) ON DELETE SET NULL,
		importance INTEGER NOT NULL DEFAULT 0,
		due_date TEXT,
		date_start TEXT,
		date_end TEXT,
		date_completed TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_goal ON tasks(goal_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_schedule ON tasks(schedule_id);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		date_start TEXT NOT NULL,
		date_end TEXT,
		all_day INTEGER NOT NULL DEFAULT 0,
		date_completed TEXT,
		excuse TEXT NOT NULL DEFAULT '',
		is_archived INTEGER NOT NULL DEFAULT 0,
		archived_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One live record per task and start; archived rows are history.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_live_unique
		ON events(task_id, date_start) WHERE is_archived = 0;

	CREATE INDEX IF NOT EXISTS idx_events_task_start
		ON events(task_id, date_start);
	CREATE INDEX IF NOT EXISTS idx_events_start
		ON events(date_start);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		run_trigger TEXT NOT NULL,
		window_start TEXT,
		window_end TEXT,
		status TEXT NOT NULL,
		tasks INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SCHEDULES
// =============================================================================

// SaveSchedule inserts or updates a schedule.
func (s *Store) SaveSchedule(ctx context.Context, sc planner.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.ObserveDB(ctx, "save_schedule")()

	return s.saveSchedule(ctx, sc)
}

func (s *Store) saveSchedule(ctx context.Context, sc planner.Schedule) error {
	doc, err := s.schedules.Marshal(&sc.Spec)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", sc.ID, err)
	}

	query := `
		INSERT INTO schedules (id, name, spec_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			spec_json = excluded.spec_json,
			updated_at = excluded.updated_at
	`
	created, updated := stamps(sc.CreatedAt, sc.UpdatedAt)
	_, err = s.db.ExecContext(ctx, query, sc.ID, sc.Name, string(doc), created, updated)
	return err
}

// GetSchedule returns the schedule or nil.
func (s *Store) GetSchedule(ctx context.Context, id string) (*planner.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.querySchedules(ctx,
		"SELECT id, name, spec_json, created_at, updated_at FROM schedules WHERE id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListSchedules returns all schedules by name.
func (s *Store) ListSchedules(ctx context.Context) ([]planner.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySchedules(ctx,
		"SELECT id, name, spec_json, created_at, updated_at FROM schedules ORDER BY name, id")
}

// DeleteSchedule removes a schedule together with the tasks and habits using it.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	return err
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]planner.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var out []planner.Schedule
	for rows.Next() {
		var sc planner.Schedule
		var doc, createdAt, updatedAt string
		if err := rows.Scan(&sc.ID, &sc.Name, &doc, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		spec, err := s.schedules.Unmarshal([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", sc.ID, err)
		}
		sc.Spec = *spec
		sc.CreatedAt = parseTime(createdAt)
		sc.UpdatedAt = parseTime(updatedAt)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// =============================================================================
// TASKS (planner.TaskSource, planner.TaskStore)
// =============================================================================

const taskColumns = `
	t.id, t.title, t.description, t.location, t.schedule_id, sc.spec_json, t.timezone,
	t.goal_id, t.habit_id, t.importance, t.due_date, t.date_start, t.date_end,
	t.date_completed, t.is_archived, t.created_at, t.updated_at`

const taskFrom = `FROM tasks t LEFT JOIN schedules sc ON sc.id = t.schedule_id`

// ListSchedulableTasks returns non-archived tasks that have a schedule.
func (s *Store) ListSchedulableTasks(ctx context.Context) ([]planner.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer metrics.ObserveDB(ctx, "list_schedulable_tasks")()

	return s.queryTasks(ctx, "SELECT "+taskColumns+" "+taskFrom+
		" WHERE t.is_archived = 0 AND t.schedule_id IS NOT NULL ORDER BY t.id")
}

// ListTasks returns every task.
func (s *Store) ListTasks(ctx context.Context) ([]planner.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTasks(ctx, "SELECT "+taskColumns+" "+taskFrom+" ORDER BY t.importance DESC, t.title, t.id")
}

func (s *Store) ListTasksByGoal(ctx context.Context, goalID planner.GoalID) ([]planner.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTasks(ctx, "SELECT "+taskColumns+" "+taskFrom+" WHERE t.goal_id = ? ORDER BY t.id", goalID)
}

func (s *Store) GetTask(ctx context.Context, id planner.TaskID) (*planner.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryTasks(ctx, "SELECT "+taskColumns+" "+taskFrom+" WHERE t.id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// SaveTask inserts or updates a task. A task carrying a Schedule without a
// ScheduleID gets a schedule row under its own ID.
func (s *Store) SaveTask(ctx context.Context, t planner.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.ObserveDB(ctx, "save_task")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scheduleID := t.ScheduleID
	if t.Schedule != nil {
		if scheduleID == "" {
			scheduleID = string(t.ID)
		}
		doc, err := s.schedules.Marshal(t.Schedule)
		if err != nil {
			return fmt.Errorf("encode schedule for task %s: %w", t.ID, err)
		}
		now := formatTime(time.Now())
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schedules (id, name, spec_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET spec_json = excluded.spec_json, updated_at = excluded.updated_at`,
			scheduleID, t.Title, string(doc), now, now,
		); err != nil {
			return fmt.Errorf("save schedule for task %s: %w", t.ID, err)
		}
	}

	query := `
		INSERT INTO tasks (id, title, description, location, schedule_id, timezone, goal_id,
			habit_id, importance, due_date, date_start, date_end, date_completed, is_archived,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			schedule_id = excluded.schedule_id,
			timezone = excluded.timezone,
			goal_id = excluded.goal_id,
			habit_id = excluded.habit_id,
			importance = excluded.importance,
			due_date = excluded.due_date,
			date_start = excluded.date_start,
			date_end = excluded.date_end,
			date_completed = excluded.date_completed,
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at
	`
	var dueDate sql.NullString
	if t.DueDate != nil {
		dueDate = nullString(t.DueDate.String())
	}
	created, updated := stamps(t.CreatedAt, t.UpdatedAt)
	if _, err := tx.ExecContext(ctx, query,
		t.ID, t.Title, t.Description, t.Location, nullString(scheduleID), t.Timezone,
		nullString(string(t.GoalID)), nullString(string(t.HabitID)), t.Importance, dueDate,
		nullTime(t.DateStart), nullTime(t.DateEnd), nullTime(t.DateCompleted), t.IsArchived,
		created, updated,
	); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return tx.Commit()
}

// DeleteTask removes a task and its events.
func (s *Store) DeleteTask(ctx context.Context, id planner.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	return err
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]planner.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []planner.Task
	for rows.Next() {
		var t planner.Task
		var scheduleID, specJSON, goalID, habitID, dueDate sql.NullString
		var dateStart, dateEnd, completed sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.Location, &scheduleID, &specJSON, &t.Timezone,
			&goalID, &habitID, &t.Importance, &dueDate, &dateStart, &dateEnd,
			&completed, &t.IsArchived, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		t.ScheduleID = scheduleID.String
		if specJSON.Valid {
			spec, err := s.schedules.Unmarshal([]byte(specJSON.String))
			if err != nil {
				// The task stays listed with the error attached.
				t.ScheduleErr = fmt.Errorf("decode schedule for task %s: %w", t.ID, err)
				appLog.Error("sqlite: stored schedule not decodable", t.ScheduleErr, "task", t.ID)
			}
			t.Schedule = spec
		}
		t.GoalID = planner.GoalID(goalID.String)
		t.HabitID = planner.HabitID(habitID.String)
		if dueDate.Valid {
			if d, err := recurrence.ParseDate(dueDate.String); err == nil {
				t.DueDate = &d
			}
		}
		t.DateStart = parseNullTime(dateStart)
		t.DateEnd = parseNullTime(dateEnd)
		t.DateCompleted = parseNullTime(completed)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// EVENTS (planner.EventStore, planner.EventRepository)
// =============================================================================

const eventColumns = `id, task_id, title, description, location, date_start, date_end, all_day,
	date_completed, excuse, is_archived, archived_at, created_at, updated_at`

// EventFilter narrows ListEvents.
type EventFilter struct {
	Window          recurrence.Window
	TaskID          planner.TaskID
	IncludeArchived bool
	Limit           int
}

// FindEventsForTaskInWindow returns all of the task's records, archived or
// not, whose start lies inside w.
func (s *Store) FindEventsForTaskInWindow(ctx context.Context, taskID planner.TaskID, w recurrence.Window) ([]planner.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer metrics.ObserveDB(ctx, "find_events")()

	return s.listEvents(ctx, EventFilter{Window: w, TaskID: taskID, IncludeArchived: true})
}

// ListEvents returns records matching f ordered by start.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]planner.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer metrics.ObserveDB(ctx, "list_events")()

	return s.listEvents(ctx, f)
}

func (s *Store) ListEventsForTask(ctx context.Context, taskID planner.TaskID, includeArchived bool) ([]planner.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listEvents(ctx, EventFilter{TaskID: taskID, IncludeArchived: includeArchived})
}

func (s *Store) listEvents(ctx context.Context, f EventFilter) ([]planner.Event, error) {
	var where []string
	var args []any
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if !f.IncludeArchived {
		where = append(where, "is_archived = 0")
	}
	if !f.Window.Start.IsZero() {
		where = append(where, "date_start >= ?")
		args = append(args, formatTime(f.Window.Start))
	}
	if !f.Window.End.IsZero() {
		where = append(where, "date_start <= ?")
		args = append(args, formatTime(f.Window.End))
	}

	query := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date_start, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryEvents(ctx, query, args...)
}

func (s *Store) GetEvent(ctx context.Context, id planner.EventID) (*planner.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryEvents(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// CreateEvent inserts a new record. A live record for the same task and
// start yields planner.ErrDuplicateEvent.
func (s *Store) CreateEvent(ctx context.Context, e planner.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.ObserveDB(ctx, "create_event")()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventArgs(e)...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("task %s at %s: %w", e.TaskID, formatTime(e.Start), planner.ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// SaveEvent inserts or fully updates a record.
func (s *Store) SaveEvent(ctx context.Context, e planner.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.ObserveDB(ctx, "save_event")()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			date_start = excluded.date_start,
			date_end = excluded.date_end,
			all_day = excluded.all_day,
			date_completed = excluded.date_completed,
			excuse = excluded.excuse,
			is_archived = excluded.is_archived,
			archived_at = excluded.archived_at,
			updated_at = excluded.updated_at`,
		eventArgs(e)...,
	)
	if isUniqueConstraintError(err) {
		return planner.ErrDuplicateEvent
	}
	return err
}

// ArchiveEvents archives the given records in one statement and returns the
// IDs it changed. Completed or already archived records are left untouched.
func (s *Store) ArchiveEvents(ctx context.Context, ids []planner.EventID, at time.Time) ([]planner.EventID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.ObserveDB(ctx, "archive_events")()

	args := []any{formatTime(at), formatTime(at)}
	for _, id := range ids {
		args = append(args, id)
	}
	query := `
		UPDATE events SET is_archived = 1, archived_at = ?, updated_at = ?
		WHERE is_archived = 0 AND date_completed IS NULL
		  AND id IN (` + placeholders(len(ids)) + `)
		RETURNING id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to archive events: %w", err)
	}
	defer rows.Close()

	var archived []planner.EventID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		archived = append(archived, planner.EventID(id))
	}
	return archived, rows.Err()
}

// PurgeArchivedIncomplete deletes archived, never-completed records archived
// before olderThan, or all of them when olderThan is nil.
func (s *Store) PurgeArchivedIncomplete(ctx context.Context, olderThan *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.ObserveDB(ctx, "purge_events")()

	query := "DELETE FROM events WHERE is_archived = 1 AND date_completed IS NULL"
	var args []any
	if olderThan != nil {
		query += " AND archived_at < ?"
		args = append(args, formatTime(*olderThan))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func eventArgs(e planner.Event) []any {
	created, updated := stamps(e.CreatedAt, e.UpdatedAt)
	return []any{
		e.ID, e.TaskID, e.Title, e.Description, e.Location,
		formatTime(e.Start), nullTime(e.End), e.AllDay,
		nullTime(e.Completed), e.Excuse, e.IsArchived, nullTime(e.ArchivedAt),
		created, updated,
	}
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]planner.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []planner.Event
	for rows.Next() {
		var e planner.Event
		var start, createdAt, updatedAt string
		var end, completed, archivedAt sql.NullString
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.Title, &e.Description, &e.Location, &start, &end, &e.AllDay,
			&completed, &e.Excuse, &e.IsArchived, &archivedAt, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		e.Start = parseTime(start)
		e.End = parseNullTime(end)
		e.Completed = parseNullTime(completed)
		e.ArchivedAt = parseNullTime(archivedAt)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// GOALS (planner.GoalStore)
// =============================================================================

const goalColumns = `id, title, description, parent_id, date_completed, is_archived, created_at, updated_at`

func (s *Store) GetGoal(ctx context.Context, id planner.GoalID) (*planner.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryGoals(ctx, "SELECT "+goalColumns+" FROM goals WHERE id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) ListGoals(ctx context.Context) ([]planner.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryGoals(ctx, "SELECT "+goalColumns+" FROM goals ORDER BY title, id")
}

func (s *Store) ListSubgoals(ctx context.Context, parent planner.GoalID) ([]planner.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryGoals(ctx, "SELECT "+goalColumns+" FROM goals WHERE parent_id = ? ORDER BY id", parent)
}

func (s *Store) SaveGoal(ctx context.Context, g planner.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, updated := stamps(g.CreatedAt, g.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			parent_id = excluded.parent_id,
			date_completed = excluded.date_completed,
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at`,
		g.ID, g.Title, g.Description, nullString(string(g.ParentID)),
		nullTime(g.DateCompleted), g.IsArchived, created, updated,
	)
	return err
}

func (s *Store) queryGoals(ctx context.Context, query string, args ...any) ([]planner.Goal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var out []planner.Goal
	for rows.Next() {
		var g planner.Goal
		var parent, completed sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &parent, &completed,
			&g.IsArchived, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		g.ParentID = planner.GoalID(parent.String)
		g.DateCompleted = parseNullTime(completed)
		g.CreatedAt = parseTime(createdAt)
		g.UpdatedAt = parseTime(updatedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// =============================================================================
// HABITS (planner.HabitStore)
// =============================================================================

const habitColumns = `
	h.id, h.title, h.description, h.goal_id, h.schedule_id, sc.spec_json,
	h.threshold_percent, h.points, h.date_completed, h.is_archived, h.created_at, h.updated_at`

const habitFrom = `FROM habits h LEFT JOIN schedules sc ON sc.id = h.schedule_id`

func (s *Store) GetHabit(ctx context.Context, id planner.HabitID) (*planner.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryHabits(ctx, "SELECT "+habitColumns+" "+habitFrom+" WHERE h.id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) ListHabits(ctx context.Context) ([]planner.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryHabits(ctx, "SELECT "+habitColumns+" "+habitFrom+" ORDER BY h.title, h.id")
}

func (s *Store) ListHabitsByGoal(ctx context.Context, goalID planner.GoalID) ([]planner.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryHabits(ctx, "SELECT "+habitColumns+" "+habitFrom+" WHERE h.goal_id = ? ORDER BY h.id", goalID)
}

// SaveHabit inserts or updates a habit. Threshold and points default to
// 80% and 1 when zero.
func (s *Store) SaveHabit(ctx context.Context, h planner.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ThresholdPercent.IsZero() {
		h.ThresholdPercent = planner.DefaultHabitThreshold
	}
	if h.Points.IsZero() {
		h.Points = planner.DefaultHabitPoints
	}
	created, updated := stamps(h.CreatedAt, h.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habits (id, title, description, goal_id, schedule_id, threshold_percent,
			points, date_completed, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			goal_id = excluded.goal_id,
			schedule_id = excluded.schedule_id,
			threshold_percent = excluded.threshold_percent,
			points = excluded.points,
			date_completed = excluded.date_completed,
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at`,
		h.ID, h.Title, h.Description, nullString(string(h.GoalID)), nullString(h.ScheduleID),
		h.ThresholdPercent.String(), h.Points.String(), nullTime(h.DateCompleted), h.IsArchived,
		created, updated,
	)
	return err
}

// SaveHabitLog records a log; logging the same instant twice is a no-op.
func (s *Store) SaveHabitLog(ctx context.Context, l planner.HabitLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_logs (id, habit_id, logged_at) VALUES (?, ?, ?)
		ON CONFLICT(habit_id, logged_at) DO NOTHING`,
		l.ID, l.HabitID, formatTime(l.LoggedAt),
	)
	return err
}

func (s *Store) DeleteHabitLogs(ctx context.Context, habitID planner.HabitID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM habit_logs WHERE habit_id = ? AND logged_at = ?", habitID, formatTime(at))
	return err
}

func (s *Store) ListHabitLogs(ctx context.Context, habitID planner.HabitID, w recurrence.Window) ([]planner.HabitLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, habit_id, logged_at FROM habit_logs WHERE habit_id = ?"
	args := []any{habitID}
	if !w.Start.IsZero() {
		query += " AND logged_at >= ?"
		args = append(args, formatTime(w.Start))
	}
	if !w.End.IsZero() {
		query += " AND logged_at <= ?"
		args = append(args, formatTime(w.End))
	}
	query += " ORDER BY logged_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query habit logs: %w", err)
	}
	defer rows.Close()

	var out []planner.HabitLog
	for rows.Next() {
		var l planner.HabitLog
		var at string
		if err := rows.Scan(&l.ID, &l.HabitID, &at); err != nil {
			return nil, err
		}
		l.LoggedAt = parseTime(at)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) queryHabits(ctx context.Context, query string, args ...any) ([]planner.Habit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	var out []planner.Habit
	for rows.Next() {
		var h planner.Habit
		var goalID, scheduleID, specJSON, completed sql.NullString
		var threshold, points, createdAt, updatedAt string
		if err := rows.Scan(&h.ID, &h.Title, &h.Description, &goalID, &scheduleID, &specJSON,
			&threshold, &points, &completed, &h.IsArchived, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		h.GoalID = planner.GoalID(goalID.String)
		h.ScheduleID = scheduleID.String
		if specJSON.Valid {
			spec, err := s.schedules.Unmarshal([]byte(specJSON.String))
			if err != nil {
				h.ScheduleErr = fmt.Errorf("decode schedule for habit %s: %w", h.ID, err)
				appLog.Error("sqlite: stored schedule not decodable", h.ScheduleErr, "habit", h.ID)
			}
			h.Schedule = spec
		}
		h.ThresholdPercent = parseDecimal(threshold, planner.DefaultHabitThreshold)
		h.Points = parseDecimal(points, planner.DefaultHabitPoints)
		h.DateCompleted = parseNullTime(completed)
		h.CreatedAt = parseTime(createdAt)
		h.UpdatedAt = parseTime(updatedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// RECONCILIATION RUNS (planner.RunRecorder)
// =============================================================================

// SaveRun inserts or updates a run record.
func (s *Store) SaveRun(ctx context.Context, r planner.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reconciliation_runs (id, run_trigger, window_start, window_end, status,
			tasks, created, archived, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tasks = excluded.tasks,
			created = excluded.created,
			archived = excluded.archived,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Trigger, nullZeroTime(r.WindowStart), nullZeroTime(r.WindowEnd), r.Status,
		r.Tasks, r.Created, r.Archived, r.Failed, r.Error,
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return err
}

// ListRuns returns the most recent runs first; limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]planner.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, run_trigger, window_start, window_end, status, tasks, created, archived,
			failed, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []planner.Run
	for rows.Next() {
		var r planner.Run
		var windowStart, windowEnd, completedAt sql.NullString
		var status, startedAt string
		if err := rows.Scan(&r.ID, &r.Trigger, &windowStart, &windowEnd, &status, &r.Tasks,
			&r.Created, &r.Archived, &r.Failed, &r.Error, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Status = planner.RunStatus(status)
		if t := parseNullTime(windowStart); t != nil {
			r.WindowStart = *t
		}
		if t := parseNullTime(windowEnd); t != nil {
			r.WindowEnd = *t
		}
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"events", "habit_logs", "tasks", "habits", "goals", "schedules", "reconciliation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullZeroTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return nullTime(&t)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// stamps returns created/updated strings, defaulting to now.
func stamps(created, updated time.Time) (string, string) {
	now := time.Now()
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	return formatTime(created), formatTime(updated)
}

func parseDecimal(s string, def decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ planner.TaskSource      = (*Store)(nil)
	_ planner.EventStore      = (*Store)(nil)
	_ planner.RunRecorder     = (*Store)(nil)
	_ planner.TaskStore       = (*Store)(nil)
	_ planner.EventRepository = (*Store)(nil)
	_ planner.GoalStore       = (*Store)(nil)
	_ planner.HabitStore      = (*Store)(nil)
)
