package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id      TEXT    NOT NULL UNIQUE,
	user_id      TEXT    NOT NULL,
	brand_id     TEXT    NOT NULL DEFAULT '',
	kind         TEXT    NOT NULL,
	payload      TEXT    NOT NULL DEFAULT '',
	status       TEXT    NOT NULL,
	progress     INTEGER NOT NULL DEFAULT 0,
	result       TEXT    NOT NULL DEFAULT '',
	last_error   TEXT    NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 3,
	queued_at    TEXT    NOT NULL,
	started_at   TEXT    NOT NULL DEFAULT '',
	completed_at TEXT    NOT NULL DEFAULT '',
	updated_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_brand ON tasks(brand_id, id DESC);
`

const taskColumns = `task_id, user_id, brand_id, kind, payload, status, progress,
	result, last_error, retry_count, max_retries, queued_at, started_at, completed_at, updated_at`

// SQLStore is a SQLite-backed task store. Tasks are kept forever; lifecycle
// ends at a terminal status, never at deletion.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) the task database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init task schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Create validates the task, assigns id and initial state, and inserts it.
func (s *SQLStore) Create(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	now := time.Now().UTC()
	t.Status = StatusQueued
	t.Progress = 0
	t.QueuedAt = now
	t.UpdatedAt = now
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, user_id, brand_id, kind, payload, status, progress,
			result, last_error, retry_count, max_retries, queued_at, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, ?, '', '', ?)`,
		t.ID, t.UserID, t.BrandID, string(t.Kind), string(t.Payload), string(t.Status),
		t.Progress, t.RetryCount, t.MaxRetries, fmtTime(t.QueuedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns the task by its public id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)
	return scanTask(row)
}

// UpdateStatus atomically applies a guarded status transition. The guard
// lives in the WHERE clause: the row only changes if its current status
// permits the requested edge, so terminal states are never overwritten and
// a completion racing a cancellation loses cleanly.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status Status, upd StatusUpdate) error {
	sources := transitionSources(status)
	if len(sources) == 0 {
		return fmt.Errorf("%w: no edge into %q", ErrStaleTransition, status)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), fmtTime(time.Now().UTC())}

	if upd.Progress != nil {
		set = append(set, "progress = ?")
		args = append(args, *upd.Progress)
	}
	if upd.Result != nil {
		set = append(set, "result = ?")
		args = append(args, string(upd.Result))
	}
	if upd.LastError != nil {
		set = append(set, "last_error = ?")
		args = append(args, *upd.LastError)
	}
	if upd.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, fmtTime(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, fmtTime(*upd.CompletedAt))
	}
	if upd.RetryCount != nil {
		set = append(set, "retry_count = ?")
		args = append(args, *upd.RetryCount)
	}

	args = append(args, id)
	placeholders := make([]string, len(sources))
	for i, src := range sources {
		placeholders[i] = "?"
		args = append(args, string(src))
	}

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE task_id = ? AND status IN (%s)`,
		strings.Join(set, ", "), strings.Join(placeholders, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: distinguish a vanished task from a rejected edge.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s cannot move to %q", ErrStaleTransition, id, status)
}

// ListByBrand returns the brand's tasks, newest first.
func (s *SQLStore) ListByBrand(ctx context.Context, brandID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE brand_id = ? ORDER BY id DESC`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for brand %s: %w", brandID, err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRecent returns the newest tasks across all brands, for admin tooling.
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                                           Task
		kind, payload, status, result               string
		queuedAt, startedAt, completedAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.BrandID, &kind, &payload, &status, &t.Progress,
		&result, &t.LastError, &t.RetryCount, &t.MaxRetries,
		&queuedAt, &startedAt, &completedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Kind = Kind(kind)
	t.Status = Status(status)
	if payload != "" {
		t.Payload = []byte(payload)
	}
	if result != "" {
		t.Result = []byte(result)
	}
	t.QueuedAt = parseTime(queuedAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return &t, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}
