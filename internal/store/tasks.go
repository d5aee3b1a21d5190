package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
)

// Task statuses.
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// TaskRecord is a user task or calendar-like event. Recurrence, when set, is
// a cron expression and DueAt is ignored for windowing.
type TaskRecord struct {
	ID         string
	SessionID  string
	Title      string
	Notes      string
	DueAt      *time.Time
	Recurrence string
	Status     string
	CreatedAt  time.Time
}

// TaskFilter narrows ListTasks. A zero window matches every due date.
type TaskFilter struct {
	From   time.Time
	To     time.Time
	Status string
	Limit  int
}

// TipRecord is a saved tip or note the assistant can surface.
type TipRecord struct {
	ID        string
	SessionID string
	Title     string
	Content   string
	CreatedAt time.Time
}

// CreateTask inserts a task and returns it with generated fields filled.
func (s *Store) CreateTask(ctx context.Context, rec TaskRecord) (TaskRecord, error) {
	if rec.SessionID == "" {
		return TaskRecord{}, fmt.Errorf("session_id required")
	}
	if strings.TrimSpace(rec.Title) == "" {
		return TaskRecord{}, fmt.Errorf("title required")
	}
	if rec.Recurrence != "" {
		if _, err := cronexpr.Parse(rec.Recurrence); err != nil {
			return TaskRecord{}, fmt.Errorf("recurrence: %w", err)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = TaskStatusOpen
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO tasks (id, session_id, title, notes, due_at, recurrence, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING created_at
`, rec.ID, rec.SessionID, rec.Title, rec.Notes, nullTime(rec.DueAt), rec.Recurrence, rec.Status).Scan(&rec.CreatedAt)
	if err != nil {
		return TaskRecord{}, err
	}
	return rec, nil
}

// ListTasks returns the session's tasks due inside the filter window plus
// every recurring task (callers expand those with Occurrences).
func (s *Store) ListTasks(ctx context.Context, sessionID string, f TaskFilter) ([]TaskRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id required")
	}
	from, to := f.From, f.To
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, title, notes, due_at, recurrence, status, created_at
FROM tasks
WHERE session_id = $1
  AND ($2 = '' OR status = $2)
  AND (recurrence <> '' OR due_at IS NULL OR (due_at >= $3 AND due_at < $4))
ORDER BY due_at NULLS LAST, created_at
LIMIT $5
`, sessionID, f.Status, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskRecord
	for rows.Next() {
		var (
			t   TaskRecord
			due sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Notes, &due, &t.Recurrence, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		if due.Valid {
			d := due.Time
			t.DueAt = &d
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, sessionID, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status = $3 WHERE id = $1 AND session_id = $2`, id, sessionID, TaskStatusDone)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Occurrences lists the concrete due times of t inside [from, to), at most
// max of them. Non-recurring tasks yield their DueAt when it falls inside the
// window.
func (t TaskRecord) Occurrences(from, to time.Time, max int) []time.Time {
	if max <= 0 {
		max = 10
	}
	if t.Recurrence == "" {
		if t.DueAt != nil && !t.DueAt.Before(from) && t.DueAt.Before(to) {
			return []time.Time{*t.DueAt}
		}
		return nil
	}
	expr, err := cronexpr.Parse(t.Recurrence)
	if err != nil {
		return nil
	}
	var out []time.Time
	// Next is strictly after its argument
	next := expr.Next(from.Add(-time.Second))
	for !next.IsZero() && next.Before(to) && len(out) < max {
		out = append(out, next)
		next = expr.Next(next)
	}
	return out
}

// CreateTip stores a tip for a session.
func (s *Store) CreateTip(ctx context.Context, rec TipRecord) (TipRecord, error) {
	if rec.SessionID == "" {
		return TipRecord{}, fmt.Errorf("session_id required")
	}
	if strings.TrimSpace(rec.Content) == "" {
		return TipRecord{}, fmt.Errorf("content required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO tips (id, session_id, title, content, created_at)
VALUES ($1,$2,$3,$4,NOW())
RETURNING created_at
`, rec.ID, rec.SessionID, rec.Title, rec.Content).Scan(&rec.CreatedAt)
	if err != nil {
		return TipRecord{}, err
	}
	return rec, nil
}

// ListTips returns the newest tips for a session.
func (s *Store) ListTips(ctx context.Context, sessionID string, limit int) ([]TipRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id required")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, title, content, created_at
FROM tips
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TipRecord
	for rows.Next() {
		var t TipRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
