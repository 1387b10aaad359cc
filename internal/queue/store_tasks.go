package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewTask inserts a draft task for a channel and returns it.
func (s *Store) NewTask(ctx context.Context, channelID, title string, priority Priority) (*Task, error) {
	ctx = ensureContext(ctx)
	channelID = strings.TrimSpace(channelID)
	title = strings.TrimSpace(title)
	if channelID == "" {
		return nil, errors.New("channel id is required")
	}
	if title == "" {
		return nil, errors.New("title is required")
	}
	if priority == "" {
		priority = PriorityNormal
	}

	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
        INSERT INTO tasks (channel_id, title, status, priority, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		channelID, title, string(StatusDraft), string(priority), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the task with the given id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

// List returns all tasks ordered by creation, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		args = statusStrings(statuses)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListByChannel returns a channel's tasks ordered by creation.
func (s *Store) ListByChannel(ctx context.Context, channelID string) ([]*Task, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE channel_id = ? ORDER BY created_at ASC, id ASC",
		channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SetPriority changes a task's scheduling priority.
func (s *Store) SetPriority(ctx context.Context, id int64, priority Priority) error {
	res, err := s.execWithRetry(ctx, "UPDATE tasks SET priority = ? WHERE id = ?", string(priority), id)
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return nil
}

// UpdateMetadata replaces a task's metadata document.
func (s *Store) UpdateMetadata(ctx context.Context, id int64, metadataJSON string) error {
	res, err := s.execWithRetry(ctx, "UPDATE tasks SET metadata_json = ? WHERE id = ?", nullableString(metadataJSON), id)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return nil
}

// AppendErrorLog records a timestamped line in the task's error log.
func (s *Store) AppendErrorLog(ctx context.Context, id int64, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	line := formatTime(time.Now()) + " " + message
	res, err := s.execWithRetry(ctx, `
        UPDATE tasks
        SET error_log = CASE
            WHEN error_log IS NULL OR error_log = '' THEN ?
            ELSE error_log || char(10) || ?
        END
        WHERE id = ?`,
		line, line, id)
	if err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return nil
}

// Remove deletes a task outright. Prefer cancelling; Remove exists for
// operator cleanup of drafts and terminal tasks.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return nil
}

// ClearTerminal deletes all published, completed, and cancelled tasks and
// returns how many were removed.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		"DELETE FROM tasks WHERE status IN (?, ?, ?)",
		string(StatusPublished), string(StatusCompleted), string(StatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("clear terminal tasks: %w", err)
	}
	return res.RowsAffected()
}

// ClearAll deletes every task and returns how many were removed.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM tasks")
	if err != nil {
		return 0, fmt.Errorf("clear tasks: %w", err)
	}
	return res.RowsAffected()
}
