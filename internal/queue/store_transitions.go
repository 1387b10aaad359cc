package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AttemptTransition validates and applies a single status change. The current
// status is re-read inside the transaction, so a task that moved since the
// caller last saw it is validated against its live status. Entering queued or
// a terminal status clears the claim columns; a same-status transition is a
// no-op that refreshes updated_at.
func (s *Store) AttemptTransition(ctx context.Context, id int64, to Status) (*Task, error) {
	ctx = ensureContext(ctx)
	if _, ok := statusSet[to]; !ok {
		return nil, fmt.Errorf("unknown status %q", to)
	}

	var task *Task
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := transitionInTx(ctx, tx, id, to); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
		task, err = scanTask(row)
		if err != nil {
			return fmt.Errorf("reload task %d: %w", id, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// TransitionRequest names one task and the status it should enter.
type TransitionRequest struct {
	ID int64
	To Status
}

// TransitionAll applies every requested transition in a single transaction.
// Validation failures are collected across the whole batch and returned as a
// BulkTransitionError; if any request fails, none are applied.
func (s *Store) TransitionAll(ctx context.Context, requests []TransitionRequest) error {
	ctx = ensureContext(ctx)
	if len(requests) == 0 {
		return nil
	}
	for _, req := range requests {
		if _, ok := statusSet[req.To]; !ok {
			return fmt.Errorf("unknown status %q", req.To)
		}
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin bulk transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var failures []*InvalidTransitionError
		for _, req := range requests {
			err := transitionInTx(ctx, tx, req.ID, req.To)
			if err == nil {
				continue
			}
			var invalid *InvalidTransitionError
			if errors.As(err, &invalid) {
				failures = append(failures, invalid)
				continue
			}
			return err
		}
		if len(failures) > 0 {
			return &BulkTransitionError{Failures: failures}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit bulk transition: %w", err)
		}
		return nil
	})
}

func transitionInTx(ctx context.Context, tx *sql.Tx, id int64, to Status) error {
	var currentStr string
	err := tx.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", id).Scan(&currentStr)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("read task %d status: %w", id, err)
	}
	from := Status(currentStr)
	if !CanTransition(from, to) {
		return newInvalidTransition(id, from, to)
	}

	now := formatTime(time.Now())
	query := "UPDATE tasks SET status = ?, updated_at = ?"
	if to == StatusQueued || to.IsTerminal() {
		query += ", claimed_by = NULL, claimed_at = NULL, last_heartbeat = NULL"
	}
	query += " WHERE id = ? AND status = ?"

	res, err := tx.ExecContext(ctx, query, string(to), now, id, string(from))
	if err != nil {
		return fmt.Errorf("transition task %d to %s: %w", id, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition task %d to %s: %w", id, to, err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d moved during transition to %s", id, to)
	}
	return nil
}
