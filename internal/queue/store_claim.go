package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// priorityTierSQL ranks priorities for ORDER BY; lower sorts first.
const priorityTierSQL = "CASE t.priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END"

// ClaimNext atomically claims the best queued task for a worker, or returns
// (nil, nil) when nothing is claimable.
//
// Candidate ranking is stateless: priority tier first, then a per-channel
// rotation number (ROW_NUMBER over each channel's queued tasks within the
// tier, offset by the channel's in-progress count) so channels with equal
// priority work take turns, then channel id and creation order as
// tie-breakers. Channel ceilings are re-checked against the
// live in-progress counts inside the same statement, and only channels
// present in ceilings (the active set) are considered. The claim itself is a
// single UPDATE guarded by status = 'queued', so two workers racing for the
// same candidate cannot both win.
func (s *Store) ClaimNext(ctx context.Context, workerID string, ceilings map[string]int) (*Task, error) {
	ctx = ensureContext(ctx)
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}
	if len(ceilings) == 0 {
		return nil, nil
	}

	channelIDs := make([]string, 0, len(ceilings))
	for channelID := range ceilings {
		channelIDs = append(channelIDs, channelID)
	}
	sort.Strings(channelIDs)

	valueRows := make([]string, len(channelIDs))
	args := make([]any, 0, len(channelIDs)*2+len(inProgressStatuses)+5)
	for i, channelID := range channelIDs {
		valueRows[i] = "(?, ?)"
		args = append(args, channelID, ceilings[channelID])
	}
	args = append(args, statusStrings(inProgressStatuses)...)

	now := formatTime(time.Now())
	args = append(args, workerID, now, now, now)

	query := `
        WITH ceilings(channel_id, max_concurrent) AS (VALUES ` + strings.Join(valueRows, ", ") + `),
        inflight AS (
            SELECT channel_id, COUNT(*) AS busy
            FROM tasks
            WHERE status IN (` + makePlaceholders(len(inProgressStatuses)) + `)
            GROUP BY channel_id
        ),
        candidates AS (
            SELECT t.id,
                   ` + priorityTierSQL + ` AS tier,
                   ROW_NUMBER() OVER (
                       PARTITION BY t.priority, t.channel_id
                       ORDER BY t.created_at ASC, t.id ASC
                   ) + COALESCE(f.busy, 0) AS rotation,
                   t.channel_id,
                   t.created_at
            FROM tasks t
            JOIN ceilings c ON c.channel_id = t.channel_id
            LEFT JOIN inflight f ON f.channel_id = t.channel_id
            WHERE t.status = 'queued'
              AND (c.max_concurrent <= 0 OR COALESCE(f.busy, 0) < c.max_concurrent)
        )
        UPDATE tasks
        SET status = 'claimed', claimed_by = ?, claimed_at = ?, last_heartbeat = ?, updated_at = ?
        WHERE id = (
            SELECT id FROM candidates
            ORDER BY tier ASC, rotation ASC, channel_id ASC, created_at ASC, id ASC
            LIMIT 1
        ) AND status = 'queued'
        RETURNING ` + taskColumns

	return s.claimWithRetry(ctx, query, args)
}

// ResumeNext atomically moves the best approved task into its next working
// status for a worker, or returns (nil, nil) when nothing is resumable.
// eligible restricts which approved statuses may resume; callers pass the
// statuses whose next stage currently has budget and a free slot. Approved
// tasks already hold their channel's concurrency slot, so no ceiling check
// applies here.
func (s *Store) ResumeNext(ctx context.Context, workerID string, eligible []Status) (*Task, error) {
	ctx = ensureContext(ctx)
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}

	var from []Status
	for _, status := range eligible {
		if _, ok := resumeTargets[status]; ok {
			from = append(from, status)
		}
	}
	if len(from) == 0 {
		return nil, nil
	}

	caseArms := make([]string, 0, len(from))
	args := make([]any, 0, len(from)*3+5)
	for _, status := range from {
		caseArms = append(caseArms, "WHEN ? THEN ?")
		args = append(args, string(status), string(resumeTargets[status]))
	}

	now := formatTime(time.Now())
	args = append(args, workerID, now, now, now)
	args = append(args, statusStrings(from)...)
	args = append(args, statusStrings(from)...)

	query := `
        UPDATE tasks
        SET status = CASE status ` + strings.Join(caseArms, " ") + ` ELSE status END,
            claimed_by = ?, claimed_at = ?, last_heartbeat = ?, updated_at = ?
        WHERE id = (
            SELECT t.id FROM (
                SELECT t.id,
                       ` + priorityTierSQL + ` AS tier,
                       ROW_NUMBER() OVER (
                           PARTITION BY t.priority, t.channel_id
                           ORDER BY t.created_at ASC, t.id ASC
                       ) AS rotation,
                       t.channel_id,
                       t.created_at
                FROM tasks t
                WHERE t.status IN (` + makePlaceholders(len(from)) + `)
            ) t
            ORDER BY t.tier ASC, t.rotation ASC, t.channel_id ASC, t.created_at ASC, t.id ASC
            LIMIT 1
        ) AND status IN (` + makePlaceholders(len(from)) + `)
        RETURNING ` + taskColumns

	return s.claimWithRetry(ctx, query, args)
}

func (s *Store) claimWithRetry(ctx context.Context, query string, args []any) (*Task, error) {
	var task *Task
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		claimed, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			task = nil
			return nil
		}
		if err != nil {
			return err
		}
		task = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// UpdateHeartbeat refreshes the lease on an in-flight task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := formatTime(time.Now())
	if err := s.execWithoutResultRetry(
		ctx,
		"UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?",
		now, now, id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleClaims returns claimed and working tasks whose lease expired
// back to queued so another worker can pick them up, and reports which tasks
// were reclaimed. A lease expires when its heartbeat is older than
// heartbeatCutoff or when the claim itself is older than claimCutoff, which
// bounds tasks that keep heartbeating without making progress. Metadata and
// the error log survive the reclaim; the claim columns do not.
func (s *Store) ReclaimStaleClaims(ctx context.Context, heartbeatCutoff, claimCutoff time.Time) ([]*Task, error) {
	statuses := make([]Status, 0, len(workingStatuses)+1)
	statuses = append(statuses, StatusClaimed)
	for _, status := range allStatuses {
		if _, ok := workingStatuses[status]; ok {
			statuses = append(statuses, status)
		}
	}

	now := formatTime(time.Now())
	reclaimLine := now + " reclaimed expired lease from "

	args := make([]any, 0, len(statuses)+5)
	args = append(args, reclaimLine, reclaimLine, now)
	args = append(args, statusStrings(statuses)...)
	args = append(args, formatTime(heartbeatCutoff), formatTime(claimCutoff))

	query := `
        UPDATE tasks
        SET status = 'queued', claimed_by = NULL, claimed_at = NULL, last_heartbeat = NULL,
            error_log = CASE
                WHEN error_log IS NULL OR error_log = '' THEN ? || status
                ELSE error_log || char(10) || ? || status
            END,
            updated_at = ?
        WHERE status IN (` + makePlaceholders(len(statuses)) + `)
          AND ((last_heartbeat IS NOT NULL AND last_heartbeat < ?)
            OR (claimed_at IS NOT NULL AND claimed_at < ?))
        RETURNING ` + taskColumns

	var reclaimed []*Task
	err := retryOnBusy(ctx, func() error {
		reclaimed = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return err
			}
			reclaimed = append(reclaimed, task)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return reclaimed, nil
}
