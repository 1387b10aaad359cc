package queue

import (
	"database/sql"
	"errors"
	"time"
)

const taskColumns = "id, channel_id, title, status, priority, metadata_json, error_log, claimed_by, claimed_at, last_heartbeat, created_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           int64
		channelID    string
		title        string
		statusStr    string
		priorityStr  string
		metadata     sql.NullString
		errorLog     sql.NullString
		claimedBy    sql.NullString
		claimedRaw   sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&channelID,
		&title,
		&statusStr,
		&priorityStr,
		&metadata,
		&errorLog,
		&claimedBy,
		&claimedRaw,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:           id,
		ChannelID:    channelID,
		Title:        title,
		Status:       Status(statusStr),
		Priority:     Priority(priorityStr),
		MetadataJSON: metadata.String,
		ErrorLog:     errorLog.String,
		ClaimedBy:    claimedBy.String,
	}

	if claimedRaw.Valid {
		if claimed, err := parseTimeString(claimedRaw.String); err == nil {
			task.ClaimedAt = &claimed
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			task.LastHeartbeat = &heartbeat
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusStrings(statuses []Status) []any {
	out := make([]any, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
