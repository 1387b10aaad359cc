package queue

import (
	"context"
	"fmt"
	"sort"
)

// Stats returns a count of tasks per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var statusStr string
		var count int
		if err := rows.Scan(&statusStr, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[Status(statusStr)] = count
	}
	return stats, rows.Err()
}

// ChannelStatsAll returns per-channel queue counts merged with the configured
// ceilings. Channels from ceilings always appear, even with no tasks; channels
// that hold tasks but are absent from ceilings appear with MaxConcurrent 0 and
// HasCapacity false since the scheduler will not admit work for them.
func (s *Store) ChannelStatsAll(ctx context.Context, ceilings map[string]int) ([]ChannelStats, error) {
	ctx = ensureContext(ctx)

	args := statusStrings(inProgressStatuses)
	rows, err := s.db.QueryContext(ctx, `
        SELECT channel_id,
               SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END),
               SUM(CASE WHEN status IN (`+makePlaceholders(len(inProgressStatuses))+`) THEN 1 ELSE 0 END)
        FROM tasks
        GROUP BY channel_id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("channel stats: %w", err)
	}
	defer rows.Close()

	byChannel := make(map[string]*ChannelStats)
	for rows.Next() {
		var stats ChannelStats
		if err := rows.Scan(&stats.ChannelID, &stats.PendingCount, &stats.InProgressCount); err != nil {
			return nil, fmt.Errorf("scan channel stats: %w", err)
		}
		byChannel[stats.ChannelID] = &stats
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for channelID := range ceilings {
		if _, ok := byChannel[channelID]; !ok {
			byChannel[channelID] = &ChannelStats{ChannelID: channelID}
		}
	}

	out := make([]ChannelStats, 0, len(byChannel))
	for _, stats := range byChannel {
		if ceiling, ok := ceilings[stats.ChannelID]; ok {
			stats.MaxConcurrent = ceiling
			stats.HasCapacity = ceiling <= 0 || stats.InProgressCount < ceiling
		}
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

// ChannelsWithCapacity filters ceilings down to the channels that can accept
// another claim right now.
func (s *Store) ChannelsWithCapacity(ctx context.Context, ceilings map[string]int) (map[string]int, error) {
	stats, err := s.ChannelStatsAll(ctx, ceilings)
	if err != nil {
		return nil, err
	}
	open := make(map[string]int, len(ceilings))
	for _, entry := range stats {
		if _, ok := ceilings[entry.ChannelID]; ok && entry.HasCapacity {
			open[entry.ChannelID] = entry.MaxConcurrent
		}
	}
	return open, nil
}

// Health verifies the database answers queries.
func (s *Store) Health(ctx context.Context) error {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM tasks").Scan(&count); err != nil {
		return fmt.Errorf("queue health: %w", err)
	}
	return nil
}

// DescribeStatuses renders a stats map in status declaration order, used by
// the CLI status table.
func DescribeStatuses(stats map[Status]int) []string {
	lines := make([]string, 0, len(stats))
	for _, status := range allStatuses {
		if count, ok := stats[status]; ok && count > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d", status, count))
		}
	}
	return lines
}
