package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"shuttle/internal/queue"
)

var statusTitler = cases.Title(language.Und)

func buildQueueStatusRows(stats map[queue.Status]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[status]
		if !ok || count == 0 {
			continue
		}
		rows = append(rows, []string{formatStatusLabel(status), fmt.Sprintf("%d", count)})
	}
	return rows
}

func buildTaskRows(tasks []*queue.Task) [][]string {
	if len(tasks) == 0 {
		return nil
	}
	sorted := make([]*queue.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	rows := make([][]string, 0, len(sorted))
	for _, task := range sorted {
		rows = append(rows, []string{
			fmt.Sprintf("%d", task.ID),
			task.ChannelID,
			truncateTitle(task.Title),
			formatStatusLabel(task.Status),
			string(task.Priority),
			formatDisplayTime(task.CreatedAt),
			formatClaim(task),
		})
	}
	return rows
}

func buildChannelRows(stats []queue.ChannelStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, entry := range stats {
		ceiling := fmt.Sprintf("%d", entry.MaxConcurrent)
		if entry.MaxConcurrent <= 0 {
			ceiling = "-"
		}
		rows = append(rows, []string{
			entry.ChannelID,
			fmt.Sprintf("%d", entry.PendingCount),
			fmt.Sprintf("%d", entry.InProgressCount),
			ceiling,
			yesNo(entry.HasCapacity),
		})
	}
	return rows
}

func formatStatusLabel(status queue.Status) string {
	label := strings.TrimSpace(string(status))
	if label == "" {
		return ""
	}
	return statusTitler.String(strings.ReplaceAll(label, "_", " "))
}

func formatDisplayTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatClaim(task *queue.Task) string {
	if strings.TrimSpace(task.ClaimedBy) == "" {
		return "-"
	}
	return task.ClaimedBy
}

func truncateTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Untitled"
	}
	if len(title) > 48 {
		return title[:45] + "..."
	}
	return title
}
