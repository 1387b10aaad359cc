package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shuttle/internal/daemon"
	"shuttle/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			payload, apiErr := fetchDaemonStatus(cfg.Paths.APIBind)
			if apiErr == nil {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", payload.PID), colorize))
				fmt.Fprintln(out, renderStatusLine("Queue DB", statusInfo, payload.QueueDBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, payload.LockFilePath, colorize))
				printStatsTable(cmd, statusMapFromPayload(payload.QueueStats))
				printChannelTable(cmd, channelStatsFromViews(payload.Channels))
				return nil
			}

			fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running; reading the queue directly", colorize))
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				printStatsTable(cmd, stats)
				channels, err := store.ChannelStatsAll(cmd.Context(), cfg.Ceilings())
				if err != nil {
					return err
				}
				printChannelTable(cmd, channels)
				return nil
			})
		},
	}
}

// fetchDaemonStatus asks a running daemon for its status over the local HTTP
// API. Any failure means the caller should fall back to direct store access.
func fetchDaemonStatus(bind string) (*daemon.StatusPayload, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, fmt.Errorf("api bind address is not configured")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + bind + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon status returned %d", resp.StatusCode)
	}

	var payload daemon.StatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode daemon status: %w", err)
	}
	if !payload.Running {
		return nil, fmt.Errorf("daemon reports not running")
	}
	return &payload, nil
}

func statusMapFromPayload(stats map[string]int) map[queue.Status]int {
	out := make(map[queue.Status]int, len(stats))
	for key, count := range stats {
		out[queue.Status(key)] = count
	}
	return out
}

func channelStatsFromViews(views []daemon.ChannelView) []queue.ChannelStats {
	out := make([]queue.ChannelStats, len(views))
	for i, view := range views {
		out[i] = queue.ChannelStats(view)
	}
	return out
}

func printStatsTable(cmd *cobra.Command, stats map[queue.Status]int) {
	rows := buildQueueStatusRows(stats)
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]string{"Status", "Count"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
}

func printChannelTable(cmd *cobra.Command, stats []queue.ChannelStats) {
	if len(stats) == 0 {
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]string{"Channel", "Pending", "In Progress", "Ceiling", "Capacity"},
		buildChannelRows(stats),
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}

func newChannelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "Show per-channel queue load and ceilings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.ChannelStatsAll(cmd.Context(), cfg.Ceilings())
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No channels configured")
					return nil
				}
				printChannelTable(cmd, stats)
				return nil
			})
		},
	}
}
