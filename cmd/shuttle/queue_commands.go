package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shuttle/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the task queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueTransitionCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var listChannel string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, value := range listStatuses {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(store *queue.Store) error {
				var tasks []*queue.Task
				var err error
				if channel := strings.TrimSpace(listChannel); channel != "" {
					tasks, err = store.ListByChannel(cmd.Context(), channel)
					if err == nil && len(statuses) > 0 {
						tasks = filterByStatus(tasks, statuses)
					}
				} else {
					tasks, err = store.List(cmd.Context(), statuses...)
				}
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Channel", "Title", "Status", "Priority", "Created", "Claimed By"},
					buildTaskRows(tasks),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by task status (repeatable)")
	cmd.Flags().StringVar(&listChannel, "channel", "", "Filter by channel id")
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var priorityFlag string
	var draftOnly bool

	cmd := &cobra.Command{
		Use:   "add <channel> <title>",
		Short: "Add a task to the queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority := queue.PriorityNormal
			if value := strings.TrimSpace(priorityFlag); value != "" {
				parsed, ok := queue.ParsePriority(value)
				if !ok {
					return fmt.Errorf("unknown priority %q (use high, normal, or low)", value)
				}
				priority = parsed
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, active := cfg.ChannelByID(args[0]); !active {
				fmt.Fprintf(cmd.OutOrStdout(), "Warning: channel %q is not configured or inactive; the task will wait until it is\n", args[0])
			}

			return ctx.withStore(func(store *queue.Store) error {
				task, err := store.NewTask(cmd.Context(), args[0], args[1], priority)
				if err != nil {
					return err
				}
				if !draftOnly {
					task, err = store.AttemptTransition(cmd.Context(), task.ID, queue.StatusQueued)
					if err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added task #%d (%s) as %s\n", task.ID, task.Title, formatStatusLabel(task.Status))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", "", "Scheduling priority: high, normal, or low")
	cmd.Flags().BoolVar(&draftOnly, "draft", false, "Leave the task in draft instead of queueing it")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <taskID>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return ctx.withStore(func(store *queue.Store) error {
				task, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				printTaskDetail(cmd, task)
				return nil
			})
		},
	}
}

func printTaskDetail(cmd *cobra.Command, task *queue.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task #%d\n", task.ID)
	fmt.Fprintf(out, "  Channel:   %s\n", task.ChannelID)
	fmt.Fprintf(out, "  Title:     %s\n", task.Title)
	fmt.Fprintf(out, "  Status:    %s\n", formatStatusLabel(task.Status))
	fmt.Fprintf(out, "  Priority:  %s\n", task.Priority)
	fmt.Fprintf(out, "  Created:   %s\n", formatDisplayTime(task.CreatedAt))
	fmt.Fprintf(out, "  Updated:   %s\n", formatDisplayTime(task.UpdatedAt))
	if task.ClaimedBy != "" {
		fmt.Fprintf(out, "  Claimed:   %s", task.ClaimedBy)
		if task.ClaimedAt != nil {
			fmt.Fprintf(out, " at %s", formatDisplayTime(*task.ClaimedAt))
		}
		fmt.Fprintln(out)
	}
	if task.MetadataJSON != "" {
		fmt.Fprintf(out, "  Metadata:  %s\n", task.MetadataJSON)
	}
	if task.ErrorLog != "" {
		fmt.Fprintln(out, "  Error log:")
		for _, line := range strings.Split(task.ErrorLog, "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
}

func newQueueTransitionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <taskID> <status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			status, ok := queue.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return ctx.withStore(func(store *queue.Store) error {
				task, err := store.AttemptTransition(cmd.Context(), id, status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task #%d is now %s\n", task.ID, formatStatusLabel(task.Status))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [taskID...]",
		Short: "Send errored tasks back to the queue",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", arg)
				}
				ids = append(ids, id)
			}

			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					tasks, err := store.List(cmd.Context(), queue.ErrorStatuses()...)
					if err != nil {
						return err
					}
					for _, task := range tasks {
						ids = append(ids, task.ID)
					}
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "No errored tasks to retry")
					return nil
				}
				requests := make([]queue.TransitionRequest, len(ids))
				for i, id := range ids {
					requests[i] = queue.TransitionRequest{ID: id, To: queue.StatusQueued}
				}
				if err := store.TransitionAll(cmd.Context(), requests); err != nil {
					return err
				}
				fmt.Fprintf(out, "Retried %d tasks\n", len(ids))
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				var removed int64
				var err error
				if clearAll {
					removed, err = store.ClearAll(cmd.Context())
				} else {
					removed, err = store.ClearTerminal(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d tasks\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every task, not just finished ones")
	return cmd
}

func filterByStatus(tasks []*queue.Task, statuses []queue.Status) []*queue.Task {
	wanted := make(map[queue.Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	filtered := tasks[:0]
	for _, task := range tasks {
		if _, ok := wanted[task.Status]; ok {
			filtered = append(filtered, task)
		}
	}
	return filtered
}
