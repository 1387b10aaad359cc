package main

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"shuttle/internal/queue"
	"shuttle/internal/testsupport"
)

func TestQueueAddAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"queue", "add", "main", "Episode One"}, env.configPath)
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Added task #1")
	requireContains(t, out, "Queued")

	out, _, err = runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Episode One")
	requireContains(t, out, "main")

	out, _, err = runCLI(t, []string{"queue", "list", "--status", "queued"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list filtered: %v", err)
	}
	requireContains(t, out, "Episode One")

	out, _, err = runCLI(t, []string{"queue", "list", "--status", "published"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list empty filter: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestQueueAddDraftAndPriority(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"queue", "add", "main", "Draft Episode", "--draft", "--priority", "high"}, env.configPath)
	if err != nil {
		t.Fatalf("queue add --draft: %v", err)
	}
	requireContains(t, out, "Draft")

	task, err := env.store.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Status != queue.StatusDraft {
		t.Fatalf("expected draft, got %s", task.Status)
	}
	if task.Priority != queue.PriorityHigh {
		t.Fatalf("expected high priority, got %s", task.Priority)
	}
}

func TestQueueAddRejectsUnknownPriority(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"queue", "add", "main", "Episode", "--priority", "urgent"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown priority") {
		t.Fatalf("expected priority error, got %v", err)
	}
}

func TestQueueStatusSummary(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)
	errored := testsupport.QueueTask(t, env.store, "main", "ep-2", queue.PriorityNormal)
	for _, status := range []queue.Status{queue.StatusClaimed, queue.StatusScripting, queue.StatusScriptError} {
		if _, err := env.store.AttemptTransition(ctx, errored.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}

	out, _, err := runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Queued")
	requireContains(t, out, "Script Error")
}

func TestQueueShowIncludesErrorLog(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	task := testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)
	if err := env.store.AppendErrorLog(ctx, task.ID, "voice synth unavailable"); err != nil {
		t.Fatalf("append error log: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "show", fmt.Sprintf("%d", task.ID)}, env.configPath)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, fmt.Sprintf("Task #%d", task.ID))
	requireContains(t, out, "ep-1")
	requireContains(t, out, "voice synth unavailable")
}

func TestQueueTransitionCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	task := testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)

	out, _, err := runCLI(t, []string{"queue", "transition", fmt.Sprintf("%d", task.ID), "on_hold"}, env.configPath)
	if err != nil {
		t.Fatalf("queue transition: %v", err)
	}
	requireContains(t, out, "On Hold")

	_, _, err = runCLI(t, []string{"queue", "transition", fmt.Sprintf("%d", task.ID), "published"}, env.configPath)
	if err == nil {
		t.Fatal("expected invalid transition to fail")
	}

	_, _, err = runCLI(t, []string{"queue", "transition", fmt.Sprintf("%d", task.ID), "nonsense"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestQueueRetryCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	task := testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)
	for _, status := range []queue.Status{queue.StatusClaimed, queue.StatusScripting, queue.StatusScriptError} {
		if _, err := env.store.AttemptTransition(ctx, task.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}

	out, _, err := runCLI(t, []string{"queue", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Retried 1 tasks")

	updated, err := env.store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", updated.Status)
	}

	out, _, err = runCLI(t, []string{"queue", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry empty: %v", err)
	}
	requireContains(t, out, "No errored tasks to retry")
}

func TestQueueRetryInvalidID(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"queue", "retry", "abc"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid task id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestQueueClearCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	done := testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)
	if _, err := env.store.AttemptTransition(ctx, done.ID, queue.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	testsupport.QueueTask(t, env.store, "main", "ep-2", queue.PriorityNormal)

	out, _, err := runCLI(t, []string{"queue", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 tasks")

	out, _, err = runCLI(t, []string{"queue", "clear", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear --all: %v", err)
	}
	requireContains(t, out, "Cleared 1 tasks")
}

func TestChannelsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)

	out, _, err := runCLI(t, []string{"channels"}, env.configPath)
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	requireContains(t, out, "main")
	requireContains(t, out, "yes")
}

func TestStatusCommandWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.QueueTask(t, env.store, "main", "ep-1", queue.PriorityNormal)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "Queued")
}
