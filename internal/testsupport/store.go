package testsupport

import (
	"context"
	"testing"

	"shuttle/internal/config"
	"shuttle/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask creates a draft task for tests using the provided store.
func NewTask(t testing.TB, store *queue.Store, channelID, title string, priority queue.Priority) *queue.Task {
	t.Helper()

	task, err := store.NewTask(context.Background(), channelID, title, priority)
	if err != nil {
		t.Fatalf("store.NewTask: %v", err)
	}
	return task
}

// QueueTask creates a task and moves it to queued.
func QueueTask(t testing.TB, store *queue.Store, channelID, title string, priority queue.Priority) *queue.Task {
	t.Helper()

	task := NewTask(t, store, channelID, title, priority)
	queued, err := store.AttemptTransition(context.Background(), task.ID, queue.StatusQueued)
	if err != nil {
		t.Fatalf("queue task: %v", err)
	}
	return queued
}
