// Package stage defines the contract between the worker runtime and the
// per-stage execution backends.
package stage

import (
	"context"
	"log/slog"

	"shuttle/internal/queue"
)

// Handler executes one pipeline stage for a task. Execute must respect ctx
// cancellation; the worker cancels it when the daemon shuts down or the task
// lease is lost.
type Handler interface {
	Execute(ctx context.Context, task *queue.Task) error
}

// LoggerAware handlers receive a task-scoped logger before execution.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Noop succeeds without doing anything. Stages without a configured command
// use it; the pipeline semantics (review gates, successor statuses) still
// apply.
type Noop struct{}

// Execute implements Handler.
func (Noop) Execute(context.Context, *queue.Task) error { return nil }
