// Package daemon ties the task store, worker manager, and HTTP API into a
// single lifecycle with flock-based locking to prevent multiple instances.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/queue"
	"shuttle/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	workers *worker.Manager
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	QueueDBPath  string
	LockFilePath string
	QueueStats   map[queue.Status]int
	Channels     []queue.ChannelStats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, workers *worker.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || workers == nil {
		return nil, errors.New("daemon requires config, store, logger, and worker manager")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "shuttled.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workers:  workers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the worker pool and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shuttle daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workers.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start workers: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workers.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("shuttle daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.workers.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("shuttle daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Reload applies a freshly loaded configuration. Only the per-stage limits
// take effect without a restart; everything else requires one.
func (d *Daemon) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	d.workers.ReloadStageLimits(cfg.StageLimits())
	d.logger.Info("configuration reloaded")
}

// ListQueue returns tasks filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Task, error) {
	return d.store.List(ctx, statuses...)
}

// DescribeTask returns one task by id.
func (d *Daemon) DescribeTask(ctx context.Context, id int64) (*queue.Task, error) {
	return d.store.GetByID(ctx, id)
}

// Transition applies a validated status change to one task. Trackboard review
// decisions land here through the API.
func (d *Daemon) Transition(ctx context.Context, id int64, to queue.Status) (*queue.Task, error) {
	return d.store.AttemptTransition(ctx, id, to)
}

// RetryErrored sends errored tasks (optionally a subset) back to queued. The
// batch is all-or-nothing.
func (d *Daemon) RetryErrored(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		tasks, err := d.store.List(ctx, queue.ErrorStatuses()...)
		if err != nil {
			return 0, err
		}
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	requests := make([]queue.TransitionRequest, len(ids))
	for i, id := range ids {
		requests[i] = queue.TransitionRequest{ID: id, To: queue.StatusQueued}
	}
	if err := d.store.TransitionAll(ctx, requests); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// ClearTerminal removes published, completed, and cancelled tasks.
func (d *Daemon) ClearTerminal(ctx context.Context) (int64, error) {
	return d.store.ClearTerminal(ctx)
}

// ClearQueue removes every task.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.store.ClearAll(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats failed", logging.Error(err))
	}
	channels, err := d.store.ChannelStatsAll(ctx, d.cfg.Ceilings())
	if err != nil {
		d.logger.Warn("channel stats failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		QueueStats:   stats,
		Channels:     channels,
	}
}

// APIAddr returns the bound API address, empty until started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}
