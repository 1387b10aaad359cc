// Package worker runs the scheduling loops: claiming queued tasks, resuming
// approved ones, executing pipeline stages, and keeping task leases fresh.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shuttle/internal/budget"
	"shuttle/internal/config"
	"shuttle/internal/limits"
	"shuttle/internal/logging"
	"shuttle/internal/queue"
	"shuttle/internal/stage"
	"shuttle/internal/trackboard"
)

// Manager coordinates the worker pool over the shared task store.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	limiter  *limits.StageLimiter
	gate     budget.Gate
	board    trackboard.Service
	handlers map[string]stage.Handler

	pollInterval  time.Duration
	errorRetry    time.Duration
	heartbeatTick time.Duration
	staleAfter    time.Duration
	claimAfter    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a manager with production collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithDeps(cfg, store, logger, budget.NewGate(cfg), trackboard.NewService(cfg), stage.HandlersFromConfig(cfg))
}

// NewManagerWithDeps constructs a manager with explicit collaborators (used
// in tests).
func NewManagerWithDeps(
	cfg *config.Config,
	store *queue.Store,
	logger *slog.Logger,
	gate budget.Gate,
	board trackboard.Service,
	handlers map[string]stage.Handler,
) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		logger:        logging.NewComponentLogger(logger, "worker"),
		limiter:       limits.New(cfg.StageLimits()),
		gate:          gate,
		board:         board,
		handlers:      handlers,
		pollInterval:  time.Duration(cfg.Scheduler.QueuePollInterval) * time.Second,
		errorRetry:    time.Duration(cfg.Scheduler.ErrorRetryInterval) * time.Second,
		heartbeatTick: time.Duration(cfg.Scheduler.HeartbeatInterval) * time.Second,
		staleAfter:    time.Duration(cfg.Scheduler.HeartbeatTimeout) * time.Second,
		claimAfter:    time.Duration(cfg.Scheduler.ClaimTimeout) * time.Second,
	}
}

// Start launches the reclaim loop and the configured number of workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("worker manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.runReclaimLoop(runCtx)

	for i := 1; i <= m.cfg.Scheduler.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		m.wg.Add(1)
		go m.runWorker(runCtx, workerID)
	}
	return nil
}

// Stop terminates the loops and waits for in-flight sessions to wind down.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// ReloadStageLimits swaps in new per-stage ceilings. Running stages keep the
// slots they already hold.
func (m *Manager) ReloadStageLimits(stageLimits map[string]int) {
	m.limiter.Reload(stageLimits)
	m.logger.Info("stage limits reloaded", logging.Int("stages", len(stageLimits)))
}

func (m *Manager) runReclaimLoop(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "worker-reclaim")

	ticker := time.NewTicker(m.heartbeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			reclaimed, err := m.store.ReclaimStaleClaims(ctx, now.Add(-m.staleAfter), now.Add(-m.claimAfter))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("stale claim reclaim failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "reclaim_failed"),
				)
				continue
			}
			if len(reclaimed) > 0 {
				logger.Info("reclaimed stale tasks",
					logging.Int("count", len(reclaimed)),
					logging.String(logging.FieldEventType, "reclaim"),
				)
				for _, task := range reclaimed {
					m.pushBoard(ctx, logger, func(boardCtx context.Context) error {
						return m.board.TaskChanged(boardCtx, task)
					})
				}
			}
		}
	}
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorker, workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.nextTask(ctx, workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to claim next task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
			)
			m.sleep(ctx, m.errorRetry)
			continue
		}
		if task == nil {
			m.sleep(ctx, m.pollInterval)
			continue
		}

		m.pushBoard(ctx, logger, func(boardCtx context.Context) error {
			return m.board.TaskChanged(boardCtx, task)
		})
		m.runSession(ctx, logger, workerID, task)
	}
}

// nextTask prefers resuming approved tasks over fresh claims so work already
// holding a channel slot drains first.
func (m *Manager) nextTask(ctx context.Context, workerID string) (*queue.Task, error) {
	eligible := m.resumableStatuses(ctx)
	if len(eligible) > 0 {
		task, err := m.store.ResumeNext(ctx, workerID, eligible)
		if err != nil || task != nil {
			return task, err
		}
	}

	if !m.stageAdmits(ctx, queue.StageScript) {
		return nil, nil
	}
	return m.store.ClaimNext(ctx, workerID, m.cfg.Ceilings())
}

// resumableStatuses returns the approved statuses whose next stage currently
// has budget and a free slot.
func (m *Manager) resumableStatuses(ctx context.Context) []queue.Status {
	var eligible []queue.Status
	for _, status := range queue.ApprovedStatuses() {
		stageName, ok := queue.NextStageFor(status)
		if !ok {
			continue
		}
		if m.stageAdmits(ctx, stageName) {
			eligible = append(eligible, status)
		}
	}
	return eligible
}

func (m *Manager) stageAdmits(ctx context.Context, stageName string) bool {
	if !m.limiter.HasSlot(stageName) {
		return false
	}
	allowed, err := m.gate.Allow(ctx, stageName)
	if err != nil {
		m.logger.Warn("budget check failed",
			logging.Error(err),
			logging.String(logging.FieldStage, stageName),
			logging.Bool("fallback_allowed", allowed),
			logging.String(logging.FieldEventType, "budget_check_failed"),
		)
	}
	return allowed
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
