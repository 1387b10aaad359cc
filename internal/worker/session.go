package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle/internal/logging"
	"shuttle/internal/queue"
	"shuttle/internal/stage"
)

// runSession drives one claimed or resumed task through as many stages as
// gates and limits allow. The session holds the task's lease: a heartbeat
// loop runs for its whole duration.
func (m *Manager) runSession(ctx context.Context, logger *slog.Logger, workerID string, task *queue.Task) {
	logger = logger.With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldChannel, task.ChannelID),
		logging.String("session_id", uuid.NewString()),
	)
	logger.Info("session started",
		logging.String(logging.FieldStatus, string(task.Status)),
		logging.String(logging.FieldEventType, "session_start"),
	)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.runHeartbeatLoop(hbCtx, &hbWG, logger, task.ID)
	defer func() {
		stopHeartbeat()
		hbWG.Wait()
	}()

	current := task
	for {
		target, proceed := m.sessionTarget(ctx, current)
		if !proceed {
			logger.Info("session ended",
				logging.String(logging.FieldStatus, string(current.Status)),
				logging.String(logging.FieldEventType, "session_end"),
			)
			return
		}

		stageName, ok := queue.StageFor(target)
		if !ok {
			logger.Error("no stage for status",
				logging.String(logging.FieldStatus, string(target)),
			)
			return
		}
		stageLogger := logger.With(logging.String(logging.FieldStage, stageName))

		lease, acquired := m.limiter.Acquire(ctx, stageName)
		if !acquired {
			m.releaseOnShutdown(logger, current)
			return
		}

		if current.Status != target {
			updated, err := m.store.AttemptTransition(ctx, current.ID, target)
			if err != nil {
				lease.Release()
				if errors.Is(err, context.Canceled) {
					return
				}
				stageLogger.Error("failed to enter stage",
					logging.Error(err),
					logging.String(logging.FieldEventType, "transition_failed"),
				)
				return
			}
			current = updated
			m.pushBoard(ctx, stageLogger, func(boardCtx context.Context) error {
				return m.board.TaskChanged(boardCtx, updated)
			})
		}

		next, done := m.executeStage(ctx, stageLogger, stageName, current)
		lease.Release()
		if done {
			return
		}
		current = next
	}
}

// sessionTarget maps the task's current status to the working status this
// session should enter next, or reports that the session is over. Approved
// tasks only continue in-session when their next stage has budget and a free
// slot; otherwise they park and a later resume picks them up.
func (m *Manager) sessionTarget(ctx context.Context, task *queue.Task) (queue.Status, bool) {
	switch {
	case task.Status == queue.StatusClaimed:
		return queue.StatusScripting, true
	case task.IsWorking():
		return task.Status, true
	default:
		target, ok := queue.ResumeTargetFor(task.Status)
		if !ok {
			return "", false
		}
		stageName, ok := queue.StageFor(target)
		if !ok || !m.stageAdmits(ctx, stageName) {
			return "", false
		}
		return target, true
	}
}

// executeStage runs one working stage and persists the outcome. It returns
// the refreshed task and whether the session is finished.
func (m *Manager) executeStage(ctx context.Context, logger *slog.Logger, stageName string, task *queue.Task) (*queue.Task, bool) {
	handler, ok := m.handlers[stageName]
	if !ok {
		handler = stage.Noop{}
	}
	if aware, isAware := handler.(stage.LoggerAware); isAware {
		aware.SetLogger(logger)
	}

	started := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	err := handler.Execute(ctx, task)
	if ctx.Err() != nil {
		m.releaseOnShutdown(logger, task)
		return nil, true
	}
	if err != nil {
		return nil, m.failStage(ctx, logger, task, err)
	}

	logger.Info("stage completed",
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return m.advanceStage(ctx, logger, stageName, task)
}

func (m *Manager) failStage(ctx context.Context, logger *slog.Logger, task *queue.Task, stageErr error) bool {
	errStatus, ok := queue.ErrorStatusFor(task.Status)
	if !ok {
		logger.Error("no error status for stage failure", logging.Error(stageErr))
		return true
	}
	if logErr := m.store.AppendErrorLog(ctx, task.ID, stageErr.Error()); logErr != nil {
		logger.Warn("failed to record error log", logging.Error(logErr))
	}
	updated, err := m.store.AttemptTransition(ctx, task.ID, errStatus)
	if err != nil {
		logger.Error("failed to park errored task",
			logging.Error(err),
			logging.String(logging.FieldEventType, "transition_failed"),
		)
		return true
	}
	logger.Warn("stage failed",
		logging.Error(stageErr),
		logging.String(logging.FieldStatus, string(errStatus)),
		logging.String(logging.FieldEventType, "stage_failed"),
	)
	m.pushBoard(ctx, logger, func(boardCtx context.Context) error {
		return m.board.TaskErrored(boardCtx, updated, stageErr)
	})
	return true
}

func (m *Manager) advanceStage(ctx context.Context, logger *slog.Logger, stageName string, task *queue.Task) (*queue.Task, bool) {
	if reviewStatus, gated := queue.ReviewStatusFor(task.Status); gated && m.cfg.Stages[stageName].ReviewGated {
		updated, err := m.store.AttemptTransition(ctx, task.ID, reviewStatus)
		if err != nil {
			logger.Error("failed to park task for review", logging.Error(err))
			return nil, true
		}
		logger.Info("awaiting review",
			logging.String(logging.FieldStatus, string(reviewStatus)),
			logging.String(logging.FieldEventType, "awaiting_review"),
		)
		m.pushBoard(ctx, logger, func(boardCtx context.Context) error {
			return m.board.TaskAwaitingReview(boardCtx, updated)
		})
		return nil, true
	}

	successor, ok := queue.SuccessorFor(task.Status)
	if !ok {
		return nil, true
	}

	// Subtitling flows straight into publishing; hold here until the publish
	// stage admits us rather than losing finished subtitle work.
	if nextStage, isWorking := queue.StageFor(successor); isWorking {
		for !m.stageAdmits(ctx, nextStage) {
			m.sleep(ctx, m.pollInterval)
			if ctx.Err() != nil {
				m.releaseOnShutdown(logger, task)
				return nil, true
			}
		}
	}

	updated, err := m.store.AttemptTransition(ctx, task.ID, successor)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, true
		}
		logger.Error("failed to advance task",
			logging.Error(err),
			logging.String(logging.FieldEventType, "transition_failed"),
		)
		return nil, true
	}

	if successor == queue.StatusPublished {
		logger.Info("task published", logging.String(logging.FieldEventType, "published"))
		m.pushBoard(ctx, logger, func(boardCtx context.Context) error {
			return m.board.TaskPublished(boardCtx, updated)
		})
		return nil, true
	}
	m.pushBoard(ctx, logger, func(boardCtx context.Context) error {
		return m.board.TaskChanged(boardCtx, updated)
	})
	return updated, false
}

// releaseOnShutdown returns an in-flight task to the queue so another worker
// or a restart can pick it up immediately instead of waiting for the stale
// claim sweep.
func (m *Manager) releaseOnShutdown(logger *slog.Logger, task *queue.Task) {
	if task.Status != queue.StatusClaimed && !task.IsWorking() {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	released, err := m.store.AttemptTransition(releaseCtx, task.ID, queue.StatusQueued)
	if err != nil {
		logger.Warn("failed to release task on shutdown", logging.Error(err))
		return
	}
	logger.Info("task released to queue",
		logging.String(logging.FieldEventType, "session_released"),
	)
	m.pushBoard(releaseCtx, logger, func(boardCtx context.Context) error {
		return m.board.TaskChanged(boardCtx, released)
	})
}

// pushBoard delivers a trackboard event without letting board outages affect
// the pipeline.
func (m *Manager) pushBoard(ctx context.Context, logger *slog.Logger, push func(context.Context) error) {
	boardCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		boardCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := push(boardCtx); err != nil {
		logger.Warn("trackboard push failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "trackboard_push_failed"),
		)
	}
}

func (m *Manager) runHeartbeatLoop(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, taskID int64) {
	defer wg.Done()
	ticker := time.NewTicker(m.heartbeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.UpdateHeartbeat(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
