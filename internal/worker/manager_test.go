package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"shuttle/internal/budget"
	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/queue"
	"shuttle/internal/stage"
	"shuttle/internal/testsupport"
	"shuttle/internal/worker"
)

type fakeGate struct {
	mu     sync.Mutex
	denied map[string]bool
}

func (g *fakeGate) Allow(_ context.Context, stageName string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.denied[stageName], nil
}

func (g *fakeGate) deny(stageName string, blocked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.denied == nil {
		g.denied = make(map[string]bool)
	}
	g.denied[stageName] = blocked
}

type recordingBoard struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBoard) record(event string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBoard) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

func (b *recordingBoard) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *recordingBoard) TaskChanged(_ context.Context, task *queue.Task) error {
	return b.record("changed:" + string(task.Status))
}

func (b *recordingBoard) TaskAwaitingReview(_ context.Context, task *queue.Task) error {
	return b.record("review:" + string(task.Status))
}

func (b *recordingBoard) TaskErrored(_ context.Context, task *queue.Task, _ error) error {
	return b.record("error:" + string(task.Status))
}

func (b *recordingBoard) TaskPublished(_ context.Context, task *queue.Task) error {
	return b.record("published:" + string(task.Status))
}

func (b *recordingBoard) TestConnection(context.Context) error { return nil }

type errorHandler struct{ err error }

func (h errorHandler) Execute(context.Context, *queue.Task) error { return h.err }

func noopHandlers() map[string]stage.Handler {
	handlers := make(map[string]stage.Handler, len(config.StageNames))
	for _, name := range config.StageNames {
		handlers[name] = stage.Noop{}
	}
	return handlers
}

func fastConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Scheduler.WorkerCount = 2
	cfg.Scheduler.QueuePollInterval = 1
	cfg.Scheduler.ErrorRetryInterval = 1
	// No review gates unless a test installs one.
	for _, name := range config.StageNames {
		cfg.Stages[name] = config.Stage{Limit: 2}
	}
	return cfg
}

func startManager(t *testing.T, m *worker.Manager) {
	t.Helper()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Task {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(25 * time.Millisecond)
	}
	task, _ := store.GetByID(context.Background(), id)
	t.Fatalf("task %d never reached %s (currently %s)", id, want, task.Status)
	return nil
}

func TestManagerRunsTaskToPublished(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := &recordingBoard{}

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, board, noopHandlers())
	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	startManager(t, m)

	waitForStatus(t, store, task.ID, queue.StatusPublished)
	if !board.has("published:published") {
		t.Fatalf("expected published trackboard event, got %v", board.snapshot())
	}
}

func TestManagerPushesEveryStatusChange(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := &recordingBoard{}

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, board, noopHandlers())
	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	startManager(t, m)

	waitForStatus(t, store, task.ID, queue.StatusPublished)
	m.Stop()

	// Twelve status changes separate queued from published with no review
	// gates; each one reaches the board.
	want := []string{
		"changed:claimed",
		"changed:scripting",
		"changed:script_approved",
		"changed:voicing",
		"changed:voice_approved",
		"changed:rendering",
		"changed:render_approved",
		"changed:assembling",
		"changed:assembly_approved",
		"changed:subtitling",
		"changed:publishing",
		"published:published",
	}
	got := board.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %d pushes, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("push sequence = %v, want %v", got, want)
		}
	}
}

func TestManagerParksAtReviewGateAndResumesAfterApproval(t *testing.T) {
	cfg := fastConfig(t)
	cfg.Stages["script"] = config.Stage{Limit: 2, ReviewGated: true}
	store := testsupport.MustOpenStore(t, cfg)
	board := &recordingBoard{}

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, board, noopHandlers())
	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	startManager(t, m)

	parked := waitForStatus(t, store, task.ID, queue.StatusScriptReview)
	if !board.has("review:script_review") {
		t.Fatalf("expected review trackboard event, got %v", board.snapshot())
	}
	// Parked tasks stay put until someone decides.
	time.Sleep(1500 * time.Millisecond)
	still, err := store.GetByID(context.Background(), parked.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if still.Status != queue.StatusScriptReview {
		t.Fatalf("review-gated task moved to %s without approval", still.Status)
	}

	if _, err := store.AttemptTransition(context.Background(), task.ID, queue.StatusScriptApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	waitForStatus(t, store, task.ID, queue.StatusPublished)
}

func TestManagerParksStageFailuresAtErrorStatus(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := &recordingBoard{}

	handlers := noopHandlers()
	handlers["voice"] = errorHandler{err: errors.New("synth exploded")}

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, board, handlers)
	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	startManager(t, m)

	errored := waitForStatus(t, store, task.ID, queue.StatusVoiceError)
	if !strings.Contains(errored.ErrorLog, "synth exploded") {
		t.Fatalf("error log missing failure detail: %q", errored.ErrorLog)
	}
	if !board.has("error:voice_error") {
		t.Fatalf("expected error trackboard event, got %v", board.snapshot())
	}
}

func TestManagerRetriesErroredTaskAfterRequeue(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	handlers := noopHandlers()
	failing := &flakyHandler{failures: 1}
	handlers["render"] = failing

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, &recordingBoard{}, handlers)
	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	startManager(t, m)

	waitForStatus(t, store, task.ID, queue.StatusRenderError)
	if _, err := store.AttemptTransition(context.Background(), task.ID, queue.StatusQueued); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	waitForStatus(t, store, task.ID, queue.StatusPublished)
}

type flakyHandler struct {
	mu       sync.Mutex
	failures int
}

func (h *flakyHandler) Execute(context.Context, *queue.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures > 0 {
		h.failures--
		return errors.New("transient render fault")
	}
	return nil
}

func TestManagerHonorsBudgetGate(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	gate := &fakeGate{}
	gate.deny("script", true)

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), gate, &recordingBoard{}, noopHandlers())
	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	startManager(t, m)

	time.Sleep(2 * time.Second)
	held, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if held.Status != queue.StatusQueued {
		t.Fatalf("task should wait for budget, got %s", held.Status)
	}

	gate.deny("script", false)
	waitForStatus(t, store, task.ID, queue.StatusPublished)
}

func TestManagerStartStopIdempotence(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	m := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, &recordingBoard{}, noopHandlers())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail while running")
	}
	m.Stop()
	m.Stop()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.Stop()
}
