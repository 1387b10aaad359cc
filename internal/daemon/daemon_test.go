package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"shuttle/internal/budget"
	"shuttle/internal/config"
	"shuttle/internal/daemon"
	"shuttle/internal/logging"
	"shuttle/internal/queue"
	"shuttle/internal/stage"
	"shuttle/internal/testsupport"
	"shuttle/internal/trackboard"
	"shuttle/internal/worker"
)

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store) *daemon.Daemon {
	t.Helper()
	handlers := map[string]stage.Handler{}
	for _, name := range config.StageNames {
		handlers[name] = stage.Noop{}
	}
	workers := worker.NewManagerWithDeps(cfg, store, logging.NewNop(), budget.AllowAll{}, trackboard.NewService(cfg), handlers)
	d, err := daemon.New(cfg, store, logging.NewNop(), workers)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d
}

func startDaemon(t *testing.T, d *daemon.Daemon) string {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected bound api address")
	}
	return "http://" + addr
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// Keep workers quiet; this test is about the lock.
	cfg.Stages["script"] = config.Stage{Limit: 2, ReviewGated: true}
	store := testsupport.MustOpenStore(t, cfg)

	first := newDaemon(t, cfg, store)
	startDaemon(t, first)

	second := newDaemon(t, cfg, store)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon should fail to acquire the lock")
	}
}

func TestDaemonStatusEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stages["script"] = config.Stage{Limit: 2, ReviewGated: true}
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)

	d := newDaemon(t, cfg, store)
	base := startDaemon(t, d)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}

	var payload daemon.StatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Running {
		t.Fatal("daemon should report running")
	}
	if len(payload.Channels) == 0 {
		t.Fatal("expected channel stats")
	}
}

func TestDaemonQueueEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stages["script"] = config.Stage{Limit: 2, ReviewGated: true}
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "main", "ep-1", queue.PriorityNormal)

	d := newDaemon(t, cfg, store)
	base := startDaemon(t, d)

	resp, err := http.Get(fmt.Sprintf("%s/api/queue/%d", base, task.ID))
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	defer resp.Body.Close()
	var view daemon.TaskView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != task.ID || view.Status != string(queue.StatusDraft) {
		t.Fatalf("unexpected view: %+v", view)
	}

	body, _ := json.Marshal(daemon.TransitionRequest{Status: string(queue.StatusQueued)})
	postResp, err := http.Post(fmt.Sprintf("%s/api/queue/%d/transition", base, task.ID), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST transition: %v", err)
	}
	defer postResp.Body.Close()
	if postResp.StatusCode != http.StatusOK {
		t.Fatalf("transition status code = %d", postResp.StatusCode)
	}

	badBody, _ := json.Marshal(daemon.TransitionRequest{Status: string(queue.StatusPublished)})
	badResp, err := http.Post(fmt.Sprintf("%s/api/queue/%d/transition", base, task.ID), "application/json", bytes.NewReader(badBody))
	if err != nil {
		t.Fatalf("POST invalid transition: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusConflict {
		t.Fatalf("invalid transition status code = %d, want 409", badResp.StatusCode)
	}
}

func TestDaemonRetryEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stages["script"] = config.Stage{Limit: 2, ReviewGated: true}
	store := testsupport.MustOpenStore(t, cfg)

	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	ctx := context.Background()
	for _, status := range []queue.Status{queue.StatusClaimed, queue.StatusScripting, queue.StatusScriptError} {
		if _, err := store.AttemptTransition(ctx, task.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}

	d := newDaemon(t, cfg, store)
	base := startDaemon(t, d)

	resp, err := http.Post(base+"/api/queue/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry: %v", err)
	}
	defer resp.Body.Close()
	var payload daemon.RetryPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Retried != 1 {
		t.Fatalf("retried = %d, want 1", payload.Retried)
	}
}
