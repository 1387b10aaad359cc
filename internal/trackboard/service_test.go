package trackboard_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shuttle/internal/config"
	"shuttle/internal/queue"
	"shuttle/internal/testsupport"
	"shuttle/internal/trackboard"
)

func TestNewServiceDisabledIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := trackboard.NewService(cfg)

	task := &queue.Task{ID: 1, ChannelID: "main", Title: "ep", Status: queue.StatusScriptReview}
	if err := svc.TaskChanged(context.Background(), task); err != nil {
		t.Fatalf("noop service should never fail: %v", err)
	}
	if err := svc.TaskAwaitingReview(context.Background(), task); err != nil {
		t.Fatalf("noop service should never fail: %v", err)
	}
	if err := svc.TestConnection(context.Background()); err != nil {
		t.Fatalf("noop service should never fail: %v", err)
	}
}

func TestServicePostsEvents(t *testing.T) {
	var (
		gotPath  string
		gotAuth  string
		gotEvent map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Trackboard = config.Trackboard{Enabled: true, URL: server.URL, Token: "secret", TimeoutSeconds: 5}
	svc := trackboard.NewService(cfg)

	task := &queue.Task{
		ID:        7,
		ChannelID: "main",
		Title:     "Episode 7",
		Status:    queue.StatusRenderReview,
		Priority:  queue.PriorityHigh,
		UpdatedAt: time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC),
	}
	if err := svc.TaskAwaitingReview(context.Background(), task); err != nil {
		t.Fatalf("TaskAwaitingReview: %v", err)
	}

	if gotPath != "/api/events" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotEvent["event"] != "awaiting_review" || gotEvent["task_id"] != float64(7) {
		t.Fatalf("event payload = %v", gotEvent)
	}
	if gotEvent["priority"] != "high" {
		t.Fatalf("event payload missing priority: %v", gotEvent)
	}
	if gotEvent["updated_at"] != "2026-08-23T10:30:00Z" {
		t.Fatalf("event payload updated_at = %v", gotEvent["updated_at"])
	}
}

func TestServicePushesStatusChanges(t *testing.T) {
	var gotEvent map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Trackboard = config.Trackboard{Enabled: true, URL: server.URL, TimeoutSeconds: 5}
	svc := trackboard.NewService(cfg)

	task := &queue.Task{
		ID:        9,
		ChannelID: "main",
		Title:     "Episode 9",
		Status:    queue.StatusVoicing,
		Priority:  queue.PriorityNormal,
		UpdatedAt: time.Now().UTC(),
	}
	if err := svc.TaskChanged(context.Background(), task); err != nil {
		t.Fatalf("TaskChanged: %v", err)
	}
	if gotEvent["event"] != "status_changed" || gotEvent["status"] != "voicing" {
		t.Fatalf("event payload = %v", gotEvent)
	}
	if gotEvent["priority"] != "normal" || gotEvent["updated_at"] == "" {
		t.Fatalf("event payload missing tuple fields: %v", gotEvent)
	}
}

func TestServiceCarriesErrorDetail(t *testing.T) {
	var gotEvent map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Trackboard = config.Trackboard{Enabled: true, URL: server.URL, TimeoutSeconds: 5}
	svc := trackboard.NewService(cfg)

	task := &queue.Task{ID: 3, ChannelID: "main", Title: "ep", Status: queue.StatusVoiceError}
	if err := svc.TaskErrored(context.Background(), task, errors.New("synth exploded")); err != nil {
		t.Fatalf("TaskErrored: %v", err)
	}
	if gotEvent["detail"] != "synth exploded" {
		t.Fatalf("event payload = %v", gotEvent)
	}
}

func TestServiceReportsHTTPFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Trackboard = config.Trackboard{Enabled: true, URL: server.URL, TimeoutSeconds: 5}
	svc := trackboard.NewService(cfg)

	task := &queue.Task{ID: 3, ChannelID: "main", Title: "ep", Status: queue.StatusPublished}
	if err := svc.TaskPublished(context.Background(), task); err == nil {
		t.Fatal("expected error from rejecting trackboard")
	}
}
