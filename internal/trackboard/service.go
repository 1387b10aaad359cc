// Package trackboard pushes task milestones to the external review
// workspace. Delivery is best effort: the pipeline never blocks or fails
// because the trackboard is down.
package trackboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shuttle/internal/config"
	"shuttle/internal/queue"
)

const userAgent = "Shuttle-Go/0.1.0"

// Service is the trackboard surface exposed to the worker runtime.
// TaskChanged fires after every status change; the remaining methods mark the
// milestones the board treats specially.
type Service interface {
	TaskChanged(ctx context.Context, task *queue.Task) error
	TaskAwaitingReview(ctx context.Context, task *queue.Task) error
	TaskErrored(ctx context.Context, task *queue.Task, stageErr error) error
	TaskPublished(ctx context.Context, task *queue.Task) error
	TestConnection(ctx context.Context) error
}

// NewService builds a trackboard client when one is configured, otherwise a
// noop implementation.
func NewService(cfg *config.Config) Service {
	if !cfg.Trackboard.Enabled || strings.TrimSpace(cfg.Trackboard.URL) == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Trackboard.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &httpService{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Trackboard.URL), "/"),
		token:   strings.TrimSpace(cfg.Trackboard.Token),
		client:  &http.Client{Timeout: timeout},
	}
}

type event struct {
	TaskID    int64  `json:"task_id"`
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	UpdatedAt string `json:"updated_at"`
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
}

func taskEvent(task *queue.Task, name string) event {
	return event{
		TaskID:    task.ID,
		ChannelID: task.ChannelID,
		Title:     task.Title,
		Status:    string(task.Status),
		Priority:  string(task.Priority),
		UpdatedAt: task.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Event:     name,
	}
}

type httpService struct {
	baseURL string
	token   string
	client  *http.Client
}

func (s *httpService) TaskChanged(ctx context.Context, task *queue.Task) error {
	return s.send(ctx, taskEvent(task, "status_changed"))
}

func (s *httpService) TaskAwaitingReview(ctx context.Context, task *queue.Task) error {
	return s.send(ctx, taskEvent(task, "awaiting_review"))
}

func (s *httpService) TaskErrored(ctx context.Context, task *queue.Task, stageErr error) error {
	data := taskEvent(task, "errored")
	if stageErr != nil {
		data.Detail = strings.TrimSpace(stageErr.Error())
	}
	return s.send(ctx, data)
}

func (s *httpService) TaskPublished(ctx context.Context, task *queue.Task) error {
	return s.send(ctx, taskEvent(task, "published"))
}

func (s *httpService) TestConnection(ctx context.Context) error {
	return s.send(ctx, event{Event: "connection_test"})
}

func (s *httpService) send(ctx context.Context, data event) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode trackboard event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trackboard request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send trackboard event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("trackboard returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) TaskChanged(context.Context, *queue.Task) error        { return nil }
func (noopService) TaskAwaitingReview(context.Context, *queue.Task) error { return nil }
func (noopService) TaskErrored(context.Context, *queue.Task, error) error { return nil }
func (noopService) TaskPublished(context.Context, *queue.Task) error      { return nil }
func (noopService) TestConnection(context.Context) error                  { return nil }
