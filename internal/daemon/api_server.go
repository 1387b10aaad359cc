package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/queue"
)

// TaskView is the JSON shape of a task on the wire.
type TaskView struct {
	ID            int64  `json:"id"`
	ChannelID     string `json:"channel_id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	ErrorLog      string `json:"error_log,omitempty"`
	ClaimedBy     string `json:"claimed_by,omitempty"`
	ClaimedAt     string `json:"claimed_at,omitempty"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ChannelView is the JSON shape of per-channel statistics.
type ChannelView struct {
	ChannelID       string `json:"channel_id"`
	PendingCount    int    `json:"pending_count"`
	InProgressCount int    `json:"in_progress_count"`
	MaxConcurrent   int    `json:"max_concurrent"`
	HasCapacity     bool   `json:"has_capacity"`
}

// StatusPayload is the JSON shape of GET /api/status.
type StatusPayload struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queue_db_path"`
	LockFilePath string         `json:"lock_file_path"`
	QueueStats   map[string]int `json:"queue_stats"`
	Channels     []ChannelView  `json:"channels"`
}

// TaskListPayload is the JSON shape of GET /api/queue.
type TaskListPayload struct {
	Tasks []TaskView `json:"tasks"`
}

// TransitionRequest is the JSON body of POST /api/queue/{id}/transition.
type TransitionRequest struct {
	Status string `json:"status"`
}

// RetryRequest is the JSON body of POST /api/queue/retry.
type RetryRequest struct {
	IDs []int64 `json:"ids"`
}

// RetryPayload is the JSON shape of the retry response.
type RetryPayload struct {
	Retried int64 `json:"retried"`
}

// ToTaskView converts a task for the wire.
func ToTaskView(task *queue.Task) TaskView {
	view := TaskView{
		ID:        task.ID,
		ChannelID: task.ChannelID,
		Title:     task.Title,
		Status:    string(task.Status),
		Priority:  string(task.Priority),
		ErrorLog:  task.ErrorLog,
		ClaimedBy: task.ClaimedBy,
		CreatedAt: task.CreatedAt.Format(time.RFC3339),
		UpdatedAt: task.UpdatedAt.Format(time.RFC3339),
	}
	if task.ClaimedAt != nil {
		view.ClaimedAt = task.ClaimedAt.Format(time.RFC3339)
	}
	if task.LastHeartbeat != nil {
		view.LastHeartbeat = task.LastHeartbeat.Format(time.RFC3339)
	}
	return view
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/queue/retry", srv.handleRetry)
	mux.HandleFunc("/api/queue/", srv.handleTask)
	mux.HandleFunc("/api/channels", srv.handleChannels)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	stats := make(map[string]int, len(status.QueueStats))
	for key, count := range status.QueueStats {
		stats[string(key)] = count
	}
	channels := make([]ChannelView, len(status.Channels))
	for i, ch := range status.Channels {
		channels[i] = ChannelView(ch)
	}
	s.writeJSON(w, http.StatusOK, StatusPayload{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		QueueStats:   stats,
		Channels:     channels,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	tasks, err := s.daemon.ListQueue(r.Context(), statuses)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]TaskView, len(tasks))
	for i, task := range tasks {
		views[i] = ToTaskView(task)
	}
	s.writeJSON(w, http.StatusOK, TaskListPayload{Tasks: views})
}

// handleTask serves /api/queue/{id} and /api/queue/{id}/transition.
func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err := s.daemon.DescribeTask(r.Context(), id)
		if errors.Is(err, queue.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, ToTaskView(task))

	case action == "transition" && r.Method == http.MethodPost:
		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		status, ok := queue.ParseStatus(req.Status)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
			return
		}
		task, err := s.daemon.Transition(r.Context(), id, status)
		var invalid *queue.InvalidTransitionError
		switch {
		case errors.Is(err, queue.ErrTaskNotFound):
			s.writeError(w, http.StatusNotFound, "task not found")
		case errors.As(err, &invalid):
			s.writeError(w, http.StatusConflict, invalid.Error())
		case err != nil:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		default:
			s.writeJSON(w, http.StatusOK, ToTaskView(task))
		}

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req RetryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	retried, err := s.daemon.RetryErrored(r.Context(), req.IDs)
	if err != nil {
		var bulk *queue.BulkTransitionError
		if errors.As(err, &bulk) {
			s.writeError(w, http.StatusConflict, bulk.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, RetryPayload{Retried: retried})
}

func (s *apiServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	channels := make([]ChannelView, len(status.Channels))
	for i, ch := range status.Channels {
		channels[i] = ChannelView(ch)
	}
	s.writeJSON(w, http.StatusOK, channels)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
