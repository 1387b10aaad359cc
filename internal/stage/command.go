package stage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/queue"
)

// CommandHandler runs an external program for a stage. The task is described
// to the program through SHUTTLE_* environment variables; a non-zero exit is
// a stage failure and the output tail lands in the task's error log.
type CommandHandler struct {
	stage   string
	command []string
	logger  *slog.Logger
}

// NewCommandHandler builds a handler for one stage command.
func NewCommandHandler(stageName string, command []string) *CommandHandler {
	return &CommandHandler{stage: stageName, command: command, logger: logging.NewNop()}
}

// SetLogger implements LoggerAware.
func (h *CommandHandler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Execute implements Handler.
func (h *CommandHandler) Execute(ctx context.Context, task *queue.Task) error {
	if len(h.command) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, h.command[0], h.command[1:]...)
	cmd.Env = append(os.Environ(),
		"SHUTTLE_TASK_ID="+strconv.FormatInt(task.ID, 10),
		"SHUTTLE_CHANNEL="+task.ChannelID,
		"SHUTTLE_STAGE="+h.stage,
		"SHUTTLE_TITLE="+task.Title,
		"SHUTTLE_PRIORITY="+string(task.Priority),
		"SHUTTLE_METADATA="+task.MetadataJSON,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	h.logger.Info("stage command started",
		logging.String(logging.FieldStage, h.stage),
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String("command", strings.Join(h.command, " ")),
	)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("stage %s command failed: %w: %s", h.stage, err, outputTail(output.String()))
	}
	return nil
}

// HandlersFromConfig builds a handler per configured stage. Stages without a
// command get the Noop handler.
func HandlersFromConfig(cfg *config.Config) map[string]Handler {
	handlers := make(map[string]Handler, len(config.StageNames))
	for _, name := range config.StageNames {
		stageCfg, ok := cfg.Stages[name]
		if !ok || len(stageCfg.Command) == 0 {
			handlers[name] = Noop{}
			continue
		}
		handlers[name] = NewCommandHandler(name, stageCfg.Command)
	}
	return handlers
}

const maxOutputTail = 2048

func outputTail(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return "(no output)"
	}
	if len(output) > maxOutputTail {
		output = output[len(output)-maxOutputTail:]
	}
	return output
}
