package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Scheduler contains worker and claim timing configuration. All values are
// seconds unless noted.
type Scheduler struct {
	WorkerCount        int `toml:"worker_count"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	ClaimTimeout       int `toml:"claim_timeout"`
}

// Channel describes one work-group partition and its concurrency ceiling.
type Channel struct {
	ID            string `toml:"id"`
	MaxConcurrent int    `toml:"max_concurrent"`
	Active        bool   `toml:"active"`
}

// Stage configures one pipeline stage: its parallelism ceiling across all
// channels, the optional command executed for it, and whether completed work
// parks at the stage's review gate.
type Stage struct {
	Limit       int      `toml:"limit"`
	Command     []string `toml:"command"`
	ReviewGated bool     `toml:"review_gated"`
}

// Budget configures the external rate/quota collaborator.
type Budget struct {
	Endpoint       string `toml:"endpoint"`
	Policy         string `toml:"policy"` // "open" or "closed" on collaborator failure
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Trackboard configures the external review/tracking workspace sync.
type Trackboard struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shuttle.
//
// Sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Scheduler: worker count, poll/heartbeat/claim timing
//   - Channels: per-channel concurrency ceilings and active flags
//   - Stages: per-stage parallelism limits, commands, review gates
//   - Budget: external quota collaborator and its failure policy
//   - Trackboard: review workspace push settings
//   - Logging: log format and level
type Config struct {
	Paths      Paths            `toml:"paths"`
	Scheduler  Scheduler        `toml:"scheduler"`
	Channels   []Channel        `toml:"channels"`
	Stages     map[string]Stage `toml:"stages"`
	Budget     Budget           `toml:"budget"`
	Trackboard Trackboard       `toml:"trackboard"`
	Logging    Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shuttle/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/shuttle/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shuttle.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ChannelByID returns the configured channel and whether it exists and is active.
func (c *Config) ChannelByID(id string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, ch.Active
		}
	}
	return Channel{}, false
}

// Ceilings returns max_concurrent per active channel id.
func (c *Config) Ceilings() map[string]int {
	out := make(map[string]int, len(c.Channels))
	for _, ch := range c.Channels {
		if !ch.Active {
			continue
		}
		out[ch.ID] = ch.MaxConcurrent
	}
	return out
}

// StageLimits returns the per-stage parallelism ceilings.
func (c *Config) StageLimits() map[string]int {
	out := make(map[string]int, len(c.Stages))
	for name, stage := range c.Stages {
		out[name] = stage.Limit
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
