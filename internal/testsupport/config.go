package testsupport

import (
	"path/filepath"
	"testing"

	"shuttle/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, registers one channel, and applies any provided
// options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Channels = []config.Channel{
		{ID: "main", MaxConcurrent: 2, Active: true},
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithChannels replaces the configured channels on the test config.
func WithChannels(channels ...config.Channel) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Channels = channels
	}
}

// WithWorkerCount overrides the scheduler worker count.
func WithWorkerCount(count int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.WorkerCount = count
	}
}

// WithStage overrides one stage's settings on the test config.
func WithStage(name string, stage config.Stage) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages[name] = stage
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
