package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizeChannels()
	c.normalizeBudget()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.ErrorRetryInterval < 1 {
		c.Scheduler.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Scheduler.ClaimTimeout < 1 {
		c.Scheduler.ClaimTimeout = defaultClaimTimeout
	}
}

func (c *Config) normalizeChannels() {
	for i := range c.Channels {
		c.Channels[i].ID = strings.TrimSpace(c.Channels[i].ID)
	}
}

func (c *Config) normalizeBudget() {
	c.Budget.Endpoint = strings.TrimSpace(c.Budget.Endpoint)
	c.Budget.Policy = strings.ToLower(strings.TrimSpace(c.Budget.Policy))
	if c.Budget.Policy == "" {
		c.Budget.Policy = defaultBudgetPolicy
	}
	if c.Budget.TimeoutSeconds < 1 {
		c.Budget.TimeoutSeconds = defaultBudgetTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
