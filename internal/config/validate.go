package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateChannels(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateBudget(); err != nil {
		return err
	}
	if err := c.validateTrackboard(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.WorkerCount < 1 {
		return errors.New("scheduler.worker_count must be at least 1")
	}
	if c.Scheduler.QueuePollInterval < 1 {
		return errors.New("scheduler.queue_poll_interval must be at least 1 second")
	}
	if c.Scheduler.HeartbeatInterval < 1 {
		return errors.New("scheduler.heartbeat_interval must be at least 1 second")
	}
	if c.Scheduler.HeartbeatTimeout <= c.Scheduler.HeartbeatInterval {
		return errors.New("scheduler.heartbeat_timeout must exceed scheduler.heartbeat_interval")
	}
	if c.Scheduler.ClaimTimeout < 1 {
		return errors.New("scheduler.claim_timeout must be at least 1 second")
	}
	return nil
}

func (c *Config) validateChannels() error {
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		id := strings.TrimSpace(ch.ID)
		if id == "" {
			return errors.New("channels entries require an id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("channel %q configured more than once", id)
		}
		seen[id] = struct{}{}
		if ch.MaxConcurrent < 1 {
			return fmt.Errorf("channel %q: max_concurrent must be at least 1", id)
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	known := make(map[string]struct{}, len(StageNames))
	for _, name := range StageNames {
		known[name] = struct{}{}
	}
	for name, stage := range c.Stages {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("stages.%s: unknown stage (valid: %s)", name, strings.Join(StageNames, ", "))
		}
		if stage.Limit < 0 {
			return fmt.Errorf("stages.%s: limit must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateBudget() error {
	switch c.Budget.Policy {
	case BudgetPolicyOpen, BudgetPolicyClosed:
	default:
		return fmt.Errorf("budget.policy must be \"open\" or \"closed\", got %q", c.Budget.Policy)
	}
	if c.Budget.TimeoutSeconds < 1 {
		return errors.New("budget.timeout_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateTrackboard() error {
	if !c.Trackboard.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Trackboard.URL) == "" {
		return errors.New("trackboard.url must be set when trackboard.enabled is true")
	}
	return nil
}
