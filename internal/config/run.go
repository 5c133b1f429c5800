package config

import (
	"fmt"
	"time"
)

// RunConfig controls scenario scheduling.
type RunConfig struct {
	// MaxParallel caps concurrent scenarios.
	MaxParallel int `yaml:"max_parallel"`
	// FailFast stops scheduling after the first failed scenario.
	FailFast bool `yaml:"fail_fast"`
	// DefaultRetries applies to scenarios that do not set their own.
	DefaultRetries int `yaml:"default_retries"`
	// DefaultScenarioTimeout applies to scenarios without one.
	DefaultScenarioTimeout string `yaml:"default_scenario_timeout"`
	// RetryBackoffBase is the first retry delay; doubles per attempt.
	RetryBackoffBase string `yaml:"retry_backoff_base"`
	// RetryBackoffCap bounds the backoff growth.
	RetryBackoffCap string `yaml:"retry_backoff_cap"`
	// Tags filters scenarios (empty = all).
	Tags []string `yaml:"tags"`
}

// DefaultRunConfig returns defaults for scenario execution.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxParallel:            4,
		FailFast:               false,
		DefaultRetries:         0,
		DefaultScenarioTimeout: "120s",
		RetryBackoffBase:       "500ms",
		RetryBackoffCap:        "10s",
	}
}

// GetDefaultScenarioTimeout returns the default scenario timeout as a duration.
func (c *Config) GetDefaultScenarioTimeout() time.Duration {
	d, err := time.ParseDuration(c.Run.DefaultScenarioTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetRetryBackoffBase returns the initial retry backoff as a duration.
func (c *Config) GetRetryBackoffBase() time.Duration {
	d, err := time.ParseDuration(c.Run.RetryBackoffBase)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetRetryBackoffCap returns the retry backoff cap as a duration.
func (c *Config) GetRetryBackoffCap() time.Duration {
	d, err := time.ParseDuration(c.Run.RetryBackoffCap)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ValidateRun checks scenario execution settings.
func (c *Config) ValidateRun() error {
	if c.Run.MaxParallel < 1 {
		return fmt.Errorf("run.max_parallel must be >= 1")
	}
	if c.Run.DefaultRetries < 0 {
		return fmt.Errorf("run.default_retries must be >= 0")
	}
	if c.GetRetryBackoffBase() > c.GetRetryBackoffCap() {
		return fmt.Errorf("run.retry_backoff_base must not exceed run.retry_backoff_cap")
	}
	return nil
}
