package config

import (
	"fmt"
	"time"
)

// JudgeConfig controls the optional LLM reply grader.
type JudgeConfig struct {
	// Enabled turns on grading for scenarios that request it.
	Enabled bool `yaml:"enabled"`
	// APIKey for the Gemini API. Usually set via GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model used for grading.
	Model string `yaml:"model"`
	// Timeout bounds one grading call.
	Timeout string `yaml:"timeout"`
}

// DefaultJudgeConfig returns defaults for the reply grader.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		Enabled: false,
		Model:   "gemini-2.5-flash",
		Timeout: "30s",
	}
}

// GetJudgeTimeout returns the judge call timeout as a duration.
func (c *Config) GetJudgeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Judge.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ValidateJudge checks judge settings.
func (c *Config) ValidateJudge() error {
	if c.Judge.Enabled && c.Judge.APIKey == "" {
		return fmt.Errorf("judge enabled but no API key configured (set GEMINI_API_KEY)")
	}
	return nil
}
