package config

import (
	"fmt"
	"time"
)

// AgentConfig controls the browser agents.
type AgentConfig struct {
	// Headless runs Chromium without a window.
	Headless bool `yaml:"headless"`
	// BrowserBin overrides the Chromium binary (empty = rod's managed browser).
	BrowserBin string `yaml:"browser_bin"`
	// LaunchFlags are extra Chromium flags, e.g. --no-sandbox for CI.
	LaunchFlags []string `yaml:"launch_flags"`
	// ViewportWidth/Height for each page.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
	// NavigationTimeout bounds page loads.
	NavigationTimeout string `yaml:"navigation_timeout"`
	// ReplyTimeout bounds AwaitReply polling.
	ReplyTimeout string `yaml:"reply_timeout"`
	// PollInterval between transcript reads while awaiting a reply.
	PollInterval string `yaml:"poll_interval"`
	// Selectors locate the chat UI elements.
	Selectors SelectorConfig `yaml:"selectors"`
	// ScreenshotOnFailure captures the page when a step fails.
	ScreenshotOnFailure bool `yaml:"screenshot_on_failure"`
}

// SelectorConfig holds the CSS selectors the agents drive.
type SelectorConfig struct {
	// Input is the message input field.
	Input string `yaml:"input"`
	// Send is the send button (empty = press Enter in Input).
	Send string `yaml:"send"`
	// Transcript is the container polled for reply text.
	Transcript string `yaml:"transcript"`
	// ErrorBanners are scanned after a failed await.
	ErrorBanners []string `yaml:"error_banners"`
}

// DefaultAgentConfig returns defaults for browser agents.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Headless:          true,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: "30s",
		ReplyTimeout:      "45s",
		PollInterval:      "500ms",
		Selectors: SelectorConfig{
			Input:      "#message-input",
			Send:       "#send-button",
			Transcript: "#chat-transcript",
			ErrorBanners: []string{
				".error-banner",
				".alert-error",
				"[role='alert']",
			},
		},
		ScreenshotOnFailure: true,
	}
}

// GetNavigationTimeout returns the navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.NavigationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetReplyTimeout returns the reply timeout as a duration.
func (c *Config) GetReplyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.ReplyTimeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetPollInterval returns the transcript poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Agent.PollInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ValidateAgent checks browser agent settings.
func (c *Config) ValidateAgent() error {
	if c.Agent.ViewportWidth < 320 || c.Agent.ViewportHeight < 240 {
		return fmt.Errorf("agent viewport must be at least 320x240")
	}
	if c.Agent.Selectors.Input == "" {
		return fmt.Errorf("agent.selectors.input must be set")
	}
	if c.Agent.Selectors.Transcript == "" {
		return fmt.Errorf("agent.selectors.transcript must be set")
	}
	if c.GetPollInterval() < 50*time.Millisecond {
		return fmt.Errorf("agent.poll_interval must be >= 50ms")
	}
	return nil
}
