package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all harness configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Application under test
	Target TargetConfig `yaml:"target"`

	// Mock servers (REST + MCP)
	Mock MockConfig `yaml:"mock"`

	// Browser agent settings
	Agent AgentConfig `yaml:"agent"`

	// Scenario execution settings
	Run RunConfig `yaml:"run"`

	// Report generation
	Report ReportConfig `yaml:"report"`

	// Run history store
	History HistoryConfig `yaml:"history"`

	// Optional LLM reply grading
	Judge JudgeConfig `yaml:"judge"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// TargetConfig describes the chat application under test.
type TargetConfig struct {
	// BaseURL of the frontend the agents drive.
	BaseURL string `yaml:"base_url"`
	// HealthPath is polled before a run starts (empty = skip).
	HealthPath string `yaml:"health_path"`
	// ReadyTimeout bounds the pre-run health poll.
	ReadyTimeout string `yaml:"ready_timeout"`
	// MCPURL is the MCP endpoint call_tool steps hit when the built-in
	// mock is disabled. With the mock enabled the mock's URL wins.
	MCPURL string `yaml:"mcp_url,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mcpharness",
		Version: "0.3.0",

		Target: TargetConfig{
			BaseURL:      "http://localhost:3000",
			HealthPath:   "/healthz",
			ReadyTimeout: "30s",
		},

		Mock:    DefaultMockConfig(),
		Agent:   DefaultAgentConfig(),
		Run:     DefaultRunConfig(),
		Report:  DefaultReportConfig(),
		History: DefaultHistoryConfig(),
		Judge:   DefaultJudgeConfig(),

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("HARNESS_BASE_URL"); url != "" {
		c.Target.BaseURL = url
	}
	if url := os.Getenv("HARNESS_MCP_URL"); url != "" {
		c.Target.MCPURL = url
	}
	if addr := os.Getenv("HARNESS_MOCK_MCP_ADDR"); addr != "" {
		c.Mock.MCPAddr = addr
	}
	if addr := os.Getenv("HARNESS_MOCK_REST_ADDR"); addr != "" {
		c.Mock.RESTAddr = addr
	}
	if path := os.Getenv("HARNESS_RULES"); path != "" {
		c.Mock.RulesPath = path
	}
	if v := os.Getenv("HARNESS_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Agent.Headless = b
		}
	}
	if bin := os.Getenv("HARNESS_BROWSER_BIN"); bin != "" {
		c.Agent.BrowserBin = bin
	}
	if v := os.Getenv("HARNESS_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Run.MaxParallel = n
		}
	}
	if path := os.Getenv("HARNESS_DB"); path != "" {
		c.History.DatabasePath = path
	}

	// Judge key from environment (check in priority order)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Judge.APIKey = key
		c.Judge.Enabled = true
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Judge.APIKey == "" {
		c.Judge.APIKey = key
		c.Judge.Enabled = true
	}
}

// GetReadyTimeout returns the target ready timeout as a duration.
func (c *Config) GetReadyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Target.ReadyTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url must be set")
	}
	if err := c.ValidateMock(); err != nil {
		return err
	}
	if err := c.ValidateAgent(); err != nil {
		return err
	}
	if err := c.ValidateRun(); err != nil {
		return err
	}
	if err := c.ValidateReport(); err != nil {
		return err
	}
	if err := c.ValidateJudge(); err != nil {
		return err
	}
	return nil
}

// DefaultConfigPath returns <workspace>/harness.yaml.
func DefaultConfigPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "harness.yaml")
}

// HarnessDir returns the harness state directory under the workspace.
func HarnessDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".harness")
}
