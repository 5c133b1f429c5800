package config

import (
	"fmt"
	"time"
)

// MockConfig controls the mock MCP and REST servers.
type MockConfig struct {
	// Enabled starts the mock servers as part of a run.
	Enabled bool `yaml:"enabled"`
	// MCPAddr is the listen address for the mock MCP server.
	MCPAddr string `yaml:"mcp_addr"`
	// RESTAddr is the listen address for the mock REST server (empty = off).
	RESTAddr string `yaml:"rest_addr"`
	// AdminAddr serves /metrics, /calls, /reset, /healthz.
	AdminAddr string `yaml:"admin_addr"`
	// RulesPath points at the YAML rule file.
	RulesPath string `yaml:"rules_path"`
	// HotReload re-reads RulesPath on change.
	HotReload bool `yaml:"hot_reload"`
	// ServerName/ServerVersion are reported on MCP initialize.
	ServerName    string `yaml:"server_name"`
	ServerVersion string `yaml:"server_version"`
	// MaxRecordedCalls caps the recorder ring (0 = unlimited).
	MaxRecordedCalls int `yaml:"max_recorded_calls"`
	// ShutdownTimeout bounds graceful server shutdown.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DefaultMockConfig returns defaults for the mock servers.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Enabled:          true,
		MCPAddr:          "127.0.0.1:7820",
		RESTAddr:         "",
		AdminAddr:        "127.0.0.1:7821",
		RulesPath:        "rules.yaml",
		HotReload:        false,
		ServerName:       "mcpharness-mock",
		ServerVersion:    "0.3.0",
		MaxRecordedCalls: 10000,
		ShutdownTimeout:  "5s",
	}
}

// GetShutdownTimeout returns the mock shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Mock.ShutdownTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ValidateMock checks mock server settings.
func (c *Config) ValidateMock() error {
	if !c.Mock.Enabled {
		return nil
	}
	if c.Mock.MCPAddr == "" && c.Mock.RESTAddr == "" {
		return fmt.Errorf("mock enabled but neither mock.mcp_addr nor mock.rest_addr is set")
	}
	if c.Mock.MaxRecordedCalls < 0 {
		return fmt.Errorf("mock.max_recorded_calls must be >= 0")
	}
	return nil
}
