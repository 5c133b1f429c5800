package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "mcpharness" {
		t.Errorf("expected Name=mcpharness, got %s", cfg.Name)
	}
	if cfg.Target.BaseURL != "http://localhost:3000" {
		t.Errorf("expected default target URL, got %s", cfg.Target.BaseURL)
	}
	if cfg.Run.MaxParallel != 4 {
		t.Errorf("expected MaxParallel=4, got %d", cfg.Run.MaxParallel)
	}
	if !cfg.Mock.Enabled {
		t.Error("expected mock enabled by default")
	}
	if cfg.Judge.Enabled {
		t.Error("judge should be disabled by default")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "harness.yaml")

	cfg := DefaultConfig()
	cfg.Target.BaseURL = "http://app.local:8080"
	cfg.Mock.MCPAddr = "127.0.0.1:9100"
	cfg.Run.MaxParallel = 8

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Target.BaseURL != "http://app.local:8080" {
		t.Errorf("expected BaseURL=http://app.local:8080, got %s", loaded.Target.BaseURL)
	}
	if loaded.Mock.MCPAddr != "127.0.0.1:9100" {
		t.Errorf("expected MCPAddr=127.0.0.1:9100, got %s", loaded.Mock.MCPAddr)
	}
	if loaded.Run.MaxParallel != 8 {
		t.Errorf("expected MaxParallel=8, got %d", loaded.Run.MaxParallel)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if cfg.Name != "mcpharness" {
		t.Errorf("expected defaults, got Name=%s", cfg.Name)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "harness.yaml")
	partial := "target:\n  base_url: http://partial:9999\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Target.BaseURL != "http://partial:9999" {
		t.Errorf("expected overridden base_url, got %s", cfg.Target.BaseURL)
	}
	if cfg.Run.MaxParallel != 4 {
		t.Errorf("unset sections should keep defaults, got MaxParallel=%d", cfg.Run.MaxParallel)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}

	cfg.Target.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty target.base_url")
	}

	cfg = DefaultConfig()
	cfg.Run.MaxParallel = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for max_parallel=0")
	}

	cfg = DefaultConfig()
	cfg.Report.Formats = []string{"pdf"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown report format")
	}

	cfg = DefaultConfig()
	cfg.Report.FailOn = "fatal"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown fail_on severity")
	}

	cfg = DefaultConfig()
	cfg.Judge.Enabled = true
	cfg.Judge.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for judge without API key")
	}

	cfg = DefaultConfig()
	cfg.Mock.Enabled = true
	cfg.Mock.MCPAddr = ""
	cfg.Mock.RESTAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for mock with no listen addrs")
	}

	cfg = DefaultConfig()
	cfg.Agent.Selectors.Input = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty input selector")
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetNavigationTimeout() != 30*time.Second {
		t.Errorf("GetNavigationTimeout=%v, want 30s", cfg.GetNavigationTimeout())
	}
	if cfg.GetReplyTimeout() != 45*time.Second {
		t.Errorf("GetReplyTimeout=%v, want 45s", cfg.GetReplyTimeout())
	}
	if cfg.GetPollInterval() != 500*time.Millisecond {
		t.Errorf("GetPollInterval=%v, want 500ms", cfg.GetPollInterval())
	}
	if cfg.GetRetryBackoffBase() != 500*time.Millisecond {
		t.Errorf("GetRetryBackoffBase=%v, want 500ms", cfg.GetRetryBackoffBase())
	}

	// Malformed strings fall back to defaults
	cfg.Agent.ReplyTimeout = "not-a-duration"
	if cfg.GetReplyTimeout() != 45*time.Second {
		t.Errorf("malformed duration should fall back, got %v", cfg.GetReplyTimeout())
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{DebugMode: false, Categories: map[string]bool{"mock": true}}
	if lc.IsCategoryEnabled("mock") {
		t.Error("debug_mode=false should disable all categories")
	}

	lc.DebugMode = true
	if !lc.IsCategoryEnabled("mock") {
		t.Error("mock should be enabled")
	}
	if !lc.IsCategoryEnabled("agent") {
		t.Error("unspecified category should default to enabled")
	}

	lc.Categories["agent"] = false
	if lc.IsCategoryEnabled("agent") {
		t.Error("agent should be disabled")
	}
}

func TestFindWorkspaceRoot_PrefersHarnessYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "harness.yaml"), []byte("name: test\n"), 0o644); err != nil {
		t.Fatalf("write harness.yaml: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	if got != root {
		t.Fatalf("FindWorkspaceRoot=%q, want %q", got, root)
	}
}

func TestFindWorkspaceRoot_FallsBackToHarnessDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".harness"), 0o755); err != nil {
		t.Fatalf("mkdir .harness: %v", err)
	}
	nested := filepath.Join(root, "subdir")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	if got != root {
		t.Fatalf("FindWorkspaceRoot=%q, want %q", got, root)
	}
}
