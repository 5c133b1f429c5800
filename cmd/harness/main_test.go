package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mcpharness/internal/report"
	"mcpharness/internal/scenario"
)

func TestVersionOutput(t *testing.T) {
	output := captureOutput(t, func() {
		versionCmd.Run(versionCmd, nil)
	})
	if !strings.Contains(output, "mcpharness "+version) {
		t.Fatalf("expected version string, got: %s", output)
	}
}

func TestValidateRulesOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `version: 1
rules:
  - name: weather
    tool: get_weather
    body: '{"temp_c": 21}'
  - name: api
    method: GET
    pattern: /api/v1/**
    status: 200
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	output := captureOutput(t, func() {
		if err := validateRules(rulesValidateCmd, []string{path}); err != nil {
			t.Errorf("validateRules returned error: %v", err)
		}
	})
	if !strings.Contains(output, "OK:") || !strings.Contains(output, "2 rules") {
		t.Fatalf("expected OK summary, got: %s", output)
	}
}

func TestValidateRulesRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `version: 1
rules:
  - name: twice
    tool: a
  - name: twice
    tool: b
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	err := validateRules(rulesValidateCmd, []string{path})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate-name error, got: %v", err)
	}
}

func TestPrintScenarioResult(t *testing.T) {
	tests := []struct {
		name string
		res  report.ScenarioResult
		want string
	}{
		{"passed", report.ScenarioResult{Name: "smoke", Status: scenario.StatusPassed, Attempts: 1, DurationMs: 420}, "✓ smoke"},
		{"failed", report.ScenarioResult{Name: "broken", Status: scenario.StatusFailed, Attempts: 2, FailureReason: "REPLY_TIMEOUT: no reply"}, "✗ broken: REPLY_TIMEOUT"},
		{"skipped", report.ScenarioResult{Name: "later", Status: scenario.StatusSkipped, FailureReason: "blocked"}, "- later: skipped"},
		{"error", report.ScenarioResult{Name: "env", Status: scenario.StatusError, FailureReason: "BROWSER_LAUNCH_FAILED: no chrome"}, "! env:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			output := captureOutput(t, func() { printScenarioResult(tc.res) })
			if !strings.Contains(output, tc.want) {
				t.Errorf("output %q does not contain %q", output, tc.want)
			}
		})
	}
}

func TestDurationLabel(t *testing.T) {
	if got := durationLabel(850); got != "850ms" {
		t.Errorf("durationLabel(850) = %s", got)
	}
	if got := durationLabel(2300); got != "2.3s" {
		t.Errorf("durationLabel(2300) = %s", got)
	}
}

func TestUnderWorkspace(t *testing.T) {
	if got := underWorkspace("/ws", "reports"); got != filepath.Join("/ws", "reports") {
		t.Errorf("relative path not joined: %s", got)
	}
	if got := underWorkspace("/ws", "/abs/reports"); got != "/abs/reports" {
		t.Errorf("absolute path rewritten: %s", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	origConfig, origWorkspace := configPath, workspace
	defer func() { configPath, workspace = origConfig, origWorkspace }()

	workspace = t.TempDir()
	configPath = ""

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("missing config file should fall back to defaults: %v", err)
	}
	if cfg.Name != "mcpharness" {
		t.Errorf("unexpected default config: %+v", cfg)
	}
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
