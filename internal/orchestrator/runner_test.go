package orchestrator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mcpharness/internal/config"
	"mcpharness/internal/mock"
	"mcpharness/internal/report"
	"mcpharness/internal/scenario"
)

const testRulesYAML = `version: 1
rules:
  - name: weather
    tool: get_weather
    description: scripted weather lookup
    body: '{"temp_c": 21, "condition": "sunny"}'
  - name: broken
    tool: broken_tool
    error_code: -32000
    error_message: backend unavailable
`

// testConfig returns a config tuned for in-process runs: no health poll,
// ephemeral mock ports, millisecond backoff.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Target.HealthPath = ""
	cfg.Mock.Enabled = false
	cfg.Mock.MCPAddr = "127.0.0.1:0"
	cfg.Mock.RESTAddr = ""
	cfg.Mock.AdminAddr = ""
	cfg.Mock.HotReload = false
	cfg.Mock.ShutdownTimeout = "2s"
	cfg.Run.RetryBackoffBase = "1ms"
	cfg.Run.RetryBackoffCap = "5ms"
	cfg.Judge.Enabled = false
	return cfg
}

// writeRules creates a workspace with a rules.yaml for the mock servers.
func writeRules(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(testRulesYAML), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return dir
}

func TestRunToolScenarios(t *testing.T) {
	ws := writeRules(t)
	cfg := testConfig()
	cfg.Mock.Enabled = true

	suite := &scenario.Suite{
		Version: 1,
		Name:    "tool-smoke",
		Scenarios: []scenario.Scenario{
			{ID: "weather-roundtrip", Steps: []scenario.Step{
				{Type: scenario.StepCallTool, Tool: "get_weather", Args: map[string]interface{}{"city": "Oslo"}},
				{Type: scenario.StepPause, DurationMs: 5},
				{Type: scenario.StepVerifyCalls, Pattern: "get_weather", Min: 1},
				{Type: scenario.StepVerifyCalls, Pattern: "delete_*", None: true},
			}},
			{ID: "fault-injection", Steps: []scenario.Step{
				{Type: scenario.StepCallTool, Tool: "broken_tool", ExpectError: true},
			}},
			{ID: "blocked", Skip: "waiting on the widget backend"},
		},
	}
	if err := suite.Validate(); err != nil {
		t.Fatalf("suite should validate: %v", err)
	}

	r := NewRunner(cfg, suite, ws)
	var done int32
	r.SetProgress(Progress{
		OnScenarioDone: func(report.ScenarioResult) { atomic.AddInt32(&done, 1) },
	})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.RunID == "" || rep.RunID != r.RunID() {
		t.Errorf("report run ID %q does not match runner %q", rep.RunID, r.RunID())
	}

	tot := rep.Totals
	if tot.Scenarios != 3 || tot.Passed != 2 || tot.Skipped != 1 || tot.Failed != 0 || tot.Errors != 0 {
		t.Errorf("unexpected totals: %+v", tot)
	}
	if !tot.Success() {
		t.Error("run with only passes and skips should count as success")
	}
	if n := atomic.LoadInt32(&done); n != 3 {
		t.Errorf("OnScenarioDone fired %d times, want 3", n)
	}
	if len(rep.Issues) != 0 {
		t.Errorf("clean run raised %d issues: %+v", len(rep.Issues), rep.Issues)
	}

	// Results come back in suite order regardless of scheduling.
	wantOrder := []string{"weather-roundtrip", "fault-injection", "blocked"}
	for i, id := range wantOrder {
		if rep.Results[i].ScenarioID != id {
			t.Fatalf("result %d is %s, want %s", i, rep.Results[i].ScenarioID, id)
		}
	}

	weather := rep.ResultFor("weather-roundtrip")
	if weather.Status != scenario.StatusPassed {
		t.Errorf("weather-roundtrip status %s: %s", weather.Status, weather.FailureReason)
	}
	if len(weather.Steps) != 4 {
		t.Errorf("weather-roundtrip recorded %d steps, want 4", len(weather.Steps))
	}
	if weather.Steps[0].Type != "call_tool" || weather.Steps[0].Target != "get_weather" {
		t.Errorf("unexpected first step record: %+v", weather.Steps[0])
	}

	if got := rep.ResultFor("fault-injection").Status; got != scenario.StatusPassed {
		t.Errorf("expect_error scenario status %s, want passed", got)
	}
	blocked := rep.ResultFor("blocked")
	if blocked.Status != scenario.StatusSkipped || blocked.FailureReason != "waiting on the widget backend" {
		t.Errorf("skip marker not honored: %+v", blocked)
	}

	if rep.Environment["mock_mcp_url"] == "" {
		t.Error("environment should record the mock MCP URL")
	}
}

func TestRunFailFastSkipsRemaining(t *testing.T) {
	ws := writeRules(t)
	cfg := testConfig()
	cfg.Mock.Enabled = true
	cfg.Run.MaxParallel = 1
	cfg.Run.FailFast = true

	suite := &scenario.Suite{
		Version: 1,
		Name:    "fail-fast",
		Scenarios: []scenario.Scenario{
			{ID: "must-fail", Steps: []scenario.Step{
				{Type: scenario.StepVerifyCalls, Pattern: "never_called_tool", Min: 1},
			}},
			{ID: "never-runs", Steps: []scenario.Step{
				{Type: scenario.StepPause, DurationMs: 5},
			}},
		},
	}

	rep, err := NewRunner(cfg, suite, ws).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Totals.Failed != 1 || rep.Totals.Skipped != 1 {
		t.Errorf("unexpected totals: %+v", rep.Totals)
	}

	failed := rep.ResultFor("must-fail")
	if failed.Status != scenario.StatusFailed {
		t.Errorf("must-fail status %s, want failed", failed.Status)
	}
	if !strings.Contains(failed.FailureReason, "VERIFICATION_FAILED") {
		t.Errorf("failure reason %q does not name the verification code", failed.FailureReason)
	}

	skipped := rep.ResultFor("never-runs")
	if skipped.Status != scenario.StatusSkipped || skipped.FailureReason != "skipped by fail-fast" {
		t.Errorf("second scenario not skipped by fail-fast: %+v", skipped)
	}

	if len(rep.Issues) != 1 {
		t.Fatalf("want exactly 1 issue, got %d", len(rep.Issues))
	}
	is := rep.Issues[0]
	if is.ScenarioID != "must-fail" || is.Severity != report.SeverityHigh || is.Category != "assertion" {
		t.Errorf("unexpected issue: %+v", is)
	}
	if rep.Totals.IssuesBySeverity[report.SeverityHigh] != 1 {
		t.Errorf("severity rollup missing the issue: %+v", rep.Totals.IssuesBySeverity)
	}
}

func TestRunScenarioRetriesExhausted(t *testing.T) {
	// Grab a port that is guaranteed closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	cfg := testConfig()
	cfg.Target.MCPURL = "http://" + closedAddr
	r := NewRunner(cfg, &scenario.Suite{Name: "direct"}, t.TempDir())

	sc := &scenario.Scenario{
		ID:      "flaky-tool",
		Retries: 2,
		Steps:   []scenario.Step{{Type: scenario.StepCallTool, Tool: "get_weather"}},
	}
	res := r.runScenario(context.Background(), sc)

	if res.Status != scenario.StatusFailed {
		t.Errorf("status %s, want failed (tool call failures are a verdict)", res.Status)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts %d, want 3 (1 + 2 retries)", res.Attempts)
	}
	if !strings.Contains(res.FailureReason, "TOOL_CALL_FAILED") {
		t.Errorf("failure reason %q does not name the code", res.FailureReason)
	}
	if len(r.issues) != 1 || r.issues[0].Severity != report.SeverityHigh {
		t.Errorf("want one high issue after the final attempt, got %+v", r.issues)
	}
}

func TestRunCancelledProducesPartialReport(t *testing.T) {
	// go.opencensus.io (linked transitively via google.golang.org/genai)
	// starts a stats worker goroutine at package init that never exits.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	cfg := testConfig()
	suite := &scenario.Suite{
		Version: 1,
		Name:    "cancelled",
		Scenarios: []scenario.Scenario{
			{ID: "first", Steps: []scenario.Step{{Type: scenario.StepPause, DurationMs: 5}}},
			{ID: "second", Steps: []scenario.Step{{Type: scenario.StepPause, DurationMs: 5}}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := NewRunner(cfg, suite, t.TempDir()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if rep == nil {
		t.Fatal("cancelled run should still return the partial report")
	}
	if rep.Totals.Skipped != 2 {
		t.Errorf("unexpected totals: %+v", rep.Totals)
	}
	for _, res := range rep.Results {
		if res.FailureReason != "run cancelled" {
			t.Errorf("scenario %s reason %q, want run cancelled", res.ScenarioID, res.FailureReason)
		}
	}
	if len(rep.Issues) != 0 {
		t.Errorf("cancellation must not raise issues, got %+v", rep.Issues)
	}
}

func TestRunNoScenariosSelected(t *testing.T) {
	cfg := testConfig()
	cfg.Run.Tags = []string{"nightly"}
	suite := &scenario.Suite{
		Version: 1,
		Name:    "untagged",
		Scenarios: []scenario.Scenario{
			{ID: "only", Tags: []string{"smoke"}, Steps: []scenario.Step{{Type: scenario.StepPause, DurationMs: 1}}},
		},
	}

	rep, err := NewRunner(cfg, suite, t.TempDir()).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no scenarios selected") {
		t.Fatalf("want selection error, got %v", err)
	}
	if rep != nil {
		t.Error("no report expected when nothing was selected")
	}
}

func TestWaitForTargetBecomesReady(t *testing.T) {
	var polls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.Target.BaseURL = ts.URL
	cfg.Target.HealthPath = "/healthz"
	cfg.Target.ReadyTimeout = "10s"

	r := NewRunner(cfg, &scenario.Suite{}, t.TempDir())
	if err := r.waitForTarget(context.Background()); err != nil {
		t.Fatalf("target never became ready: %v", err)
	}
	if n := atomic.LoadInt32(&polls); n < 3 {
		t.Errorf("health endpoint polled %d times, want at least 3", n)
	}
}

func TestWaitForTargetTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.Target.BaseURL = ts.URL
	cfg.Target.HealthPath = "/healthz"
	cfg.Target.ReadyTimeout = "1ms"

	r := NewRunner(cfg, &scenario.Suite{}, t.TempDir())
	err := r.waitForTarget(context.Background())
	if err == nil {
		t.Fatal("expected readiness failure")
	}
	if CodeOf(err) != ErrCodeTargetNotReady {
		t.Errorf("code %s, want TARGET_NOT_READY", CodeOf(err))
	}
	if IsRetryable(err) {
		t.Error("readiness failures already consumed their timeout budget and must not retry")
	}
}

func TestWaitForTargetSkippedWithoutHealthPath(t *testing.T) {
	cfg := testConfig()
	cfg.Target.BaseURL = "http://127.0.0.1:1" // Would fail if contacted
	cfg.Target.HealthPath = ""

	r := NewRunner(cfg, &scenario.Suite{}, t.TempDir())
	if err := r.waitForTarget(context.Background()); err != nil {
		t.Fatalf("empty health path should skip the poll: %v", err)
	}
}

func TestExecVerifyCalls(t *testing.T) {
	cfg := testConfig()
	r := NewRunner(cfg, &scenario.Suite{}, t.TempDir())
	r.recorder = mock.NewRecorder(10)
	r.recorder.Record(mock.RecordedCall{Transport: mock.TransportMCP, Tool: "get_weather", Matched: true})
	r.recorder.Record(mock.RecordedCall{Transport: mock.TransportMCP, Tool: "get_weather", Matched: true})

	two := 2
	tests := []struct {
		name    string
		step    scenario.Step
		wantErr bool
	}{
		{"min satisfied", scenario.Step{Type: scenario.StepVerifyCalls, Pattern: "get_weather", Min: 2}, false},
		{"min not reached", scenario.Step{Type: scenario.StepVerifyCalls, Pattern: "get_weather", Min: 3}, true},
		{"exactly", scenario.Step{Type: scenario.StepVerifyCalls, Pattern: "get_*", Exactly: &two}, false},
		{"none holds", scenario.Step{Type: scenario.StepVerifyCalls, Pattern: "delete_*", None: true}, false},
		{"none violated", scenario.Step{Type: scenario.StepVerifyCalls, Pattern: "get_weather", None: true}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.execVerifyCalls(&tc.step)
			if tc.wantErr && err == nil {
				t.Fatal("expected verification failure")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && CodeOf(err) != ErrCodeVerificationFailed {
				t.Errorf("code %s, want VERIFICATION_FAILED", CodeOf(err))
			}
		})
	}

	bare := NewRunner(cfg, &scenario.Suite{}, t.TempDir())
	err := bare.execVerifyCalls(&scenario.Step{Type: scenario.StepVerifyCalls, Pattern: "x"})
	if CodeOf(err) != ErrCodeStepInvalid {
		t.Errorf("verify without mocks should be a step error, got %v", err)
	}
}

func TestResolveURL(t *testing.T) {
	cfg := testConfig()
	cfg.Target.BaseURL = "http://fallback.local:3000"

	withSuite := NewRunner(cfg, &scenario.Suite{BaseURL: "http://suite.local/"}, "")
	noSuite := NewRunner(cfg, &scenario.Suite{}, "")

	tests := []struct {
		name string
		r    *Runner
		raw  string
		want string
	}{
		{"absolute passes through", withSuite, "https://elsewhere.local/page", "https://elsewhere.local/page"},
		{"suite base wins", withSuite, "/chat", "http://suite.local/chat"},
		{"no leading slash", withSuite, "chat", "http://suite.local/chat"},
		{"config fallback", noSuite, "/chat", "http://fallback.local:3000/chat"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.resolveURL(tc.raw); got != tc.want {
				t.Errorf("resolveURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestSuiteNeedsBrowserAndJudge(t *testing.T) {
	toolOnly := []scenario.Scenario{
		{ID: "a", Steps: []scenario.Step{
			{Type: scenario.StepCallTool, Tool: "x"},
			{Type: scenario.StepVerifyCalls, Pattern: "x"},
			{Type: scenario.StepPause, DurationMs: 1},
		}},
	}
	if suiteNeedsBrowser(toolOnly) {
		t.Error("tool-only suite should not launch a browser")
	}

	withUI := append(toolOnly, scenario.Scenario{
		ID:    "b",
		Steps: []scenario.Step{{Type: scenario.StepNavigate, URL: "/"}},
	})
	if !suiteNeedsBrowser(withUI) {
		t.Error("navigate step requires a browser")
	}

	skippedUI := []scenario.Scenario{
		{ID: "c", Skip: "later", Steps: []scenario.Step{{Type: scenario.StepNavigate, URL: "/"}}},
	}
	if suiteNeedsBrowser(skippedUI) {
		t.Error("skipped scenarios must not force a browser launch")
	}

	if suiteNeedsJudge(withUI) {
		t.Error("no judge criteria anywhere, judge not needed")
	}
	graded := []scenario.Scenario{
		{ID: "d", Steps: []scenario.Step{
			{Type: scenario.StepAwait, Match: scenario.Match{Contains: "ok"}, Judge: "must be polite"},
		}},
	}
	if !suiteNeedsJudge(graded) {
		t.Error("judge criteria present, judge needed")
	}
	graded[0].Skip = "later"
	if suiteNeedsJudge(graded) {
		t.Error("skipped scenario must not force grader construction")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},  // 1.6s capped
		{40, time.Second}, // Shift overflow falls back to the cap
		{0, 100 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := backoffDelay(base, limit, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
