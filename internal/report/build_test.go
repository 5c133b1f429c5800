package report

import (
	"strings"
	"testing"
	"time"

	"mcpharness/internal/scenario"
)

func sampleResults() []ScenarioResult {
	return []ScenarioResult{
		{ScenarioID: "login", Name: "Login flow", Status: scenario.StatusPassed, Attempts: 1, DurationMs: 1200},
		{ScenarioID: "weather", Name: "Weather tool", Status: scenario.StatusFailed, Attempts: 3, DurationMs: 9400,
			FailureReason: "await contains(\"sunny\"): no match within 45s"},
		{ScenarioID: "legacy", Name: "Legacy flow", Status: scenario.StatusSkipped, Attempts: 0},
		{ScenarioID: "broken", Name: "Broken infra", Status: scenario.StatusError, Attempts: 1, DurationMs: 300,
			FailureReason: "browser launch failed"},
	}
}

func sampleIssues() []Issue {
	return []Issue{
		NewIssue("weather", SeverityLow, "ui-error", "spinner never cleared"),
		NewIssue("weather", SeverityHigh, "assertion", "reply never mentioned the forecast"),
		NewIssue("broken", SeverityCritical, "infrastructure", "browser launch failed"),
	}
}

func TestBuildTotals(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	rep := Build("run-1", "smoke", start, time.Now(), sampleResults(), sampleIssues(), nil)

	tot := rep.Totals
	if tot.Scenarios != 4 {
		t.Errorf("Scenarios = %d, want 4", tot.Scenarios)
	}
	if tot.Passed != 1 || tot.Failed != 1 || tot.Skipped != 1 || tot.Errors != 1 {
		t.Errorf("totals = %+v, want 1 of each status", tot)
	}
	if tot.IssuesBySeverity[SeverityCritical] != 1 {
		t.Errorf("critical issues = %d, want 1", tot.IssuesBySeverity[SeverityCritical])
	}
	if tot.Success() {
		t.Error("run with failures should not be a success")
	}
	if rep.DurationMs < 59_000 {
		t.Errorf("DurationMs = %d, want about a minute", rep.DurationMs)
	}
}

func TestBuildSortsIssuesBySeverity(t *testing.T) {
	rep := Build("run-2", "smoke", time.Now(), time.Now(), nil, sampleIssues(), nil)

	got := make([]Severity, len(rep.Issues))
	for i, is := range rep.Issues {
		got[i] = is.Severity
	}
	want := []Severity{SeverityCritical, SeverityHigh, SeverityLow}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("issue order = %v, want %v", got, want)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least high")
	}
	if !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("high should be at least high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("medium should not be at least high")
	}
	if Severity("bogus").AtLeast(SeverityLow) {
		t.Error("unknown severity should never pass a threshold")
	}
}

func TestSeverityFromConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Severity
	}{
		{1.0, SeverityHigh},
		{0.9, SeverityHigh},
		{0.8, SeverityMedium},
		{0.65, SeverityMedium},
		{0.5, SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityFromConfidence(tt.confidence); got != tt.want {
			t.Errorf("SeverityFromConfidence(%v) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

func TestFailOn(t *testing.T) {
	passing := Build("run-3", "smoke", time.Now(), time.Now(), []ScenarioResult{
		{ScenarioID: "a", Name: "a", Status: scenario.StatusPassed, Attempts: 1},
	}, []Issue{
		NewIssue("a", SeverityMedium, "ui-error", "minor banner"),
	}, nil)

	if err := FailOn(passing, ""); err != nil {
		t.Errorf("empty threshold should pass: %v", err)
	}
	if err := FailOn(passing, SeverityHigh); err != nil {
		t.Errorf("medium issue should pass a high gate: %v", err)
	}
	if err := FailOn(passing, SeverityMedium); err == nil {
		t.Error("medium issue should trip a medium gate")
	}
	if err := FailOn(passing, Severity("bogus")); err == nil ||
		!strings.Contains(err.Error(), "unknown severity") {
		t.Errorf("bogus threshold error = %v", err)
	}

	failing := Build("run-4", "smoke", time.Now(), time.Now(), []ScenarioResult{
		{ScenarioID: "a", Name: "a", Status: scenario.StatusFailed, Attempts: 1},
	}, nil, nil)
	if err := FailOn(failing, ""); err == nil {
		t.Error("failed scenario should trip the gate regardless of threshold")
	}
}

func TestResultForAndIssuesFor(t *testing.T) {
	rep := Build("run-5", "smoke", time.Now(), time.Now(), sampleResults(), sampleIssues(), nil)

	if res := rep.ResultFor("weather"); res == nil || res.Name != "Weather tool" {
		t.Fatalf("ResultFor(weather) = %+v", res)
	}
	if res := rep.ResultFor("missing"); res != nil {
		t.Fatalf("ResultFor(missing) = %+v, want nil", res)
	}
	if got := len(rep.IssuesFor("weather")); got != 2 {
		t.Errorf("IssuesFor(weather) = %d issues, want 2", got)
	}
}
