// Package report defines the run report model and its renderers. A report
// aggregates per-scenario results and the issues a run surfaced into
// totals, then writes JSON, HTML, and Markdown artifacts named by run ID.
package report

import (
	"time"

	"mcpharness/internal/scenario"
)

// Severity ranks an issue. The order matters: threshold gates compare
// against it and reports sort by it.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for sorting and threshold checks.
// Lower rank = more severe.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at or above the threshold severity.
func (s Severity) AtLeast(threshold Severity) bool {
	sr, ok1 := severityRank[s]
	tr, ok2 := severityRank[threshold]
	if !ok1 || !ok2 {
		return false
	}
	return sr <= tr
}

// SeverityFromConfidence maps a failure-detection confidence score to a
// severity. The scan scoring starts at 0.5 and adds 0.15 per
// independent signal, so 0.9 means at least three signals agreed.
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityHigh
	case confidence >= 0.65:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Issue is one problem a run surfaced: a failed assertion, an error
// banner in the UI, a misbehaving mock interaction.
type Issue struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	Severity   Severity  `json:"severity"`
	Category   string    `json:"category"` // e.g. "assertion", "ui-error", "timeout", "infrastructure"
	Message    string    `json:"message"`
	Evidence   string    `json:"evidence,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StepResult records one executed step inside a scenario attempt.
type StepResult struct {
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Target     string `json:"target,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ScenarioResult is the final verdict for one scenario after all
// attempts.
type ScenarioResult struct {
	ScenarioID    string          `json:"scenario_id"`
	Name          string          `json:"name"`
	Status        scenario.Status `json:"status"`
	Attempts      int             `json:"attempts"`
	DurationMs    int64           `json:"duration_ms"`
	Steps         []StepResult    `json:"steps,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Totals roll up a run's results.
type Totals struct {
	Scenarios        int              `json:"scenarios"`
	Passed           int              `json:"passed"`
	Failed           int              `json:"failed"`
	Skipped          int              `json:"skipped"`
	Errors           int              `json:"errors"`
	IssuesBySeverity map[Severity]int `json:"issues_by_severity,omitempty"`
}

// Success reports whether every scenario passed or was skipped.
func (t Totals) Success() bool {
	return t.Failed == 0 && t.Errors == 0
}

// RunReport is the full record of one harness run.
type RunReport struct {
	RunID       string            `json:"run_id"`
	SuiteName   string            `json:"suite_name"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	DurationMs  int64             `json:"duration_ms"`
	Totals      Totals            `json:"totals"`
	Results     []ScenarioResult  `json:"results"`
	Issues      []Issue           `json:"issues,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// ResultFor returns the result for a scenario ID, nil when absent.
func (r *RunReport) ResultFor(scenarioID string) *ScenarioResult {
	for i := range r.Results {
		if r.Results[i].ScenarioID == scenarioID {
			return &r.Results[i]
		}
	}
	return nil
}

// IssuesFor returns the issues attributed to a scenario ID.
func (r *RunReport) IssuesFor(scenarioID string) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.ScenarioID == scenarioID {
			out = append(out, is)
		}
	}
	return out
}
