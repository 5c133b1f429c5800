package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"mcpharness/internal/logging"
	"mcpharness/internal/scenario"
)

// NewIssue builds an issue with an assigned ID and timestamp.
func NewIssue(scenarioID string, severity Severity, category, message string) Issue {
	return Issue{
		ID:         uuid.New().String(),
		ScenarioID: scenarioID,
		Severity:   severity,
		Category:   category,
		Message:    message,
		CreatedAt:  time.Now(),
	}
}

// Build assembles a run report from raw results and issues, computing
// totals and sorting issues by severity (most severe first, stable
// within a severity).
func Build(runID, suiteName string, startedAt, finishedAt time.Time, results []ScenarioResult, issues []Issue, env map[string]string) *RunReport {
	rep := &RunReport{
		RunID:       runID,
		SuiteName:   suiteName,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		DurationMs:  finishedAt.Sub(startedAt).Milliseconds(),
		Results:     results,
		Issues:      issues,
		Environment: env,
	}

	rep.Totals = computeTotals(results, issues)
	SortIssues(rep.Issues)

	logging.Report("built report %s: %d scenarios (%d passed, %d failed, %d errors), %d issues",
		runID, rep.Totals.Scenarios, rep.Totals.Passed, rep.Totals.Failed, rep.Totals.Errors, len(issues))
	return rep
}

func computeTotals(results []ScenarioResult, issues []Issue) Totals {
	t := Totals{Scenarios: len(results)}
	for _, res := range results {
		switch res.Status {
		case scenario.StatusPassed:
			t.Passed++
		case scenario.StatusFailed:
			t.Failed++
		case scenario.StatusSkipped:
			t.Skipped++
		case scenario.StatusError:
			t.Errors++
		}
	}
	if len(issues) > 0 {
		t.IssuesBySeverity = make(map[Severity]int)
		for _, is := range issues {
			t.IssuesBySeverity[is.Severity]++
		}
	}
	return t
}

// SortIssues orders issues most severe first, preserving insertion
// order within one severity.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank[issues[i].Severity] < severityRank[issues[j].Severity]
	})
}

// FailOn checks the report against a severity threshold. It returns an
// error when any issue at or above the threshold is present, or when
// any scenario failed or errored. An empty threshold only checks the
// scenario verdicts.
func FailOn(rep *RunReport, threshold Severity) error {
	if !rep.Totals.Success() {
		return fmt.Errorf("%d scenario(s) failed, %d errored", rep.Totals.Failed, rep.Totals.Errors)
	}
	if threshold == "" {
		return nil
	}
	if !threshold.Valid() {
		return fmt.Errorf("unknown severity threshold %q", threshold)
	}

	n := 0
	for _, is := range rep.Issues {
		if is.Severity.AtLeast(threshold) {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("%d issue(s) at or above severity %s", n, threshold)
	}
	return nil
}
