package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpharness/internal/logging"
	"mcpharness/internal/scenario"
)

// WriteAll renders the report in each requested format under dir.
// Files are named by run ID. It returns the paths written; a failing
// writer aborts, leaving earlier artifacts in place.
func WriteAll(rep *RunReport, dir string, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	var paths []string
	for _, format := range formats {
		var (
			path string
			err  error
		)
		switch format {
		case "json":
			path = filepath.Join(dir, rep.RunID+".json")
			err = WriteJSON(rep, path)
		case "html":
			path = filepath.Join(dir, rep.RunID+".html")
			err = WriteHTML(rep, path)
		case "markdown":
			path = filepath.Join(dir, rep.RunID+".md")
			err = WriteMarkdown(rep, path)
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
		logging.Audit().ReportWritten(format, path)
	}
	return paths, nil
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(rep *RunReport, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// WriteMarkdown writes the summary Markdown rendering.
func WriteMarkdown(rep *RunReport, path string) error {
	return os.WriteFile(path, []byte(RenderMarkdown(rep)), 0644)
}

// RenderMarkdown builds the Markdown summary: run header, totals,
// per-scenario table, and issues grouped by severity.
func RenderMarkdown(rep *RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", rep.RunID)
	fmt.Fprintf(&b, "**Suite:** %s  \n", rep.SuiteName)
	fmt.Fprintf(&b, "**Started:** %s  \n", rep.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Duration:** %s\n\n", durationLabel(rep.DurationMs))

	t := rep.Totals
	fmt.Fprintf(&b, "## Totals\n\n")
	fmt.Fprintf(&b, "| Scenarios | Passed | Failed | Skipped | Errors |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n", t.Scenarios, t.Passed, t.Failed, t.Skipped, t.Errors)

	if len(rep.Results) > 0 {
		fmt.Fprintf(&b, "## Scenarios\n\n")
		fmt.Fprintf(&b, "| Scenario | Status | Attempts | Duration |\n")
		fmt.Fprintf(&b, "|---|---|---|---|\n")
		for _, res := range rep.Results {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				res.Name, statusLabel(res.Status), res.Attempts, durationLabel(res.DurationMs))
		}
		b.WriteString("\n")

		for _, res := range rep.Results {
			if res.FailureReason == "" {
				continue
			}
			fmt.Fprintf(&b, "### %s\n\n", res.Name)
			fmt.Fprintf(&b, "%s\n\n", res.FailureReason)
		}
	}

	if len(rep.Issues) > 0 {
		fmt.Fprintf(&b, "## Issues (%d)\n\n", len(rep.Issues))
		for _, is := range rep.Issues {
			fmt.Fprintf(&b, "- **[%s]** %s: %s", strings.ToUpper(string(is.Severity)), is.Category, is.Message)
			if is.ScenarioID != "" {
				fmt.Fprintf(&b, " _(scenario %s)_", is.ScenarioID)
			}
			b.WriteString("\n")
			if is.Evidence != "" {
				fmt.Fprintf(&b, "  - evidence: %s\n", truncateEvidence(is.Evidence, 200))
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// statusLabel strips the atom slash for display.
func statusLabel(s scenario.Status) string {
	return strings.TrimPrefix(string(s), "/")
}

func durationLabel(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func truncateEvidence(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
