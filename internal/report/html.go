package report

import (
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"mcpharness/internal/scenario"
)

// WriteHTML renders the report as a standalone HTML page.
func WriteHTML(rep *RunReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	defer f.Close()

	if err := htmlTemplate.Execute(f, rep); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"status":   statusLabel,
	"duration": durationLabel,
	"upper":    strings.ToUpper,
	"statusClass": func(s scenario.Status) string {
		return "status-" + statusLabel(s)
	},
	"sevClass": func(s Severity) string {
		return "sev-" + string(s)
	},
	"timefmt": func(layout string, t time.Time) string {
		return t.Format(layout)
	},
}).Parse(htmlPage))

// htmlPage is the full report page. Kept self-contained (inline CSS, no
// scripts) so a report file can be attached to a ticket as-is.
const htmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Harness Run {{.RunID}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 2rem auto; max-width: 960px; color: #1d2330; }
  h1 { font-size: 1.4rem; }
  h2 { font-size: 1.15rem; margin-top: 2rem; border-bottom: 1px solid #e2e6ee; padding-bottom: .3rem; }
  table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
  th, td { text-align: left; padding: .4rem .6rem; border-bottom: 1px solid #e2e6ee; font-size: .9rem; }
  th { background: #f4f6fa; }
  .meta { color: #5a6375; font-size: .9rem; }
  .badge { display: inline-block; padding: .1rem .5rem; border-radius: .6rem; font-size: .78rem; font-weight: 600; }
  .status-passed { background: #d9f2e0; color: #1a7a3c; }
  .status-failed { background: #fbdcdc; color: #b12a2a; }
  .status-skipped { background: #eef0f4; color: #5a6375; }
  .status-error { background: #fbe7d4; color: #ad5c0d; }
  .status-pending, .status-running { background: #e3ecfb; color: #2757a8; }
  .sev-critical { background: #b12a2a; color: #fff; }
  .sev-high { background: #e06a2b; color: #fff; }
  .sev-medium { background: #e8b821; color: #3d3000; }
  .sev-low { background: #eef0f4; color: #5a6375; }
  .steps td { font-size: .84rem; color: #3a4356; }
  .fail-reason { background: #fdf3f3; border-left: 3px solid #b12a2a; padding: .5rem .8rem; font-size: .88rem; margin: .4rem 0 1rem; }
  .evidence { color: #5a6375; font-size: .82rem; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>Harness Run <code>{{.RunID}}</code></h1>
<p class="meta">
  Suite <strong>{{.SuiteName}}</strong> &middot;
  started {{timefmt "2006-01-02 15:04:05" .StartedAt}} &middot;
  took {{duration .DurationMs}}
</p>

<h2>Summary</h2>
<table>
  <tr><th>Scenarios</th><th>Passed</th><th>Failed</th><th>Skipped</th><th>Errors</th></tr>
  <tr>
    <td>{{.Totals.Scenarios}}</td>
    <td>{{.Totals.Passed}}</td>
    <td>{{.Totals.Failed}}</td>
    <td>{{.Totals.Skipped}}</td>
    <td>{{.Totals.Errors}}</td>
  </tr>
</table>
{{if .Totals.IssuesBySeverity}}
<p class="meta">Issues:
{{range $sev, $n := .Totals.IssuesBySeverity}}
  <span class="badge {{sevClass $sev}}">{{upper (printf "%s" $sev)}} {{$n}}</span>
{{end}}
</p>
{{end}}

<h2>Scenarios</h2>
<table>
  <tr><th>Scenario</th><th>Status</th><th>Attempts</th><th>Duration</th></tr>
  {{range .Results}}
  <tr>
    <td>{{.Name}}</td>
    <td><span class="badge {{statusClass .Status}}">{{status .Status}}</span></td>
    <td>{{.Attempts}}</td>
    <td>{{duration .DurationMs}}</td>
  </tr>
  {{end}}
</table>

{{range .Results}}
{{if or .FailureReason .Steps}}
<h2>{{.Name}} <span class="badge {{statusClass .Status}}">{{status .Status}}</span></h2>
{{if .FailureReason}}<div class="fail-reason">{{.FailureReason}}</div>{{end}}
{{if .Steps}}
<table class="steps">
  <tr><th>#</th><th>Step</th><th>Target</th><th>Duration</th><th>Error</th></tr>
  {{range .Steps}}
  <tr>
    <td>{{.Index}}</td>
    <td>{{.Type}}</td>
    <td>{{.Target}}</td>
    <td>{{duration .DurationMs}}</td>
    <td>{{.Error}}</td>
  </tr>
  {{end}}
</table>
{{end}}
{{end}}
{{end}}

{{if .Issues}}
<h2>Issues</h2>
<table>
  <tr><th>Severity</th><th>Category</th><th>Scenario</th><th>Message</th></tr>
  {{range .Issues}}
  <tr>
    <td><span class="badge {{sevClass .Severity}}">{{upper (printf "%s" .Severity)}}</span></td>
    <td>{{.Category}}</td>
    <td>{{.ScenarioID}}</td>
    <td>{{.Message}}{{if .Evidence}}<div class="evidence">{{.Evidence}}</div>{{end}}</td>
  </tr>
  {{end}}
</table>
{{end}}

</body>
</html>
`
