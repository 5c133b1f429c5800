package config

import "fmt"

// ReportConfig controls report generation.
type ReportConfig struct {
	// OutputDir receives report files (relative to the workspace).
	OutputDir string `yaml:"output_dir"`
	// Formats selects writers: json, html, markdown.
	Formats []string `yaml:"formats"`
	// FailOn makes the run exit non-zero when an issue at or above this
	// severity is present (critical, high, medium, low, or empty = off).
	FailOn string `yaml:"fail_on"`
	// IncludeTranscripts embeds captured reply text in reports.
	IncludeTranscripts bool `yaml:"include_transcripts"`
}

// DefaultReportConfig returns defaults for report generation.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		OutputDir:          ".harness/reports",
		Formats:            []string{"json", "html"},
		FailOn:             "critical",
		IncludeTranscripts: true,
	}
}

var validReportFormats = map[string]bool{
	"json":     true,
	"html":     true,
	"markdown": true,
}

var validSeverities = map[string]bool{
	"":         true,
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
}

// ValidateReport checks report settings.
func (c *Config) ValidateReport() error {
	if len(c.Report.Formats) == 0 {
		return fmt.Errorf("report.formats must name at least one format")
	}
	for _, f := range c.Report.Formats {
		if !validReportFormats[f] {
			return fmt.Errorf("invalid report format: %s (valid: json, html, markdown)", f)
		}
	}
	if !validSeverities[c.Report.FailOn] {
		return fmt.Errorf("invalid report.fail_on severity: %s", c.Report.FailOn)
	}
	return nil
}
