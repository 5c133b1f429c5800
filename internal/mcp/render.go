package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReportRenderer renders a probe report as terminal-friendly markdown.
type ReportRenderer struct {
	includeSchemas bool
	maxSchemaLen   int
}

// NewReportRenderer creates a renderer with schemas included.
func NewReportRenderer() *ReportRenderer {
	return &ReportRenderer{
		includeSchemas: true,
		maxSchemaLen:   500,
	}
}

// SetIncludeSchemas sets whether tool input schemas are printed.
func (r *ReportRenderer) SetIncludeSchemas(include bool) {
	r.includeSchemas = include
}

// SetMaxSchemaLen caps how much of each schema is printed.
func (r *ReportRenderer) SetMaxSchemaLen(maxLen int) {
	r.maxSchemaLen = maxLen
}

// Render formats the full probe report.
func (r *ReportRenderer) Render(report *ProbeReport) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# MCP Probe: %s\n\n", report.Target)
	fmt.Fprintf(&sb, "- Server: %s %s\n", orDash(report.ServerInfo.Name), orDash(report.ServerInfo.Version))
	fmt.Fprintf(&sb, "- Protocol: %s\n", report.Protocol)
	fmt.Fprintf(&sb, "- Connect: %dms\n", report.ConnectMs)
	if report.PingMs >= 0 {
		fmt.Fprintf(&sb, "- Ping: %dms\n", report.PingMs)
	} else {
		sb.WriteString("- Ping: failed\n")
	}
	fmt.Fprintf(&sb, "- Capabilities: %s\n\n", renderCapabilities(report.Capabilities))

	fmt.Fprintf(&sb, "## Tools (%d)\n\n", len(report.Tools))
	for _, tool := range report.Tools {
		r.renderTool(&sb, tool)
	}

	if len(report.Warnings) > 0 {
		fmt.Fprintf(&sb, "## Warnings (%d)\n\n", len(report.Warnings))
		for _, w := range report.Warnings {
			fmt.Fprintf(&sb, "- %s: %s\n", w.Tool, w.Message)
		}
		sb.WriteString("\n")
	}

	if report.CallResult != nil {
		fmt.Fprintf(&sb, "## Call: %s\n\n", report.CalledTool)
		if report.CallResult.Success {
			fmt.Fprintf(&sb, "Success in %dms:\n```json\n%s\n```\n",
				report.CallResult.LatencyMs, compactJSON(report.CallResult.Output, r.maxSchemaLen))
		} else {
			fmt.Fprintf(&sb, "Failed in %dms: %s\n",
				report.CallResult.LatencyMs, report.CallResult.Error)
		}
	}

	return sb.String()
}

func (r *ReportRenderer) renderTool(sb *strings.Builder, tool MCPToolSchema) {
	fmt.Fprintf(sb, "### %s\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(sb, "%s\n", truncate(tool.Description, 200))
	}
	if r.includeSchemas && len(tool.InputSchema) > 0 {
		fmt.Fprintf(sb, "```json\n%s\n```\n", compactJSON(tool.InputSchema, r.maxSchemaLen))
	}
	sb.WriteString("\n")
}

func renderCapabilities(caps MCPCapabilities) string {
	var parts []string
	if caps.Tools {
		parts = append(parts, "tools")
	}
	if caps.Resources {
		parts = append(parts, "resources")
	}
	if caps.Prompts {
		parts = append(parts, "prompts")
	}
	if caps.Logging {
		parts = append(parts, "logging")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// compactJSON re-marshals raw JSON without insignificant whitespace and
// truncates it for display.
func compactJSON(raw json.RawMessage, maxLen int) string {
	var buf strings.Builder
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return truncate(string(raw), maxLen)
	}
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return truncate(string(raw), maxLen)
	}
	return truncate(strings.TrimSpace(buf.String()), maxLen)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
