package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"mcpharness/internal/logging"
)

// ProbeOptions controls what a probe does beyond the handshake.
type ProbeOptions struct {
	// CallTool, when set, invokes the named tool after discovery.
	CallTool string
	// CallArgs are the arguments for CallTool.
	CallArgs map[string]interface{}
}

// ToolWarning flags a suspect tool declaration found during a probe.
type ToolWarning struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

// ProbeReport is the result of probing an MCP server: identity,
// capabilities, tool surface, declaration warnings, and optionally one
// tool call.
type ProbeReport struct {
	Target        string          `json:"target"`
	Protocol      Protocol        `json:"protocol"`
	Timestamp     time.Time       `json:"timestamp"`
	ServerInfo    MCPServerInfo   `json:"server_info"`
	Capabilities  MCPCapabilities `json:"capabilities"`
	Tools         []MCPToolSchema `json:"tools"`
	Warnings      []ToolWarning   `json:"warnings,omitempty"`
	ConnectMs     int64           `json:"connect_ms"`
	PingMs        int64           `json:"ping_ms"`
	CalledTool    string          `json:"called_tool,omitempty"`
	CallResult    *MCPCallResult  `json:"call_result,omitempty"`
}

// Probe connects to the server, runs the full discovery pass, and
// disconnects. The connection never outlives the probe.
func Probe(ctx context.Context, spec MCPServerSpec, opts ProbeOptions) (*ProbeReport, error) {
	log := logging.Get(logging.CategoryMCP)

	client, err := NewClient(spec)
	if err != nil {
		return nil, err
	}

	report := &ProbeReport{
		Target:    targetOf(spec),
		Protocol:  Protocol(spec.Protocol),
		Timestamp: time.Now(),
	}

	connectStart := time.Now()
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Close()
	report.ConnectMs = time.Since(connectStart).Milliseconds()
	report.ServerInfo = client.ServerInfo()

	if caps, err := client.Capabilities(ctx); err == nil && caps != nil {
		report.Capabilities = *caps
	} else if err != nil {
		log.Warn("capabilities unavailable: %v", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("tool discovery failed: %w", err)
	}
	report.Tools = tools
	report.Warnings = lintTools(tools)
	log.Info("probe discovered %d tools on %s (%d warnings)",
		len(tools), report.Target, len(report.Warnings))

	pingStart := time.Now()
	if err := client.Ping(ctx); err != nil {
		log.Warn("ping failed: %v", err)
		report.PingMs = -1
	} else {
		report.PingMs = time.Since(pingStart).Milliseconds()
	}

	if opts.CallTool != "" {
		result, err := client.CallTool(ctx, opts.CallTool, opts.CallArgs)
		if err != nil {
			return nil, fmt.Errorf("tool call failed: %w", err)
		}
		report.CalledTool = opts.CallTool
		report.CallResult = result
	}

	return report, nil
}

// lintTools checks tool declarations for the problems that break
// clients downstream: missing schemas, schemas that do not compile,
// non-object argument shapes, absent descriptions.
func lintTools(tools []MCPToolSchema) []ToolWarning {
	var warnings []ToolWarning
	seen := make(map[string]bool, len(tools))

	for _, tool := range tools {
		if tool.Name == "" {
			warnings = append(warnings, ToolWarning{Tool: "(unnamed)", Message: "tool has no name"})
			continue
		}
		if seen[tool.Name] {
			warnings = append(warnings, ToolWarning{Tool: tool.Name, Message: "duplicate tool name"})
		}
		seen[tool.Name] = true

		if tool.Description == "" {
			warnings = append(warnings, ToolWarning{Tool: tool.Name, Message: "tool has no description"})
		}

		if len(tool.InputSchema) == 0 {
			warnings = append(warnings, ToolWarning{Tool: tool.Name, Message: "tool declares no input schema"})
			continue
		}

		var schema map[string]interface{}
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			warnings = append(warnings, ToolWarning{
				Tool:    tool.Name,
				Message: fmt.Sprintf("input schema is not a JSON object: %v", err),
			})
			continue
		}
		if typ, ok := schema["type"].(string); ok && typ != "object" {
			warnings = append(warnings, ToolWarning{
				Tool:    tool.Name,
				Message: fmt.Sprintf("input schema type is %q, tools take object arguments", typ),
			})
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema)); err != nil {
			warnings = append(warnings, ToolWarning{
				Tool:    tool.Name,
				Message: fmt.Sprintf("input schema does not compile: %v", err),
			})
		}
	}
	return warnings
}

func targetOf(spec MCPServerSpec) string {
	if spec.BaseURL != "" {
		return spec.BaseURL
	}
	return spec.Command
}
