package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpharness/internal/mcp"
)

// newLintableServer serves a tool surface with deliberate declaration
// problems next to one clean tool.
func newLintableServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     *int            `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.ID == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID}
		switch req.Method {
		case "initialize":
			resp["result"] = map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
				"serverInfo":      map[string]string{"name": "linty", "version": "0.9.0"},
			}
		case "tools/list":
			resp["result"] = map[string]interface{}{
				"tools": []map[string]interface{}{
					{
						"name":        "clean_tool",
						"description": "A well declared tool",
						"inputSchema": map[string]interface{}{"type": "object"},
					},
					{
						// No description.
						"name":        "undocumented",
						"inputSchema": map[string]interface{}{"type": "object"},
					},
					{
						// Arguments must be objects.
						"name":        "scalar_args",
						"description": "takes a bare string",
						"inputSchema": map[string]interface{}{"type": "string"},
					},
					{
						// No schema at all.
						"name":        "schemaless",
						"description": "anything goes",
					},
					{
						// Duplicate of the first.
						"name":        "clean_tool",
						"description": "same name again",
						"inputSchema": map[string]interface{}{"type": "object"},
					},
				},
			}
		case "tools/call":
			resp["result"] = map[string]interface{}{"ok": true}
		case "ping":
			resp["result"] = map[string]interface{}{}
		default:
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func warningsFor(report *mcp.ProbeReport, tool string) []string {
	var out []string
	for _, w := range report.Warnings {
		if w.Tool == tool {
			out = append(out, w.Message)
		}
	}
	return out
}

func TestProbe(t *testing.T) {
	server := newLintableServer(t)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := mcp.Probe(ctx, mcp.MCPServerSpec{
		ID:       "linty",
		Protocol: "http",
		BaseURL:  server.URL,
		Timeout:  "2s",
	}, mcp.ProbeOptions{})
	require.NoError(t, err)

	require.Equal(t, "linty", report.ServerInfo.Name)
	require.True(t, report.Capabilities.Tools)
	require.Len(t, report.Tools, 5)
	require.GreaterOrEqual(t, report.PingMs, int64(0))

	require.Len(t, warningsFor(report, "undocumented"), 1)
	require.Contains(t, warningsFor(report, "undocumented")[0], "no description")

	scalar := warningsFor(report, "scalar_args")
	require.NotEmpty(t, scalar)
	require.Contains(t, strings.Join(scalar, "; "), "object")

	require.Contains(t, warningsFor(report, "schemaless")[0], "no input schema")

	clean := warningsFor(report, "clean_tool")
	require.Len(t, clean, 1)
	require.Contains(t, clean[0], "duplicate")
}

func TestProbeWithCall(t *testing.T) {
	server := newLintableServer(t)
	defer server.Close()

	report, err := mcp.Probe(context.Background(), mcp.MCPServerSpec{
		ID:       "linty",
		Protocol: "http",
		BaseURL:  server.URL,
	}, mcp.ProbeOptions{
		CallTool: "clean_tool",
		CallArgs: map[string]interface{}{"x": 1},
	})
	require.NoError(t, err)
	require.Equal(t, "clean_tool", report.CalledTool)
	require.NotNil(t, report.CallResult)
	require.True(t, report.CallResult.Success)
}

func TestRenderProbeReport(t *testing.T) {
	server := newLintableServer(t)
	defer server.Close()

	report, err := mcp.Probe(context.Background(), mcp.MCPServerSpec{
		ID:       "linty",
		Protocol: "http",
		BaseURL:  server.URL,
	}, mcp.ProbeOptions{CallTool: "clean_tool"})
	require.NoError(t, err)

	out := mcp.NewReportRenderer().Render(report)
	require.Contains(t, out, "# MCP Probe:")
	require.Contains(t, out, "linty 0.9.0")
	require.Contains(t, out, "## Tools (5)")
	require.Contains(t, out, "### clean_tool")
	require.Contains(t, out, "## Warnings")
	require.Contains(t, out, "## Call: clean_tool")

	// Schemas can be switched off for terse output.
	terse := mcp.NewReportRenderer()
	terse.SetIncludeSchemas(false)
	require.NotContains(t, terse.Render(report), "```json\n{\"type\":\"object\"}")
}
