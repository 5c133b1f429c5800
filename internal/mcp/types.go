// Package mcp implements an MCP (Model Context Protocol) client used to
// probe servers and drive tool calls during scenario runs. Transports
// exist for HTTP, stdio subprocess, and SSE servers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotConnected is returned by transport calls made before Connect
// or after the connection dropped.
var ErrNotConnected = errors.New("not connected to MCP server")

// ServerStatus represents the connection status of an MCP server.
type ServerStatus string

const (
	ServerStatusUnknown      ServerStatus = "unknown"
	ServerStatusConnecting   ServerStatus = "connecting"
	ServerStatusConnected    ServerStatus = "connected"
	ServerStatusDisconnected ServerStatus = "disconnected"
	ServerStatusError        ServerStatus = "error"
)

// Protocol represents the MCP transport protocol.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolStdio Protocol = "stdio"
	ProtocolSSE   Protocol = "sse"
)

// clientName and clientVersion identify this client in the initialize
// handshake.
const (
	clientName    = "mcpharness"
	clientVersion = "0.1.0"
)

// MCPServerSpec describes one server target for the client.
type MCPServerSpec struct {
	ID       string `json:"id" yaml:"id"`
	Protocol string `json:"protocol" yaml:"protocol"`
	// BaseURL is the endpoint for http and sse protocols.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Command is the subprocess command line for stdio.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GetTimeout parses the timeout with a 30s fallback.
func (s MCPServerSpec) GetTimeout() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// MCPServerInfo is the server identity reported by initialize.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPToolSchema represents the raw tool schema from an MCP server.
type MCPToolSchema struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// MCPCapabilities represents server capabilities from the MCP protocol.
type MCPCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Logging   bool `json:"logging"`
}

// MCPCallResult represents the result of calling an MCP tool. Protocol
// errors surface in Error rather than as a Go error so callers can
// assert on them.
type MCPCallResult struct {
	Success   bool            `json:"success"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode int             `json:"error_code,omitempty"`
	LatencyMs int64           `json:"latency_ms"`
}

// MCPTransport defines the interface for MCP protocol transports.
type MCPTransport interface {
	// Connect establishes the connection and runs the initialize
	// handshake.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect() error

	// ListTools retrieves available tools from the server.
	ListTools(ctx context.Context) ([]MCPToolSchema, error)

	// CallTool invokes a tool on the MCP server.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error)

	// GetCapabilities returns server capabilities.
	GetCapabilities(ctx context.Context) (*MCPCapabilities, error)

	// ServerInfo returns the identity reported by initialize. Zero
	// before Connect.
	ServerInfo() MCPServerInfo

	// Ping checks if the server is responsive.
	Ping(ctx context.Context) error

	// IsConnected returns current connection status.
	IsConnected() bool
}

// initializeParams builds the standard initialize request params.
func initializeParams() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]string{
			"name":    clientName,
			"version": clientVersion,
		},
	}
}

// initializeResult is the shape of an initialize response.
type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      MCPServerInfo   `json:"serverInfo"`
}

// parseCapabilities reads the capability map out of an initialize
// result. MCP encodes capabilities as objects whose presence means
// support, so presence is what we test.
func parseCapabilities(raw json.RawMessage) MCPCapabilities {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return MCPCapabilities{}
	}
	_, tools := m["tools"]
	_, resources := m["resources"]
	_, prompts := m["prompts"]
	_, logging := m["logging"]
	return MCPCapabilities{Tools: tools, Resources: resources, Prompts: prompts, Logging: logging}
}
