package mcp

import (
	"context"
	"fmt"
	"sync"

	"mcpharness/internal/logging"
)

// Client wraps one MCP server connection behind a transport chosen by
// the server spec. Scenario tool-call steps and the probe command both
// go through it.
type Client struct {
	mu sync.RWMutex

	spec      MCPServerSpec
	transport MCPTransport
	status    ServerStatus

	onStatus func(status ServerStatus)
}

// NewClient builds a client for the given server spec. The transport
// is created but not connected.
func NewClient(spec MCPServerSpec) (*Client, error) {
	transport, err := NewTransport(spec)
	if err != nil {
		return nil, err
	}
	return &Client{
		spec:      spec,
		transport: transport,
		status:    ServerStatusUnknown,
	}, nil
}

// NewTransport builds the transport named by the spec's protocol.
func NewTransport(spec MCPServerSpec) (MCPTransport, error) {
	timeout := spec.GetTimeout()

	switch Protocol(spec.Protocol) {
	case ProtocolHTTP:
		if spec.BaseURL == "" {
			return nil, fmt.Errorf("http transport requires base_url")
		}
		return NewHTTPTransport(spec.BaseURL, timeout), nil
	case ProtocolStdio:
		if spec.Command == "" {
			return nil, fmt.Errorf("stdio transport requires command")
		}
		return NewStdioTransport(spec.Command), nil
	case ProtocolSSE:
		if spec.BaseURL == "" {
			return nil, fmt.Errorf("sse transport requires base_url")
		}
		return NewSSETransport(spec.BaseURL, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %q", spec.Protocol)
	}
}

// SetOnStatus sets the callback for connection status changes.
func (c *Client) SetOnStatus(fn func(status ServerStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Connect establishes the connection and runs the MCP handshake.
func (c *Client) Connect(ctx context.Context) error {
	if c.transport.IsConnected() {
		return nil
	}

	c.setStatus(ServerStatusConnecting)
	if err := c.transport.Connect(ctx); err != nil {
		c.setStatus(ServerStatusError)
		return fmt.Errorf("connect to %s: %w", c.spec.ID, err)
	}
	c.setStatus(ServerStatusConnected)

	info := c.transport.ServerInfo()
	logging.Get(logging.CategoryMCP).Info("connected to MCP server %s (%s %s)",
		c.spec.ID, info.Name, info.Version)
	return nil
}

// Close disconnects the transport.
func (c *Client) Close() error {
	err := c.transport.Disconnect()
	c.setStatus(ServerStatusDisconnected)
	return err
}

// Status returns the last observed connection status.
func (c *Client) Status() ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Spec returns the server spec the client was built from.
func (c *Client) Spec() MCPServerSpec {
	return c.spec
}

// ServerInfo returns the identity reported by initialize.
func (c *Client) ServerInfo() MCPServerInfo {
	return c.transport.ServerInfo()
}

// Capabilities returns server capabilities.
func (c *Client) Capabilities(ctx context.Context) (*MCPCapabilities, error) {
	return c.transport.GetCapabilities(ctx)
}

// ListTools retrieves available tools from the server.
func (c *Client) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
	return c.transport.ListTools(ctx)
}

// CallTool invokes a tool. A disconnected client returns a failed
// result rather than an error so callers can treat it as an outcome.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
	if !c.transport.IsConnected() {
		return &MCPCallResult{
			Success: false,
			Error:   fmt.Sprintf("MCP server %s is not connected", c.spec.ID),
		}, nil
	}

	result, err := c.transport.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	logging.Audit().ToolCall(name, result.LatencyMs, result.Success, result.Error)
	return result, nil
}

// Ping checks if the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.transport.Ping(ctx)
}

// IsConnected reports whether the transport is live.
func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

func (c *Client) setStatus(status ServerStatus) {
	c.mu.Lock()
	c.status = status
	cb := c.onStatus
	c.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}
