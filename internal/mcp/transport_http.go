package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"mcpharness/internal/logging"
)

// mcpRequest is a JSON-RPC 2.0 request.
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// mcpNotification is a JSON-RPC 2.0 notification (no ID, no response).
type mcpNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// mcpResponse is a JSON-RPC 2.0 response.
type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

// mcpError is a JSON-RPC 2.0 error object.
type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HTTPTransport implements MCPTransport over plain HTTP POST.
type HTTPTransport struct {
	mu sync.RWMutex

	baseURL    string
	timeout    time.Duration
	client     *http.Client
	connected  bool
	serverInfo MCPServerInfo
	caps       *MCPCapabilities
	nextID     int
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		nextID:  1,
	}
}

// Connect runs the initialize handshake and marks the transport live.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.RLock()
	if t.connected {
		t.mu.RUnlock()
		return nil
	}
	t.mu.RUnlock()

	resp, err := t.call(ctx, "initialize", initializeParams())
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}
	caps := parseCapabilities(result.Capabilities)

	t.mu.Lock()
	t.serverInfo = result.ServerInfo
	t.caps = &caps
	t.connected = true
	t.mu.Unlock()

	// The server does not reply to this notification.
	t.notify(ctx, "notifications/initialized", nil)

	logging.Get(logging.CategoryMCP).Info("HTTP transport connected to %s (%s %s)",
		t.baseURL, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Disconnect marks the transport closed. HTTP has no session to tear
// down.
func (t *HTTPTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.caps = nil
	return nil
}

// call performs one JSON-RPC request/response round trip.
func (t *HTTPTransport) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.mu.Unlock()

	req := mcpRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", t.baseURL, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		data, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, string(data))
	}

	var resp mcpResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return &resp, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

// notify sends a JSON-RPC notification, ignoring the response body.
func (t *HTTPTransport) notify(ctx context.Context, method string, params interface{}) {
	n := mcpNotification{JSONRPC: "2.0", Method: method, Params: params}
	body, err := json.Marshal(n)
	if err != nil {
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(httpReq)
	if err != nil {
		logging.Get(logging.CategoryMCP).Debug("notification %s failed: %v", method, err)
		return
	}
	resp.Body.Close()
}

// ListTools retrieves available tools from the server.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var result struct {
		Tools []MCPToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools response: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the MCP server. Protocol errors land in
// the result, not the returned error.
func (t *HTTPTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
	start := time.Now()

	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}

	resp, err := t.call(ctx, "tools/call", params)
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		result := &MCPCallResult{
			Success:   false,
			Error:     err.Error(),
			LatencyMs: latencyMs,
		}
		if resp != nil && resp.Error != nil {
			result.Error = resp.Error.Message
			result.ErrorCode = resp.Error.Code
		}
		return result, nil
	}

	return &MCPCallResult{
		Success:   true,
		Output:    resp.Result,
		LatencyMs: latencyMs,
	}, nil
}

// GetCapabilities returns server capabilities cached from initialize.
func (t *HTTPTransport) GetCapabilities(ctx context.Context) (*MCPCapabilities, error) {
	t.mu.RLock()
	if t.caps != nil {
		caps := *t.caps
		t.mu.RUnlock()
		return &caps, nil
	}
	t.mu.RUnlock()

	if err := t.Connect(ctx); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.caps == nil {
		return nil, fmt.Errorf("no capabilities after initialize")
	}
	caps := *t.caps
	return &caps, nil
}

// ServerInfo returns the identity reported by initialize.
func (t *HTTPTransport) ServerInfo() MCPServerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.serverInfo
}

// Ping checks if the server is responsive.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	return err
}

// IsConnected returns current connection status.
func (t *HTTPTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Ensure HTTPTransport implements MCPTransport.
var _ MCPTransport = (*HTTPTransport)(nil)
