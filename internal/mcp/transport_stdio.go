package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"mcpharness/internal/logging"
)

// StdioTransport implements MCPTransport over a subprocess speaking
// newline-delimited JSON-RPC on stdin/stdout.
type StdioTransport struct {
	mu sync.RWMutex

	command string
	args    []string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser

	connected  bool
	serverInfo MCPServerInfo
	caps       *MCPCapabilities

	pendingReqs map[int]chan *mcpResponse
	nextID      int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStdioTransport creates a transport that will launch the given
// command line.
func NewStdioTransport(endpoint string) *StdioTransport {
	parts := strings.Fields(endpoint)
	var cmd string
	var args []string
	if len(parts) > 0 {
		cmd = parts[0]
		args = parts[1:]
	}

	return &StdioTransport{
		command:     cmd,
		args:        args,
		pendingReqs: make(map[int]chan *mcpResponse),
		nextID:      1,
		done:        make(chan struct{}),
	}
}

// Connect starts the subprocess, the reader loops, and runs the
// initialize handshake. The handshake happens outside the lock so the
// stdout reader can dispatch the response.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	if t.command == "" {
		t.mu.Unlock()
		return fmt.Errorf("empty command for stdio transport")
	}

	t.cmd = exec.Command(t.command, t.args...)

	var err error
	if t.stdin, err = t.cmd.StdinPipe(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if t.stdout, err = t.cmd.StdoutPipe(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if t.stderr, err = t.cmd.StderrPipe(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to start command %s: %w", t.command, err)
	}

	t.connected = true
	t.wg.Add(2)
	go t.readStderr()
	go t.readStdout()
	t.mu.Unlock()

	resp, err := t.call(ctx, "initialize", initializeParams())
	if err != nil {
		t.Disconnect()
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Disconnect()
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}
	caps := parseCapabilities(result.Capabilities)

	t.mu.Lock()
	t.serverInfo = result.ServerInfo
	t.caps = &caps
	t.mu.Unlock()

	t.sendNotification("notifications/initialized", nil)

	logging.Get(logging.CategoryMCP).Info("stdio transport connected to %s (%s %s)",
		t.command, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Disconnect kills the process and waits briefly for the readers.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false

	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	close(t.done)
	for id, ch := range t.pendingReqs {
		close(ch)
		delete(t.pendingReqs, id)
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		logging.Get(logging.CategoryMCP).Warn("timeout waiting for stdio reader goroutines")
	}

	logging.Get(logging.CategoryMCP).Info("stdio transport disconnected from %s", t.command)
	return nil
}

// readStderr forwards subprocess stderr into the mcp log.
func (t *StdioTransport) readStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		logging.Get(logging.CategoryMCP).Info("[stderr] %s", scanner.Text())
	}
}

// readStdout dispatches JSON-RPC responses to waiting callers.
func (t *StdioTransport) readStdout() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			logging.Get(logging.CategoryMCP).Warn("unparseable line on stdout: %v", err)
			continue
		}

		idVal, ok := raw["id"]
		if !ok {
			// Server-initiated notification, nothing waits on it.
			logging.Get(logging.CategoryMCP).Debug("notification from server: %s", string(line))
			continue
		}

		// JSON numbers decode as float64.
		var id int
		switch v := idVal.(type) {
		case float64:
			id = int(v)
		case int:
			id = v
		default:
			continue
		}

		var resp mcpResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logging.Get(logging.CategoryMCP).Warn("failed to unmarshal response: %v", err)
			continue
		}

		t.mu.Lock()
		ch, exists := t.pendingReqs[id]
		if exists {
			delete(t.pendingReqs, id)
			ch <- &resp
		} else {
			logging.Get(logging.CategoryMCP).Warn("response for unknown request id %d", id)
		}
		t.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		t.mu.RLock()
		connected := t.connected
		t.mu.RUnlock()
		if connected {
			logging.Get(logging.CategoryMCP).Error("error reading stdout: %v", err)
		}
	}
}

// call sends a request line and waits for its response.
func (t *StdioTransport) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}

	id := t.nextID
	t.nextID++

	req := mcpRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	ch := make(chan *mcpResponse, 1)
	t.pendingReqs[id] = ch

	data, err := json.Marshal(req)
	if err != nil {
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to write to stdin: %w", err)
	}
	t.mu.Unlock()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return resp, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// sendNotification writes a notification line without waiting.
func (t *StdioTransport) sendNotification(method string, params interface{}) {
	n := mcpNotification{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.stdin != nil {
		_, _ = t.stdin.Write(append(data, '\n'))
	}
	t.mu.Unlock()
}

// ListTools retrieves available tools from the server.
func (t *StdioTransport) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
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

// CallTool invokes a tool on the MCP server.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
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
func (t *StdioTransport) GetCapabilities(ctx context.Context) (*MCPCapabilities, error) {
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
func (t *StdioTransport) ServerInfo() MCPServerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.serverInfo
}

// Ping checks if the server is responsive.
func (t *StdioTransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	return err
}

// IsConnected returns current connection status.
func (t *StdioTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Ensure StdioTransport implements MCPTransport.
var _ MCPTransport = (*StdioTransport)(nil)
