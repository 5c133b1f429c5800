package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mcpharness/internal/logging"
)

// SSETransport implements MCPTransport over Server-Sent Events: a GET
// stream delivers responses, calls go out as POSTs to the endpoint the
// server announces in its first event.
type SSETransport struct {
	mu sync.RWMutex

	baseURL    string
	postURL    string
	timeout    time.Duration
	client     *http.Client
	connected  bool
	serverInfo MCPServerInfo
	caps       *MCPCapabilities

	sseResp    *http.Response
	cancel     context.CancelFunc
	pending    map[int]chan *mcpResponse
	nextID     int
	initSignal chan struct{}
	initOnce   sync.Once
}

// NewSSETransport creates a new SSE transport.
func NewSSETransport(baseURL string, timeout time.Duration) *SSETransport {
	return &SSETransport{
		baseURL:    baseURL,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		pending:    make(map[int]chan *mcpResponse),
		nextID:     1,
		initSignal: make(chan struct{}),
	}
}

// Connect opens the event stream, waits for the endpoint event, and
// runs the initialize handshake.
func (t *SSETransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream must outlive the client timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to connect to SSE endpoint %s: %w", t.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.mu.Unlock()
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	t.sseResp = resp

	readCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.readLoop(readCtx, resp.Body)
	t.mu.Unlock()

	logging.Get(logging.CategoryMCP).Debug("SSE stream open to %s, waiting for endpoint", t.baseURL)

	select {
	case <-t.initSignal:
	case <-ctx.Done():
		t.Disconnect()
		return ctx.Err()
	case <-time.After(t.timeout):
		t.Disconnect()
		return fmt.Errorf("timeout waiting for endpoint event")
	}

	resp2, err := t.call(ctx, "initialize", initializeParams())
	if err != nil {
		t.Disconnect()
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp2.Result, &result); err != nil {
		t.Disconnect()
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}
	caps := parseCapabilities(result.Capabilities)

	t.mu.Lock()
	t.serverInfo = result.ServerInfo
	t.caps = &caps
	t.connected = true
	t.mu.Unlock()

	t.notify(ctx, "notifications/initialized", nil)

	logging.Get(logging.CategoryMCP).Info("SSE transport connected to %s (%s %s)",
		t.baseURL, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Disconnect closes the stream and unblocks pending callers.
func (t *SSETransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.sseResp != nil {
		t.sseResp.Body.Close()
		t.sseResp = nil
	}
	t.connected = false
	t.caps = nil

	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	return nil
}

// readLoop parses the event stream and dispatches messages.
func (t *SSETransport) readLoop(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	var eventType string
	var eventData bytes.Buffer

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			// Blank line ends the event.
			data := strings.TrimSuffix(eventData.String(), "\n")
			t.handleEvent(eventType, data)
			eventType = "message"
			eventData.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			eventData.WriteString(strings.TrimPrefix(line, "data: "))
			eventData.WriteByte('\n')
		case strings.HasPrefix(line, ":"):
			// Comment, ignore.
		}
	}

	if err := scanner.Err(); err != nil {
		logging.Get(logging.CategoryMCP).Warn("SSE read error: %v", err)
	}

	t.mu.Lock()
	if t.connected {
		t.connected = false
		logging.Get(logging.CategoryMCP).Warn("SSE connection lost")
	}
	t.mu.Unlock()
}

func (t *SSETransport) handleEvent(eventType, data string) {
	switch eventType {
	case "endpoint":
		t.mu.Lock()
		t.postURL = data
		t.mu.Unlock()
		t.initOnce.Do(func() {
			close(t.initSignal)
		})
		logging.Get(logging.CategoryMCP).Debug("SSE endpoint: %s", data)

	case "message":
		var resp mcpResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			logging.Get(logging.CategoryMCP).Warn("failed to unmarshal SSE message: %v", err)
			return
		}

		t.mu.RLock()
		ch, ok := t.pending[resp.ID]
		t.mu.RUnlock()

		if ok {
			select {
			case ch <- &resp:
			default:
			}
		} else {
			logging.Get(logging.CategoryMCP).Debug("unsolicited SSE message id %d", resp.ID)
		}

	default:
		logging.Get(logging.CategoryMCP).Debug("ignored SSE event type %q", eventType)
	}
}

// call POSTs a request to the announced endpoint and waits for the
// response to arrive on the stream.
func (t *SSETransport) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	ch := make(chan *mcpResponse, 1)
	t.pending[id] = ch
	postURL := t.postURL
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if postURL == "" {
		return nil, fmt.Errorf("no endpoint available")
	}

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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.resolveURL(postURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		data, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, string(data))
	}

	// The POST is only an acknowledgement. The JSON-RPC response
	// arrives over the event stream.
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return resp, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.timeout):
		return nil, fmt.Errorf("timeout waiting for response")
	}
}

// notify POSTs a notification to the endpoint without waiting for a
// stream reply.
func (t *SSETransport) notify(ctx context.Context, method string, params interface{}) {
	t.mu.RLock()
	postURL := t.postURL
	t.mu.RUnlock()
	if postURL == "" {
		return
	}

	n := mcpNotification{JSONRPC: "2.0", Method: method, Params: params}
	body, err := json.Marshal(n)
	if err != nil {
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.resolveURL(postURL), bytes.NewReader(body))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if resp, err := t.client.Do(httpReq); err == nil {
		resp.Body.Close()
	}
}

func (t *SSETransport) resolveURL(u string) string {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return u
	}
	ref, err := url.Parse(u)
	if err != nil {
		return u
	}
	return base.ResolveReference(ref).String()
}

// ListTools retrieves available tools from the server.
func (t *SSETransport) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
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
func (t *SSETransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPCallResult, error) {
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
func (t *SSETransport) GetCapabilities(ctx context.Context) (*MCPCapabilities, error) {
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
func (t *SSETransport) ServerInfo() MCPServerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.serverInfo
}

// Ping checks if the server is responsive.
func (t *SSETransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	return err
}

// IsConnected returns current connection status.
func (t *SSETransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Ensure SSETransport implements MCPTransport.
var _ MCPTransport = (*SSETransport)(nil)
