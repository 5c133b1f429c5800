package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"mcpharness/internal/logging"
)

// JSON-RPC error codes per the 2.0 spec, plus the injection range.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// protocolVersion is the MCP revision the mock speaks.
const protocolVersion = "2024-11-05"

// ServerInfo is reported to clients on initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// jsonrpcRequest is the wire shape of one incoming call. The ID is kept
// raw so string and numeric IDs echo back unchanged.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse is the wire shape of one outgoing reply.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// jsonrpcError carries a JSON-RPC error object.
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// toolCallParams is the params shape of tools/call.
type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// toolDescriptor is one entry in the tools/list result.
type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPServer is a scripted MCP server: a single JSON-RPC POST endpoint
// whose tools/call behavior comes from the rule set. It implements
// initialize, notifications/initialized, ping, tools/list, and
// tools/call; everything else gets method-not-found.
type MCPServer struct {
	mu       sync.RWMutex
	addr     string
	rules    *RuleSet
	recorder *Recorder
	info     ServerInfo
	server   *http.Server
	listener net.Listener
	log      *logging.Logger
	started  bool
}

// NewMCPServer builds a mock MCP server. The rule set and recorder are
// shared with whoever needs to inspect or reload them.
func NewMCPServer(addr string, rules *RuleSet, recorder *Recorder, info ServerInfo) *MCPServer {
	if info.Name == "" {
		info.Name = "mcpharness-mock"
	}
	if info.Version == "" {
		info.Version = "0.0.0"
	}
	return &MCPServer{
		addr:     addr,
		rules:    rules,
		recorder: recorder,
		info:     info,
		log:      logging.Get(logging.CategoryMock),
	}
}

// Start binds the listener and begins serving in a goroutine.
func (s *MCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mcp mock listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	s.server = &http.Server{Handler: mux}

	s.started = true
	activeRules.Set(float64(s.rules.Len()))
	s.log.Info("MCP mock server listening on %s (%d rules)", ln.Addr(), s.rules.Len())
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditMockStart,
		Target:    ln.Addr().String(),
		Success:   true,
	})

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("MCP mock server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, usable after Start (supports ":0").
func (s *MCPServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// URL returns the http base URL of the running server.
func (s *MCPServer) URL() string {
	return "http://" + s.Addr()
}

// Shutdown stops the server, waiting up to the context deadline.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditMockStop,
		Target:    s.addr,
		Success:   true,
	})
	return s.server.Shutdown(ctx)
}

// handleRPC serves the single JSON-RPC endpoint.
func (s *MCPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	defer func() {
		dispatchDuration.WithLabelValues(string(TransportMCP)).Observe(time.Since(start).Seconds())
	}()

	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeError).Inc()
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			Error:   &jsonrpcError{Code: codeParseError, Message: "parse error", Data: err.Error()},
		})
		return
	}
	if req.JSONRPC != "2.0" {
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeError).Inc()
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeInvalidRequest, Message: "invalid request: jsonrpc must be \"2.0\""},
		})
		return
	}

	s.log.Debug("rpc %s", req.Method)

	switch req.Method {
	case "initialize":
		s.writeResult(w, req, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{"listChanged": false},
			},
			"serverInfo": s.info,
		})

	case "notifications/initialized":
		// Notification: acknowledge without a body.
		w.WriteHeader(http.StatusAccepted)

	case "ping":
		s.writeResult(w, req, map[string]interface{}{})

	case "tools/list":
		s.writeResult(w, req, map[string]interface{}{"tools": s.listTools()})

	case "tools/call":
		s.handleToolCall(w, r, req)

	default:
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeMiss).Inc()
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)},
		})
	}
}

// listTools returns descriptors for MCP rules with concrete tool names.
// Rules whose tool field is a glob participate in dispatch but are not
// advertised, since a glob is not a callable name.
func (s *MCPServer) listTools() []toolDescriptor {
	emptySchema := json.RawMessage(`{"type":"object"}`)
	tools := []toolDescriptor{}
	for _, r := range s.rules.ToolRules() {
		if strings.ContainsAny(r.Tool, "*?[") {
			continue
		}
		desc := toolDescriptor{
			Name:        r.Tool,
			Description: r.Description,
			InputSchema: emptySchema,
		}
		if len(r.ArgumentSchema) > 0 {
			if raw, err := json.Marshal(r.ArgumentSchema); err == nil {
				desc.InputSchema = raw
			}
		}
		tools = append(tools, desc)
	}
	return tools
}

// handleToolCall dispatches tools/call through the rule set.
func (s *MCPServer) handleToolCall(w http.ResponseWriter, r *http.Request, req jsonrpcRequest) {
	started := time.Now()

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeError).Inc()
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()},
		})
		return
	}
	if params.Name == "" {
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeError).Inc()
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeInvalidParams, Message: "invalid params: missing tool name"},
		})
		return
	}

	rule, ok := s.rules.Match(MatchRequest{Transport: TransportMCP, Tool: params.Name})

	call := RecordedCall{
		Transport: TransportMCP,
		Method:    "tools/call",
		Tool:      params.Name,
		Args:      params.Arguments,
		Matched:   ok,
	}

	if !ok {
		call.LatencyMs = time.Since(started).Milliseconds()
		s.recorder.Record(call)
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeMiss).Inc()
		logging.Audit().RuleMiss("tools/call", params.Name)
		s.log.Warn("no rule for tool %s", params.Name)
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", params.Name)},
		})
		return
	}

	call.RuleName = rule.Name
	requestsTotal.WithLabelValues(string(TransportMCP), outcomeMatched).Inc()
	ruleMatchesTotal.WithLabelValues(rule.Name).Inc()
	logging.Audit().RuleMatch(rule.Name, "tools/call", params.Name)

	// Argument schema gate before any scripted behavior.
	violations, err := ValidateArguments(rule.ArgumentSchema, params.Arguments)
	if err != nil {
		call.LatencyMs = time.Since(started).Milliseconds()
		s.recorder.Record(call)
		requestsTotal.WithLabelValues(string(TransportMCP), outcomeError).Inc()
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeServerError, Message: "schema validation failed", Data: err.Error()},
		})
		return
	}
	if len(violations) > 0 {
		call.LatencyMs = time.Since(started).Milliseconds()
		s.recorder.Record(call)
		s.log.Debug("tool %s arguments rejected: %s", params.Name, FormatViolations(violations))
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &jsonrpcError{
				Code:    codeInvalidParams,
				Message: fmt.Sprintf("invalid arguments for tool %s", params.Name),
				Data:    violations,
			},
		})
		return
	}

	if rule.DelayMs > 0 {
		injectedFaults.WithLabelValues("delay").Inc()
		select {
		case <-time.After(time.Duration(rule.DelayMs) * time.Millisecond):
		case <-r.Context().Done():
			call.LatencyMs = time.Since(started).Milliseconds()
			s.recorder.Record(call)
			return // Client gone, nothing to write
		}
	}

	if rule.ErrorCode != 0 {
		injectedFaults.WithLabelValues("error").Inc()
		msg := rule.ErrorMessage
		if msg == "" {
			msg = "injected error"
		}
		call.LatencyMs = time.Since(started).Milliseconds()
		s.recorder.Record(call)
		logging.Audit().ToolCall(params.Name, call.LatencyMs, false, msg)
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: rule.ErrorCode, Message: msg},
		})
		return
	}

	call.LatencyMs = time.Since(started).Milliseconds()
	s.recorder.Record(call)
	logging.Audit().ToolCall(params.Name, call.LatencyMs, true, "")
	writeRPC(w, jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  toolResult(rule.Body),
	})
}

// toolResult renders a rule body as a tools/call result. A body that is
// valid JSON is used verbatim; anything else is wrapped in the standard
// text content envelope.
func toolResult(body string) json.RawMessage {
	trimmed := strings.TrimSpace(body)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	envelope := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": body},
		},
		"isError": false,
	}
	raw, _ := json.Marshal(envelope)
	return raw
}

// writeResult marshals a result payload into a JSON-RPC response.
func (s *MCPServer) writeResult(w http.ResponseWriter, req jsonrpcRequest, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeRPC(w, jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &jsonrpcError{Code: codeServerError, Message: "failed to marshal result"},
		})
		return
	}
	writeRPC(w, jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func writeRPC(w http.ResponseWriter, resp jsonrpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
