package mock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMCPServer(t *testing.T, rules ...*Rule) (*httptest.Server, *MCPServer) {
	t.Helper()
	rs, err := NewRuleSet(rules...)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	s := NewMCPServer("127.0.0.1:0", rs, NewRecorder(1000), ServerInfo{Name: "test-mock", Version: "1.0.0"})
	ts := httptest.NewServer(http.HandlerFunc(s.handleRPC))
	t.Cleanup(ts.Close)
	return ts, s
}

func postRPC(t *testing.T, url, body string) jsonrpcResponse {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var out jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestInitialize(t *testing.T) {
	ts, _ := newTestMCPServer(t)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"harness","version":"0.1.0"}}}`)
	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}

	var result struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, protocolVersion)
	}
	if result.ServerInfo.Name != "test-mock" {
		t.Errorf("serverInfo.name = %q", result.ServerInfo.Name)
	}
}

func TestPing(t *testing.T) {
	ts, _ := newTestMCPServer(t)
	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	if resp.Error != nil {
		t.Fatalf("ping error: %+v", resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
}

func TestNotificationAccepted(t *testing.T) {
	ts, _ := newTestMCPServer(t)
	resp, err := http.Post(ts.URL, "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestToolsList(t *testing.T) {
	ts, _ := newTestMCPServer(t,
		&Rule{Name: "weather", Tool: "get_weather", Description: "weather lookup",
			ArgumentSchema: map[string]interface{}{"type": "object"}},
		&Rule{Name: "wildcard", Tool: "search_*", Body: "{}"},
		&Rule{Name: "rest", Pattern: "/api/*"},
	)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.Error != nil {
		t.Fatalf("tools/list error: %+v", resp.Error)
	}

	var result struct {
		Tools []toolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Glob and REST rules are dispatch-only, not advertised.
	if len(result.Tools) != 1 {
		t.Fatalf("got %d tools, want 1: %+v", len(result.Tools), result.Tools)
	}
	if result.Tools[0].Name != "get_weather" || result.Tools[0].Description != "weather lookup" {
		t.Errorf("tool = %+v", result.Tools[0])
	}
	if len(result.Tools[0].InputSchema) == 0 {
		t.Error("inputSchema missing")
	}
}

func TestToolCallJSONBody(t *testing.T) {
	ts, s := newTestMCPServer(t,
		&Rule{Name: "weather", Tool: "get_weather", Body: `{"temp_c": 21}`},
	)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Oslo"}}}`)
	if resp.Error != nil {
		t.Fatalf("tools/call error: %+v", resp.Error)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result["temp_c"] != float64(21) {
		t.Errorf("result = %v", result)
	}

	calls := s.recorder.Calls()
	if len(calls) != 1 || !calls[0].Matched || calls[0].RuleName != "weather" {
		t.Fatalf("recorded = %+v", calls)
	}
	if calls[0].Args["city"] != "Oslo" {
		t.Errorf("recorded args = %v", calls[0].Args)
	}
}

func TestToolCallTextBodyEnvelope(t *testing.T) {
	ts, _ := newTestMCPServer(t,
		&Rule{Name: "greet", Tool: "greet", Body: "hello there"},
	)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"greet"}}`)
	if resp.Error != nil {
		t.Fatalf("tools/call error: %+v", resp.Error)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello there" {
		t.Fatalf("content = %+v", result.Content)
	}
}

func TestToolCallSchemaViolation(t *testing.T) {
	ts, _ := newTestMCPServer(t,
		&Rule{Name: "weather", Tool: "get_weather", Body: "{}",
			ArgumentSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"city"},
				"properties": map[string]interface{}{
					"city": map[string]interface{}{"type": "string"},
				},
			}},
	)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get_weather","arguments":{}}}`)
	if resp.Error == nil {
		t.Fatal("schema violation accepted")
	}
	if resp.Error.Code != codeInvalidParams {
		t.Errorf("code = %d, want %d", resp.Error.Code, codeInvalidParams)
	}
	data := fmt.Sprintf("%v", resp.Error.Data)
	if !strings.Contains(data, "city") {
		t.Errorf("error data %q does not name the violating field", data)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	ts, s := newTestMCPServer(t,
		&Rule{Name: "weather", Tool: "get_weather", Body: "{}"},
	)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"launch_rockets"}}`)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "launch_rockets") {
		t.Errorf("message %q does not name the tool", resp.Error.Message)
	}

	unmatched := s.recorder.Unmatched()
	if len(unmatched) != 1 || unmatched[0].Tool != "launch_rockets" {
		t.Fatalf("unmatched = %+v", unmatched)
	}
}

func TestToolCallInjectedError(t *testing.T) {
	ts, _ := newTestMCPServer(t,
		&Rule{Name: "broken", Tool: "flaky_tool", ErrorCode: -32000, ErrorMessage: "backend unavailable"},
	)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"flaky_tool"}}`)
	if resp.Error == nil {
		t.Fatal("injected error missing")
	}
	if resp.Error.Code != -32000 || resp.Error.Message != "backend unavailable" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestToolCallTimesBudgetOnWire(t *testing.T) {
	ts, _ := newTestMCPServer(t,
		&Rule{Name: "fail-once", Tool: "fetch", ErrorCode: -32000, ErrorMessage: "transient", Times: 1},
		&Rule{Name: "then-ok", Tool: "fetch", Body: `{"ok":true}`},
	)

	first := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fetch"}}`)
	if first.Error == nil || first.Error.Message != "transient" {
		t.Fatalf("first call = %+v, want injected error", first.Error)
	}
	second := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fetch"}}`)
	if second.Error != nil {
		t.Fatalf("second call errored: %+v", second.Error)
	}
}

func TestParseError(t *testing.T) {
	ts, _ := newTestMCPServer(t)
	resp := postRPC(t, ts.URL, `{not json`)
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("error = %+v, want parse error", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	ts, _ := newTestMCPServer(t)
	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want method not found", resp.Error)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	ts, _ := newTestMCPServer(t)
	resp := postRPC(t, ts.URL, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("error = %+v, want invalid request", resp.Error)
	}
}

func TestServerLifecycle(t *testing.T) {
	rs, err := NewRuleSet(&Rule{Name: "t", Tool: "t", Body: "{}"})
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	s := NewMCPServer("127.0.0.1:0", rs, NewRecorder(10), ServerInfo{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := shutdownContext(t)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	resp := postRPC(t, s.URL(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if resp.Error != nil {
		t.Fatalf("ping over live server: %+v", resp.Error)
	}
}
