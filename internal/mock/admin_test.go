package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func shutdownContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func newTestAdmin(t *testing.T) (*httptest.Server, *RuleSet, *Recorder) {
	t.Helper()
	rs, err := NewRuleSet(
		&Rule{Name: "weather", Tool: "get_weather", Body: "{}", Times: 1},
	)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	rec := NewRecorder(100)
	admin := NewAdminServer("127.0.0.1:0", rs, rec)
	ts := httptest.NewServer(admin.Handler())
	t.Cleanup(ts.Close)
	return ts, rs, rec
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestAdmin(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestAdmin(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestCallsEndpoint(t *testing.T) {
	ts, _, rec := newTestAdmin(t)
	rec.Record(RecordedCall{Transport: TransportMCP, Tool: "get_weather", RuleName: "weather", Matched: true})
	rec.Record(RecordedCall{Transport: TransportMCP, Tool: "mystery", Matched: false})

	resp, err := http.Get(ts.URL + "/calls")
	if err != nil {
		t.Fatalf("GET /calls: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Total int            `json:"total"`
		Calls []RecordedCall `json:"calls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 2 {
		t.Fatalf("total = %d, want 2", out.Total)
	}

	resp2, err := http.Get(ts.URL + "/calls?unmatched=1")
	if err != nil {
		t.Fatalf("GET /calls?unmatched=1: %v", err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 1 || out.Calls[0].Tool != "mystery" {
		t.Fatalf("unmatched = %+v", out)
	}
}

func TestRulesEndpoint(t *testing.T) {
	ts, rs, _ := newTestAdmin(t)
	rs.Match(MatchRequest{Transport: TransportMCP, Tool: "get_weather"})

	resp, err := http.Get(ts.URL + "/rules")
	if err != nil {
		t.Fatalf("GET /rules: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Total int `json:"total"`
		Rules []struct {
			Name string `json:"name"`
			Hits int    `json:"hits"`
		} `json:"rules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 1 || out.Rules[0].Name != "weather" || out.Rules[0].Hits != 1 {
		t.Fatalf("rules = %+v", out)
	}
}

func TestResetEndpoint(t *testing.T) {
	ts, rs, rec := newTestAdmin(t)
	rec.Record(RecordedCall{Tool: "get_weather"})
	rs.Match(MatchRequest{Transport: TransportMCP, Tool: "get_weather"})

	// GET is rejected, reset is a mutation.
	resp, err := http.Get(ts.URL + "/reset")
	if err != nil {
		t.Fatalf("GET /reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /reset status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /reset status = %d", resp.StatusCode)
	}

	if rec.Len() != 0 {
		t.Error("recorder not cleared")
	}
	if rs.Hits("weather") != 0 {
		t.Error("rule budgets not cleared")
	}
	// Times budget is available again after reset.
	if _, ok := rs.Match(MatchRequest{Transport: TransportMCP, Tool: "get_weather"}); !ok {
		t.Error("rule budget not restored")
	}
}
