package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcpharness/internal/logging"
)

// AdminServer exposes the mock's operational surface on a separate
// port: Prometheus metrics, recorded calls, rule state, and reset.
// Kept off the mock ports so admin traffic never trips a rule.
type AdminServer struct {
	mu       sync.Mutex
	addr     string
	rules    *RuleSet
	recorder *Recorder
	server   *http.Server
	listener net.Listener
	log      *logging.Logger
	started  bool
}

// NewAdminServer builds the admin endpoint over shared mock state.
func NewAdminServer(addr string, rules *RuleSet, recorder *Recorder) *AdminServer {
	return &AdminServer{
		addr:     addr,
		rules:    rules,
		recorder: recorder,
		log:      logging.Get(logging.CategoryMock),
	}
}

// Handler returns the admin mux. Exposed for tests.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/calls", s.handleCalls)
	mux.HandleFunc("/rules", s.handleRules)
	mux.HandleFunc("/reset", s.handleReset)
	return mux
}

// Start binds the listener and begins serving in a goroutine.
func (s *AdminServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{Handler: s.Handler()}
	s.started = true
	s.log.Info("admin server listening on %s", ln.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, usable after Start (supports ":0").
func (s *AdminServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting up to the context deadline.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.server.Shutdown(ctx)
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// handleCalls returns recorded traffic. ?unmatched=1 filters to calls
// no rule handled.
func (s *AdminServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.recorder.Calls()
	if r.URL.Query().Get("unmatched") == "1" {
		calls = s.recorder.Unmatched()
	}
	writeJSON(w, map[string]interface{}{
		"total": len(calls),
		"calls": calls,
	})
}

// handleRules returns the active rules plus per-rule hit counts.
func (s *AdminServer) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := s.rules.Rules()
	type ruleState struct {
		*Rule
		Hits int `json:"hits"`
	}
	out := make([]ruleState, 0, len(rules))
	for _, rl := range rules {
		out = append(out, ruleState{Rule: rl, Hits: s.rules.Hits(rl.Name)})
	}
	writeJSON(w, map[string]interface{}{
		"total": len(out),
		"rules": out,
	})
}

// handleReset clears recorded calls and match budgets. POST only.
func (s *AdminServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.recorder.Reset()
	s.rules.ResetHits()
	s.log.Info("recorder and rule budgets reset")
	writeJSON(w, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
