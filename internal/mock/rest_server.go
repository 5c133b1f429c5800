package mock

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"mcpharness/internal/logging"
)

// RESTServer is a scripted plain-HTTP server. Every request is matched
// against the REST rules; the first match scripts the response, a miss
// returns 404. All traffic lands in the recorder either way.
type RESTServer struct {
	mu       sync.Mutex
	addr     string
	rules    *RuleSet
	recorder *Recorder
	server   *http.Server
	listener net.Listener
	log      *logging.Logger
	started  bool
}

// NewRESTServer builds a mock REST server sharing the rule set and
// recorder with the MCP mock.
func NewRESTServer(addr string, rules *RuleSet, recorder *Recorder) *RESTServer {
	return &RESTServer{
		addr:     addr,
		rules:    rules,
		recorder: recorder,
		log:      logging.Get(logging.CategoryMock),
	}
}

// Start binds the listener and begins serving in a goroutine.
func (s *RESTServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rest mock listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{Handler: http.HandlerFunc(s.handle)}
	s.started = true
	s.log.Info("REST mock server listening on %s", ln.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("REST mock server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, usable after Start (supports ":0").
func (s *RESTServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// URL returns the http base URL of the running server.
func (s *RESTServer) URL() string {
	return "http://" + s.Addr()
}

// Shutdown stops the server, waiting up to the context deadline.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.server.Shutdown(ctx)
}

func (s *RESTServer) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() {
		dispatchDuration.WithLabelValues(string(TransportREST)).Observe(time.Since(started).Seconds())
	}()

	rule, ok := s.rules.Match(MatchRequest{
		Transport: TransportREST,
		Method:    r.Method,
		Path:      r.URL.Path,
	})

	call := RecordedCall{
		Transport: TransportREST,
		Method:    r.Method,
		Path:      r.URL.Path,
		Matched:   ok,
	}

	if !ok {
		call.Status = http.StatusNotFound
		call.LatencyMs = time.Since(started).Milliseconds()
		s.recorder.Record(call)
		requestsTotal.WithLabelValues(string(TransportREST), outcomeMiss).Inc()
		logging.Audit().RuleMiss(r.Method, r.URL.Path)
		s.log.Warn("no rule for %s %s", r.Method, r.URL.Path)
		http.Error(w, fmt.Sprintf("no rule matches %s %s", r.Method, r.URL.Path), http.StatusNotFound)
		return
	}

	requestsTotal.WithLabelValues(string(TransportREST), outcomeMatched).Inc()
	ruleMatchesTotal.WithLabelValues(rule.Name).Inc()
	logging.Audit().RuleMatch(rule.Name, r.Method, r.URL.Path)

	if rule.DelayMs > 0 {
		injectedFaults.WithLabelValues("delay").Inc()
		select {
		case <-time.After(time.Duration(rule.DelayMs) * time.Millisecond):
		case <-r.Context().Done():
			call.RuleName = rule.Name
			call.LatencyMs = time.Since(started).Milliseconds()
			s.recorder.Record(call)
			return
		}
	}

	status := rule.Status
	if status == 0 {
		status = http.StatusOK
	}

	call.RuleName = rule.Name
	call.Status = status
	call.LatencyMs = time.Since(started).Milliseconds()
	s.recorder.Record(call)

	for k, v := range rule.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if rule.Body != "" {
		fmt.Fprint(w, rule.Body)
	}
}
