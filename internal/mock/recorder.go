package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// RecordedCall is one intercepted request as seen by a mock server.
type RecordedCall struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Transport Transport              `json:"transport"`
	Method    string                 `json:"method,omitempty"` // HTTP method or JSON-RPC method
	Path      string                 `json:"path,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	RuleName  string                 `json:"rule,omitempty"` // Empty when no rule matched
	Matched   bool                   `json:"matched"`
	Status    int                    `json:"status,omitempty"`
	LatencyMs int64                  `json:"latency_ms"`
}

// Recorder is a thread-safe log of intercepted calls shared by the mock
// servers. Scenarios verify expected traffic against it.
type Recorder struct {
	mu    sync.RWMutex
	calls []RecordedCall
	max   int // 0 = unlimited
}

// NewRecorder creates a recorder keeping at most max calls (0 = unlimited).
// When full, the oldest calls are dropped.
func NewRecorder(max int) *Recorder {
	return &Recorder{max: max}
}

// Record appends a call, assigning an ID and timestamp if unset.
func (rec *Recorder) Record(call RecordedCall) RecordedCall {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, call)
	if rec.max > 0 && len(rec.calls) > rec.max {
		overflow := len(rec.calls) - rec.max
		rec.calls = rec.calls[overflow:]
	}
	return call
}

// Calls returns a snapshot of all recorded calls in order.
func (rec *Recorder) Calls() []RecordedCall {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	out := make([]RecordedCall, len(rec.calls))
	copy(out, rec.calls)
	return out
}

// Len returns the number of recorded calls.
func (rec *Recorder) Len() int {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return len(rec.calls)
}

// Reset drops all recorded calls.
func (rec *Recorder) Reset() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = nil
}

// CallCount counts calls whose tool name or URL path matches the glob.
func (rec *Recorder) CallCount(pattern string) int {
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	n := 0
	for _, c := range rec.calls {
		if matchesCall(pattern, c) {
			n++
		}
	}
	return n
}

// RuleCount counts calls dispatched by the named rule.
func (rec *Recorder) RuleCount(ruleName string) int {
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	n := 0
	for _, c := range rec.calls {
		if c.RuleName == ruleName {
			n++
		}
	}
	return n
}

// Unmatched returns calls no rule matched.
func (rec *Recorder) Unmatched() []RecordedCall {
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	var out []RecordedCall
	for _, c := range rec.calls {
		if !c.Matched {
			out = append(out, c)
		}
	}
	return out
}

// VerifyCalled checks that calls matching the glob occurred at least min
// times. min <= 0 means at least once.
func (rec *Recorder) VerifyCalled(pattern string, min int) error {
	if min <= 0 {
		min = 1
	}
	got := rec.CallCount(pattern)
	if got < min {
		return fmt.Errorf("expected at least %d calls matching %q, got %d", min, pattern, got)
	}
	return nil
}

// VerifyCalledExactly checks that calls matching the glob occurred exactly
// n times.
func (rec *Recorder) VerifyCalledExactly(pattern string, n int) error {
	got := rec.CallCount(pattern)
	if got != n {
		return fmt.Errorf("expected exactly %d calls matching %q, got %d", n, pattern, got)
	}
	return nil
}

// VerifyNotCalled checks that no call matched the glob.
func (rec *Recorder) VerifyNotCalled(pattern string) error {
	got := rec.CallCount(pattern)
	if got != 0 {
		return fmt.Errorf("expected no calls matching %q, got %d", pattern, got)
	}
	return nil
}

func matchesCall(pattern string, c RecordedCall) bool {
	target := c.Tool
	if c.Transport == TransportREST {
		target = c.Path
	}
	ok, err := doublestar.Match(pattern, target)
	return err == nil && ok
}
