// Package mock implements scripted mock servers for integration runs: a
// JSON-RPC MCP server and a plain REST server, both driven by an ordered
// rule set with first-match-wins dispatch over wildcard glob patterns.
package mock

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Transport identifies which mock server intercepted a request.
type Transport string

const (
	TransportREST Transport = "rest"
	TransportMCP  Transport = "mcp"
)

var (
	// ErrNoMatch is returned when no rule matches a request.
	ErrNoMatch = errors.New("no rule matches request")
	// ErrDuplicateRule is returned when two rules share a name.
	ErrDuplicateRule = errors.New("duplicate rule name")
)

// Rule scripts one mock response. A rule is an MCP tool rule when Tool is
// set, a REST rule when Pattern is set. Rules are evaluated in declaration
// order and the first match wins.
type Rule struct {
	// Name identifies the rule in reports, logs, and verification.
	Name string `yaml:"name" json:"name"`

	// Method filters REST requests by HTTP method (empty = any).
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
	// Pattern is a glob matched against the URL path. Supports *, **, ?.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Tool is a glob matched against the MCP tool name. Supports *, ?.
	Tool string `yaml:"tool,omitempty" json:"tool,omitempty"`
	// Description is reported by tools/list for MCP rules.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// ArgumentSchema is a JSON schema applied to tool-call arguments.
	// Violations produce a JSON-RPC invalid-params error.
	ArgumentSchema map[string]interface{} `yaml:"argument_schema,omitempty" json:"argument_schema,omitempty"`

	// Status is the REST response status (default 200).
	Status int `yaml:"status,omitempty" json:"status,omitempty"`
	// Headers are added to REST responses.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// Body is the raw response payload. For MCP rules it becomes the
	// tool-call result; for REST rules the response body.
	Body string `yaml:"body,omitempty" json:"body,omitempty"`

	// DelayMs injects latency before responding.
	DelayMs int `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`
	// ErrorCode injects a JSON-RPC error for MCP rules (e.g. -32000).
	ErrorCode int `yaml:"error_code,omitempty" json:"error_code,omitempty"`
	// ErrorMessage accompanies ErrorCode.
	ErrorMessage string `yaml:"error_message,omitempty" json:"error_message,omitempty"`

	// Times limits how often the rule may match (0 = unlimited). An
	// exhausted rule is skipped and later rules get their chance.
	Times int `yaml:"times,omitempty" json:"times,omitempty"`
}

// IsMCP reports whether the rule targets the MCP mock server.
func (r *Rule) IsMCP() bool {
	return r.Tool != ""
}

// Validate checks a single rule for structural problems.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if r.Tool == "" && r.Pattern == "" {
		return fmt.Errorf("rule %q sets neither tool nor pattern", r.Name)
	}
	if r.Tool != "" && r.Pattern != "" {
		return fmt.Errorf("rule %q sets both tool and pattern", r.Name)
	}
	if r.Pattern != "" && !doublestar.ValidatePattern(r.Pattern) {
		return fmt.Errorf("rule %q has invalid pattern %q", r.Name, r.Pattern)
	}
	if r.Tool != "" && !doublestar.ValidatePattern(r.Tool) {
		return fmt.Errorf("rule %q has invalid tool glob %q", r.Name, r.Tool)
	}
	if r.Times < 0 {
		return fmt.Errorf("rule %q has negative times", r.Name)
	}
	if r.DelayMs < 0 {
		return fmt.Errorf("rule %q has negative delay_ms", r.Name)
	}
	if r.ErrorCode != 0 && r.Tool == "" {
		return fmt.Errorf("rule %q sets error_code but is not an MCP rule", r.Name)
	}
	return nil
}

// MatchRequest describes one intercepted request for rule dispatch.
type MatchRequest struct {
	Transport Transport
	Method    string // HTTP method, REST only
	Path      string // URL path, REST only
	Tool      string // tool name, MCP only
}

// RuleSet holds an ordered rule list and tracks per-rule match counts.
// Match is first-match-wins in declaration order. Safe for concurrent use.
type RuleSet struct {
	mu    sync.RWMutex
	rules []*Rule
	hits  map[string]int
}

// NewRuleSet validates the rules and builds a set preserving order.
func NewRuleSet(rules ...*Rule) (*RuleSet, error) {
	rs := &RuleSet{hits: make(map[string]int)}
	if err := rs.Replace(rules); err != nil {
		return nil, err
	}
	return rs, nil
}

// Replace atomically swaps in a new rule list. Match counts reset.
// The old list stays in place when validation fails.
func (rs *RuleSet) Replace(rules []*Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.Name)
		}
		seen[r.Name] = true
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = rules
	rs.hits = make(map[string]int)
	return nil
}

// Match finds the first rule matching the request, charging its Times
// budget. Returns false when nothing matches.
func (rs *RuleSet) Match(req MatchRequest) (*Rule, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, r := range rs.rules {
		if !ruleApplies(r, req) {
			continue
		}
		if r.Times > 0 && rs.hits[r.Name] >= r.Times {
			continue // Budget exhausted, later rules get their chance
		}
		rs.hits[r.Name]++
		return r, true
	}
	return nil, false
}

// ruleApplies checks transport, method, and glob without touching budgets.
func ruleApplies(r *Rule, req MatchRequest) bool {
	switch req.Transport {
	case TransportREST:
		if r.IsMCP() {
			return false
		}
		if r.Method != "" && !strings.EqualFold(r.Method, req.Method) {
			return false
		}
		ok, err := doublestar.Match(r.Pattern, req.Path)
		return err == nil && ok
	case TransportMCP:
		if !r.IsMCP() {
			return false
		}
		ok, err := doublestar.Match(r.Tool, req.Tool)
		return err == nil && ok
	default:
		return false
	}
}

// Rules returns a snapshot of the rule list in order.
func (rs *RuleSet) Rules() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// ToolRules returns the MCP rules in order, for tools/list.
func (rs *RuleSet) ToolRules() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var out []*Rule
	for _, r := range rs.rules {
		if r.IsMCP() {
			out = append(out, r)
		}
	}
	return out
}

// Hits returns how many times the named rule has matched.
func (rs *RuleSet) Hits(name string) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.hits[name]
}

// ResetHits clears all Times budgets and match counts.
func (rs *RuleSet) ResetHits() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.hits = make(map[string]int)
}

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}
