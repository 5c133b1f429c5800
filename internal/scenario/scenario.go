// Package scenario defines the YAML suite model the harness runs:
// ordered UI and MCP steps per scenario, text matchers for awaited
// replies, and the status atoms results are reported in.
package scenario

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status tracks a scenario through its run.
type Status string

const (
	StatusPending Status = "/pending" // Not started
	StatusRunning Status = "/running" // Currently executing
	StatusPassed  Status = "/passed"  // All steps succeeded
	StatusFailed  Status = "/failed"  // A step failed
	StatusSkipped Status = "/skipped" // Filtered out or marked skip
	StatusError   Status = "/error"   // Infrastructure error, not a test verdict
)

// IsTerminal reports whether the status is an end state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError:
		return true
	}
	return false
}

// StepType names one kind of scenario step.
type StepType string

const (
	StepNavigate    StepType = "navigate"     // Open a URL
	StepSend        StepType = "send"         // Type into the chat input and submit
	StepAwait       StepType = "await"        // Poll the transcript for a match
	StepClick       StepType = "click"        // Click a selector
	StepFill        StepType = "fill"         // Fill a selector with text
	StepScreenshot  StepType = "screenshot"   // Capture the page
	StepPause       StepType = "pause"        // Sleep
	StepCallTool    StepType = "call_tool"    // Invoke an MCP tool directly
	StepVerifyCalls StepType = "verify_calls" // Assert recorded mock traffic
)

// Suite is a YAML file of scenarios run together.
type Suite struct {
	Version     int        `yaml:"version"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	// BaseURL overrides the configured target for every navigate step
	// with a relative URL.
	BaseURL   string     `yaml:"base_url,omitempty"`
	Defaults  Defaults   `yaml:"defaults,omitempty"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Defaults apply to scenarios that leave the field zero.
type Defaults struct {
	TimeoutSec int      `yaml:"timeout_sec,omitempty"`
	Retries    int      `yaml:"retries,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`
}

// Scenario is one synthetic user journey.
type Scenario struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	TimeoutSec  int      `yaml:"timeout_sec,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	Skip        string   `yaml:"skip,omitempty"` // Non-empty = skip with this reason
	Steps       []Step   `yaml:"steps"`
}

// DisplayName returns the name, falling back to the ID.
func (s *Scenario) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// HasTag reports whether the scenario carries the tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Step is one action in a scenario. Which fields apply depends on Type.
type Step struct {
	Type StepType `yaml:"type"`

	// navigate
	URL string `yaml:"url,omitempty"`

	// send, fill
	Text string `yaml:"text,omitempty"`

	// click, fill
	Selector string `yaml:"selector,omitempty"`

	// await
	Match      Match `yaml:"match,omitempty"`
	TimeoutSec int   `yaml:"timeout_sec,omitempty"`
	PollMs     int   `yaml:"poll_ms,omitempty"`
	// Judge holds free-form grading criteria for the awaited reply,
	// evaluated by the LLM judge when one is configured.
	Judge string `yaml:"judge,omitempty"`

	// screenshot
	Path string `yaml:"path,omitempty"`

	// pause
	DurationMs int `yaml:"duration_ms,omitempty"`

	// call_tool
	Tool        string                 `yaml:"tool,omitempty"`
	Args        map[string]interface{} `yaml:"args,omitempty"`
	ExpectError bool                   `yaml:"expect_error,omitempty"`

	// verify_calls
	Pattern string `yaml:"pattern,omitempty"`
	Min     int    `yaml:"min,omitempty"`
	Exactly *int   `yaml:"exactly,omitempty"`
	None    bool   `yaml:"none,omitempty"`
}

// Timeout returns the await timeout with a fallback.
func (st *Step) Timeout(fallback time.Duration) time.Duration {
	if st.TimeoutSec > 0 {
		return time.Duration(st.TimeoutSec) * time.Second
	}
	return fallback
}

// Poll returns the await poll interval with a fallback.
func (st *Step) Poll(fallback time.Duration) time.Duration {
	if st.PollMs > 0 {
		return time.Duration(st.PollMs) * time.Millisecond
	}
	return fallback
}

// Target summarizes what the step acts on, for logs and reports.
func (st *Step) Target() string {
	switch st.Type {
	case StepNavigate:
		return st.URL
	case StepSend:
		return truncateText(st.Text, 60)
	case StepAwait:
		return st.Match.String()
	case StepClick, StepFill:
		return st.Selector
	case StepScreenshot:
		return st.Path
	case StepPause:
		return fmt.Sprintf("%dms", st.DurationMs)
	case StepCallTool:
		return st.Tool
	case StepVerifyCalls:
		return st.Pattern
	}
	return ""
}

// Match describes how an awaited reply is recognized. Exactly one of
// Contains, Regex, or Any must be set.
type Match struct {
	// Contains matches when the transcript contains the substring.
	Contains string `yaml:"contains,omitempty"`
	// Regex matches when the transcript matches the pattern.
	Regex string `yaml:"regex,omitempty"`
	// Any matches when the transcript contains any of the substrings.
	Any []string `yaml:"any,omitempty"`
}

// IsZero reports whether no matcher is set.
func (m Match) IsZero() bool {
	return m.Contains == "" && m.Regex == "" && len(m.Any) == 0
}

// String renders the matcher for logs.
func (m Match) String() string {
	switch {
	case m.Contains != "":
		return fmt.Sprintf("contains(%q)", m.Contains)
	case m.Regex != "":
		return fmt.Sprintf("regex(%q)", m.Regex)
	case len(m.Any) > 0:
		return fmt.Sprintf("any(%s)", strings.Join(m.Any, "|"))
	}
	return "none"
}

// Compile builds the predicate the agent polls with. Substring matches
// are case-insensitive; regex matches follow the pattern's own flags.
func (m Match) Compile() (func(string) bool, error) {
	set := 0
	if m.Contains != "" {
		set++
	}
	if m.Regex != "" {
		set++
	}
	if len(m.Any) > 0 {
		set++
	}
	if set == 0 {
		return nil, fmt.Errorf("match sets none of contains, regex, any")
	}
	if set > 1 {
		return nil, fmt.Errorf("match sets more than one of contains, regex, any")
	}

	switch {
	case m.Contains != "":
		needle := strings.ToLower(m.Contains)
		return func(text string) bool {
			return strings.Contains(strings.ToLower(text), needle)
		}, nil
	case m.Regex != "":
		re, err := regexp.Compile(m.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid match regex %q: %w", m.Regex, err)
		}
		return re.MatchString, nil
	default:
		needles := make([]string, len(m.Any))
		for i, s := range m.Any {
			needles[i] = strings.ToLower(s)
		}
		return func(text string) bool {
			lower := strings.ToLower(text)
			for _, n := range needles {
				if strings.Contains(lower, n) {
					return true
				}
			}
			return false
		}, nil
	}
}

// Validate checks the suite for structural problems before a run.
func (s *Suite) Validate() error {
	if s.Version > 1 {
		return fmt.Errorf("unsupported suite version %d", s.Version)
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("suite has no scenarios")
	}

	seen := make(map[string]bool, len(s.Scenarios))
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		if sc.ID == "" {
			return fmt.Errorf("scenario %d has no id", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true

		if len(sc.Steps) == 0 && sc.Skip == "" {
			return fmt.Errorf("scenario %q has no steps", sc.ID)
		}
		for j := range sc.Steps {
			if err := validateStep(&sc.Steps[j]); err != nil {
				return fmt.Errorf("scenario %q step %d: %w", sc.ID, j+1, err)
			}
		}
	}
	return nil
}

func validateStep(st *Step) error {
	switch st.Type {
	case StepNavigate:
		if st.URL == "" {
			return fmt.Errorf("navigate requires url")
		}
	case StepSend:
		if st.Text == "" {
			return fmt.Errorf("send requires text")
		}
	case StepAwait:
		if _, err := st.Match.Compile(); err != nil {
			return err
		}
	case StepClick:
		if st.Selector == "" {
			return fmt.Errorf("click requires selector")
		}
	case StepFill:
		if st.Selector == "" || st.Text == "" {
			return fmt.Errorf("fill requires selector and text")
		}
	case StepScreenshot:
		// Path is optional, the runner auto-names captures.
	case StepPause:
		if st.DurationMs <= 0 {
			return fmt.Errorf("pause requires positive duration_ms")
		}
	case StepCallTool:
		if st.Tool == "" {
			return fmt.Errorf("call_tool requires tool")
		}
	case StepVerifyCalls:
		if st.Pattern == "" {
			return fmt.Errorf("verify_calls requires pattern")
		}
		if st.None && (st.Min > 0 || st.Exactly != nil) {
			return fmt.Errorf("verify_calls none excludes min and exactly")
		}
		if st.Min < 0 {
			return fmt.Errorf("verify_calls min cannot be negative")
		}
	case "":
		return fmt.Errorf("step has no type")
	default:
		return fmt.Errorf("unknown step type %q", st.Type)
	}
	if st.Judge != "" && st.Type != StepAwait {
		return fmt.Errorf("judge criteria only apply to await steps")
	}
	return nil
}

// ApplyDefaults fills zero scenario fields from the suite defaults.
func (s *Suite) ApplyDefaults() {
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		if sc.TimeoutSec == 0 {
			sc.TimeoutSec = s.Defaults.TimeoutSec
		}
		if sc.Retries == 0 {
			sc.Retries = s.Defaults.Retries
		}
		if len(s.Defaults.Tags) > 0 {
			sc.Tags = mergeTags(s.Defaults.Tags, sc.Tags)
		}
	}
}

func mergeTags(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool)
	for _, t := range append(append([]string{}, base...), extra...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// FilterByTags returns the scenarios carrying at least one of the tags.
// An empty tag list selects everything.
func (s *Suite) FilterByTags(tags []string) []Scenario {
	if len(tags) == 0 {
		return s.Scenarios
	}
	var out []Scenario
	for _, sc := range s.Scenarios {
		for _, tag := range tags {
			if sc.HasTag(tag) {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}

func truncateText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
