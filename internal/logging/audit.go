// Audit logging for harness runs. Audit events are JSON lines written to a
// dedicated file so a finished run can be replayed or diffed without
// grepping category logs.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Run lifecycle
	AuditRunStart AuditEventType = "run_start"
	AuditRunEnd   AuditEventType = "run_end"

	// Scenario lifecycle
	AuditScenarioStart AuditEventType = "scenario_start"
	AuditScenarioRetry AuditEventType = "scenario_retry"
	AuditScenarioEnd   AuditEventType = "scenario_end"

	// Step execution
	AuditStepExec  AuditEventType = "step_exec"
	AuditStepError AuditEventType = "step_error"

	// Mock server lifecycle
	AuditMockStart  AuditEventType = "mock_start"
	AuditMockStop   AuditEventType = "mock_stop"
	AuditRuleMatch  AuditEventType = "rule_match"
	AuditRuleMiss   AuditEventType = "rule_miss"
	AuditRuleReload AuditEventType = "rule_reload"

	// MCP traffic
	AuditToolCall  AuditEventType = "tool_call"
	AuditToolError AuditEventType = "tool_error"

	// Agent activity
	AuditAgentNavigate AuditEventType = "agent_navigate"
	AuditAgentSend     AuditEventType = "agent_send"
	AuditAgentAwait    AuditEventType = "agent_await"

	// Reporting
	AuditReportWritten AuditEventType = "report_written"
	AuditJudgeEval     AuditEventType = "judge_eval"
)

// AuditEvent is one structured audit line.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat,omitempty"`
	RunID      string                 `json:"run,omitempty"`
	ScenarioID string                 `json:"scenario,omitempty"`
	Target     string                 `json:"target,omitempty"` // URL, tool name, rule name
	Action     string                 `json:"action,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging scoped to a run/scenario.
type AuditLogger struct {
	runID      string
	scenarioID string
	category   Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun creates an audit logger scoped to a run
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// AuditWithScenario creates an audit logger scoped to a run and scenario
func AuditWithScenario(runID, scenarioID string) *AuditLogger {
	return &AuditLogger{runID: runID, scenarioID: scenarioID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}
	if event.ScenarioID == "" && a.scenarioID != "" {
		event.ScenarioID = a.scenarioID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// RunStart logs the start of a harness run
func (a *AuditLogger) RunStart(runID, suiteName string, scenarioCount int) {
	a.Log(AuditEvent{
		EventType: AuditRunStart,
		RunID:     runID,
		Target:    suiteName,
		Success:   true,
		Fields:    map[string]interface{}{"scenarios": scenarioCount},
		Message:   fmt.Sprintf("Run started: %s suite=%s (%d scenarios)", runID, suiteName, scenarioCount),
	})
}

// RunEnd logs the end of a harness run
func (a *AuditLogger) RunEnd(runID string, passed, failed int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRunEnd,
		RunID:      runID,
		Success:    failed == 0,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"passed": passed, "failed": failed},
		Message:    fmt.Sprintf("Run ended: %s passed=%d failed=%d (%dms)", runID, passed, failed, durationMs),
	})
}

// ScenarioStart logs a scenario starting an attempt
func (a *AuditLogger) ScenarioStart(scenarioID string, attempt int) {
	a.Log(AuditEvent{
		EventType:  AuditScenarioStart,
		ScenarioID: scenarioID,
		Success:    true,
		Fields:     map[string]interface{}{"attempt": attempt},
		Message:    fmt.Sprintf("Scenario started: %s (attempt %d)", scenarioID, attempt),
	})
}

// ScenarioEnd logs a scenario finishing
func (a *AuditLogger) ScenarioEnd(scenarioID, status string, durationMs int64, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditScenarioEnd,
		ScenarioID: scenarioID,
		Success:    errMsg == "",
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"status": status},
		Message:    fmt.Sprintf("Scenario ended: %s status=%s (%dms)", scenarioID, status, durationMs),
	})
}

// StepExec logs a step execution
func (a *AuditLogger) StepExec(scenarioID, stepType, target string, durationMs int64, success bool, errMsg string) {
	eventType := AuditStepExec
	if !success {
		eventType = AuditStepError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		ScenarioID: scenarioID,
		Action:     stepType,
		Target:     target,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Step %s: %s (%dms, success=%v)", stepType, target, durationMs, success),
	})
}

// RuleMatch logs an intercepted request matching a rule
func (a *AuditLogger) RuleMatch(ruleName, method, target string) {
	a.Log(AuditEvent{
		EventType: AuditRuleMatch,
		Target:    target,
		Action:    method,
		Success:   true,
		Fields:    map[string]interface{}{"rule": ruleName},
		Message:   fmt.Sprintf("Rule match: %s %s -> %s", method, target, ruleName),
	})
}

// RuleMiss logs an intercepted request no rule matched
func (a *AuditLogger) RuleMiss(method, target string) {
	a.Log(AuditEvent{
		EventType: AuditRuleMiss,
		Target:    target,
		Action:    method,
		Success:   false,
		Message:   fmt.Sprintf("Rule miss: %s %s", method, target),
	})
}

// RuleReload logs a rule file reload
func (a *AuditLogger) RuleReload(path string, ruleCount int, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditRuleReload,
		Target:    path,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"rules": ruleCount},
		Message:   fmt.Sprintf("Rules reloaded: %s (%d rules, success=%v)", path, ruleCount, success),
	})
}

// ToolCall logs an MCP tool call through the mock or client
func (a *AuditLogger) ToolCall(tool string, durationMs int64, success bool, errMsg string) {
	eventType := AuditToolCall
	if !success {
		eventType = AuditToolError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     tool,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Tool call: %s (%dms, success=%v)", tool, durationMs, success),
	})
}

// AgentNavigate logs an agent navigation
func (a *AuditLogger) AgentNavigate(url string, durationMs int64, success bool) {
	a.Log(AuditEvent{
		EventType:  AuditAgentNavigate,
		Target:     url,
		Success:    success,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Navigate: %s (%dms)", url, durationMs),
	})
}

// AgentAwait logs an await-reply outcome
func (a *AuditLogger) AgentAwait(matcher string, durationMs int64, matched bool) {
	a.Log(AuditEvent{
		EventType:  AuditAgentAwait,
		Target:     matcher,
		Success:    matched,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Await %s: matched=%v (%dms)", matcher, matched, durationMs),
	})
}

// ReportWritten logs a report artifact being produced
func (a *AuditLogger) ReportWritten(format, path string) {
	a.Log(AuditEvent{
		EventType: AuditReportWritten,
		Target:    path,
		Action:    format,
		Success:   true,
		Message:   fmt.Sprintf("Report written: %s (%s)", path, format),
	})
}

// JudgeEval logs an LLM judge evaluation
func (a *AuditLogger) JudgeEval(scenarioID string, verdict string, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditJudgeEval,
		ScenarioID: scenarioID,
		Success:    verdict == "pass",
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"verdict": verdict},
		Message:    fmt.Sprintf("Judge: %s -> %s (%dms)", scenarioID, verdict, durationMs),
	})
}
