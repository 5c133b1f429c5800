// Package orchestrator schedules scenarios across browser agents,
// retries the flaky ones, and assembles the run report.
package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies what went wrong during a scenario attempt.
type ErrorCode string

const (
	ErrCodeBrowserLaunchFailed ErrorCode = "BROWSER_LAUNCH_FAILED"
	ErrCodeTargetNotReady      ErrorCode = "TARGET_NOT_READY"
	ErrCodeNavigationFailed    ErrorCode = "NAVIGATION_FAILED"
	ErrCodeSelectorNotFound    ErrorCode = "SELECTOR_NOT_FOUND"
	ErrCodeReplyTimeout        ErrorCode = "REPLY_TIMEOUT"
	ErrCodeToolCallFailed      ErrorCode = "TOOL_CALL_FAILED"
	ErrCodeVerificationFailed  ErrorCode = "VERIFICATION_FAILED"
	ErrCodeJudgeRejected       ErrorCode = "JUDGE_REJECTED"
	ErrCodeScenarioTimeout     ErrorCode = "SCENARIO_TIMEOUT"
	ErrCodeStepInvalid         ErrorCode = "STEP_INVALID"
)

// IsVerdict reports whether the code is a test outcome (the application
// under test misbehaved) rather than harness breakage. Verdict failures
// end a scenario as /failed, the rest as /error.
func (c ErrorCode) IsVerdict() bool {
	switch c {
	case ErrCodeSelectorNotFound, ErrCodeReplyTimeout, ErrCodeToolCallFailed,
		ErrCodeVerificationFailed, ErrCodeJudgeRejected, ErrCodeScenarioTimeout:
		return true
	}
	return false
}

// HarnessError is a structured scenario error.
type HarnessError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func (e *HarnessError) Error() string {
	return fmt.Sprintf("HarnessError[%s]: %s", e.Code, e.Message)
}

func (e *HarnessError) Unwrap() error {
	return e.Err
}

// Reason renders the error for a report's failure_reason field.
func (e *HarnessError) Reason() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBrowserLaunchFailedError creates a retryable browser error.
func NewBrowserLaunchFailedError(err error) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeBrowserLaunchFailed,
		Message:   "Browser page could not be created",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// NewTargetNotReadyError creates a non-retryable readiness error. The
// health poll already spent its own timeout budget.
func NewTargetNotReadyError(url string, err error) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeTargetNotReady,
		Message:   "Target application did not become ready",
		Details:   fmt.Sprintf("url: %s, error: %s", url, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// NewNavigationFailedError creates a retryable navigation error.
func NewNavigationFailedError(url string, err error) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeNavigationFailed,
		Message:   "Page navigation failed",
		Details:   fmt.Sprintf("url: %s, error: %s", url, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// NewSelectorNotFoundError creates a retryable element lookup error.
func NewSelectorNotFoundError(selector string, err error) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeSelectorNotFound,
		Message:   "Element did not appear",
		Details:   fmt.Sprintf("selector: %s, error: %s", selector, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// NewReplyTimeoutError creates a retryable reply timeout error.
func NewReplyTimeoutError(matcher string, timeout time.Duration) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeReplyTimeout,
		Message:   "No reply matched within the timeout",
		Details:   fmt.Sprintf("matcher: %s, timeout: %s", matcher, timeout),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolCallFailedError creates a retryable tool invocation error.
func NewToolCallFailedError(tool string, err error) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeToolCallFailed,
		Message:   "MCP tool call failed",
		Details:   fmt.Sprintf("tool: %s, error: %s", tool, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// NewVerificationFailedError creates a non-retryable assertion error.
func NewVerificationFailedError(details string) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeVerificationFailed,
		Message:   "Recorded traffic did not match the expectation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewJudgeRejectedError creates a non-retryable grading error.
func NewJudgeRejectedError(rationale string) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeJudgeRejected,
		Message:   "Reply did not satisfy the grading criteria",
		Details:   rationale,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScenarioTimeoutError creates a non-retryable deadline error.
// Re-running a scenario that blew its whole budget would double the
// run time for little signal.
func NewScenarioTimeoutError(timeout time.Duration) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeScenarioTimeout,
		Message:   "Scenario exceeded its time budget",
		Details:   fmt.Sprintf("timeout: %s", timeout),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStepInvalidError creates a non-retryable step definition error.
func NewStepInvalidError(details string) *HarnessError {
	return &HarnessError{
		Code:      ErrCodeStepInvalid,
		Message:   "Step definition is invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether another attempt could change the outcome.
// Errors without a code are treated as non-retryable.
func IsRetryable(err error) bool {
	var he *HarnessError
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}

// CodeOf extracts the error code, empty for uncoded errors.
func CodeOf(err error) ErrorCode {
	var he *HarnessError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// FailureReason renders any error for a report.
func FailureReason(err error) string {
	var he *HarnessError
	if errors.As(err, &he) {
		return he.Reason()
	}
	return err.Error()
}
