package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorCodeIsVerdict(t *testing.T) {
	verdicts := []ErrorCode{
		ErrCodeSelectorNotFound,
		ErrCodeReplyTimeout,
		ErrCodeToolCallFailed,
		ErrCodeVerificationFailed,
		ErrCodeJudgeRejected,
		ErrCodeScenarioTimeout,
	}
	for _, code := range verdicts {
		if !code.IsVerdict() {
			t.Errorf("%s should be a verdict", code)
		}
	}

	infra := []ErrorCode{
		ErrCodeBrowserLaunchFailed,
		ErrCodeTargetNotReady,
		ErrCodeNavigationFailed,
		ErrCodeStepInvalid,
		ErrorCode(""),
	}
	for _, code := range infra {
		if code.IsVerdict() {
			t.Errorf("%s should not be a verdict", code)
		}
	}
}

func TestConstructorRetryability(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		err       *HarnessError
		retryable bool
	}{
		{NewBrowserLaunchFailedError(cause), true},
		{NewTargetNotReadyError("http://x/healthz", cause), false},
		{NewNavigationFailedError("http://x/", cause), true},
		{NewSelectorNotFoundError("#input", cause), true},
		{NewReplyTimeoutError("contains(\"ok\")", 5*time.Second), true},
		{NewToolCallFailedError("get_weather", cause), true},
		{NewVerificationFailedError("called 0 times"), false},
		{NewJudgeRejectedError("reply is an apology"), false},
		{NewScenarioTimeoutError(time.Minute), false},
		{NewStepInvalidError("no type"), false},
	}
	for _, tc := range cases {
		if tc.err.Retryable != tc.retryable {
			t.Errorf("%s: Retryable = %v, want %v", tc.err.Code, tc.err.Retryable, tc.retryable)
		}
		if !IsRetryable(tc.err) && tc.retryable {
			t.Errorf("%s: IsRetryable disagrees with the field", tc.err.Code)
		}
	}
}

func TestIsRetryableThroughWrapping(t *testing.T) {
	inner := NewReplyTimeoutError("regex(\"done\")", time.Second)
	wrapped := fmt.Errorf("attempt 1: %w", inner)

	if !IsRetryable(wrapped) {
		t.Error("wrapping should preserve retryability")
	}
	if CodeOf(wrapped) != ErrCodeReplyTimeout {
		t.Errorf("CodeOf = %s, want %s", CodeOf(wrapped), ErrCodeReplyTimeout)
	}
}

func TestIsRetryablePlainError(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Error("uncoded errors must not be retried")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf should be empty for uncoded errors")
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	he := NewToolCallFailedError("fetch", cause)
	if !errors.Is(he, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestFailureReasonFormats(t *testing.T) {
	he := NewVerificationFailedError("pattern get_* matched 0 calls, want >= 1")
	reason := FailureReason(he)
	if !strings.Contains(reason, "VERIFICATION_FAILED") {
		t.Errorf("reason %q should carry the code", reason)
	}
	if !strings.Contains(reason, "matched 0 calls") {
		t.Errorf("reason %q should carry the details", reason)
	}

	plain := FailureReason(errors.New("plain failure"))
	if plain != "plain failure" {
		t.Errorf("plain reason = %q", plain)
	}
}

func TestErrorStringNamesCode(t *testing.T) {
	he := NewJudgeRejectedError("too vague")
	if !strings.Contains(he.Error(), "JUDGE_REJECTED") {
		t.Errorf("Error() = %q, want the code in it", he.Error())
	}
}
