package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mcpharness/internal/agent"
	"mcpharness/internal/config"
	"mcpharness/internal/logging"
	"mcpharness/internal/mcp"
	"mcpharness/internal/report"
	"mcpharness/internal/scenario"
)

// execState carries per-attempt context between steps: the agent, the
// last message sent (judge context), and the last transcript seen
// (failure evidence).
type execState struct {
	agent          *agent.ChatAgent
	lastSent       string
	lastTranscript string
}

// attemptDiag is what gets captured at the moment an attempt fails.
type attemptDiag struct {
	Screenshot string
	Findings   []agent.Finding
	Transcript string
}

// runScenario drives one scenario through its attempts and returns the
// final result. Issues for the failure are recorded on the runner.
func (r *Runner) runScenario(ctx context.Context, sc *scenario.Scenario) report.ScenarioResult {
	if sc.Skip != "" {
		logging.Orchestrator("skip %s: %s", sc.ID, sc.Skip)
		logging.Audit().ScenarioEnd(sc.ID, string(scenario.StatusSkipped), 0, sc.Skip)
		return report.ScenarioResult{
			ScenarioID: sc.ID, Name: sc.DisplayName(),
			Status: scenario.StatusSkipped, FailureReason: sc.Skip,
		}
	}
	if r.stop.Load() {
		return report.ScenarioResult{
			ScenarioID: sc.ID, Name: sc.DisplayName(),
			Status: scenario.StatusSkipped, FailureReason: "skipped by fail-fast",
		}
	}
	if ctx.Err() != nil {
		return report.ScenarioResult{
			ScenarioID: sc.ID, Name: sc.DisplayName(),
			Status: scenario.StatusSkipped, FailureReason: "run cancelled",
		}
	}

	retries := sc.Retries
	if retries == 0 {
		retries = r.cfg.Run.DefaultRetries
	}
	timeout := r.cfg.GetDefaultScenarioTimeout()
	if sc.TimeoutSec > 0 {
		timeout = time.Duration(sc.TimeoutSec) * time.Second
	}

	scStart := time.Now()
	var steps []report.StepResult
	var diag *attemptDiag
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= retries+1; attempt++ {
		attempts = attempt
		logging.Audit().ScenarioStart(sc.ID, attempt)
		if r.progress.OnScenarioStart != nil {
			r.progress.OnScenarioStart(sc, attempt)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		steps, diag, lastErr = r.attempt(attemptCtx, sc, attempt)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if lastErr == nil {
			res := report.ScenarioResult{
				ScenarioID: sc.ID, Name: sc.DisplayName(),
				Status: scenario.StatusPassed, Attempts: attempts,
				DurationMs: time.Since(scStart).Milliseconds(), Steps: steps,
			}
			logging.Audit().ScenarioEnd(sc.ID, string(res.Status), res.DurationMs, "")
			return res
		}

		// The scenario deadline overrides whatever step error it
		// provoked on the way down.
		if timedOut {
			lastErr = NewScenarioTimeoutError(timeout)
		}

		if attempt <= retries && IsRetryable(lastErr) && ctx.Err() == nil && !r.stop.Load() {
			delay := backoffDelay(r.cfg.GetRetryBackoffBase(), r.cfg.GetRetryBackoffCap(), attempt)
			logging.OrchestratorWarn("scenario %s attempt %d failed (%v), retrying in %s",
				sc.ID, attempt, lastErr, delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		break
	}

	status := scenario.StatusError
	code := CodeOf(lastErr)
	if code.IsVerdict() {
		status = scenario.StatusFailed
	}
	reason := FailureReason(lastErr)
	cancelled := code == "" && (errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded))
	if cancelled {
		reason = "run cancelled"
	}

	res := report.ScenarioResult{
		ScenarioID: sc.ID, Name: sc.DisplayName(),
		Status: status, Attempts: attempts,
		DurationMs: time.Since(scStart).Milliseconds(),
		Steps:      steps, FailureReason: reason,
	}
	logging.Audit().ScenarioEnd(sc.ID, string(status), res.DurationMs, reason)
	logging.OrchestratorError("scenario %s %s after %d attempt(s): %s", sc.ID, status, attempts, reason)

	// A cancelled scenario is not a finding about the target.
	if !cancelled {
		r.raiseIssues(sc, code, lastErr, diag)
	}
	return res
}

// attempt runs every step once. On the first failing step it captures
// diagnostics while the page is still alive, then returns.
func (r *Runner) attempt(ctx context.Context, sc *scenario.Scenario, attemptNo int) ([]report.StepResult, *attemptDiag, error) {
	es := &execState{}

	if scenarioNeedsBrowser(sc) {
		ag, err := r.browser.NewAgent(ctx, sc.ID)
		if err != nil {
			return nil, nil, NewBrowserLaunchFailedError(err)
		}
		defer func() { _ = ag.Close() }()
		es.agent = ag
	}

	var steps []report.StepResult
	for i := range sc.Steps {
		st := &sc.Steps[i]
		stepStart := time.Now()
		err := r.execStep(ctx, es, sc, st, i)

		rec := report.StepResult{
			Index:      i,
			Type:       string(st.Type),
			Target:     st.Target(),
			DurationMs: time.Since(stepStart).Milliseconds(),
		}
		if err != nil {
			rec.Error = FailureReason(err)
		}
		steps = append(steps, rec)
		logging.Audit().StepExec(sc.ID, string(st.Type), st.Target(), rec.DurationMs, err == nil, rec.Error)

		if err != nil {
			return steps, r.collectDiag(sc, es, attemptNo), err
		}
	}
	return steps, nil, nil
}

// collectDiag grabs a screenshot and scans for error banners after a
// failed step. It runs on a fresh context since the attempt's may
// already be expired.
func (r *Runner) collectDiag(sc *scenario.Scenario, es *execState, attemptNo int) *attemptDiag {
	diag := &attemptDiag{Transcript: es.lastTranscript}
	if es.agent == nil {
		return diag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.cfg.Agent.ScreenshotOnFailure {
		name := fmt.Sprintf("%s-attempt%d.png", sc.ID, attemptNo)
		path := filepath.Join(r.screenshotDir(), name)
		if p, err := es.agent.Screenshot(ctx, path); err == nil {
			diag.Screenshot = p
		} else {
			logging.OrchestratorDebug("failure screenshot for %s: %v", sc.ID, err)
		}
	}
	diag.Findings = es.agent.ScanForErrors(ctx)
	return diag
}

func (r *Runner) screenshotDir() string {
	return filepath.Join(config.HarnessDir(r.workspace), "screenshots", r.runID)
}

// raiseIssues converts a final scenario failure plus its diagnostics
// into report issues.
func (r *Runner) raiseIssues(sc *scenario.Scenario, code ErrorCode, err error, diag *attemptDiag) {
	sev := report.SeverityCritical
	category := "infrastructure"
	if code.IsVerdict() {
		sev = report.SeverityHigh
		category = "assertion"
		if code == ErrCodeReplyTimeout || code == ErrCodeScenarioTimeout {
			category = "timeout"
		}
	}

	message := err.Error()
	evidence := ""
	var he *HarnessError
	if errors.As(err, &he) {
		message = he.Message
		evidence = he.Details
	}

	is := report.NewIssue(sc.ID, sev, category, message)
	is.Evidence = evidence
	if diag != nil {
		if diag.Transcript != "" && r.cfg.Report.IncludeTranscripts {
			is.Evidence = tail(diag.Transcript, 500)
		}
		is.Screenshot = diag.Screenshot
	}
	issues := []report.Issue{is}

	if diag != nil {
		for _, f := range diag.Findings {
			fi := report.NewIssue(sc.ID, report.SeverityFromConfidence(f.Confidence), "ui-error", findingMessage(f))
			fi.Evidence = strings.Join(f.Reasons, "; ")
			fi.Screenshot = diag.Screenshot
			issues = append(issues, fi)
		}
	}
	r.addIssues(issues...)
}

func findingMessage(f agent.Finding) string {
	if f.Text != "" {
		return fmt.Sprintf("error banner: %s", f.Text)
	}
	return fmt.Sprintf("error banner matches %s", f.Selector)
}

// execStep dispatches one step.
func (r *Runner) execStep(ctx context.Context, es *execState, sc *scenario.Scenario, st *scenario.Step, idx int) error {
	switch st.Type {
	case scenario.StepNavigate:
		url := r.resolveURL(st.URL)
		if err := es.agent.Navigate(ctx, url); err != nil {
			return NewNavigationFailedError(url, err)
		}

	case scenario.StepSend:
		if err := es.agent.SendMessage(ctx, st.Text); err != nil {
			return NewSelectorNotFoundError(r.cfg.Agent.Selectors.Input, err)
		}
		es.lastSent = st.Text

	case scenario.StepAwait:
		return r.execAwait(ctx, es, sc, st)

	case scenario.StepClick:
		if err := es.agent.Click(ctx, st.Selector); err != nil {
			return NewSelectorNotFoundError(st.Selector, err)
		}

	case scenario.StepFill:
		if err := es.agent.Fill(ctx, st.Selector, st.Text); err != nil {
			return NewSelectorNotFoundError(st.Selector, err)
		}

	case scenario.StepScreenshot:
		path := st.Path
		if path == "" {
			path = filepath.Join(r.screenshotDir(), fmt.Sprintf("%s-step%d.png", sc.ID, idx+1))
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(r.workspace, path)
		}
		if _, err := es.agent.Screenshot(ctx, path); err != nil {
			return fmt.Errorf("screenshot %s: %w", path, err)
		}

	case scenario.StepPause:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(st.DurationMs) * time.Millisecond):
		}

	case scenario.StepCallTool:
		return r.execCallTool(ctx, sc, st)

	case scenario.StepVerifyCalls:
		return r.execVerifyCalls(st)

	default:
		return NewStepInvalidError(fmt.Sprintf("unknown step type %q", st.Type))
	}
	return nil
}

// execAwait polls the transcript for a match, then grades the reply
// when the step carries criteria and a grader is available.
func (r *Runner) execAwait(ctx context.Context, es *execState, sc *scenario.Scenario, st *scenario.Step) error {
	matcher, err := st.Match.Compile()
	if err != nil {
		return NewStepInvalidError(err.Error())
	}

	timeout := st.Timeout(r.cfg.GetReplyTimeout())
	text, err := es.agent.AwaitReply(ctx, matcher, st.Match.String(), st.Poll(r.cfg.GetPollInterval()), timeout)
	es.lastTranscript = text
	if err != nil {
		return NewReplyTimeoutError(st.Match.String(), timeout)
	}

	if st.Judge == "" {
		return nil
	}
	if r.grader == nil {
		logging.OrchestratorDebug("scenario %s: judge criteria set but no grader configured", sc.ID)
		return nil
	}
	return r.gradeReply(ctx, sc, st, es, text)
}

// gradeReply asks the judge about the reply. Grader failures degrade to
// a warning so the run never depends on the grading API being up.
func (r *Runner) gradeReply(ctx context.Context, sc *scenario.Scenario, st *scenario.Step, es *execState, reply string) error {
	jctx, cancel := context.WithTimeout(ctx, r.cfg.GetJudgeTimeout())
	defer cancel()

	verdict, err := r.grader.Grade(jctx, sc.ID, st.Judge, es.lastSent, tail(reply, 2000))
	if err != nil {
		logging.OrchestratorWarn("scenario %s: judge unavailable, grading skipped: %v", sc.ID, err)
		return nil
	}
	if !verdict.Pass {
		return NewJudgeRejectedError(verdict.Rationale)
	}
	return nil
}

// execCallTool invokes an MCP tool directly, against the mock server
// when one is running, otherwise against target.mcp_url.
func (r *Runner) execCallTool(ctx context.Context, sc *scenario.Scenario, st *scenario.Step) error {
	endpoint := r.toolEndpoint()
	if endpoint == "" {
		return NewStepInvalidError("call_tool needs the mock MCP server or target.mcp_url")
	}

	client, err := mcp.NewClient(mcp.MCPServerSpec{
		ID:       sc.ID,
		Protocol: string(mcp.ProtocolHTTP),
		BaseURL:  endpoint,
	})
	if err != nil {
		return NewToolCallFailedError(st.Tool, err)
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return NewToolCallFailedError(st.Tool, err)
	}
	res, err := client.CallTool(ctx, st.Tool, st.Args)
	if err != nil {
		return NewToolCallFailedError(st.Tool, err)
	}

	if st.ExpectError && res.Success {
		return NewVerificationFailedError(fmt.Sprintf("tool %s succeeded but an error was expected", st.Tool))
	}
	if !st.ExpectError && !res.Success {
		return NewToolCallFailedError(st.Tool, fmt.Errorf("%s (code %d)", res.Error, res.ErrorCode))
	}
	return nil
}

func (r *Runner) toolEndpoint() string {
	if r.mcpSrv != nil {
		return r.mcpSrv.URL()
	}
	return r.cfg.Target.MCPURL
}

// execVerifyCalls asserts on the mock recorder's traffic.
func (r *Runner) execVerifyCalls(st *scenario.Step) error {
	if r.recorder == nil {
		return NewStepInvalidError("verify_calls requires the mock servers to be enabled")
	}

	var err error
	switch {
	case st.None:
		err = r.recorder.VerifyNotCalled(st.Pattern)
	case st.Exactly != nil:
		err = r.recorder.VerifyCalledExactly(st.Pattern, *st.Exactly)
	default:
		min := st.Min
		if min <= 0 {
			min = 1
		}
		err = r.recorder.VerifyCalled(st.Pattern, min)
	}
	if err != nil {
		return NewVerificationFailedError(err.Error())
	}
	return nil
}

// resolveURL joins relative step URLs onto the suite's base URL,
// falling back to the configured target.
func (r *Runner) resolveURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base := r.suite.BaseURL
	if base == "" {
		base = r.cfg.Target.BaseURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
}

// tail returns the last n bytes of s, marking the cut.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
