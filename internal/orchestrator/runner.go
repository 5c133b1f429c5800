package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mcpharness/internal/agent"
	"mcpharness/internal/config"
	"mcpharness/internal/judge"
	"mcpharness/internal/logging"
	"mcpharness/internal/mock"
	"mcpharness/internal/report"
	"mcpharness/internal/scenario"
)

// Progress receives scheduling callbacks, e.g. for console output.
// Either field may be nil.
type Progress struct {
	OnScenarioStart func(sc *scenario.Scenario, attempt int)
	OnScenarioDone  func(res report.ScenarioResult)
}

// Runner executes a suite: it brings up the mock servers and the
// browser, schedules scenarios across a bounded worker pool, retries
// the retryable failures, and assembles the run report.
type Runner struct {
	cfg       *config.Config
	suite     *scenario.Suite
	workspace string
	progress  Progress

	browser  *agent.Browser
	rules    *mock.RuleSet
	recorder *mock.Recorder
	mcpSrv   *mock.MCPServer
	restSrv  *mock.RESTServer
	adminSrv *mock.AdminServer
	watcher  *mock.Watcher
	grader   *judge.Grader

	runID   string
	started time.Time
	stop    atomic.Bool

	mu      sync.Mutex
	results []report.ScenarioResult
	issues  []report.Issue
}

// NewRunner creates a runner for one suite.
func NewRunner(cfg *config.Config, suite *scenario.Suite, workspace string) *Runner {
	return &Runner{
		cfg:       cfg,
		suite:     suite,
		workspace: workspace,
	}
}

// SetProgress installs scheduling callbacks. Call before Run.
func (r *Runner) SetProgress(p Progress) {
	r.progress = p
}

// RunID returns the run identifier, set once Run starts.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes the suite. On cancellation the report built so far is
// returned alongside the context error, so callers can still write
// partial artifacts.
func (r *Runner) Run(ctx context.Context) (*report.RunReport, error) {
	r.started = time.Now()
	r.runID = fmt.Sprintf("run-%s-%s", r.started.Format("20060102-150405"), uuid.New().String()[:8])

	scenarios := r.suite.FilterByTags(r.cfg.Run.Tags)
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios selected (suite has %d, tag filter %v)", len(r.suite.Scenarios), r.cfg.Run.Tags)
	}

	logging.Orchestrator("run %s: %d of %d scenarios selected", r.runID, len(scenarios), len(r.suite.Scenarios))
	logging.Audit().RunStart(r.runID, r.suite.Name, len(scenarios))

	if err := r.startMocks(ctx); err != nil {
		return nil, err
	}
	defer r.stopMocks()

	if err := r.waitForTarget(ctx); err != nil {
		return nil, err
	}

	if suiteNeedsBrowser(scenarios) {
		r.browser = agent.NewBrowser(r.cfg)
		if err := r.browser.Start(ctx); err != nil {
			return nil, fmt.Errorf("browser start: %w", err)
		}
		defer r.stopBrowser()
	}

	r.startGrader(ctx, scenarios)
	defer r.stopGrader()

	var eg errgroup.Group
	eg.SetLimit(r.cfg.Run.MaxParallel)

	for i := range scenarios {
		sc := scenarios[i]
		eg.Go(func() error {
			res := r.runScenario(ctx, &sc)
			r.record(res)
			if r.progress.OnScenarioDone != nil {
				r.progress.OnScenarioDone(res)
			}
			if r.cfg.Run.FailFast && (res.Status == scenario.StatusFailed || res.Status == scenario.StatusError) {
				if r.stop.CompareAndSwap(false, true) {
					logging.OrchestratorWarn("fail-fast: %s %s, skipping the rest", res.ScenarioID, res.Status)
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	finished := time.Now()
	rep := r.buildReport(scenarios, finished)

	logging.Audit().RunEnd(r.runID, rep.Totals.Passed, rep.Totals.Failed, rep.DurationMs)
	logging.Orchestrator("run %s finished: %d passed, %d failed, %d skipped, %d errors in %s",
		r.runID, rep.Totals.Passed, rep.Totals.Failed, rep.Totals.Skipped, rep.Totals.Errors,
		finished.Sub(r.started).Round(time.Millisecond))

	return rep, ctx.Err()
}

// record appends a scenario result under the lock.
func (r *Runner) record(res report.ScenarioResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// addIssues appends issues under the lock.
func (r *Runner) addIssues(issues ...report.Issue) {
	if len(issues) == 0 {
		return
	}
	r.mu.Lock()
	r.issues = append(r.issues, issues...)
	r.mu.Unlock()
}

// buildReport assembles the report, restoring suite order for results.
func (r *Runner) buildReport(scenarios []scenario.Scenario, finished time.Time) *report.RunReport {
	r.mu.Lock()
	results := append([]report.ScenarioResult(nil), r.results...)
	issues := append([]report.Issue(nil), r.issues...)
	r.mu.Unlock()

	order := make(map[string]int, len(scenarios))
	for i := range scenarios {
		order[scenarios[i].ID] = i
	}
	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].ScenarioID] < order[results[j].ScenarioID]
	})

	env := map[string]string{
		"harness_version": r.cfg.Version,
		"base_url":        r.cfg.Target.BaseURL,
		"max_parallel":    fmt.Sprintf("%d", r.cfg.Run.MaxParallel),
	}
	if r.mcpSrv != nil {
		env["mock_mcp_url"] = r.mcpSrv.URL()
	}
	if r.restSrv != nil {
		env["mock_rest_url"] = r.restSrv.URL()
	}
	if r.grader != nil {
		env["judge_model"] = r.grader.Model()
	}

	return report.Build(r.runID, r.suite.Name, r.started, finished, results, issues, env)
}

// startMocks brings up the configured mock servers and, when hot
// reload is on, the rule file watcher.
func (r *Runner) startMocks(ctx context.Context) error {
	if !r.cfg.Mock.Enabled {
		return nil
	}

	rulesPath := r.cfg.Mock.RulesPath
	if rulesPath == "" {
		rulesPath = mock.DefaultRulesPath(r.workspace)
	} else if !filepath.IsAbs(rulesPath) {
		rulesPath = filepath.Join(r.workspace, rulesPath)
	}

	rules, err := mock.LoadRuleSet(rulesPath)
	if err != nil {
		return fmt.Errorf("load mock rules: %w", err)
	}
	r.rules = rules
	r.recorder = mock.NewRecorder(r.cfg.Mock.MaxRecordedCalls)

	if r.cfg.Mock.MCPAddr != "" {
		r.mcpSrv = mock.NewMCPServer(r.cfg.Mock.MCPAddr, rules, r.recorder, mock.ServerInfo{
			Name:    r.cfg.Mock.ServerName,
			Version: r.cfg.Mock.ServerVersion,
		})
		if err := r.mcpSrv.Start(); err != nil {
			return fmt.Errorf("mock MCP server: %w", err)
		}
	}
	if r.cfg.Mock.RESTAddr != "" {
		r.restSrv = mock.NewRESTServer(r.cfg.Mock.RESTAddr, rules, r.recorder)
		if err := r.restSrv.Start(); err != nil {
			return fmt.Errorf("mock REST server: %w", err)
		}
	}
	if r.cfg.Mock.AdminAddr != "" {
		r.adminSrv = mock.NewAdminServer(r.cfg.Mock.AdminAddr, rules, r.recorder)
		if err := r.adminSrv.Start(); err != nil {
			return fmt.Errorf("mock admin server: %w", err)
		}
	}

	if r.cfg.Mock.HotReload {
		r.watcher = mock.NewWatcher(rulesPath, rules, func(count int, err error) {
			if err != nil {
				logging.OrchestratorWarn("rule reload failed: %v", err)
				return
			}
			logging.Orchestrator("rules reloaded: %d active", count)
		})
		if err := r.watcher.Start(ctx); err != nil {
			logging.OrchestratorWarn("rule watcher unavailable: %v", err)
			r.watcher = nil
		}
	}

	logging.Orchestrator("mock servers up (rules=%d, mcp=%v, rest=%v)",
		rules.Len(), r.cfg.Mock.MCPAddr != "", r.cfg.Mock.RESTAddr != "")
	return nil
}

// stopMocks shuts the mock servers down with the configured grace
// period. A fresh context is used since the run context may already be
// cancelled.
func (r *Runner) stopMocks() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GetShutdownTimeout())
	defer cancel()

	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.mcpSrv != nil {
		if err := r.mcpSrv.Shutdown(ctx); err != nil {
			logging.OrchestratorWarn("mock MCP shutdown: %v", err)
		}
	}
	if r.restSrv != nil {
		if err := r.restSrv.Shutdown(ctx); err != nil {
			logging.OrchestratorWarn("mock REST shutdown: %v", err)
		}
	}
	if r.adminSrv != nil {
		if err := r.adminSrv.Shutdown(ctx); err != nil {
			logging.OrchestratorWarn("mock admin shutdown: %v", err)
		}
	}
}

func (r *Runner) stopBrowser() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GetShutdownTimeout())
	defer cancel()
	if err := r.browser.Shutdown(ctx); err != nil {
		logging.OrchestratorWarn("browser shutdown: %v", err)
	}
}

// startGrader creates the judge when it is enabled and some selected
// scenario asks for grading. Failure to create one is a warning, never
// a run error.
func (r *Runner) startGrader(ctx context.Context, scenarios []scenario.Scenario) {
	if !r.cfg.Judge.Enabled || !suiteNeedsJudge(scenarios) {
		return
	}
	grader, err := judge.New(ctx, r.cfg.Judge)
	if err != nil {
		logging.OrchestratorWarn("judge unavailable, grading skipped: %v", err)
		return
	}
	r.grader = grader
}

func (r *Runner) stopGrader() {
	if r.grader != nil {
		if err := r.grader.Close(); err != nil {
			logging.OrchestratorWarn("judge close: %v", err)
		}
	}
}

// waitForTarget polls the target health endpoint until it answers or
// the ready timeout passes.
func (r *Runner) waitForTarget(ctx context.Context) error {
	if r.cfg.Target.HealthPath == "" {
		return nil
	}

	url := strings.TrimRight(r.cfg.Target.BaseURL, "/") + r.cfg.Target.HealthPath
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(r.cfg.GetReadyTimeout())

	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return NewTargetNotReadyError(url, err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				logging.Orchestrator("target ready at %s (%d)", url, resp.StatusCode)
				return nil
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if time.Now().After(deadline) {
			return NewTargetNotReadyError(url, lastErr)
		}
		select {
		case <-ctx.Done():
			return NewTargetNotReadyError(url, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// suiteNeedsBrowser reports whether any scenario contains a UI step.
func suiteNeedsBrowser(scenarios []scenario.Scenario) bool {
	for i := range scenarios {
		if scenarioNeedsBrowser(&scenarios[i]) {
			return true
		}
	}
	return false
}

func scenarioNeedsBrowser(sc *scenario.Scenario) bool {
	if sc.Skip != "" {
		return false
	}
	for _, st := range sc.Steps {
		switch st.Type {
		case scenario.StepNavigate, scenario.StepSend, scenario.StepAwait,
			scenario.StepClick, scenario.StepFill, scenario.StepScreenshot:
			return true
		}
	}
	return false
}

func suiteNeedsJudge(scenarios []scenario.Scenario) bool {
	for i := range scenarios {
		if scenarios[i].Skip != "" {
			continue
		}
		for _, st := range scenarios[i].Steps {
			if st.Judge != "" {
				return true
			}
		}
	}
	return false
}

// backoffDelay doubles the base per attempt, bounded by limit.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}
