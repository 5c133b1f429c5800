package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcpharness/internal/config"
	"mcpharness/internal/history"
	"mcpharness/internal/logging"
	"mcpharness/internal/orchestrator"
	"mcpharness/internal/report"
	"mcpharness/internal/scenario"
)

var (
	runTags     []string
	runParallel int
	runFailFast bool
	runFailOn   string
)

// runCmd executes a scenario suite
var runCmd = &cobra.Command{
	Use:   "run [suite.yaml]",
	Short: "Run a scenario suite against the target application",
	Long: `Executes a scenario suite end to end:
  1. Load harness.yaml and the suite file
  2. Start the mock MCP/REST servers and wait for the target health check
  3. Drive scenarios through browser agents with bounded parallelism
  4. Write JSON/HTML/Markdown reports and record the run in history

The suite file defaults to suite.yaml in the workspace.

Examples:
  harness run
  harness run suites/smoke.yaml --tags smoke --parallel 2
  harness run suites/full.yaml --fail-on high`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSuite,
}

func init() {
	runCmd.Flags().StringSliceVar(&runTags, "tags", nil, "Only run scenarios carrying one of these tags")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "Max concurrent scenarios (overrides run.max_parallel)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop scheduling after the first failure")
	runCmd.Flags().StringVar(&runFailOn, "fail-on", "", "Exit non-zero on issues at or above this severity (overrides report.fail_on)")
}

func runSuite(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(runTags) > 0 {
		cfg.Run.Tags = runTags
	}
	if runParallel > 0 {
		cfg.Run.MaxParallel = runParallel
	}
	if runFailFast {
		cfg.Run.FailFast = true
	}

	suitePath := scenario.DefaultSuitePath(ws)
	if len(args) > 0 {
		suitePath = args[0]
	}
	suite, err := scenario.LoadSuite(suitePath)
	if err != nil {
		return fmt.Errorf("load suite: %w", err)
	}
	logger.Info("suite loaded",
		zap.String("path", suitePath),
		zap.String("name", suite.Name),
		zap.Int("scenarios", len(suite.Scenarios)))

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, cancelling run...")
		cancel()
	}()

	runner := orchestrator.NewRunner(cfg, suite, ws)
	runner.SetProgress(orchestrator.Progress{
		OnScenarioStart: func(sc *scenario.Scenario, attempt int) {
			if attempt > 1 {
				fmt.Printf("  retrying %s (attempt %d)\n", sc.ID, attempt)
			}
		},
		OnScenarioDone: printScenarioResult,
	})

	fmt.Printf("Running %s (%d scenarios, parallel=%d)\n\n", suite.Name, len(suite.Scenarios), cfg.Run.MaxParallel)
	rep, runErr := runner.Run(ctx)
	if rep == nil {
		return runErr
	}

	paths, err := writeReports(cfg, ws, rep)
	if err != nil {
		logger.Error("report writing failed", zap.Error(err))
	}
	saveHistory(cfg, ws, rep)

	t := rep.Totals
	fmt.Printf("\nRun %s: %d passed, %d failed, %d skipped, %d errors (%s)\n",
		rep.RunID, t.Passed, t.Failed, t.Skipped, t.Errors, durationLabel(rep.DurationMs))
	for _, p := range paths {
		fmt.Printf("Report: %s\n", p)
	}

	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}

	failOn := cfg.Report.FailOn
	if runFailOn != "" {
		failOn = runFailOn
	}
	if err := report.FailOn(rep, report.Severity(failOn)); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		logging.CloseAudit()
		_ = logger.Sync()
		os.Exit(1)
	}
	fmt.Println("PASS")
	return nil
}

// printScenarioResult emits one console line per finished scenario. It
// runs from worker goroutines.
func printScenarioResult(res report.ScenarioResult) {
	switch res.Status {
	case scenario.StatusPassed:
		if res.Attempts > 1 {
			fmt.Printf("✓ %s (%s, %d attempts)\n", res.Name, durationLabel(res.DurationMs), res.Attempts)
			return
		}
		fmt.Printf("✓ %s (%s)\n", res.Name, durationLabel(res.DurationMs))
	case scenario.StatusFailed:
		fmt.Printf("✗ %s: %s (%d attempts)\n", res.Name, res.FailureReason, res.Attempts)
	case scenario.StatusError:
		fmt.Printf("! %s: %s\n", res.Name, res.FailureReason)
	case scenario.StatusSkipped:
		fmt.Printf("- %s: skipped (%s)\n", res.Name, res.FailureReason)
	default:
		fmt.Printf("? %s: %s\n", res.Name, res.Status)
	}
}

// writeReports renders the configured formats under the report directory.
func writeReports(cfg *config.Config, ws string, rep *report.RunReport) ([]string, error) {
	dir := underWorkspace(ws, cfg.Report.OutputDir)
	return report.WriteAll(rep, dir, cfg.Report.Formats)
}

// saveHistory persists the run and prunes old ones. History problems
// are warnings; the run artifacts on disk are the source of truth.
func saveHistory(cfg *config.Config, ws string, rep *report.RunReport) {
	if !cfg.History.Enabled {
		return
	}
	store, err := history.Open(underWorkspace(ws, cfg.History.DatabasePath))
	if err != nil {
		logger.Warn("history unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveReport(ctx, rep); err != nil {
		logger.Warn("history save failed", zap.Error(err))
		return
	}
	if n, err := store.Prune(ctx, cfg.History.RetentionDays); err != nil {
		logger.Warn("history prune failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned old runs", zap.Int64("count", int64(n)))
	}
}

func underWorkspace(ws, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ws, path)
}

func durationLabel(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
