package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mcpharness/internal/history"
	"mcpharness/internal/report"
)

var (
	reportList  int
	reportWrite bool
)

// reportCmd re-renders past runs from history
var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show a past run from the history database",
	Long: `Renders a run recorded in the history database. With no run ID the
most recent run is shown; --list prints recent runs instead.

Examples:
  harness report                # latest run as Markdown
  harness report --list 10      # recent runs, one line each
  harness report run-20250825-101530-a1b2c3d4 --write`,
	Args: cobra.MaximumNArgs(1),
	RunE: showReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportList, "list", 0, "List the N most recent runs instead of rendering one")
	reportCmd.Flags().BoolVar(&reportWrite, "write", false, "Write the configured report formats instead of printing")
}

func showReport(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(underWorkspace(ws, cfg.History.DatabasePath))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()
	ctx := context.Background()

	if reportList > 0 {
		return listRuns(ctx, store)
	}

	runID := ""
	if len(args) > 0 {
		runID = args[0]
	} else {
		runID, err = store.LatestRunID(ctx)
		if err != nil {
			return err
		}
		if runID == "" {
			return fmt.Errorf("no runs recorded yet")
		}
	}

	rep, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	if reportWrite {
		paths, err := writeReports(cfg, ws, rep)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Printf("Report: %s\n", p)
		}
		return nil
	}
	fmt.Print(report.RenderMarkdown(rep))
	return nil
}

func listRuns(ctx context.Context, store *history.Store) error {
	runs, err := store.RecentRuns(ctx, reportList)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("%-30s %-20s %-19s %7s %7s %7s %8s\n",
		"RUN", "SUITE", "STARTED", "PASSED", "FAILED", "TOTAL", "TIME")
	for _, r := range runs {
		fmt.Printf("%-30s %-20s %-19s %7d %7d %7d %8s\n",
			r.RunID, r.SuiteName, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Passed, r.Failed, r.Scenarios, durationLabel(r.DurationMs))
	}
	return nil
}
