// Package main implements the mcpharness CLI.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mcpharness/internal/config"
	"mcpharness/internal/logging"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "mcpharness - synthetic integration testing for MCP-backed chat apps",
	Long: `mcpharness drives synthetic user journeys against a chat application
while standing in for its MCP and REST backends with scriptable mocks.

A run loads a YAML scenario suite, brings up the mock servers, steers
headless browser agents through each scenario, and writes JSON/HTML/
Markdown reports plus a SQLite history of past runs.

Start with 'harness run suite.yaml' once harness.yaml and rules.yaml
exist in the workspace.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// File logging and the audit trail are config-gated; failure to
		// set them up never blocks a command.
		if err := logging.Initialize(resolveWorkspace()); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit log unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcpharness %s (%s)\n", version, runtime.Version())
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/harness.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mockCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the --workspace flag, or walks up from the
// current directory to the nearest harness.yaml / .harness marker.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	ws, err := config.FindWorkspaceRoot()
	if err != nil {
		return "."
	}
	return ws
}

// loadConfig loads and validates harness.yaml, falling back to defaults
// when the file does not exist.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath(resolveWorkspace())
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
