package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcpharness/internal/mock"
)

// rulesCmd groups rule file utilities
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Mock rule file utilities",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [rules.yaml]",
	Short: "Validate a mock rule file",
	Long: `Parses a rule file and reports structural problems: rules without
names, rules setting neither tool nor pattern (or both), invalid globs,
duplicate names, error injection on REST rules.

Example:
  harness rules validate rules.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: validateRules,
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
}

func validateRules(cmd *cobra.Command, args []string) error {
	path := mock.DefaultRulesPath(resolveWorkspace())
	if len(args) > 0 {
		path = args[0]
	}

	rules, err := mock.LoadRules(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	toolRules, restRules := 0, 0
	for _, r := range rules {
		if r.Tool != "" {
			toolRules++
		} else {
			restRules++
		}
	}
	fmt.Printf("OK: %s (%d rules: %d tool, %d REST)\n", path, len(rules), toolRules, restRules)
	return nil
}
