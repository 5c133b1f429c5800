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

	"mcpharness/internal/mock"
)

var (
	mockRules     string
	mockMCPAddr   string
	mockRESTAddr  string
	mockAdminAddr string
	mockWatch     bool
)

// mockCmd serves the mock servers without running a suite
var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve the mock MCP/REST servers standalone",
	Long: `Starts the mock servers without running a suite, for developing
against scripted backends or debugging a rule file.

Listen addresses come from harness.yaml (mock.mcp_addr, mock.rest_addr,
mock.admin_addr); flags override them. The admin mux exposes /metrics,
/calls, /rules, /reset, and /healthz.

Example:
  harness mock --rules rules.yaml --watch`,
	RunE: serveMocks,
}

func init() {
	mockCmd.Flags().StringVar(&mockRules, "rules", "", "Rule file (overrides mock.rules_path)")
	mockCmd.Flags().StringVar(&mockMCPAddr, "mcp-addr", "", "Mock MCP listen address (overrides mock.mcp_addr)")
	mockCmd.Flags().StringVar(&mockRESTAddr, "rest-addr", "", "Mock REST listen address (overrides mock.rest_addr)")
	mockCmd.Flags().StringVar(&mockAdminAddr, "admin-addr", "", "Admin listen address (overrides mock.admin_addr)")
	mockCmd.Flags().BoolVar(&mockWatch, "watch", false, "Reload the rule file on change")
}

func serveMocks(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mockRules != "" {
		cfg.Mock.RulesPath = mockRules
	}
	if mockMCPAddr != "" {
		cfg.Mock.MCPAddr = mockMCPAddr
	}
	if mockRESTAddr != "" {
		cfg.Mock.RESTAddr = mockRESTAddr
	}
	if mockAdminAddr != "" {
		cfg.Mock.AdminAddr = mockAdminAddr
	}
	if mockWatch {
		cfg.Mock.HotReload = true
	}
	if cfg.Mock.MCPAddr == "" && cfg.Mock.RESTAddr == "" {
		return fmt.Errorf("neither mock.mcp_addr nor mock.rest_addr is configured")
	}

	rulesPath := cfg.Mock.RulesPath
	if rulesPath == "" {
		rulesPath = mock.DefaultRulesPath(ws)
	} else if !filepath.IsAbs(rulesPath) {
		rulesPath = filepath.Join(ws, rulesPath)
	}
	rules, err := mock.LoadRuleSet(rulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	recorder := mock.NewRecorder(cfg.Mock.MaxRecordedCalls)
	fmt.Printf("Loaded %d rules from %s\n", rules.Len(), rulesPath)

	var (
		mcpSrv   *mock.MCPServer
		restSrv  *mock.RESTServer
		adminSrv *mock.AdminServer
	)
	if cfg.Mock.MCPAddr != "" {
		mcpSrv = mock.NewMCPServer(cfg.Mock.MCPAddr, rules, recorder, mock.ServerInfo{
			Name:    cfg.Mock.ServerName,
			Version: cfg.Mock.ServerVersion,
		})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
		fmt.Printf("Mock MCP server:   %s\n", mcpSrv.URL())
	}
	if cfg.Mock.RESTAddr != "" {
		restSrv = mock.NewRESTServer(cfg.Mock.RESTAddr, rules, recorder)
		if err := restSrv.Start(); err != nil {
			return err
		}
		fmt.Printf("Mock REST server:  %s\n", restSrv.URL())
	}
	if cfg.Mock.AdminAddr != "" {
		adminSrv = mock.NewAdminServer(cfg.Mock.AdminAddr, rules, recorder)
		if err := adminSrv.Start(); err != nil {
			return err
		}
		fmt.Printf("Admin endpoints:   http://%s\n", adminSrv.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Mock.HotReload {
		watcher := mock.NewWatcher(rulesPath, rules, func(count int, err error) {
			if err != nil {
				fmt.Printf("Rule reload failed: %v\n", err)
				return
			}
			fmt.Printf("Rules reloaded: %d active\n", count)
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("rule watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	fmt.Println("\nPress Ctrl+C to shut down")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	sctx, scancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer scancel()
	if adminSrv != nil {
		_ = adminSrv.Shutdown(sctx)
	}
	if restSrv != nil {
		_ = restSrv.Shutdown(sctx)
	}
	if mcpSrv != nil {
		_ = mcpSrv.Shutdown(sctx)
	}
	return nil
}
