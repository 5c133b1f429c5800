package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mcpharness/internal/mcp"
)

var (
	probeStdio     bool
	probeCall      string
	probeArgs      string
	probeTimeout   time.Duration
	probeJSON      bool
	probeNoSchemas bool
)

// probeCmd inspects an MCP server
var probeCmd = &cobra.Command{
	Use:   "probe [url|command]",
	Short: "Probe an MCP server and lint its tool surface",
	Long: `Connects to an MCP server, runs the initialize handshake, lists its
tools, and flags declarations that break clients downstream: missing or
non-compiling input schemas, duplicate names, absent descriptions.

The target is an HTTP endpoint unless --stdio is set, in which case it
is launched as a subprocess speaking MCP over stdin/stdout.

Examples:
  harness probe http://localhost:7820
  harness probe --stdio "npx weather-mcp"
  harness probe http://localhost:7820 --call get_weather --args '{"city":"Oslo"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeStdio, "stdio", false, "Treat the target as a subprocess command, not a URL")
	probeCmd.Flags().StringVar(&probeCall, "call", "", "Invoke this tool after discovery")
	probeCmd.Flags().StringVar(&probeArgs, "args", "", "JSON arguments for --call")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Probe deadline")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "Print the raw probe report as JSON")
	probeCmd.Flags().BoolVar(&probeNoSchemas, "no-schemas", false, "Omit tool input schemas from the output")
}

func runProbe(cmd *cobra.Command, args []string) error {
	target := args[0]

	spec := mcp.MCPServerSpec{
		ID:      "probe",
		Timeout: probeTimeout.String(),
	}
	if probeStdio {
		spec.Protocol = string(mcp.ProtocolStdio)
		spec.Command = target
	} else {
		spec.Protocol = string(mcp.ProtocolHTTP)
		spec.BaseURL = target
	}

	opts := mcp.ProbeOptions{CallTool: probeCall}
	if probeArgs != "" {
		if probeCall == "" {
			return fmt.Errorf("--args requires --call")
		}
		if err := json.Unmarshal([]byte(probeArgs), &opts.CallArgs); err != nil {
			return fmt.Errorf("--args is not valid JSON: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	rep, err := mcp.Probe(ctx, spec, opts)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	if probeJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	renderer := mcp.NewReportRenderer()
	renderer.SetIncludeSchemas(!probeNoSchemas)
	fmt.Print(renderer.Render(rep))
	return nil
}
