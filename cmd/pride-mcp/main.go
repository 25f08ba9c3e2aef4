/*
Package main is the entry point for the pride-mcp CLI.

pride-mcp exposes the PRIDE proteomics archive to MCP clients and records
tool usage for analytics.

Usage:

	pride-mcp [command]

Examples:

	# Run the HTTP server (Streamable HTTP, SSE, REST API, dashboard)
	pride-mcp serve

	# Run as a subprocess MCP server
	pride-mcp stdio

	# Print the last week's usage
	pride-mcp report --days 7
*/
package main

import (
	"fmt"
	"os"

	"github.com/thebtf/pride-mcp/internal/cli"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := cli.NewRootCmd(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
