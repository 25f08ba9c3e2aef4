/*
Package cli implements the pride-mcp command line.

Commands:

	serve    Run the HTTP server (MCP over Streamable HTTP and SSE, REST API, dashboard)
	stdio    Run the MCP server on stdin/stdout
	report   Print or send the usage analytics report
	export   Export recorded questions as JSON or CSV
	rollup   Recompute daily usage aggregates
	version  Show version information
*/
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/pride-mcp/internal/config"
)

// BuildInfo is set from ldflags in main.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the pride-mcp root command with all subcommands.
func NewRootCmd(info BuildInfo) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "pride-mcp",
		Short: "MCP server for the PRIDE proteomics archive",
		Long: `pride-mcp exposes the PRIDE Archive as MCP tools (facets, project search,
project details, project files and optional AI analysis) and records every
tool call to a local telemetry store with analytics and Slack reporting.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML config file (default ./"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(NewServeCmd(opts, info))
	rootCmd.AddCommand(NewStdioCmd(opts, info))
	rootCmd.AddCommand(NewReportCmd(opts))
	rootCmd.AddCommand(NewExportCmd(opts))
	rootCmd.AddCommand(NewRollupCmd(opts))
	rootCmd.AddCommand(NewVersionCmd(info))

	return rootCmd
}

// loadConfig resolves the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	config.Set(cfg)
	return cfg, nil
}

// setupLogging configures the global zerolog logger. Logs always go to w,
// which is stderr for stdio mode since stdout carries the protocol.
func setupLogging(cfg *config.Config, w io.Writer) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		zerolog.TimeFieldFormat = time.RFC3339
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
}

// stderr is swapped in tests.
var stderr io.Writer = os.Stderr
