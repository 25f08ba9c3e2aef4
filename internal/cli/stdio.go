package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewStdioCmd creates the 'stdio' command.
func NewStdioCmd(opts *globalOptions, info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Run the MCP server on stdin/stdout",
		Long: `Serve line-delimited JSON-RPC on stdin/stdout for MCP clients that spawn the
server as a subprocess. Logs go to stderr.`,
		Example: `  pride-mcp stdio
  pride-mcp stdio --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg, stderr)

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, info.Version)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error().Err(err).Msg("Close error")
				}
			}()

			log.Info().Str("version", info.Version).Msg("Starting MCP server on stdio")
			return a.mcp.Run(ctx)
		},
	}
}
