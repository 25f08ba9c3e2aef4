package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/pride-mcp/internal/config"
	"github.com/thebtf/pride-mcp/internal/maintenance"
	"github.com/thebtf/pride-mcp/internal/watcher"
	"github.com/thebtf/pride-mcp/internal/worker"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the 'serve' command.
func NewServeCmd(opts *globalOptions, info BuildInfo) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Serve MCP over Streamable HTTP (/mcp) and SSE (/sse, /message), the telemetry
REST API (/api), the live dashboard (/dashboard) and Prometheus metrics (/metrics).`,
		Example: `  pride-mcp serve
  pride-mcp serve --port 9000 --host 0.0.0.0
  pride-mcp serve --config /etc/pride-mcp.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogging(cfg, stderr)
			return runServe(cmd.Context(), cfg, opts.configPath, info.Version)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Listen port (overrides config)")

	return cmd
}

func runServe(parent context.Context, cfg *config.Config, configPath, version string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("version", version).Msg("Starting pride-mcp server")

	a, err := newApp(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Close error")
		}
	}()

	opts := worker.Options{
		Config:      cfg,
		Recorder:    a.recorder,
		Slack:       a.slack,
		Search:      a.search,
		Broadcaster: a.broadcaster,
		MCP:         a.mcp,
		AIEnabled:   a.ai.Enabled(),
		Version:     version,
	}
	var scheduler *maintenance.Service
	if a.store != nil {
		scheduler = maintenance.NewService(a.analytics, a.slack, cfg, log.Logger)
		opts.Health = a.store
		opts.Questions = a.questions
		opts.Analytics = a.analytics
		opts.Maintenance = scheduler
	}
	svc := worker.NewService(opts)
	if err := svc.Start(); err != nil {
		return err
	}
	if scheduler != nil {
		go scheduler.Start(ctx)
	}

	if w := watchConfig(configPath, cancel); w != nil {
		defer w.Stop()
	}

	if a.slack.Enabled() {
		details := map[string]string{"Version": version, "Address": cfg.Addr()}
		if err := a.slack.NotifyStatus(ctx, "online", details); err != nil {
			log.Warn().Err(err).Msg("Failed to send online status")
		}
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
		scheduler.Wait()
	}
	if a.slack.Enabled() {
		if err := a.slack.NotifyStatus(shutdownCtx, "offline", map[string]string{"Version": version}); err != nil {
			log.Warn().Err(err).Msg("Failed to send offline status")
		}
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}

// watchConfig stops the process gracefully when the config file changes so a
// supervisor can restart it with the new settings.
func watchConfig(path string, stop context.CancelFunc) *watcher.Watcher {
	if path == "" {
		path = config.DefaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := watcher.New(path, func() {
		log.Warn().Str("path", path).Msg("Config file changed, shutting down for restart")
		stop()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		return nil
	}
	log.Info().Str("path", path).Msg("Config file watcher started")
	return w
}
