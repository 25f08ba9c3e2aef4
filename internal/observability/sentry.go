package observability

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// SentryConfig configures optional error reporting.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool
}

// InitSentry initializes Sentry and returns a flush function. With an empty
// DSN it does nothing and returns a no-op.
func InitSentry(cfg SentryConfig) func() {
	if cfg.DSN == "" {
		return func() {}
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		Debug:       cfg.Debug,
		ServerName:  "pride-mcp",
	})
	if err != nil {
		log.Warn().Err(err).Msg("Sentry initialization failed, continuing without error reporting")
		return func() {}
	}

	log.Info().Str("environment", cfg.Environment).Msg("Sentry error reporting enabled")
	return func() {
		sentry.Flush(5 * time.Second)
	}
}

// CaptureError reports err to Sentry with the given tags. It is a no-op when
// Sentry was never initialized.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}
