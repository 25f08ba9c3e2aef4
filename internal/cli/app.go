package cli

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/pride-mcp/internal/ai"
	"github.com/thebtf/pride-mcp/internal/archive"
	"github.com/thebtf/pride-mcp/internal/config"
	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/internal/mcp"
	"github.com/thebtf/pride-mcp/internal/notify"
	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/internal/search"
	"github.com/thebtf/pride-mcp/internal/usage"
	"github.com/thebtf/pride-mcp/internal/worker/sse"
)

// app holds the wired components shared by the server commands.
type app struct {
	cfg         *config.Config
	store       *gorm.Store
	questions   *gorm.QuestionStore
	analytics   *gorm.AnalyticsStore
	slack       *notify.Slack
	archive     *archive.Client
	search      *search.Manager
	ai          *ai.Service
	broadcaster *sse.Broadcaster
	recorder    *usage.Recorder
	mcp         *mcp.Server
	flush       func()
}

// openStore opens the telemetry store described by cfg.
func openStore(cfg *config.Config) (*gorm.Store, error) {
	level := logger.Silent
	if cfg.LogLevel == "debug" {
		level = logger.Warn
	}
	return gorm.NewStore(gorm.Config{
		Path:     cfg.DatabasePath,
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.DatabaseMaxConns,
		LogLevel: level,
	})
}

// newApp wires archive -> search -> ai -> store -> recorder -> mcp. A store
// that cannot be opened disables telemetry but not the tools.
func newApp(ctx context.Context, cfg *config.Config, version string) (*app, error) {
	a := &app{cfg: cfg}

	a.flush = observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "pride-mcp@" + version,
	})

	retry := archive.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ArchiveRetryAttempts
	a.archive = archive.NewClient(archive.Config{
		BaseURL:   cfg.ArchiveBaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.ArchiveTimeout,
		Retry:     retry,
	})
	a.search = search.NewManager(a.archive, search.Options{
		EnrichLimit:       cfg.EnrichLimit,
		EnrichConcurrency: cfg.EnrichConcurrency,
		FacetPageSize:     cfg.FacetPageSize,
	})

	aiSvc, err := ai.NewService(ctx, ai.Config{
		Provider:      cfg.AIProvider,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		Timeout:       cfg.AITimeout,
		Enabled:       cfg.AIEnabled,
	})
	if err != nil {
		a.flush()
		return nil, err
	}
	a.ai = aiSvc

	a.slack = notify.NewSlack(notify.Config{
		WebhookURL: cfg.SlackWebhookURL,
		Channel:    cfg.SlackChannel,
	})
	a.broadcaster = sse.NewBroadcaster()

	recOpts := usage.Options{
		Notifier:        a.slack,
		Broadcaster:     a.broadcaster,
		NotifyQuestions: cfg.SlackNotifyQuestions,
	}
	store, err := openStore(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Telemetry store unavailable, usage will not be recorded")
	} else {
		a.store = store
		a.questions = gorm.NewQuestionStore(store)
		a.analytics = gorm.NewAnalyticsStore(store)
		recOpts.Store = a.questions
	}
	a.recorder = usage.NewRecorder(recOpts)

	a.mcp = mcp.NewServer(mcp.Options{
		Archive:     a.search,
		Analyzer:    a.ai,
		Recorder:    a.recorder,
		EndpointURL: a.archive.URL,
		Version:     version,
	})

	log.Info().
		Str("archive", a.archive.BaseURL()).
		Str("ai", a.ai.Provider()).
		Bool("telemetry", a.store != nil).
		Bool("slack", a.slack.Enabled()).
		Msg("Components initialized")
	return a, nil
}

// Close waits for pending notifications and releases the store.
func (a *app) Close() error {
	a.recorder.Wait()
	a.broadcaster.Close()
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	a.flush()
	return err
}

// requireStore opens the store for the offline commands, which are useless without it.
func requireStore(cfg *config.Config) (*gorm.Store, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, errors.Join(errors.New("telemetry store unavailable"), err)
	}
	return store, nil
}
