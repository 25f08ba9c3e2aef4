package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/config"
	"github.com/thebtf/pride-mcp/internal/db"
	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/internal/mcp"
	"github.com/thebtf/pride-mcp/internal/notify"
	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/internal/search"
	"github.com/thebtf/pride-mcp/internal/worker/sse"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout bounds REST API requests. Streaming endpoints are exempt.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody caps request bodies on every endpoint.
	MaxRequestBody = 4 << 20

	// ServiceName is reported by the health and index endpoints.
	ServiceName = "PRIDE MCP Server"
)

// HealthChecker reports telemetry store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) *gorm.HealthInfo
}

// QuestionRecorder stores questions submitted through the REST API.
type QuestionRecorder interface {
	Record(ctx context.Context, q *models.Question) (int64, error)
}

// Notifier delivers Slack messages.
type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, text string, blocks []notify.Block) error
	NotifyAnalytics(ctx context.Context, summary *models.AnalyticsSummary, now time.Time) error
}

// SearchStats reports search orchestrator statistics.
type SearchStats interface {
	Metrics() *search.SearchMetrics
	GetRecentQueries(limit int) []search.RecentQuery
}

// Maintenance reports on and triggers the rollup scheduler.
type Maintenance interface {
	Stats() map[string]any
	RunNow(ctx context.Context)
}

// Options wires the service's collaborators. Only Config is required; missing
// stores turn their endpoints into 503 responses.
type Options struct {
	Config      *config.Config
	Health      HealthChecker
	Questions   db.QuestionReader
	Analytics   db.AnalyticsStore
	Recorder    QuestionRecorder
	Slack       Notifier
	Search      SearchStats
	Maintenance Maintenance
	Broadcaster *sse.Broadcaster
	MCP         *mcp.Server
	AIEnabled   bool
	Version     string
	Now         func() time.Time
}

// Service is the HTTP front of pride-mcp.
type Service struct {
	startTime   time.Time
	config      *config.Config
	health      HealthChecker
	questions   db.QuestionReader
	analytics   db.AnalyticsStore
	recorder    QuestionRecorder
	slack       Notifier
	search      SearchStats
	maintenance Maintenance
	broadcaster *sse.Broadcaster
	streamable  *mcp.StreamableHandler
	sseHandler  *mcp.SSEHandler
	limiter     *RateLimiter
	router      *chi.Mux
	server      *http.Server
	now         func() time.Time
	logger      zerolog.Logger
	version     string
	aiEnabled   bool
	wg          sync.WaitGroup
}

// NewService creates the service and its routes.
func NewService(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = sse.NewBroadcaster()
	}

	s := &Service{
		startTime:   time.Now(),
		config:      cfg,
		health:      opts.Health,
		questions:   opts.Questions,
		analytics:   opts.Analytics,
		recorder:    opts.Recorder,
		slack:       opts.Slack,
		search:      opts.Search,
		maintenance: opts.Maintenance,
		broadcaster: broadcaster,
		limiter:     NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		router:      chi.NewRouter(),
		now:         now,
		logger:      log.With().Str("component", "http").Logger(),
		version:     opts.Version,
		aiEnabled:   opts.AIEnabled,
	}
	if opts.MCP != nil {
		s.streamable = mcp.NewStreamableHandler(opts.MCP)
		s.sseHandler = mcp.NewSSEHandler(opts.MCP)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Broadcaster returns the live feed broadcaster.
func (s *Service) Broadcaster() *sse.Broadcaster {
	return s.broadcaster
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders)
	s.router.Use(CORS(s.config.CORSOrigins))
	s.router.Use(NewTokenAuth(s.config.APIToken).Middleware)
	s.router.Use(MaxBodySize(MaxRequestBody))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/dashboard", serveDashboard)
	s.router.Get("/events", s.broadcaster.HandleSSE)
	s.router.Handle("/metrics", observability.MetricsHandler())

	if s.streamable != nil {
		s.router.Handle("/mcp", s.streamable)
		s.router.Handle("/sse", s.sseHandler)
		s.router.Handle("/message", s.sseHandler)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(DefaultHTTPTimeout))
		r.Use(RequireJSONContentType)

		r.Get("/health", s.handleHealth)

		r.Get("/questions", s.handleGetQuestions)
		r.With(s.limiter.Middleware).Post("/questions", s.handleCreateQuestion)
		r.Get("/export/questions", s.handleExportQuestions)

		r.Get("/analytics", s.handleAnalytics)
		r.Get("/analytics/daily", s.handleDailyAnalytics)
		r.Post("/analytics/rollup", s.handleRollup)
		r.Get("/stats", s.handleStats)
		r.Get("/search/recent", s.handleRecentQueries)
		r.Post("/maintenance/run", s.handleMaintenanceRun)

		r.Post("/slack/test", s.handleSlackTest)
		r.Post("/slack/analytics", s.handleSlackAnalytics)
	})
}

// requestLogger logs one line per request at debug level, or warn for 5xx.
func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		event := s.logger.Debug()
		if ww.Status() >= 500 {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", GetRequestID(r.Context())).
			Msg("HTTP request")
	})
}

// Start starts the HTTP server in the background.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("addr", s.config.Addr()).
		Bool("auth", s.config.APIToken != "").
		Bool("mcp", s.streamable != nil).
		Msg("HTTP server started")
	return nil
}

// Shutdown closes open streams and gracefully stops the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if s.sseHandler != nil {
		s.sseHandler.Close()
	}

	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	s.wg.Wait()

	s.logger.Info().Msg("HTTP service shutdown complete")
	return err
}
