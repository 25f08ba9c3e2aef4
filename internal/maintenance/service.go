// Package maintenance runs the scheduled telemetry jobs: daily rollups and
// the daily Slack analytics report.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/pride-mcp/internal/config"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// ReportHour is the UTC hour after which the daily report is sent.
const ReportHour = 9

// ReportDays is the window of the daily report. A one-day window covers
// yesterday and today so far, the same as /api/analytics?days=1.
const ReportDays = 1

// Store is the part of the analytics store the scheduler uses. The report
// marker is persisted so a restart does not resend the day's report.
type Store interface {
	RefreshDaily(ctx context.Context, day string) (*models.DailyAggregate, error)
	Summary(ctx context.Context, days int, now time.Time) (*models.AnalyticsSummary, error)
	ReportSent(ctx context.Context, day string) (bool, error)
	MarkReported(ctx context.Context, day string, at time.Time) error
}

// Reporter delivers the daily analytics report.
type Reporter interface {
	Enabled() bool
	NotifyAnalytics(ctx context.Context, summary *models.AnalyticsSummary, now time.Time) error
}

// Service handles scheduled rollups.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	analytics       Store
	reporter        Reporter
	config          *config.Config
	now             func() time.Time
	stopCh          chan struct{}
	doneCh          chan struct{}
	lastReportDay   string
	lastRunDuration time.Duration
	initialDelay    time.Duration
	totalRollups    int64
	totalReports    int64
	totalFailures   int64
	mu              sync.Mutex
	running         bool
}

// NewService creates a new maintenance service. reporter may be nil.
func NewService(analytics Store, reporter Reporter, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		analytics:    analytics,
		reporter:     reporter,
		config:       cfg,
		log:          log.With().Str("component", "maintenance").Logger(),
		now:          time.Now,
		initialDelay: time.Minute,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start runs the rollup loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if s.config.RollupInterval <= 0 {
		s.log.Info().Msg("Rollups disabled, not starting scheduler")
		return
	}
	interval := max(s.config.RollupInterval, time.Second)

	s.log.Info().
		Dur("interval", interval).
		Bool("daily_report", s.reportEnabled()).
		Msg("Starting rollup scheduler")

	// First run after a short delay so startup traffic is not competing.
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-time.After(s.initialDelay):
	}
	s.runMaintenance(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// Stop signals the maintenance service to stop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Wait waits for the maintenance service to finish.
func (s *Service) Wait() {
	<-s.doneCh
}

// runMaintenance refreshes yesterday's and today's rollups and sends the
// daily report when it is due.
func (s *Service) runMaintenance(ctx context.Context) {
	start := time.Now()
	now := s.now()

	var rolled, failed int64
	for _, day := range []string{models.DayOf(now.AddDate(0, 0, -1)), models.DayOf(now)} {
		agg, err := s.analytics.RefreshDaily(ctx, day)
		if err != nil {
			failed++
			s.log.Error().Err(err).Str("day", day).Msg("Failed to refresh daily rollup")
			continue
		}
		rolled++
		s.log.Debug().Str("day", day).Int64("questions", agg.TotalQuestions).Msg("Daily rollup refreshed")
	}

	reported := s.maybeReport(ctx, now)

	s.mu.Lock()
	s.lastRunTime = now
	s.lastRunDuration = time.Since(start)
	s.totalRollups += rolled
	s.totalFailures += failed
	if reported {
		s.totalReports++
	}
	s.mu.Unlock()

	s.log.Info().
		Dur("duration", time.Since(start)).
		Int64("rollups", rolled).
		Int64("failures", failed).
		Bool("reported", reported).
		Msg("Maintenance run completed")
}

func (s *Service) reportEnabled() bool {
	return s.config.SlackDailyReport && s.reporter != nil && s.reporter.Enabled()
}

// maybeReport sends the ReportDays analytics window once per UTC day after
// ReportHour. lastReportDay caches the persisted marker for the current day.
func (s *Service) maybeReport(ctx context.Context, now time.Time) bool {
	if !s.reportEnabled() {
		return false
	}
	today := models.DayOf(now)
	s.mu.Lock()
	due := s.lastReportDay != today && now.UTC().Hour() >= ReportHour
	if due {
		s.lastReportDay = today
	}
	s.mu.Unlock()
	if !due {
		return false
	}

	sent, err := s.analytics.ReportSent(ctx, today)
	if err != nil {
		s.log.Error().Err(err).Str("day", today).Msg("Failed to read report marker")
		s.forgetReportDay(today)
		return false
	}
	if sent {
		s.log.Debug().Str("day", today).Msg("Daily report already sent")
		return false
	}

	summary, err := s.analytics.Summary(ctx, ReportDays, now)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build daily report")
		s.forgetReportDay(today)
		return false
	}
	if summary.OverallStats.TotalQuestions == 0 {
		s.log.Debug().Msg("No questions recorded, skipping daily report")
		return false
	}
	if err := s.reporter.NotifyAnalytics(ctx, summary, now); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send daily report")
		return false
	}
	if err := s.analytics.MarkReported(ctx, today, now); err != nil {
		s.log.Warn().Err(err).Str("day", today).Msg("Failed to persist report marker")
	}
	return true
}

// forgetReportDay lets the next run retry a report whose store read failed.
func (s *Service) forgetReportDay(day string) {
	s.mu.Lock()
	if s.lastReportDay == day {
		s.lastReportDay = ""
	}
	s.mu.Unlock()
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"interval":         s.config.RollupInterval.String(),
		"daily_report":     s.config.SlackDailyReport,
		"last_run":         s.lastRunTime,
		"last_duration_ms": s.lastRunDuration.Milliseconds(),
		"last_report_day":  s.lastReportDay,
		"total_rollups":    s.totalRollups,
		"total_reports":    s.totalReports,
		"total_failures":   s.totalFailures,
		"running":          s.running,
	}
}

// RunNow triggers an immediate maintenance run in the background.
func (s *Service) RunNow(ctx context.Context) {
	go s.runMaintenance(context.WithoutCancel(ctx))
}
