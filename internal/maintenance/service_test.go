package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/pride-mcp/internal/config"
	"github.com/thebtf/pride-mcp/pkg/models"
)

type fakeAnalytics struct {
	reported  map[string]time.Time
	failDay   string
	refreshed []string
	summaries []int
	total     int64
	mu        sync.Mutex
}

func (f *fakeAnalytics) RefreshDaily(_ context.Context, day string) (*models.DailyAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if day == f.failDay {
		return nil, errors.New("locked")
	}
	f.refreshed = append(f.refreshed, day)
	return &models.DailyAggregate{Date: day}, nil
}

func (f *fakeAnalytics) Summary(_ context.Context, days int, _ time.Time) (*models.AnalyticsSummary, error) {
	f.mu.Lock()
	f.summaries = append(f.summaries, days)
	f.mu.Unlock()
	return &models.AnalyticsSummary{PeriodDays: days, OverallStats: models.OverallStats{TotalQuestions: f.total}}, nil
}

func (f *fakeAnalytics) ReportSent(_ context.Context, day string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.reported[day]
	return ok, nil
}

func (f *fakeAnalytics) MarkReported(_ context.Context, day string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reported == nil {
		f.reported = map[string]time.Time{}
	}
	if _, ok := f.reported[day]; !ok {
		f.reported[day] = at
	}
	return nil
}

func (f *fakeAnalytics) days() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshed...)
}

type fakeReporter struct {
	enabled bool
	sent    int
}

func (f *fakeReporter) Enabled() bool { return f.enabled }

func (f *fakeReporter) NotifyAnalytics(context.Context, *models.AnalyticsSummary, time.Time) error {
	f.sent++
	return nil
}

func newTestService(analytics *fakeAnalytics, reporter Reporter, now time.Time) *Service {
	cfg := config.Default()
	cfg.SlackDailyReport = true
	s := NewService(analytics, reporter, cfg, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestRunMaintenance_RefreshesTodayAndYesterday(t *testing.T) {
	analytics := &fakeAnalytics{}
	s := newTestService(analytics, nil, time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))

	s.runMaintenance(context.Background())

	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, analytics.days())
	stats := s.Stats()
	assert.EqualValues(t, 2, stats["total_rollups"])
	assert.EqualValues(t, 0, stats["total_failures"])
}

func TestRunMaintenance_FailureDoesNotStopOtherDays(t *testing.T) {
	analytics := &fakeAnalytics{failDay: "2024-03-01"}
	s := newTestService(analytics, nil, time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))

	s.runMaintenance(context.Background())

	assert.Equal(t, []string{"2024-03-02"}, analytics.days())
	assert.EqualValues(t, 1, s.Stats()["total_failures"])
}

func TestDailyReport(t *testing.T) {
	tests := []struct {
		name     string
		hour     int
		total    int64
		enabled  bool
		expected int
	}{
		{"sent after report hour", ReportHour + 1, 5, true, 1},
		{"not yet due", ReportHour - 1, 5, true, 0},
		{"nothing recorded", ReportHour + 1, 0, true, 0},
		{"slack disabled", ReportHour + 1, 5, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &fakeReporter{enabled: tt.enabled}
			s := newTestService(&fakeAnalytics{total: tt.total}, reporter, time.Date(2024, 3, 2, tt.hour, 0, 0, 0, time.UTC))

			s.runMaintenance(context.Background())
			s.runMaintenance(context.Background())

			assert.Equal(t, tt.expected, reporter.sent, "at most one report per day")
		})
	}
}

func TestDailyReport_NotResentAfterRestart(t *testing.T) {
	analytics := &fakeAnalytics{total: 3}
	now := time.Date(2024, 3, 2, ReportHour+2, 0, 0, 0, time.UTC)

	first := &fakeReporter{enabled: true}
	newTestService(analytics, first, now).runMaintenance(context.Background())
	require.Equal(t, 1, first.sent)
	assert.Contains(t, analytics.reported, "2024-03-02")
	assert.Equal(t, []int{ReportDays}, analytics.summaries)

	second := &fakeReporter{enabled: true}
	newTestService(analytics, second, now.Add(time.Hour)).runMaintenance(context.Background())
	assert.Zero(t, second.sent)

	third := &fakeReporter{enabled: true}
	newTestService(analytics, third, now.AddDate(0, 0, 1)).runMaintenance(context.Background())
	assert.Equal(t, 1, third.sent, "a new day gets its own report")
}

func TestRunNow(t *testing.T) {
	analytics := &fakeAnalytics{}
	s := newTestService(analytics, nil, time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	s.RunNow(ctx)
	cancel()

	require.Eventually(t, func() bool { return len(analytics.days()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		last, _ := s.Stats()["last_run"].(time.Time)
		return !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	analytics := &fakeAnalytics{}
	s := newTestService(analytics, nil, time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))
	s.config.RollupInterval = time.Hour
	s.initialDelay = 0

	go s.Start(context.Background())
	require.Eventually(t, func() bool { return len(analytics.days()) == 2 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStart_Disabled(t *testing.T) {
	s := newTestService(&fakeAnalytics{}, nil, time.Now())
	s.config.RollupInterval = 0

	s.Start(context.Background())
	s.Wait()
	assert.False(t, s.Stats()["running"].(bool))
}
