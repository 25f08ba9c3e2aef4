package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/pride-mcp/pkg/models"
)

type AnalyticsStoreSuite struct {
	suite.Suite
	questions *QuestionStore
	analytics *AnalyticsStore
	ctx       context.Context
	now       time.Time
}

func TestAnalyticsStoreSuite(t *testing.T) {
	suite.Run(t, new(AnalyticsStoreSuite))
}

func (s *AnalyticsStoreSuite) SetupTest() {
	store := testStore(s.T())
	s.questions = NewQuestionStore(store)
	s.analytics = NewAnalyticsStore(store)
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)
}

func (s *AnalyticsStoreSuite) record(text, user string, ts time.Time, success bool, ms int64) {
	_, err := s.questions.StoreQuestion(s.ctx, &models.Question{
		Question:       text,
		UserID:         user,
		Timestamp:      ts,
		Success:        success,
		ResponseTimeMs: ptr(ms),
	})
	s.Require().NoError(err)
}

func (s *AnalyticsStoreSuite) TestRefreshDaily_MatchesRows() {
	day := models.DayOf(s.now)
	s.record("cancer", "u1", s.now, true, 100)
	s.record("cancer", "u2", s.now.Add(-time.Hour), true, 200)
	s.record("PXD000001", "u1", s.now.Add(-2*time.Hour), false, 300)
	s.record("other day", "u3", s.now.AddDate(0, 0, -1), true, 1000)

	agg, err := s.analytics.RefreshDaily(s.ctx, day)
	s.Require().NoError(err)
	s.Equal(int64(3), agg.TotalQuestions)
	s.Equal(int64(2), agg.SuccessfulQuestions)
	s.Equal(int64(2), agg.UniqueUsers)
	s.InDelta(200.0, agg.AvgResponseTimeMs, 0.001)
	s.Require().NotEmpty(agg.MostCommonQuestions)
	s.Equal(models.CommonQuestion{Question: "cancer", Count: 2}, agg.MostCommonQuestions[0])

	stored, err := s.analytics.GetDaily(s.ctx, day)
	s.Require().NoError(err)
	s.Equal(agg.TotalQuestions, stored.TotalQuestions)
	s.Equal(agg.SuccessfulQuestions, stored.SuccessfulQuestions)
	s.Equal(agg.MostCommonQuestions, stored.MostCommonQuestions)
}

func (s *AnalyticsStoreSuite) TestRefreshDaily_Idempotent() {
	day := models.DayOf(s.now)
	s.record("q", "u1", s.now, true, 10)

	first, err := s.analytics.RefreshDaily(s.ctx, day)
	s.Require().NoError(err)
	second, err := s.analytics.RefreshDaily(s.ctx, day)
	s.Require().NoError(err)

	s.Equal(first.TotalQuestions, second.TotalQuestions)
	s.Equal(first.SuccessfulQuestions, second.SuccessfulQuestions)

	var rows int64
	s.Require().NoError(s.analytics.db.Model(&AnalyticsRow{}).Where("date = ?", day).Count(&rows).Error)
	s.Equal(int64(1), rows)
}

func (s *AnalyticsStoreSuite) TestRefreshDaily_PicksUpNewRows() {
	day := models.DayOf(s.now)
	for i := 0; i < 4; i++ {
		s.record("q", "u1", s.now, i%2 == 0, 10)
	}
	_, err := s.analytics.RefreshDaily(s.ctx, day)
	s.Require().NoError(err)

	s.record("q", "u1", s.now, true, 10)
	agg, err := s.analytics.RefreshDaily(s.ctx, day)
	s.Require().NoError(err)
	s.Equal(int64(5), agg.TotalQuestions)
	s.Equal(int64(3), agg.SuccessfulQuestions)

	stored, err := s.analytics.GetDaily(s.ctx, day)
	s.Require().NoError(err)
	s.Equal(int64(5), stored.TotalQuestions)
}

func (s *AnalyticsStoreSuite) TestRefreshDaily_EmptyDay() {
	agg, err := s.analytics.RefreshDaily(s.ctx, "2020-01-01")
	s.Require().NoError(err)
	s.Zero(agg.TotalQuestions)
	s.Zero(agg.AvgResponseTimeMs)
	s.Empty(agg.MostCommonQuestions)
}

func (s *AnalyticsStoreSuite) TestRefreshDaily_InvalidDate() {
	_, err := s.analytics.RefreshDaily(s.ctx, "15/06/2024")
	s.True(models.IsKind(err, models.KindValidation))
}

func (s *AnalyticsStoreSuite) TestReportMarker() {
	day := models.DayOf(s.now)

	sent, err := s.analytics.ReportSent(s.ctx, day)
	s.Require().NoError(err)
	s.False(sent)

	s.Require().NoError(s.analytics.MarkReported(s.ctx, day, s.now))
	sent, err = s.analytics.ReportSent(s.ctx, day)
	s.Require().NoError(err)
	s.True(sent, "marker creates the day's rollup when missing")

	s.Require().NoError(s.analytics.MarkReported(s.ctx, day, s.now.Add(time.Hour)))
	var row AnalyticsRow
	s.Require().NoError(s.analytics.db.Where("date = ?", day).First(&row).Error)
	s.Require().NotNil(row.ReportedAt)
	s.True(s.now.Equal(*row.ReportedAt), "first marker wins")

	s.record("late", "u1", s.now, true, 10)
	_, err = s.analytics.RefreshDaily(s.ctx, day)
	s.Require().NoError(err)
	sent, err = s.analytics.ReportSent(s.ctx, day)
	s.Require().NoError(err)
	s.True(sent, "refresh keeps the marker")

	sent, err = s.analytics.ReportSent(s.ctx, models.DayOf(s.now.AddDate(0, 0, -1)))
	s.Require().NoError(err)
	s.False(sent)
}

func (s *AnalyticsStoreSuite) TestGetDaily_NotFound() {
	_, err := s.analytics.GetDaily(s.ctx, "2020-01-01")
	s.True(models.IsKind(err, models.KindNotFound))
}

func (s *AnalyticsStoreSuite) TestSummary() {
	s.record("cancer", "u1", s.now, true, 100)
	s.record("cancer", "u2", s.now.AddDate(0, 0, -1), true, 300)
	s.record("liver", "u1", s.now.AddDate(0, 0, -3), false, 200)
	s.record("ancient", "u9", s.now.AddDate(0, 0, -40), true, 5)

	summary, err := s.analytics.Summary(s.ctx, 30, s.now)
	s.Require().NoError(err)
	s.Equal(30, summary.PeriodDays)
	s.Require().Len(summary.DailyStats, 3)
	s.Equal(models.DayOf(s.now), summary.DailyStats[0].Date, "newest day first")

	s.Equal(int64(3), summary.OverallStats.TotalQuestions)
	s.Equal(int64(2), summary.OverallStats.SuccessfulQuestions)
	s.Equal(int64(2), summary.OverallStats.UniqueUsers)
	s.Equal(int64(3), summary.OverallStats.ActiveDays)
	s.InDelta(200.0, summary.OverallStats.AvgResponseTimeMs, 0.001)

	s.Require().NotEmpty(summary.CommonQuestions)
	s.Equal("cancer", summary.CommonQuestions[0].Question)
	s.Equal(int64(2), summary.CommonQuestions[0].Count)
}

func (s *AnalyticsStoreSuite) TestSummary_InvalidDays() {
	_, err := s.analytics.Summary(s.ctx, 0, s.now)
	s.True(models.IsKind(err, models.KindValidation))

	summary, err := s.analytics.Summary(s.ctx, 10000, s.now)
	s.Require().NoError(err)
	s.Equal(MaxSummaryDays, summary.PeriodDays)
	s.NotNil(summary.CommonQuestions)
}

func (s *AnalyticsStoreSuite) TestStats() {
	s.record("a", "u1", s.now, true, 100)
	s.record("b", "u2", s.now.AddDate(0, 0, -2), false, 100)
	s.record("c", "u3", s.now.AddDate(0, 0, -20), true, 100)

	stats, err := s.analytics.Stats(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.Today.TotalQuestions)
	s.Equal(int64(2), stats.LastWeek.TotalQuestions)
	s.Equal(int64(1), stats.LastWeek.SuccessfulQuestions)
}
