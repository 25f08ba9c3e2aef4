package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/pride-mcp/internal/db"
	"github.com/thebtf/pride-mcp/pkg/models"
)

const (
	// DailyTopQuestions is the number of common questions kept per stored rollup.
	DailyTopQuestions = 5
	// SummaryTopQuestions is the number of common questions in a period summary.
	SummaryTopQuestions = 10
	// MaxSummaryDays caps the analytics window.
	MaxSummaryDays = 365
)

// aggregateSQL is shared by the per-day and period queries.
const aggregateSQL = `COUNT(*) AS total_questions,
	COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful_questions,
	COALESCE(CAST(AVG(response_time_ms) AS DOUBLE PRECISION), 0) AS avg_response_time_ms,
	COUNT(DISTINCT user_id) AS unique_users`

type aggregateScan struct {
	Day                 string
	TotalQuestions      int64
	SuccessfulQuestions int64
	AvgResponseTimeMs   float64
	UniqueUsers         int64
	ActiveDays          int64
}

// AnalyticsStore computes and caches per-day rollups over questions.
type AnalyticsStore struct {
	db *gorm.DB
}

var _ db.AnalyticsStore = (*AnalyticsStore)(nil)

// NewAnalyticsStore creates an analytics store on top of store.
func NewAnalyticsStore(store *Store) *AnalyticsStore {
	return &AnalyticsStore{db: store.DB}
}

// RefreshDaily recomputes the rollup for day from its question rows and upserts it.
// Running it again for the same day with no new rows produces the same aggregate.
func (s *AnalyticsStore) RefreshDaily(ctx context.Context, day string) (*models.DailyAggregate, error) {
	if _, err := time.Parse(models.DayLayout, day); err != nil {
		return nil, models.ValidationError("invalid date %q, expected YYYY-MM-DD", day)
	}

	agg, err := s.ComputeDaily(ctx, day)
	if err != nil {
		return nil, err
	}

	top, err := json.Marshal(agg.MostCommonQuestions)
	if err != nil {
		return nil, fmt.Errorf("encode common questions: %w", err)
	}

	row := &AnalyticsRow{
		Date:                day,
		TotalQuestions:      agg.TotalQuestions,
		SuccessfulQuestions: agg.SuccessfulQuestions,
		AvgResponseTimeMs:   agg.AvgResponseTimeMs,
		UniqueUsers:         agg.UniqueUsers,
		MostCommonQuestions: string(top),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_questions",
				"successful_questions",
				"avg_response_time_ms",
				"unique_users",
				"most_common_questions",
				"updated_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert analytics for %s: %w", day, err)
	}
	agg.UpdatedAt = row.UpdatedAt
	return agg, nil
}

// ReportSent reports whether the daily Slack report was already sent on day.
func (s *AnalyticsStore) ReportSent(ctx context.Context, day string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&AnalyticsRow{}).
		Where("date = ? AND reported_at IS NOT NULL", day).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("report marker %s: %w", day, err)
	}
	return count > 0, nil
}

// MarkReported stores the report marker for day, creating the day's rollup
// when it does not exist yet. An existing marker is left untouched.
func (s *AnalyticsStore) MarkReported(ctx context.Context, day string, at time.Time) error {
	mark := func() (int64, error) {
		res := s.db.WithContext(ctx).
			Model(&AnalyticsRow{}).
			Where("date = ? AND reported_at IS NULL", day).
			Update("reported_at", at.UTC())
		return res.RowsAffected, res.Error
	}

	n, err := mark()
	if err != nil {
		return fmt.Errorf("mark report %s: %w", day, err)
	}
	if n > 0 {
		return nil
	}
	if sent, err := s.ReportSent(ctx, day); err != nil || sent {
		return err
	}
	if _, err := s.RefreshDaily(ctx, day); err != nil {
		return err
	}
	if _, err := mark(); err != nil {
		return fmt.Errorf("mark report %s: %w", day, err)
	}
	return nil
}

// ComputeDaily aggregates the question rows of day without touching the analytics table.
func (s *AnalyticsStore) ComputeDaily(ctx context.Context, day string) (*models.DailyAggregate, error) {
	var scan aggregateScan
	err := s.db.WithContext(ctx).
		Raw("SELECT "+aggregateSQL+" FROM questions WHERE day = ?", day).
		Scan(&scan).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", day, err)
	}

	top, err := s.commonQuestions(ctx, day, day, DailyTopQuestions)
	if err != nil {
		return nil, err
	}

	return &models.DailyAggregate{
		Date:                day,
		TotalQuestions:      scan.TotalQuestions,
		SuccessfulQuestions: scan.SuccessfulQuestions,
		AvgResponseTimeMs:   scan.AvgResponseTimeMs,
		UniqueUsers:         scan.UniqueUsers,
		MostCommonQuestions: top,
	}, nil
}

// GetDaily returns the stored rollup for day.
func (s *AnalyticsStore) GetDaily(ctx context.Context, day string) (*models.DailyAggregate, error) {
	var row AnalyticsRow
	err := s.db.WithContext(ctx).Where("date = ?", day).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewError(models.KindNotFound, fmt.Sprintf("no analytics for %s", day))
	}
	if err != nil {
		return nil, fmt.Errorf("get analytics %s: %w", day, err)
	}
	return rowToAggregate(&row), nil
}

// Summary aggregates the last days days ending at now, computed directly from question rows.
func (s *AnalyticsStore) Summary(ctx context.Context, days int, now time.Time) (*models.AnalyticsSummary, error) {
	if days <= 0 {
		return nil, models.ValidationError("days must be positive, got %d", days)
	}
	days = min(days, MaxSummaryDays)
	start := models.DayOf(now.AddDate(0, 0, -days))

	var daily []aggregateScan
	err := s.db.WithContext(ctx).
		Raw("SELECT day, "+aggregateSQL+" FROM questions WHERE day >= ? GROUP BY day ORDER BY day DESC", start).
		Scan(&daily).Error
	if err != nil {
		return nil, fmt.Errorf("daily analytics: %w", err)
	}

	overall, err := s.overall(ctx, start, "")
	if err != nil {
		return nil, err
	}

	common, err := s.commonQuestions(ctx, start, "", SummaryTopQuestions)
	if err != nil {
		return nil, err
	}

	summary := &models.AnalyticsSummary{
		DailyStats:      make([]models.DailyAggregate, 0, len(daily)),
		CommonQuestions: common,
		OverallStats:    overall,
		PeriodDays:      days,
	}
	for _, d := range daily {
		summary.DailyStats = append(summary.DailyStats, models.DailyAggregate{
			Date:                d.Day,
			TotalQuestions:      d.TotalQuestions,
			SuccessfulQuestions: d.SuccessfulQuestions,
			AvgResponseTimeMs:   d.AvgResponseTimeMs,
			UniqueUsers:         d.UniqueUsers,
		})
	}
	return summary, nil
}

// Stats returns today's figures and the trailing seven days.
func (s *AnalyticsStore) Stats(ctx context.Context, now time.Time) (*models.UsageStats, error) {
	today := models.DayOf(now)
	todayStats, err := s.overall(ctx, today, today)
	if err != nil {
		return nil, err
	}
	week, err := s.overall(ctx, models.DayOf(now.AddDate(0, 0, -7)), "")
	if err != nil {
		return nil, err
	}
	return &models.UsageStats{Today: todayStats, LastWeek: week}, nil
}

func (s *AnalyticsStore) overall(ctx context.Context, start, end string) (models.OverallStats, error) {
	q := "SELECT " + aggregateSQL + ", COUNT(DISTINCT day) AS active_days FROM questions WHERE day >= ?"
	args := []any{start}
	if end != "" {
		q += " AND day <= ?"
		args = append(args, end)
	}

	var scan aggregateScan
	if err := s.db.WithContext(ctx).Raw(q, args...).Scan(&scan).Error; err != nil {
		return models.OverallStats{}, fmt.Errorf("overall analytics: %w", err)
	}
	return models.OverallStats{
		TotalQuestions:      scan.TotalQuestions,
		SuccessfulQuestions: scan.SuccessfulQuestions,
		AvgResponseTimeMs:   scan.AvgResponseTimeMs,
		UniqueUsers:         scan.UniqueUsers,
		ActiveDays:          scan.ActiveDays,
	}, nil
}

func (s *AnalyticsStore) commonQuestions(ctx context.Context, start, end string, limit int) ([]models.CommonQuestion, error) {
	q := s.db.WithContext(ctx).
		Model(&QuestionRow{}).
		Select("question, COUNT(*) AS count").
		Where("day >= ?", start)
	if end != "" {
		q = q.Where("day <= ?", end)
	}

	var out []models.CommonQuestion
	err := q.Group("question").
		Order("count DESC, question ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("common questions: %w", err)
	}
	if out == nil {
		out = []models.CommonQuestion{}
	}
	return out, nil
}
