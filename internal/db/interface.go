// Package db defines the telemetry store interfaces consumed by the recorder and the REST API.
package db

import (
	"context"
	"time"

	"github.com/thebtf/pride-mcp/pkg/models"
)

// QuestionWriter appends invocation records.
type QuestionWriter interface {
	StoreQuestion(ctx context.Context, q *models.Question) (int64, error)
}

// QuestionReader lists invocation records.
type QuestionReader interface {
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	GetQuestions(ctx context.Context, filter models.QuestionFilter) ([]*models.Question, error)
	GetQuestionsByDay(ctx context.Context, day string) ([]*models.Question, error)
	CountQuestions(ctx context.Context, filter models.QuestionFilter) (int64, error)
	ExportQuestions(ctx context.Context, filter models.QuestionFilter, fn func(*models.Question) error) error
}

// QuestionStore combines read and write operations for invocation records.
type QuestionStore interface {
	QuestionReader
	QuestionWriter
}

// AnalyticsStore computes and caches daily rollups.
type AnalyticsStore interface {
	RefreshDaily(ctx context.Context, day string) (*models.DailyAggregate, error)
	ComputeDaily(ctx context.Context, day string) (*models.DailyAggregate, error)
	GetDaily(ctx context.Context, day string) (*models.DailyAggregate, error)
	Summary(ctx context.Context, days int, now time.Time) (*models.AnalyticsSummary, error)
	Stats(ctx context.Context, now time.Time) (*models.UsageStats, error)
}
