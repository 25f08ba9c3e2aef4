package gorm

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/pride-mcp/pkg/models"
)

// QuestionRow is one recorded tool invocation.
// Field order optimized for memory alignment (fieldalignment).
type QuestionRow struct {
	Timestamp      time.Time              `gorm:"index:idx_questions_timestamp;not null"`
	Metadata       models.JSONMap         `gorm:"type:text"`
	Question       string                 `gorm:"type:text;not null"`
	Day            string                 `gorm:"type:varchar(10);index:idx_questions_day;not null"`
	UserID         sql.NullString         `gorm:"index:idx_questions_user_id"`
	SessionID      sql.NullString
	ErrorMessage   sql.NullString         `gorm:"type:text"`
	ToolsCalled    models.JSONStringArray `gorm:"type:text"`
	ResponseTimeMs sql.NullInt64
	ResponseLength sql.NullInt64
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	Success        bool  `gorm:"not null"`
}

func (QuestionRow) TableName() string { return "questions" }

// AnalyticsRow is the stored rollup for one day.
type AnalyticsRow struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ReportedAt          *time.Time
	Date                string `gorm:"type:varchar(10);uniqueIndex:idx_analytics_date;not null"`
	MostCommonQuestions string `gorm:"type:text"`
	AvgResponseTimeMs   float64
	ID                  int64 `gorm:"primaryKey;autoIncrement"`
	TotalQuestions      int64 `gorm:"not null"`
	SuccessfulQuestions int64 `gorm:"not null"`
	UniqueUsers         int64 `gorm:"not null"`
}

func (AnalyticsRow) TableName() string { return "analytics" }

func questionToRow(q *models.Question) *QuestionRow {
	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	row := &QuestionRow{
		Timestamp:    ts,
		Day:          models.DayOf(ts),
		Question:     q.Question,
		UserID:       nullString(q.UserID),
		SessionID:    nullString(q.SessionID),
		ErrorMessage: nullString(q.ErrorMessage),
		ToolsCalled:  q.ToolsCalled,
		Metadata:     q.Metadata,
		Success:      q.Success,
	}
	if q.ResponseTimeMs != nil {
		row.ResponseTimeMs = sql.NullInt64{Int64: *q.ResponseTimeMs, Valid: true}
	}
	if q.ResponseLength != nil {
		row.ResponseLength = sql.NullInt64{Int64: *q.ResponseLength, Valid: true}
	}
	return row
}

func rowToQuestion(r *QuestionRow) *models.Question {
	q := &models.Question{
		ID:           r.ID,
		Timestamp:    r.Timestamp.UTC(),
		Question:     r.Question,
		UserID:       r.UserID.String,
		SessionID:    r.SessionID.String,
		ErrorMessage: r.ErrorMessage.String,
		ToolsCalled:  r.ToolsCalled,
		Metadata:     r.Metadata,
		Success:      r.Success,
	}
	if r.ResponseTimeMs.Valid {
		v := r.ResponseTimeMs.Int64
		q.ResponseTimeMs = &v
	}
	if r.ResponseLength.Valid {
		v := r.ResponseLength.Int64
		q.ResponseLength = &v
	}
	return q
}

func rowToAggregate(r *AnalyticsRow) *models.DailyAggregate {
	agg := &models.DailyAggregate{
		Date:                r.Date,
		TotalQuestions:      r.TotalQuestions,
		SuccessfulQuestions: r.SuccessfulQuestions,
		AvgResponseTimeMs:   r.AvgResponseTimeMs,
		UniqueUsers:         r.UniqueUsers,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.MostCommonQuestions != "" {
		_ = json.Unmarshal([]byte(r.MostCommonQuestions), &agg.MostCommonQuestions)
	}
	return agg
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
