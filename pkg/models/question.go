package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DayLayout is the calendar-date format used to bucket usage records.
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar date of t in DayLayout form.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// JSONStringArray is a string slice stored as a JSON text column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src any) error {
	data, err := jsonBytes(src, "JSONStringArray")
	if err != nil || data == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	return string(b), err
}

// JSONMap is a free-form object stored as a JSON text column.
type JSONMap map[string]any

// Scan implements sql.Scanner for JSONMap.
func (j *JSONMap) Scan(src any) error {
	data, err := jsonBytes(src, "JSONMap")
	if err != nil || data == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONMap.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	return string(b), err
}

func jsonBytes(src any, typ string) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []byte(v), nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%s: unsupported type %T", typ, src)
	}
}

// Question is one recorded tool invocation or user question.
type Question struct {
	Timestamp      time.Time       `json:"timestamp"`
	ResponseTimeMs *int64          `json:"response_time_ms"`
	ResponseLength *int64          `json:"response_length"`
	Metadata       JSONMap         `json:"metadata,omitempty"`
	Question       string          `json:"question"`
	UserID         string          `json:"user_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ToolsCalled    JSONStringArray `json:"tools_called,omitempty"`
	ID             int64           `json:"id"`
	Success        bool            `json:"success"`
}

// QuestionFilter narrows a question listing.
type QuestionFilter struct {
	UserID    string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// CommonQuestion is a question text with its occurrence count.
type CommonQuestion struct {
	Question string `json:"question"`
	Count    int64  `json:"count"`
}

// DailyAggregate is the rollup of all questions recorded on one date.
type DailyAggregate struct {
	UpdatedAt           time.Time        `json:"updated_at"`
	Date                string           `json:"date"`
	MostCommonQuestions []CommonQuestion `json:"most_common_questions,omitempty"`
	AvgResponseTimeMs   float64          `json:"avg_response_time"`
	TotalQuestions      int64            `json:"total_questions"`
	SuccessfulQuestions int64            `json:"successful_questions"`
	UniqueUsers         int64            `json:"unique_users"`
}

// SuccessRate returns the share of successful questions in percent.
func (a DailyAggregate) SuccessRate() float64 {
	if a.TotalQuestions == 0 {
		return 0
	}
	return float64(a.SuccessfulQuestions) / float64(a.TotalQuestions) * 100
}

// OverallStats summarises a period of recorded questions.
type OverallStats struct {
	AvgResponseTimeMs   float64 `json:"avg_response_time"`
	TotalQuestions      int64   `json:"total_questions"`
	SuccessfulQuestions int64   `json:"successful_questions"`
	UniqueUsers         int64   `json:"unique_users"`
	ActiveDays          int64   `json:"active_days"`
}

// AnalyticsSummary is the analytics view over the last PeriodDays days.
type AnalyticsSummary struct {
	DailyStats      []DailyAggregate `json:"daily_stats"`
	CommonQuestions []CommonQuestion `json:"common_questions"`
	OverallStats    OverallStats     `json:"overall_stats"`
	PeriodDays      int              `json:"period_days"`
}

// UsageStats is the dashboard snapshot for today and the trailing week.
type UsageStats struct {
	Today    OverallStats `json:"today"`
	LastWeek OverallStats `json:"last_7_days"`
}
