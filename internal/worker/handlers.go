package worker

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/internal/notify"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// REST parameter bounds.
const (
	DefaultQuestionsLimit = gorm.DefaultListLimit
	MaxQuestionsLimit     = gorm.MaxPaginationLimit
	DefaultAnalyticsDays  = 30
	MaxAnalyticsDays      = 365
	DefaultReportDays     = 1
	MaxReportDays         = 30
	DefaultRecentQueries  = 20
	MaxRecentQueries      = 50
)

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps err to an HTTP status and writes {"error": ..., "kind": ...}.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.KindValidation:
		status = http.StatusBadRequest
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindUpstreamUnavailable, models.KindUpstreamRejected:
		status = http.StatusBadGateway
	case models.KindAIDisabled:
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{"error": err.Error()}
	if kind := models.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	writeJSONStatus(w, status, body)
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"error": what + " is not available"})
}

// intParam parses an optional integer query parameter and checks its range.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.ValidationError("%s must be an integer, got %q", name, raw)
	}
	if v < lo || v > hi {
		return 0, models.ValidationError("%s must be between %d and %d, got %d", name, lo, hi, v)
	}
	return v, nil
}

// dateParam parses an optional YYYY-MM-DD query parameter.
func dateParam(r *http.Request, name string) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(models.DayLayout, raw); err != nil {
		return "", models.ValidationError("%s must be a date in YYYY-MM-DD format, got %q", name, raw)
	}
	return raw, nil
}

// questionFilter reads the user and date range filters shared by listing and export.
func questionFilter(r *http.Request) (models.QuestionFilter, error) {
	start, err := dateParam(r, "start_date")
	if err != nil {
		return models.QuestionFilter{}, err
	}
	end, err := dateParam(r, "end_date")
	if err != nil {
		return models.QuestionFilter{}, err
	}
	if start != "" && end != "" && start > end {
		return models.QuestionFilter{}, models.ValidationError("start_date %s is after end_date %s", start, end)
	}
	return models.QuestionFilter{
		UserID:    strings.TrimSpace(r.URL.Query().Get("user_id")),
		StartDate: start,
		EndDate:   end,
	}, nil
}

// handleIndex describes the service and its endpoints.
func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"health":    "/health",
		"api":       "/api",
		"dashboard": "/dashboard",
		"events":    "/events",
		"metrics":   "/metrics",
	}
	if s.streamable != nil {
		endpoints["mcp"] = "/mcp"
		endpoints["sse"] = "/sse"
	}
	writeJSON(w, map[string]any{
		"service":   ServiceName,
		"version":   s.version,
		"status":    "running",
		"endpoints": endpoints,
	})
}

// handleHealth reports liveness plus store, Slack and AI status.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	resp := map[string]any{
		"service":        ServiceName,
		"version":        s.version,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"slack_enabled":  s.slack != nil && s.slack.Enabled(),
		"ai_enabled":     s.aiEnabled,
		"live_clients":   s.broadcaster.ClientCount(),
	}
	if s.sseHandler != nil {
		resp["sse_sessions"] = s.sseHandler.SessionCount()
	}
	if s.health != nil {
		info := s.health.HealthCheck(r.Context())
		resp["database"] = info
		if info.Status != "healthy" {
			status = "degraded"
		}
	}
	resp["status"] = status
	writeJSON(w, resp)
}

func (s *Service) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	if s.questions == nil {
		unavailable(w, "question store")
		return
	}
	limit, err := intParam(r, "limit", DefaultQuestionsLimit, 1, MaxQuestionsLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(r, "offset", 0, 0, 1<<31-1)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := questionFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := gorm.WithTimeout(r.Context(), gorm.DefaultQueryTimeout)
	defer cancel()

	total, err := s.questions.CountQuestions(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	filter.Limit, filter.Offset = limit, offset
	questions, err := s.questions.GetQuestions(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if questions == nil {
		questions = []*models.Question{}
	}

	writeJSON(w, map[string]any{
		"questions":      questions,
		"total":          len(questions),
		"total_matching": total,
		"limit":          limit,
		"offset":         offset,
	})
}

// questionRequest is the body of POST /api/questions.
type questionRequest struct {
	Success        *bool          `json:"success"`
	ResponseTimeMs *int64         `json:"response_time_ms"`
	ResponseLength *int64         `json:"response_length"`
	Metadata       map[string]any `json:"metadata"`
	Question       string         `json:"question"`
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id"`
	ErrorMessage   string         `json:"error_message"`
	ToolsCalled    []string       `json:"tools_called"`
}

func (req questionRequest) toQuestion(now time.Time) (*models.Question, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, models.ValidationError("question is required")
	}
	if req.ResponseTimeMs != nil && *req.ResponseTimeMs < 0 {
		return nil, models.ValidationError("response_time_ms must not be negative")
	}
	if req.ResponseLength != nil && *req.ResponseLength < 0 {
		return nil, models.ValidationError("response_length must not be negative")
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}
	return &models.Question{
		Timestamp:      now.UTC(),
		Question:       strings.TrimSpace(req.Question),
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		ResponseTimeMs: req.ResponseTimeMs,
		ResponseLength: req.ResponseLength,
		ToolsCalled:    req.ToolsCalled,
		Success:        success,
		ErrorMessage:   req.ErrorMessage,
		Metadata:       req.Metadata,
	}, nil
}

func (s *Service) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		unavailable(w, "question store")
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, models.ValidationError("invalid JSON body: %v", err))
		return
	}
	now := s.now()
	q, err := req.toQuestion(now)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.recorder.Record(r.Context(), q)
	if err != nil {
		writeError(w, fmt.Errorf("store question: %w", err))
		return
	}

	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"id":        id,
		"status":    "stored",
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

func (s *Service) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		unavailable(w, "analytics store")
		return
	}
	days, err := intParam(r, "days", DefaultAnalyticsDays, 1, MaxAnalyticsDays)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := gorm.WithTimeout(r.Context(), gorm.SlowQueryTimeout)
	defer cancel()

	summary, err := s.analytics.Summary(ctx, days, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summary)
}

// handleDailyAnalytics returns the aggregate and the questions of one date,
// today when no date is given.
func (s *Service) handleDailyAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil || s.questions == nil {
		unavailable(w, "analytics store")
		return
	}
	day, err := dateParam(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	if day == "" {
		day = models.DayOf(s.now())
	}

	ctx, cancel := gorm.WithTimeout(r.Context(), gorm.DefaultQueryTimeout)
	defer cancel()

	agg, err := s.analytics.ComputeDaily(ctx, day)
	if err != nil {
		writeError(w, err)
		return
	}
	if agg.TotalQuestions == 0 {
		writeError(w, models.NewError(models.KindNotFound, "no data found for "+day))
		return
	}
	questions, err := s.questions.GetQuestionsByDay(ctx, day)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"date":                  day,
		"total_questions":       agg.TotalQuestions,
		"successful_questions":  agg.SuccessfulQuestions,
		"success_rate":          agg.SuccessRate(),
		"avg_response_time_ms":  agg.AvgResponseTimeMs,
		"unique_users":          agg.UniqueUsers,
		"most_common_questions": agg.MostCommonQuestions,
		"questions":             questions,
	})
}

// handleRollup recomputes and persists the aggregate of one date.
func (s *Service) handleRollup(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		unavailable(w, "analytics store")
		return
	}
	day, err := dateParam(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	if day == "" {
		day = models.DayOf(s.now())
	}

	ctx, cancel := gorm.WithTimeout(r.Context(), gorm.SlowQueryTimeout)
	defer cancel()

	agg, err := s.analytics.RefreshDaily(ctx, day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, agg)
}

// statsBlock renders one period of the stats endpoint.
func statsBlock(o models.OverallStats) map[string]any {
	return map[string]any{
		"total_questions":      o.TotalQuestions,
		"successful_questions": o.SuccessfulQuestions,
		"success_rate": models.DailyAggregate{
			TotalQuestions:      o.TotalQuestions,
			SuccessfulQuestions: o.SuccessfulQuestions,
		}.SuccessRate(),
		"avg_response_time_ms": o.AvgResponseTimeMs,
		"unique_users":         o.UniqueUsers,
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		unavailable(w, "analytics store")
		return
	}

	ctx, cancel := gorm.WithTimeout(r.Context(), gorm.DefaultQueryTimeout)
	defer cancel()

	stats, err := s.analytics.Stats(ctx, s.now())
	if err != nil {
		writeError(w, err)
		return
	}

	dbStatus := "connected"
	if s.health != nil {
		if info := s.health.HealthCheck(ctx); info.Status == "unhealthy" {
			dbStatus = "disconnected"
		}
	}

	response := map[string]any{
		"today":     statsBlock(stats.Today),
		"this_week": statsBlock(stats.LastWeek),
		"system": map[string]any{
			"database_status":   dbStatus,
			"slack_integration": s.slack != nil && s.slack.Enabled(),
			"rate_limiter":      s.limiter.Stats(),
			"timestamp":         s.now().UTC().Format(time.RFC3339),
		},
	}
	if s.search != nil {
		response["search"] = s.search.Metrics().GetStats()
	}
	if s.maintenance != nil {
		response["maintenance"] = s.maintenance.Stats()
	}
	writeJSON(w, response)
}

// handleRecentQueries returns the most recent distinct searches, newest first.
func (s *Service) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		unavailable(w, "search")
		return
	}
	limit, err := intParam(r, "limit", DefaultRecentQueries, 1, MaxRecentQueries)
	if err != nil {
		writeError(w, err)
		return
	}
	queries := s.search.GetRecentQueries(limit)
	writeJSON(w, map[string]any{
		"queries": queries,
		"count":   len(queries),
	})
}

// handleMaintenanceRun starts a rollup and report run in the background.
func (s *Service) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	if s.maintenance == nil {
		unavailable(w, "maintenance")
		return
	}
	s.maintenance.RunNow(r.Context())
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"status": "started"})
}

func (s *Service) handleSlackTest(w http.ResponseWriter, r *http.Request) {
	if s.slack == nil || !s.slack.Enabled() {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"error": notify.ErrDisabled.Error()})
		return
	}
	if err := s.slack.Send(r.Context(), "🧪 Test message from PRIDE MCP Server", nil); err != nil {
		writeJSONStatus(w, http.StatusBadGateway, map[string]any{"error": "Slack integration test failed: " + err.Error()})
		return
	}
	writeJSON(w, map[string]any{"status": "success", "message": "Slack message sent successfully"})
}

func (s *Service) handleSlackAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.slack == nil || !s.slack.Enabled() {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"error": notify.ErrDisabled.Error()})
		return
	}
	if s.analytics == nil {
		unavailable(w, "analytics store")
		return
	}
	days, err := intParam(r, "days", DefaultReportDays, 1, MaxReportDays)
	if err != nil {
		writeError(w, err)
		return
	}

	now := s.now()
	summary, err := s.analytics.Summary(r.Context(), days, now)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.slack.NotifyAnalytics(r.Context(), summary, now); err != nil {
		writeJSONStatus(w, http.StatusBadGateway, map[string]any{"error": "Failed to send analytics report: " + err.Error()})
		return
	}
	writeJSON(w, map[string]any{"status": "success", "message": "Analytics report sent to Slack"})
}
