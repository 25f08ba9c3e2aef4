// Package notify posts usage notifications and analytics reports to a Slack incoming webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/internal/privacy"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// ErrDisabled is returned when no webhook URL is configured.
var ErrDisabled = errors.New("slack notifications are disabled")

// Notification kinds, used as the metrics label.
const (
	KindQuestion  = "question"
	KindAnalytics = "analytics"
	KindError     = "error"
	KindStatus    = "status"
	KindTest      = "test"
)

// Message is the incoming-webhook payload.
type Message struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// Block is a Block Kit layout block.
type Block struct {
	Text     *Text  `json:"text,omitempty"`
	Type     string `json:"type"`
	Fields   []Text `json:"fields,omitempty"`
	Elements []Text `json:"elements,omitempty"`
}

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) Text { return Text{Type: "mrkdwn", Text: s} }

// Config configures the Slack notifier.
type Config struct {
	WebhookURL string
	Channel    string
	Timeout    time.Duration
	Retries    int
	RetryWait  time.Duration
}

// Slack sends messages to one webhook. A Slack without a webhook URL is disabled
// and every send returns ErrDisabled without a network call.
type Slack struct {
	http       *resty.Client
	logger     zerolog.Logger
	webhookURL string
	channel    string
}

// NewSlack creates a notifier.
func NewSlack(cfg Config) *Slack {
	logger := log.With().Str("component", "slack").Logger()
	s := &Slack{
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		channel:    cfg.Channel,
		logger:     logger,
	}
	if s.webhookURL == "" {
		logger.Warn().Msg("Slack integration disabled - no webhook URL provided")
		return s
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = time.Second
	}

	s.http = resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetRetryCount(max(cfg.Retries, 0)).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(4 * retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	logger.Info().Str("channel", s.channel).Msg("Slack integration enabled")
	return s
}

// Enabled reports whether a webhook URL is configured.
func (s *Slack) Enabled() bool {
	return s != nil && s.webhookURL != ""
}

// Send posts text and optional blocks. Text is scrubbed of credentials first.
func (s *Slack) Send(ctx context.Context, text string, blocks []Block) error {
	return s.send(ctx, KindTest, text, blocks)
}

func (s *Slack) send(ctx context.Context, kind, text string, blocks []Block) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	msg := Message{Channel: s.channel, Text: privacy.Scrub(text), Blocks: blocks}
	resp, err := s.http.R().SetContext(ctx).SetBody(msg).Post(s.webhookURL)
	if err == nil && resp.IsError() {
		err = fmt.Errorf("slack webhook returned status %d", resp.StatusCode())
	}
	if err != nil {
		observability.SlackNotificationsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Slack delivery failed")
		return err
	}
	observability.SlackNotificationsTotal.WithLabelValues(kind, "ok").Inc()
	s.logger.Debug().Str("kind", kind).Msg("Slack message sent")
	return nil
}

// NotifyQuestion announces one recorded invocation.
func (s *Slack) NotifyQuestion(ctx context.Context, q *models.Question) error {
	if q == nil {
		return nil
	}
	return s.send(ctx, KindQuestion, QuestionText(q), nil)
}

// QuestionText renders the one-line question notification.
func QuestionText(q *models.Question) string {
	status := "✅"
	if !q.Success {
		status = "❌"
	}
	var b strings.Builder
	b.WriteString(status)
	b.WriteString(" New PRIDE Question")
	if q.UserID != "" {
		fmt.Fprintf(&b, " (User: %s)", q.UserID)
	}
	if q.ResponseTimeMs != nil && *q.ResponseTimeMs > 0 {
		fmt.Fprintf(&b, " (%dms)", *q.ResponseTimeMs)
	}
	b.WriteString("\n> ")
	b.WriteString(q.Question)
	return b.String()
}

// NotifyAnalytics posts a report for summary.
func (s *Slack) NotifyAnalytics(ctx context.Context, summary *models.AnalyticsSummary, now time.Time) error {
	if summary == nil || summary.OverallStats.TotalQuestions == 0 {
		return errors.New("no analytics data available")
	}
	return s.send(ctx, KindAnalytics, "Daily Analytics Report", AnalyticsBlocks(summary, now))
}

// AnalyticsBlocks renders summary as header, fields, top questions and a context footer.
func AnalyticsBlocks(summary *models.AnalyticsSummary, now time.Time) []Block {
	stats := summary.OverallStats
	rate := models.DailyAggregate{
		TotalQuestions:      stats.TotalQuestions,
		SuccessfulQuestions: stats.SuccessfulQuestions,
	}.SuccessRate()

	blocks := []Block{
		{
			Type: "header",
			Text: &Text{Type: "plain_text", Text: fmt.Sprintf("📊 PRIDE MCP Server Analytics - Last %d day(s)", summary.PeriodDays)},
		},
		{
			Type: "section",
			Fields: []Text{
				mrkdwn(fmt.Sprintf("*Total Questions:*\n%d", stats.TotalQuestions)),
				mrkdwn(fmt.Sprintf("*Success Rate:*\n%.1f%%", rate)),
				mrkdwn(fmt.Sprintf("*Avg Response Time:*\n%.0fms", stats.AvgResponseTimeMs)),
				mrkdwn(fmt.Sprintf("*Unique Users:*\n%d", stats.UniqueUsers)),
			},
		},
	}

	if len(summary.CommonQuestions) > 0 {
		lines := make([]string, 0, 5)
		for _, q := range summary.CommonQuestions[:min(5, len(summary.CommonQuestions))] {
			lines = append(lines, fmt.Sprintf("• %s (%d times)", truncate(q.Question, 50), q.Count))
		}
		text := mrkdwn("*Top Questions:*\n" + strings.Join(lines, "\n"))
		blocks = append(blocks, Block{Type: "section", Text: &text})
	}

	blocks = append(blocks, Block{
		Type:     "context",
		Elements: []Text{mrkdwn("Report generated at " + now.Format("2006-01-02 15:04:05"))},
	})
	return blocks
}

// NotifyError posts an error alert.
func (s *Slack) NotifyError(ctx context.Context, message, detail string) error {
	text := "🚨 PRIDE MCP Server Error\n\n*Error:* " + message
	if detail != "" {
		text += "\n*Context:* " + detail
	}
	return s.send(ctx, KindError, text, nil)
}

var statusEmoji = map[string]string{
	"online":      "🟢",
	"offline":     "🔴",
	"warning":     "🟡",
	"maintenance": "🔧",
}

// NotifyStatus posts a server status change with optional details.
func (s *Slack) NotifyStatus(ctx context.Context, status string, details map[string]string) error {
	return s.send(ctx, KindStatus, StatusText(status, details), nil)
}

// StatusText renders a status line followed by details in key order.
func StatusText(status string, details map[string]string) string {
	emoji, ok := statusEmoji[strings.ToLower(status)]
	if !ok {
		emoji = "ℹ️"
	}
	text := fmt.Sprintf("%s PRIDE MCP Server Status: %s", emoji, strings.ToUpper(status))
	if len(details) == 0 {
		return text
	}
	lines := make([]string, 0, len(details))
	for _, k := range slices.Sorted(maps.Keys(details)) {
		lines = append(lines, fmt.Sprintf("• %s: %s", k, details[k]))
	}
	return text + "\n\n*Details:*\n" + strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
