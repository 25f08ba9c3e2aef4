// Package observability holds the Prometheus metrics, OpenTelemetry span
// helpers and Sentry error reporting shared by the server components.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCallsTotal counts tool invocations by tool and outcome.
	ToolCallsTotal *prometheus.CounterVec

	// ToolDuration observes tool execution time.
	ToolDuration *prometheus.HistogramVec

	// UpstreamRequestsTotal counts archive and AI backend calls by operation and status.
	UpstreamRequestsTotal *prometheus.CounterVec

	// UpstreamLatency observes upstream call latency.
	UpstreamLatency *prometheus.HistogramVec

	// EnrichmentFailuresTotal counts per-project detail lookups that failed during a search.
	EnrichmentFailuresTotal prometheus.Counter

	// DegradedSearchesTotal counts searches that ran without facet validation.
	DegradedSearchesTotal prometheus.Counter

	// QuestionsStoredTotal counts usage records written to the telemetry store.
	QuestionsStoredTotal *prometheus.CounterVec

	// SlackNotificationsTotal counts webhook deliveries by kind and outcome.
	SlackNotificationsTotal *prometheus.CounterVec
)

func init() {
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pride",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations",
		},
		[]string{"tool_name", "status"},
	)

	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pride",
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool_name"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pride",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total upstream requests",
		},
		[]string{"operation", "status"},
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pride",
			Subsystem: "upstream",
			Name:      "latency_seconds",
			Help:      "Upstream request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	EnrichmentFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pride",
			Subsystem: "search",
			Name:      "enrichment_failures_total",
			Help:      "Project detail lookups that failed during search enrichment",
		},
	)

	DegradedSearchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pride",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches executed without facet validation",
		},
	)

	QuestionsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pride",
			Subsystem: "telemetry",
			Name:      "questions_stored_total",
			Help:      "Usage records written to the telemetry store",
		},
		[]string{"success"},
	)

	SlackNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pride",
			Subsystem: "slack",
			Name:      "notifications_total",
			Help:      "Slack webhook deliveries",
		},
		[]string{"kind", "status"},
	)

	prometheus.MustRegister(
		ToolCallsTotal,
		ToolDuration,
		UpstreamRequestsTotal,
		UpstreamLatency,
		EnrichmentFailuresTotal,
		DegradedSearchesTotal,
		QuestionsStoredTotal,
		SlackNotificationsTotal,
	)
}

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// StatusLabel maps an error to the status label used by the counters.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
