package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crtchat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Conversation metrics
	conversationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtchat_conversations_total",
			Help: "Total number of conversation turns processed",
		},
		[]string{"arm", "status"},
	)

	conversationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crtchat_conversation_duration_seconds",
			Help:    "End-to-end conversation turn duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"arm"},
	)

	// LLM metrics
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtchat_llm_calls_total",
			Help: "Total number of LLM provider calls",
		},
		[]string{"provider", "status"},
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crtchat_llm_call_duration_seconds",
			Help:    "LLM provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Moderation metrics
	moderationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtchat_moderation_outcomes_total",
			Help: "Total moderation outcomes by verdict",
		},
		[]string{"outcome"},
	)

	// Transcript store metrics
	storeAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtchat_store_appends_total",
			Help: "Total transcript store append batches",
		},
		[]string{"status"},
	)

	requeueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crtchat_requeue_depth",
			Help: "Transcript rows parked for asynchronous re-append",
		},
	)

	degradedHistoryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crtchat_degraded_history_total",
			Help: "Conversation turns served with partial or empty history",
		},
	)

	// System metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crtchat_active_sessions",
			Help: "Number of registered sessions",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			conversationsTotal,
			conversationDuration,
			llmCallsTotal,
			llmCallDuration,
			moderationOutcomesTotal,
			storeAppendsTotal,
			requeueDepth,
			degradedHistoryTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordConversation records a completed conversation turn
func RecordConversation(arm, status string, duration time.Duration) {
	conversationsTotal.WithLabelValues(arm, status).Inc()
	conversationDuration.WithLabelValues(arm).Observe(duration.Seconds())
}

// RecordLLMCall records an LLM provider call
func RecordLLMCall(provider, status string, duration time.Duration) {
	llmCallsTotal.WithLabelValues(provider, status).Inc()
	llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordModerationOutcome records a moderation verdict
func RecordModerationOutcome(outcome string) {
	moderationOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordStoreAppend records a transcript append batch
func RecordStoreAppend(status string) {
	storeAppendsTotal.WithLabelValues(status).Inc()
}

// SetRequeueDepth sets the parked-row gauge
func SetRequeueDepth(n int) {
	requeueDepth.Set(float64(n))
}

// RecordDegradedHistory counts a turn served without full history
func RecordDegradedHistory() {
	degradedHistoryTotal.Inc()
}

// SetActiveSessions sets the registered session gauge
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
