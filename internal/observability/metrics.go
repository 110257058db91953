package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	toolCallTotal    *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	historyLoadDuration prometheus.Histogram
	historySaveDuration prometheus.Histogram

	rateLimitedTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
	registry    *prometheus.Registry
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_turn_total",
					Help: "Total chat turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chat_turn_duration_seconds",
					Help:    "Chat turn duration in seconds by status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "completion_total",
					Help: "Total completion provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "completion_duration_seconds",
					Help:    "Completion provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_call_total",
					Help: "Total tool calls by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_call_duration_seconds",
					Help:    "Tool call duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current stored session count.",
				},
			),
			historyLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_load_duration_seconds",
					Help:    "History read duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historySaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_save_duration_seconds",
					Help:    "History append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			rateLimitedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limited_total",
					Help: "Total requests rejected by the rate limiter, by action.",
				},
				[]string{"action"},
			),
		}

		registry = prometheus.NewRegistry()
		registry.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.completionTotal,
			m.completionDuration,
			m.toolCallTotal,
			m.toolCallDuration,
			m.activeSessions,
			m.historyLoadDuration,
			m.historySaveDuration,
			m.rateLimitedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from any package init path.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns an HTTP handler serving the module's metrics.
func Handler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordTurn records one finished chat turn.
func RecordTurn(status string, d time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(status).Inc()
	m.turnDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordCompletion records one completion provider call.
func RecordCompletion(provider string, d time.Duration, ok bool) {
	m := getMetrics()
	m.completionTotal.WithLabelValues(provider, statusLabel(ok)).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordToolCall records one tool call.
func RecordToolCall(tool string, d time.Duration, ok bool) {
	m := getMetrics()
	m.toolCallTotal.WithLabelValues(tool, statusLabel(ok)).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetActiveSessions sets the stored session gauge.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// RecordHistoryLoad records a history read.
func RecordHistoryLoad(d time.Duration) {
	getMetrics().historyLoadDuration.Observe(d.Seconds())
}

// RecordHistorySave records a history append.
func RecordHistorySave(d time.Duration) {
	getMetrics().historySaveDuration.Observe(d.Seconds())
}

// RecordRateLimited records a request rejected by the rate limiter.
func RecordRateLimited(action string) {
	getMetrics().rateLimitedTotal.WithLabelValues(action).Inc()
}
