package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	analyzeTotal    *prometheus.CounterVec
	analyzeDuration *prometheus.HistogramVec

	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	activeSessions       prometheus.Gauge
	turnsAppendedTotal   *prometheus.CounterVec
	sweepsRemovedTotal   prometheus.Counter
	httpRateLimitedTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			analyzeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "iris_analyze_requests_total",
					Help: "Total analyze requests by mode and status.",
				},
				[]string{"mode", "status"},
			),
			analyzeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "iris_analyze_duration_seconds",
					Help:    "Analyze request duration in seconds by mode.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
			providerCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "iris_provider_calls_total",
					Help: "Total vision provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "iris_provider_call_duration_seconds",
					Help:    "Vision provider call duration in seconds by provider.",
					Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
				},
				[]string{"provider"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "iris_sessions_active",
					Help: "Current number of sessions held in memory.",
				},
			),
			turnsAppendedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "iris_session_turns_appended_total",
					Help: "Total conversation turns appended by role.",
				},
				[]string{"role"},
			),
			sweepsRemovedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "iris_session_sweeps_removed_total",
					Help: "Total sessions removed by expiry sweeps.",
				},
			),
			httpRateLimitedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "iris_http_rate_limited_total",
					Help: "Total HTTP requests rejected by the rate limiter.",
				},
			),
		}

		prometheus.MustRegister(
			m.analyzeTotal,
			m.analyzeDuration,
			m.providerCallsTotal,
			m.providerCallDuration,
			m.activeSessions,
			m.turnsAppendedTotal,
			m.sweepsRemovedTotal,
			m.httpRateLimitedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the Prometheus exposition format
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordAnalyze records one analyze request. mode is "describe" or "question".
func RecordAnalyze(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	m.analyzeTotal.WithLabelValues(mode, statusLabel(success)).Inc()
	m.analyzeDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordProviderCall records one completion call to a vision provider
func RecordProviderCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.providerCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordTurnAppended(role string) {
	m := getMetrics()
	m.turnsAppendedTotal.WithLabelValues(role).Inc()
}

// RecordSweep adds the number of sessions removed by one sweep
func RecordSweep(removed int) {
	m := getMetrics()
	m.sweepsRemovedTotal.Add(float64(removed))
}

func RecordRateLimited() {
	m := getMetrics()
	m.httpRateLimitedTotal.Inc()
}
