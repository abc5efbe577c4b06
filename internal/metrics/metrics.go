package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardian_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	sosTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_sos_triggers_total",
			Help: "Total SOS events by trigger source",
		},
		[]string{"source"},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_dispatch_attempts_total",
			Help: "Per-channel delivery attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	transmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_transmissions_total",
			Help: "Successful individual transmissions per channel",
		},
		[]string{"channel"},
	)

	composeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_compose_fallback_total",
			Help: "Emergency messages built from the deterministic template",
		},
	)

	classifierErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_classifier_errors_total",
			Help: "Distress classification calls that failed",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_rate_limit_rejections_total",
			Help: "Requests rejected by the per-device rate limiter",
		},
		[]string{"device_id"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_idempotency_hits_total",
			Help: "SOS triggers served from the idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSOSTrigger records one SOS event by source ("manual" or "voice").
func RecordSOSTrigger(source string) {
	sosTriggers.WithLabelValues(source).Inc()
}

// RecordDispatchAttempt records a per-channel delivery attempt outcome.
func RecordDispatchAttempt(channel, outcome string) {
	dispatchAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordTransmission records one successful transmission on a channel.
func RecordTransmission(channel string) {
	transmissions.WithLabelValues(channel).Inc()
}

// RecordComposeFallback records a composition that degraded to the template.
func RecordComposeFallback() {
	composeFallbacks.Inc()
}

// RecordClassifierError records a failed distress classification.
func RecordClassifierError() {
	classifierErrors.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(deviceID string) {
	rateLimitRejections.WithLabelValues(deviceID).Inc()
}

// RecordIdempotencyHit records a replayed SOS trigger.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
