// Package metrics exposes Prometheus collectors for the audit pipeline.
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
	auditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_audits_total",
			Help: "Total number of audit cycles, labeled by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	auditAPIDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitals_audit_api_duration_seconds",
			Help:    "Latency of PageSpeed Insights calls, labeled by outcome.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90},
		},
		[]string{"outcome"},
	)

	alertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_alerts_fired_total",
			Help: "Total number of alert rows recorded, labeled by metric.",
		},
		[]string{"metric"},
	)

	alertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_alerts_suppressed_total",
			Help: "Breaches suppressed by the 24 hour dedup window, labeled by metric.",
		},
		[]string{"metric"},
	)

	dispatchedProjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_dispatched_projects_total",
			Help: "Due projects handed to the queue or run inline, labeled by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_jobs_total",
			Help: "Queued audit jobs processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	enrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_enrichments_total",
			Help: "Best-effort enrichment attempts, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	backgroundTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitals_background_tasks_in_flight",
			Help: "Number of detached background tasks currently running.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAudit counts one finished audit cycle.
func ObserveAudit(trigger, outcome string) {
	auditsTotal.WithLabelValues(trigger, outcome).Inc()
}

// ObserveAuditAPI records the latency of one audit API call.
func ObserveAuditAPI(outcome string, d time.Duration) {
	auditAPIDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveAlertFired counts a recorded alert row.
func ObserveAlertFired(metric string) {
	alertsFiredTotal.WithLabelValues(metric).Inc()
}

// ObserveAlertSuppressed counts a breach dropped by the dedup window.
func ObserveAlertSuppressed(metric string) {
	alertsSuppressedTotal.WithLabelValues(metric).Inc()
}

// ObserveDispatch counts a due project handled by the scheduler.
func ObserveDispatch(mode, outcome string) {
	dispatchedProjectsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveJob counts a processed queue job.
func ObserveJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichment counts a best-effort enrichment attempt.
func ObserveEnrichment(kind, outcome string) {
	enrichmentsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncBackgroundTasks increments the in-flight background task gauge.
func IncBackgroundTasks() {
	backgroundTasksInFlight.Inc()
}

// DecBackgroundTasks decrements the in-flight background task gauge.
func DecBackgroundTasks() {
	backgroundTasksInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
