// Package metrics provides Prometheus metrics for the admin core service
// (RED plus admission, alerting and reporting counters).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "admincore"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// AdmissionDecisionsTotal counts gateway outcomes by decision code.
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Gateway admission decisions by outcome (allow, ip_blocked, rate_limit_exceeded, suspicious_request).",
		},
		[]string{"decision"},
	)

	// RateLimitRejectionsTotal counts rejections per rate-limit rule.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Rate-limit rejections by rule name.",
		},
		[]string{"rule"},
	)

	// AlertsFiredTotal counts fired alerts by severity.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "System alerts fired, by severity.",
		},
		[]string{"severity"},
	)

	// NotificationsTotal counts notification deliveries by channel and outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert notification deliveries by channel and status.",
		},
		[]string{"channel", "status"},
	)

	// ReportExecutionsTotal counts report executions by final status.
	ReportExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_executions_total",
			Help:      "Report executions by final status.",
		},
		[]string{"status"},
	)

	// ReportDurationSeconds is report execution latency.
	ReportDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Report execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	// AuditQueueDroppedTotal counts audit events dropped after retry exhaustion.
	AuditQueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_queue_dropped_total",
			Help:      "Security events dropped after audit sink retries were exhausted.",
		},
	)
)
