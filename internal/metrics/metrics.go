package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission metrics
var (
	// AdmissionDecisionsTotal counts terminal pipeline decisions by outcome
	// (admitted, rejected, abandoned) and reason.
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of admission decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	// AdmissionDuration tracks time spent evaluating the pipeline
	AdmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_evaluation_duration_seconds",
			Help:    "Admission pipeline evaluation duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"outcome"},
	)

	// RateLimitRejectionsTotal counts rejections per rate limit scope
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by rate limit scope",
		},
		[]string{"scope"},
	)

	// PayloadMatchesTotal counts suspicious payload fields by signature category
	PayloadMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_matches_total",
			Help: "Total number of suspicious payload detections by category",
		},
		[]string{"category", "blocked"},
	)

	// LockoutsTotal counts identifiers that crossed the failure threshold
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "login_lockouts_total",
			Help: "Total number of login lockouts triggered",
		},
	)
)

// Audit metrics
var (
	// AuditEventsTotal counts audit events handled per writer and result
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events by writer and result",
		},
		[]string{"writer", "result"},
	)

	// AuditEventsDropped counts events lost because the queue was full or closed
	AuditEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped before reaching a writer",
		},
		[]string{"reason"},
	)

	// AuditQueueDepth is the number of events waiting for the worker
	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Number of audit events waiting in the dispatcher queue",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
