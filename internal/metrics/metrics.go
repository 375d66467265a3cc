// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Package metrics holds the Prometheus instruments for Clubpush.
//
// All collectors are registered on the default registry through promauto and
// exposed by the API's /metrics route.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results used as the "result" label.
const (
	ResultSuccess   = "success"
	ResultTerminal  = "terminal"
	ResultTransient = "transient"
)

var (
	// Database
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clubpush_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_db_query_errors_total",
			Help: "Total number of failed database queries",
		},
		[]string{"operation", "table"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clubpush_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clubpush_api_active_requests",
			Help: "Number of in-flight API requests",
		},
	)

	AuthzDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_authz_denied_total",
			Help: "Total number of requests refused by the authorization policy",
		},
		[]string{"object", "action"},
	)

	// Dispatch
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_dispatches_total",
			Help: "Total number of dispatches by channel and final status",
		},
		[]string{"channel", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clubpush_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	DispatchAudienceSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clubpush_dispatch_audience_size",
			Help:    "Number of members resolved per dispatch",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"channel"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_deliveries_total",
			Help: "Total number of delivery attempts by channel and result",
		},
		[]string{"channel", "result"}, // result: success, terminal, transient
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clubpush_delivery_duration_seconds",
			Help:    "Duration of a single delivery attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// Subscriptions
	SubscriptionsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clubpush_subscriptions_upserted_total",
			Help: "Total number of subscribe calls that stored a subscription",
		},
	)

	SubscriptionsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_subscriptions_removed_total",
			Help: "Total number of subscriptions removed",
		},
		[]string{"reason"}, // reason: terminal, unsubscribe
	)

	CleanupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clubpush_cleanup_errors_total",
			Help: "Total number of failed subscription cleanups after terminal delivery failures",
		},
	)

	SubscriptionsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clubpush_subscriptions_stored",
			Help: "Number of stored push subscriptions at the last count",
		},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clubpush_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_circuit_breaker_requests_total",
			Help: "Total number of requests through a circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Background queue
	QueueSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_queue_submissions_total",
			Help: "Total number of dispatch requests submitted to the background queue",
		},
		[]string{"result"}, // result: accepted, rejected
	)

	QueueProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_queue_processed_total",
			Help: "Total number of queued dispatch requests processed",
		},
		[]string{"result"}, // result: ok, invalid, error
	)

	// Dedup
	DedupChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubpush_dedup_checks_total",
			Help: "Total number of duplicate-suppression checks",
		},
		[]string{"backend", "result"}, // result: first, duplicate, error
	)
)

// RecordDBQuery records one database query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records one API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordDispatch records a finished dispatch.
func RecordDispatch(channel, status string, audience int, duration time.Duration) {
	DispatchesTotal.WithLabelValues(channel, status).Inc()
	DispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
	DispatchAudienceSize.WithLabelValues(channel).Observe(float64(audience))
}

// RecordDelivery records one delivery attempt.
func RecordDelivery(channel string, success, terminal bool, duration time.Duration) {
	result := ResultTransient
	switch {
	case success:
		result = ResultSuccess
	case terminal:
		result = ResultTerminal
	}
	DeliveriesTotal.WithLabelValues(channel, result).Inc()
	DeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordSubscriptionRemoved counts a removed subscription.
func RecordSubscriptionRemoved(reason string) {
	SubscriptionsRemoved.WithLabelValues(reason).Inc()
}

// RecordQueueSubmission counts a queue submit attempt.
func RecordQueueSubmission(accepted bool) {
	if accepted {
		QueueSubmissions.WithLabelValues("accepted").Inc()
		return
	}
	QueueSubmissions.WithLabelValues("rejected").Inc()
}

// RecordDedupCheck counts a dedup lookup.
func RecordDedupCheck(backend, result string) {
	DedupChecks.WithLabelValues(backend, result).Inc()
}
