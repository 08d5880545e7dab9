package strata

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// session refreshes and transactions. It is safe for concurrent use. All
// recorders are best effort: a nil collector is valid and records nothing,
// and no recorder ever influences control flow.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	sessionRefreshes *prometheus.CounterVec

	transactionsTotal  *prometheus.CounterVec
	rollbackOperations *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_requests_total",
				Help: "Total number of management API requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strata_request_duration_seconds",
				Help:    "Duration of management API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "strata_requests_in_flight",
				Help: "Number of management API requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_errors_total",
				Help: "Total number of classified request failures",
			},
			[]string{"category", "method", "endpoint"},
		),
		sessionRefreshes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_session_refreshes_total",
				Help: "Total number of session token refresh attempts",
			},
			[]string{"result"},
		),
		transactionsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_transactions_total",
				Help: "Total number of finished transactions by terminal status",
			},
			[]string{"status"},
		),
		rollbackOperations: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_rollback_operations_total",
				Help: "Total number of operations rolled back during transaction recovery",
			},
			[]string{"kind", "result"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration. statusCode is 0 when no
// response was received; it is labeled "error".
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	label := "error"
	if statusCode != 0 {
		label = strconv.Itoa(statusCode)
	}
	mc.requestsTotal.WithLabelValues(method, label, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, label, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordError increments error counter by category.
func (mc *MetricsCollector) RecordError(category ErrorCategory, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(category), method, endpoint).Inc()
}

// RecordSessionRefresh increments the refresh counter; result is "success"
// or "failure".
func (mc *MetricsCollector) RecordSessionRefresh(result string) {
	if mc == nil {
		return
	}

	mc.sessionRefreshes.WithLabelValues(result).Inc()
}

// RecordTransaction increments the finished-transaction counter for a
// terminal status ("committed" or "rolled_back").
func (mc *MetricsCollector) RecordTransaction(status string) {
	if mc == nil {
		return
	}

	mc.transactionsTotal.WithLabelValues(status).Inc()
}

// RecordRollbackOperation increments the rollback counter for one completed
// operation; result is "reversed", "failed" or "skipped".
func (mc *MetricsCollector) RecordRollbackOperation(kind string, result string) {
	if mc == nil {
		return
	}

	mc.rollbackOperations.WithLabelValues(kind, result).Inc()
}
