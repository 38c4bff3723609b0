package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "s3contents"

// Metrics holds the collectors for object-store calls, credential refreshes
// and the HTTP surface. It satisfies s3rest.Observer and auth.RefreshObserver.
type Metrics struct {
	registry *prometheus.Registry

	storeRequests  *prometheus.CounterVec
	storeDuration  *prometheus.HistogramVec
	storeRetries   *prometheus.CounterVec
	credRefreshes  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	bulkFailedKeys *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		storeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Object-store request attempts by operation, HTTP status and error kind",
		}, []string{"op", "status", "kind"}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Object-store request attempt latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		storeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Object-store retries by operation and error kind",
		}, []string{"op", "kind"}),
		credRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Credential fetches by strategy and result",
		}, []string{"strategy", "result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		bulkFailedKeys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_failed_keys_total",
			Help:      "Keys that failed inside multi-key operations, by operation and kind",
		}, []string{"op", "kind"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for m's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one object-store attempt.
func (m *Metrics) ObserveRequest(op string, status int, kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	m.storeRequests.WithLabelValues(op, strconv.Itoa(status), kind).Inc()
	m.storeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRetry records a retry of op after a failure of kind.
func (m *Metrics) ObserveRetry(op string, kind string) {
	m.storeRetries.WithLabelValues(op, kind).Inc()
}

// ObserveCredentialRefresh records a credential fetch.
func (m *Metrics) ObserveCredentialRefresh(strategy string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.credRefreshes.WithLabelValues(strategy, result).Inc()
}

// ObserveBulkFailure records one failed key of a multi-key operation.
func (m *Metrics) ObserveBulkFailure(op, kind string) {
	m.bulkFailedKeys.WithLabelValues(op, kind).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
