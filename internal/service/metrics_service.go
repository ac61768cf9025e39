package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry for the API. Every method is
// safe to call on a nil receiver.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	cacheLatency        prometheus.Histogram
	cacheWrite          prometheus.Histogram
	cacheLookups        *prometheus.CounterVec
	schedulingConflicts *prometheus.CounterVec
	workflowDecisions   *prometheus.CounterVec
	txRetries           prometheus.Counter
	purgedAccounts      prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		schedulingConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_conflicts_total",
			Help: "Rejected bookings and staff decisions caused by overlapping intervals",
		}, []string{"dimension"}),
		workflowDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_decisions_total",
			Help: "Staff and approval workflow transitions",
		}, []string{"workflow", "decision"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tx_retries_total",
			Help: "Transactions retried after serialization failures or deadlocks",
		}),
		purgedAccounts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unverified_accounts_purged_total",
			Help: "Unverified registrations removed by the cleanup job",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration,
		m.requestTotal,
		m.cacheLatency,
		m.cacheWrite,
		m.cacheLookups,
		m.schedulingConflicts,
		m.workflowDecisions,
		m.txRetries,
		m.purgedAccounts,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request duration and count.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordSchedulingConflict counts an overlap rejection for venue or teacher.
func (m *MetricsService) RecordSchedulingConflict(dimension string) {
	if m == nil {
		return
	}
	m.schedulingConflicts.WithLabelValues(dimension).Inc()
}

// RecordWorkflowDecision counts a state transition in a workflow.
func (m *MetricsService) RecordWorkflowDecision(workflow, decision string) {
	if m == nil {
		return
	}
	m.workflowDecisions.WithLabelValues(workflow, decision).Inc()
}

// RecordTxRetry counts one retried transaction attempt.
func (m *MetricsService) RecordTxRetry(attempt int, err error) {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// RecordPurgedAccounts adds n to the cleanup counter.
func (m *MetricsService) RecordPurgedAccounts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purgedAccounts.Add(float64(n))
}
