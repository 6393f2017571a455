package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus
type PrometheusMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	evaluationErrors   *prometheus.CounterVec
	cacheHitsTotal     prometheus.Counter
	cacheMissesTotal   prometheus.Counter

	ticketOpsTotal *prometheus.CounterVec

	syncRunsTotal   *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	syncFailures    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &PrometheusMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of policy evaluations by effect",
			},
			[]string{"effect"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation latency",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
		),
		evaluationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_errors_total",
				Help:      "Total number of evaluation errors by type",
			},
			[]string{"type"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of decision cache hits",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of decision cache misses",
			},
		),
		ticketOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tickets",
				Name:      "operations_total",
				Help:      "Total number of permission ticket operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		syncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "groupsync",
				Name:      "runs_total",
				Help:      "Total number of group sync runs by direction and status",
			},
			[]string{"direction", "status"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "groupsync",
				Name:      "duration_seconds",
				Help:      "Group sync run duration",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"direction"},
		),
		syncFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "groupsync",
				Name:      "item_failures_total",
				Help:      "Total number of per-item group sync failures",
			},
			[]string{"direction"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.evaluationErrors,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.ticketOpsTotal,
		m.syncRunsTotal,
		m.syncDuration,
		m.syncFailures,
	)

	return m
}

func (m *PrometheusMetrics) RecordEvaluation(effect string, duration time.Duration) {
	m.evaluationsTotal.WithLabelValues(effect).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

func (m *PrometheusMetrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

func (m *PrometheusMetrics) RecordEvaluationError(errorType string) {
	m.evaluationErrors.WithLabelValues(errorType).Inc()
}

func (m *PrometheusMetrics) RecordTicketOp(op, outcome string) {
	m.ticketOpsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *PrometheusMetrics) RecordSyncRun(direction, status string, duration time.Duration) {
	m.syncRunsTotal.WithLabelValues(direction, status).Inc()
	m.syncDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordSyncFailures(direction string, count int) {
	if count > 0 {
		m.syncFailures.WithLabelValues(direction).Add(float64(count))
	}
}

// HTTPHandler returns the Prometheus scrape handler
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
