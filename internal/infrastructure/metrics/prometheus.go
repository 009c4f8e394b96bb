package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports ingestion metrics in Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHitRate      prometheus.Gauge
	cacheKeys         prometheus.Gauge
	cacheMemoryBytes  prometheus.Gauge
	statements        *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	statementErrors   *prometheus.CounterVec
	retries           prometheus.Counter
	cleanupFailures   *prometheus.CounterVec
}

// NewPrometheusExporter creates an exporter registering its metrics on reg.
// A nil reg uses the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "graphsync_query_cache_hit_rate",
			Help: "Current compiled-query cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "graphsync_query_cache_keys_current",
			Help: "Current number of compiled queries in the cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "graphsync_query_cache_memory_bytes",
			Help: "Approximate memory held by the compiled-query cache in bytes",
		}),
		statements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphsync_statements_total",
				Help: "Total number of statements run against the graph store",
			},
			[]string{"kind", "label"},
		),
		statementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graphsync_statement_duration_seconds",
				Help:    "Duration of graph store statements in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 60.0},
			},
			[]string{"kind"},
		),
		statementErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphsync_statement_errors_total",
				Help: "Total number of failed graph store statements",
			},
			[]string{"kind", "class"},
		),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphsync_chunk_retries_total",
			Help: "Total number of chunks retried after a transient store error",
		}),
		cleanupFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphsync_cleanup_failures_total",
				Help: "Total number of failed cleanup jobs",
			},
			[]string{"label"},
		),
	}
}

// Update refreshes gauges from the collector.
// Counters are updated as events happen, so only gauges are set here.
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordStatement records a statement in Prometheus.
func (e *PrometheusExporter) RecordStatement(kind, label string) {
	e.statements.WithLabelValues(kind, label).Inc()
}

// RecordDuration records a statement duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(kind string, durationSeconds float64) {
	e.statementDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordError records a statement error in Prometheus.
func (e *PrometheusExporter) RecordError(kind string, transient bool) {
	class := "fatal"
	if transient {
		class = "transient"
	}
	e.statementErrors.WithLabelValues(kind, class).Inc()
}

// RecordRetry records a chunk retry.
func (e *PrometheusExporter) RecordRetry() {
	e.retries.Inc()
}

// RecordCleanupFailure records a failed cleanup job.
func (e *PrometheusExporter) RecordCleanupFailure(label string) {
	e.cleanupFailures.WithLabelValues(label).Inc()
}
