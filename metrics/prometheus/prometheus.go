// Package prometheus provides a Prometheus implementation of the metrics interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"idem/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	// Execution metrics
	executionStartedTotal   prometheus.Counter
	executionCompletedTotal prometheus.Counter
	executionFailedTotal    *prometheus.CounterVec
	executionDuration       prometheus.Histogram

	// Decision metrics
	deduplicatedTotal prometheus.Counter
	conflictTotal     *prometheus.CounterVec

	// Store metrics
	storeOpDuration *prometheus.HistogramVec

	// Purge metrics
	purgeRemovedTotal prometheus.Counter
	purgeFailedTotal  prometheus.Counter
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "idem")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "idem",
		Subsystem: "",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)

	return &PrometheusMetrics{
		executionStartedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "execution_started_total",
			Help:      "Total number of idempotent executions started",
		}),

		executionCompletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "execution_completed_total",
			Help:      "Total number of idempotent executions completed successfully",
		}),

		executionFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "execution_failed_total",
			Help:      "Total number of idempotent executions failed",
		}, []string{"reason"}),

		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Idempotent execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}),

		deduplicatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "deduplicated_total",
			Help:      "Total number of executions served from a stored result",
		}),

		conflictTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "conflict_total",
			Help:      "Total number of reservation conflicts",
		}, []string{"reason"}),

		storeOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "store_op_duration_seconds",
			Help:      "Persistence operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"op", "status"}),

		purgeRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "purge_removed_total",
			Help:      "Total number of expired records removed by the purge worker",
		}),

		purgeFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "purge_failed_total",
			Help:      "Total number of failed purge runs",
		}),
	}
}

// Execution metrics

func (p *PrometheusMetrics) ExecutionStarted() {
	p.executionStartedTotal.Inc()
}

func (p *PrometheusMetrics) ExecutionCompleted(duration time.Duration) {
	p.executionCompletedTotal.Inc()
	p.executionDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ExecutionFailed(reason string) {
	p.executionFailedTotal.WithLabelValues(reason).Inc()
}

// Decision metrics

func (p *PrometheusMetrics) Deduplicated() {
	p.deduplicatedTotal.Inc()
}

func (p *PrometheusMetrics) Conflict(reason string) {
	p.conflictTotal.WithLabelValues(reason).Inc()
}

// Store metrics

func (p *PrometheusMetrics) StoreOp(op string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	p.storeOpDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// Purge metrics

func (p *PrometheusMetrics) PurgeCompleted(removed int64) {
	p.purgeRemovedTotal.Add(float64(removed))
}

func (p *PrometheusMetrics) PurgeFailed() {
	p.purgeFailedTotal.Inc()
}
