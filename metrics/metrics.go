// Package metrics provides the metrics interface for the idempotency handler.
package metrics

import "time"

// Metrics defines the interface for collecting observability metrics.
// Implementations can use Prometheus, StatsD, or other metrics backends.
type Metrics interface {
	// Execution metrics
	ExecutionStarted()
	ExecutionCompleted(duration time.Duration)
	ExecutionFailed(reason string)

	// Decision metrics
	Deduplicated()
	Conflict(reason string)

	// Store metrics
	StoreOp(op string, duration time.Duration, success bool)

	// Purge metrics
	PurgeCompleted(removed int64)
	PurgeFailed()
}

// NoopMetrics is a no-op implementation of Metrics for testing or when
// metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) ExecutionStarted()                                       {}
func (n *NoopMetrics) ExecutionCompleted(duration time.Duration)               {}
func (n *NoopMetrics) ExecutionFailed(reason string)                           {}
func (n *NoopMetrics) Deduplicated()                                           {}
func (n *NoopMetrics) Conflict(reason string)                                  {}
func (n *NoopMetrics) StoreOp(op string, duration time.Duration, success bool) {}
func (n *NoopMetrics) PurgeCompleted(removed int64)                            {}
func (n *NoopMetrics) PurgeFailed()                                            {}
