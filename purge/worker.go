// Package purge provides a background worker that garbage-collects
// expired idempotency records from stores without native per-item TTL.
package purge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"idem"
	"idem/event"
	"idem/metrics"
)

// Config holds the configuration for the purge worker.
type Config struct {
	// Schedule is a cron expression for purge runs. Default: hourly.
	Schedule string
}

// DefaultConfig returns the default configuration for the purge worker.
func DefaultConfig() Config {
	return Config{
		Schedule: "@hourly",
	}
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// defaultLogger is the default logger implementation.
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[PurgeWorker] "+format, v...)
}

// Worker periodically removes expired records through a Purger.
// Stores with native TTL (Redis) do not need one.
type Worker struct {
	purger  idem.Purger
	events  event.EventBus
	metrics metrics.Metrics
	config  Config
	logger  Logger

	// State
	cron    *cron.Cron
	running bool
	mu      sync.Mutex

	// Counters
	runCount     int64
	removedCount int64
	countersMu   sync.RWMutex
}

// WorkerOption is a function that configures the Worker.
type WorkerOption func(*Worker)

// WithEventBus sets the event bus for the worker.
func WithEventBus(b event.EventBus) WorkerOption {
	return func(w *Worker) {
		w.events = b
	}
}

// WithMetrics sets the metrics sink for the worker.
func WithMetrics(m metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConfig sets the configuration for the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.config = cfg
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a purge worker over the given purger.
func NewWorker(purger idem.Purger, opts ...WorkerOption) *Worker {
	w := &Worker{
		purger:  purger,
		events:  event.NewNoOpEventBus(),
		metrics: &metrics.NoopMetrics{},
		config:  DefaultConfig(),
		logger:  &defaultLogger{},
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start schedules purge runs in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("purge worker already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(w.config.Schedule, func() {
		w.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", w.config.Schedule, err)
	}
	c.Start()

	w.cron = c
	w.running = true
	w.logger.Printf("started with schedule=%q", w.config.Schedule)
	return nil
}

// Stop stops the worker gracefully, waiting for an in-flight run.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	// Stop returns a context that is done once running jobs finish.
	<-c.Stop().Done()
	w.logger.Printf("stopped")
}

// IsRunning returns true if the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce performs a single purge run and returns how many records were
// removed. It can be called directly without Start for on-demand purges.
func (w *Worker) RunOnce(ctx context.Context) int64 {
	runID := uuid.NewString()

	removed, err := w.purger.PurgeExpired(ctx)
	if err != nil {
		w.logger.Printf("run %s failed: %v", runID, err)
		w.metrics.PurgeFailed()
		return 0
	}

	w.recordRun(removed)
	w.metrics.PurgeCompleted(removed)
	w.publishEvent(ctx, event.NewEvent(event.EventPurgeCompleted).
		WithData("run_id", runID).
		WithData("removed", removed))

	if removed > 0 {
		w.logger.Printf("run %s removed %d expired records", runID, removed)
	}
	return removed
}

// Stats returns the cumulative run and removal counts.
func (w *Worker) Stats() (runs int64, removed int64) {
	w.countersMu.RLock()
	defer w.countersMu.RUnlock()
	return w.runCount, w.removedCount
}

func (w *Worker) recordRun(removed int64) {
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	w.runCount++
	w.removedCount += removed
}

func (w *Worker) publishEvent(ctx context.Context, ev event.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, ev); err != nil {
		w.logger.Printf("failed to publish event %s: %v", ev.Type, err)
	}
}
