package idem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"idem/event"
	"idem/metrics"
	"idem/tracing"
)

// WorkFunc is the unit of work wrapped by a Handler. It must produce a
// serializable result or fail; it may have side effects, which is the
// whole point of running it at most once.
type WorkFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Handler orchestrates exactly-once-effect execution for a payload whose
// idempotency key is derived by the store. It decides per call whether to
// execute, short-circuit with a stored result, or surface contention, and
// retries torn store state a bounded number of times.
//
// A Handler holds no per-key state: all coordination between concurrent
// invocations happens through the store's conditional writes. It is safe
// for concurrent use.
type Handler struct {
	store   Store
	metrics metrics.Metrics
	tracer  tracing.Tracer
	events  event.EventBus
	config  Config
}

// HandlerOption is a function that configures the Handler.
type HandlerOption func(*Handler)

// WithMetrics sets the metrics sink for the handler.
func WithMetrics(m metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTracer sets the tracer for the handler.
func WithTracer(tr tracing.Tracer) HandlerOption {
	return func(h *Handler) {
		h.tracer = tr
	}
}

// WithEventBus sets the event bus for the handler.
func WithEventBus(b event.EventBus) HandlerOption {
	return func(h *Handler) {
		h.events = b
	}
}

// WithHandlerConfig sets the execution policy for the handler.
func WithHandlerConfig(cfg Config) HandlerOption {
	return func(h *Handler) {
		h.config = cfg
	}
}

// NewHandler creates a Handler over the given store.
func NewHandler(store Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:   store,
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
		events:  event.NewNoOpEventBus(),
		config:  DefaultConfig(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Execute runs work at most once for the payload's idempotency key.
//
// The caller sees exactly one of: the work's own result, the work's own
// error, a stored prior result, ErrAlreadyInProgress, a terminal
// ErrInconsistentState, ErrMissingIdempotencyKey, ErrPayloadMismatch, or
// a PersistenceError. Raw store errors never escape.
func (h *Handler) Execute(ctx context.Context, payload []byte, work WorkFunc) ([]byte, error) {
	if err := h.config.Validate(); err != nil {
		return nil, err
	}
	if h.config.Disabled || h.store == nil {
		return work(ctx, payload)
	}

	key, err := h.store.Key(payload)
	if err != nil {
		return nil, NewPersistenceError("derive_key", err)
	}
	if key == "" {
		if h.config.FailOnMissingKey {
			return nil, ErrMissingIdempotencyKey
		}
		// No key, no idempotency: same bypass as Disabled.
		return work(ctx, payload)
	}

	ctx, span := h.tracer.StartExecute(ctx, key)
	defer span.End()

	h.metrics.ExecutionStarted()
	start := time.Now()

	result, err := h.executeWithRetry(ctx, span, key, payload, work)
	if err != nil {
		span.SetError(err)
		h.metrics.ExecutionFailed(failureReason(err))
		return nil, err
	}

	h.metrics.ExecutionCompleted(time.Since(start))
	return result, nil
}

// executeWithRetry is the bounded reservation loop. Each attempt reserves
// the key, and a conflicting record is re-evaluated fresh: stale snapshots
// are never reused across attempts.
func (h *Handler) executeWithRetry(ctx context.Context, span tracing.Span, key string, payload []byte, work WorkFunc) ([]byte, error) {
	remaining := int64(0)
	if h.config.RemainingTime != nil {
		remaining = h.config.RemainingTime(ctx)
	}

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		start := time.Now()
		err := h.store.SaveInProgress(ctx, payload, remaining)
		// A conflict is an expected outcome, not a store failure.
		h.metrics.StoreOp("save_inprogress", time.Since(start), err == nil || errors.Is(err, ErrItemAlreadyExists))
		if err == nil {
			h.publish(ctx, event.NewEvent(event.EventReserved).WithKey(key))
			return h.runAndFinalize(ctx, key, payload, work)
		}

		var exists *ItemExistsError
		if !errors.As(err, &exists) {
			return nil, NewPersistenceError("save_inprogress", err)
		}

		record := exists.Record
		if record == nil {
			start = time.Now()
			record, err = h.store.GetRecord(ctx, payload)
			h.metrics.StoreOp("get", time.Since(start), err == nil || errors.Is(err, ErrRecordNotFound))
			if errors.Is(err, ErrRecordNotFound) {
				// The conflicting record vanished between the two store
				// calls; the next reservation attempt should win.
				span.AddEvent("record_vanished")
				continue
			}
			if err != nil {
				return nil, NewPersistenceError("get", err)
			}
		}

		result, err := h.resultFromRecord(ctx, record, h.store.PayloadHash(payload))
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrInconsistentState) {
			span.AddEvent("inconsistent_record")
			h.publish(ctx, event.NewEvent(event.EventSuperseded).WithKey(key))
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("%w: %w", ErrInconsistentState, ErrMaxRetriesExceeded)
}

// resultFromRecord applies the record state machine to a reservation
// conflict: return the stored result, fail with contention, or signal the
// loop to re-reserve via ErrInconsistentState.
func (h *Handler) resultFromRecord(ctx context.Context, record *Record, payloadHash string) ([]byte, error) {
	now := time.Now()

	switch record.EffectiveStatus(now) {
	case StatusCompleted:
		if !record.MatchesPayload(payloadHash) {
			// A key collision with a different payload is never silently
			// served from the stored result.
			return nil, fmt.Errorf("%w: key %s", ErrPayloadMismatch, record.Key)
		}
		h.metrics.Deduplicated()
		h.publish(ctx, event.NewEvent(event.EventDeduplicated).WithKey(record.Key))
		return record.ResponseData, nil

	case StatusInProgress:
		if record.InProgressLapsed(now) {
			// The reservation's own deadline lapsed while the outer
			// expiry has not: a torn state, never trusted as either
			// COMPLETED or EXPIRED.
			h.metrics.Conflict("inconsistent")
			return nil, fmt.Errorf("%w: key %s", ErrInconsistentState, record.Key)
		}
		h.metrics.Conflict("in_progress")
		h.publish(ctx, event.NewEvent(event.EventConflict).WithKey(record.Key))
		return nil, fmt.Errorf("%w: key %s", ErrAlreadyInProgress, record.Key)

	default:
		// EXPIRED, whether stored or derived: treat as no live record and
		// let the next reservation supersede it.
		h.metrics.Conflict("expired")
		return nil, fmt.Errorf("%w: expired record for key %s", ErrInconsistentState, record.Key)
	}
}

// runAndFinalize executes the work while holding the reservation and
// finalizes the record: COMPLETED with the result on success, deleted on
// failure so the key is immediately retryable by others.
func (h *Handler) runAndFinalize(ctx context.Context, key string, payload []byte, work WorkFunc) ([]byte, error) {
	workCtx, span := h.tracer.StartWork(ctx, key)
	result, workErr := work(workCtx, payload)
	span.SetError(workErr)
	span.End()

	if workErr != nil {
		start := time.Now()
		err := h.store.DeleteRecord(ctx, payload)
		h.metrics.StoreOp("delete", time.Since(start), err == nil)
		if err != nil {
			// Losing the ability to release the key is the more
			// actionable fault; it takes precedence over the work error.
			return nil, NewPersistenceError("delete", err)
		}
		h.publish(ctx, event.NewEvent(event.EventReleased).WithKey(key).WithError(workErr))
		return nil, workErr
	}

	start := time.Now()
	err := h.store.SaveSuccess(ctx, payload, result)
	h.metrics.StoreOp("save_success", time.Since(start), err == nil)
	if err != nil {
		// The result was computed but not durably recorded, so it must
		// not be returned as if idempotency held.
		return nil, NewPersistenceError("save_success", err)
	}
	h.publish(ctx, event.NewEvent(event.EventCompleted).WithKey(key))
	return result, nil
}

func (h *Handler) publish(ctx context.Context, ev event.Event) {
	if h.events == nil {
		return
	}
	// Publish errors are the bus's concern; lifecycle events never block
	// or fail an execution.
	_ = h.events.Publish(ctx, ev)
}

// failureReason maps an error to a low-cardinality metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInProgress):
		return "in_progress"
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent_state"
	case errors.Is(err, ErrPayloadMismatch):
		return "payload_mismatch"
	case errors.Is(err, ErrMissingIdempotencyKey):
		return "missing_key"
	case errors.Is(err, ErrPersistenceLayer):
		return "persistence"
	default:
		return "work_error"
	}
}
