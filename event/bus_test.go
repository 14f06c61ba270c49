package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// capturingLogger records log lines for assertions.
type capturingLogger struct {
	lines []string
}

func (l *capturingLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(EventReserved).WithKey("orders#abc")

	if ev.ID == "" {
		t.Error("expected an event ID")
	}
	if ev.Type != EventReserved {
		t.Errorf("expected type %s, got %s", EventReserved, ev.Type)
	}
	if ev.Key != "orders#abc" {
		t.Errorf("expected key, got %q", ev.Key)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}

	other := NewEvent(EventReserved)
	if ev.ID == other.ID {
		t.Error("event IDs must be unique")
	}
}

func TestEvent_Builders(t *testing.T) {
	cause := errors.New("boom")
	ev := NewEvent(EventReleased).WithKey("k").WithError(cause).WithData("removed", 3)

	if ev.Error != cause {
		t.Errorf("expected error, got %v", ev.Error)
	}
	if ev.Data["removed"] != 3 {
		t.Errorf("expected data entry, got %v", ev.Data)
	}
}

func TestMemoryEventBus_Subscribe(t *testing.T) {
	bus := NewMemoryEventBus()
	ctx := context.Background()

	var received []Event
	err := bus.Subscribe(EventCompleted, func(ctx context.Context, event Event) error {
		received = append(received, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, NewEvent(EventCompleted).WithKey("k")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, NewEvent(EventReserved).WithKey("k")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	if received[0].Type != EventCompleted {
		t.Errorf("expected %s, got %s", EventCompleted, received[0].Type)
	}
}

func TestMemoryEventBus_SubscribeAll(t *testing.T) {
	bus := NewMemoryEventBus()
	ctx := context.Background()

	count := 0
	if err := bus.SubscribeAll(func(ctx context.Context, event Event) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	bus.Publish(ctx, NewEvent(EventReserved))
	bus.Publish(ctx, NewEvent(EventCompleted))
	bus.Publish(ctx, NewEvent(EventPurgeCompleted))

	if count != 3 {
		t.Errorf("expected 3 deliveries, got %d", count)
	}
}

func TestMemoryEventBus_HandlerErrorIsLoggedNotPropagated(t *testing.T) {
	logger := &capturingLogger{}
	bus := NewMemoryEventBus(WithLogger(logger))

	bus.Subscribe(EventReserved, func(ctx context.Context, event Event) error {
		return errors.New("handler failed")
	})

	if err := bus.Publish(context.Background(), NewEvent(EventReserved).WithKey("k")); err != nil {
		t.Fatalf("Publish must not propagate handler errors, got %v", err)
	}
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "handler failed") {
		t.Errorf("expected the handler error logged, got %v", logger.lines)
	}
}

func TestMemoryEventBus_HandlerPanicIsRecovered(t *testing.T) {
	logger := &capturingLogger{}
	bus := NewMemoryEventBus(WithLogger(logger))

	bus.Subscribe(EventReserved, func(ctx context.Context, event Event) error {
		panic("handler panicked")
	})

	if err := bus.Publish(context.Background(), NewEvent(EventReserved)); err != nil {
		t.Fatalf("Publish must survive a panicking handler, got %v", err)
	}
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "panic") {
		t.Errorf("expected the panic logged, got %v", logger.lines)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus()

	bus.Subscribe(EventReserved, func(ctx context.Context, event Event) error { return nil })
	bus.Subscribe(EventReserved, func(ctx context.Context, event Event) error { return nil })
	bus.SubscribeAll(func(ctx context.Context, event Event) error { return nil })

	if got := bus.HandlerCount(EventReserved); got != 2 {
		t.Errorf("expected 2 handlers, got %d", got)
	}
	if got := bus.AllHandlerCount(); got != 1 {
		t.Errorf("expected 1 all-handler, got %d", got)
	}

	bus.Unsubscribe(EventReserved)
	if got := bus.HandlerCount(EventReserved); got != 0 {
		t.Errorf("expected 0 handlers after Unsubscribe, got %d", got)
	}

	bus.UnsubscribeAll()
	if got := bus.AllHandlerCount(); got != 0 {
		t.Errorf("expected 0 all-handlers after UnsubscribeAll, got %d", got)
	}
}

func TestNoOpEventBus(t *testing.T) {
	bus := NewNoOpEventBus()
	ctx := context.Background()

	if err := bus.Publish(ctx, NewEvent(EventReserved)); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := bus.Subscribe(EventReserved, nil); err != nil {
		t.Errorf("Subscribe failed: %v", err)
	}
	if err := bus.SubscribeAll(nil); err != nil {
		t.Errorf("SubscribeAll failed: %v", err)
	}
}
