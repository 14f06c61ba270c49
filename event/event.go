// Package event provides event definitions and an event bus for the
// idempotency record lifecycle.
package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	// Record lifecycle events
	EventReserved   EventType = "record.reserved"
	EventCompleted  EventType = "record.completed"
	EventReleased   EventType = "record.released"
	EventSuperseded EventType = "record.superseded"

	// Execution decision events
	EventDeduplicated EventType = "execution.deduplicated"
	EventConflict     EventType = "execution.conflict"

	// Maintenance events
	EventPurgeCompleted EventType = "purge.completed"
)

// Event describes one lifecycle occurrence for a key.
type Event struct {
	ID        string         // unique event ID
	Type      EventType      // event type
	Key       string         // idempotency key, empty for maintenance events
	Timestamp time.Time      // event timestamp
	Data      map[string]any // additional data
	Error     error          // error information, failure events only
}

// NewEvent creates a new event with the given type, assigns an ID and
// sets the timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithKey sets the idempotency key on the event.
func (e Event) WithKey(key string) Event {
	e.Key = key
	return e
}

// WithError sets the error on the event.
func (e Event) WithError(err error) Event {
	e.Error = err
	return e
}

// WithData adds a data entry to the event.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}
