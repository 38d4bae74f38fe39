package cache

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies an entry lifecycle transition.
type EventKind string

const (
	EventCreated EventKind = "cache.entry.created"
	EventUpdated EventKind = "cache.entry.updated"
	EventExpired EventKind = "cache.entry.expired"
	EventDeleted EventKind = "cache.entry.deleted"
)

// Event records a single lifecycle transition of a cache entry. Entries
// accumulate events on mutation; an external dispatcher drains and consumes
// them for audit or notification purposes.
type Event struct {
	ID         string
	Kind       EventKind
	Key        Key
	OccurredAt time.Time
}

func newEvent(kind EventKind, key Key, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Key:        key,
		OccurredAt: at,
	}
}

// EventSink receives drained entry events. Implementations must not block
// the caller for long; the service invokes sinks synchronously.
type EventSink interface {
	Publish(events ...Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(events ...Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(events ...Event) { f(events...) }
