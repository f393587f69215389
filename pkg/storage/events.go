package storage

import (
	"fmt"
	"time"
)

// EventType represents the type of storage event emitted.
type EventType string

// Storage event type constants.
const (
	EventVisitRecorded   EventType = "visit.recorded"
	EventVisitsCleared   EventType = "visits.cleared"
	EventBookmarkAdded   EventType = "bookmark.added"
	EventBookmarkRemoved EventType = "bookmark.removed"
	EventSettingChanged  EventType = "setting.changed"
)

// Event represents a change inside the storage layer that other subsystems can react to.
type Event struct {
	Type      EventType `json:"type"`
	EntityID  string    `json:"entityId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer reacts to storage events.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc is a helper to turn a function into an Observer.
type ObserverFunc func(Event)

// HandleStorageEvent implements the Observer interface.
func (f ObserverFunc) HandleStorageEvent(e Event) {
	f(e)
}

func (s *Store) newEvent(eventType EventType, entityID any, data any) Event {
	entity := ""
	if entityID != nil {
		entity = fmt.Sprintf("%v", entityID)
	}
	return Event{
		Type:      eventType,
		EntityID:  entity,
		Data:      data,
		Timestamp: s.now(),
	}
}
