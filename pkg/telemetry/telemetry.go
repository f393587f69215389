package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventViewCreated         EventType = "view.created"
	EventViewDestroyed       EventType = "view.destroyed"
	EventNavigationStarted   EventType = "navigation.started"
	EventNavigationLoaded    EventType = "navigation.loaded"
	EventNavigationFailed    EventType = "navigation.failed"
	EventNavigationCancelled EventType = "navigation.cancelled"
	EventRendererShutdown    EventType = "renderer.shutdown"
	EventConfigReloaded      EventType = "config.reloaded"
)

// Event describes renderer telemetry that storage, the bus bridge and
// diagnostics consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ViewID    string         `json:"viewId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	// DefaultSubscriberChannelSize is the buffer given to each subscriber.
	DefaultSubscriberChannelSize = 64
)

// Config tunes hub buffering.
type Config struct {
	SubscriberChannelSize int
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() *Config {
	return &Config{SubscriberChannelSize: DefaultSubscriberChannelSize}
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	bufSize     int
	dropped     atomic.Uint64
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultConfig())
}

// NewHubWithConfig constructs a hub with custom buffering.
func NewHubWithConfig(cfg *Config) *Hub {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	size := cfg.SubscriberChannelSize
	if size <= 0 {
		size = DefaultSubscriberChannelSize
	}
	return &Hub{subscribers: make(map[string]chan Event), bufSize: size}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; the renderer must never block here.
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch, id := h.SubscribeWithID()
	return ch, func() { h.Unsubscribe(id) }
}

// SubscribeWithID registers a subscriber and returns its channel and ID.
func (h *Hub) SubscribeWithID() (<-chan Event, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, ""
	}
	id := ulid.Make().String()
	ch := make(chan Event, h.bufSize)
	h.subscribers[id] = ch
	return ch, id
}

// Unsubscribe removes a subscriber by ID. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
