// Package bus carries renderer telemetry to other processes and accepts
// remote navigation commands. NATS is the networked backend; the in-memory
// bus serves single-process hosts and tests.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the transport used by the bridge and the control responder.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "lantern.view.*.loaded" matches "lantern.view.abc.loaded".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a single response.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
// For request/reply, return data to send as response; return nil for no response.
type MessageHandler func(msg *Message) []byte

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Backend kinds.
const (
	KindMemory = "memory"
	KindNATS   = "nats"
)

// Config holds configuration for creating a MessageBus.
type Config struct {
	// Kind selects the backend: "memory" or "nats".
	Kind string

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for operations.
	Timeout time.Duration

	// SubjectPrefix roots every subject the bridge and control responder use.
	SubjectPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:          KindMemory,
		URL:           "nats://localhost:4222",
		Name:          "lantern",
		Timeout:       5 * time.Second,
		SubjectPrefix: "lantern",
	}
}

// New creates the backend named by cfg.Kind.
func New(cfg Config) (MessageBus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindMemory:
		return NewMemoryBus(), nil
	case KindNATS:
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}
