package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// memoryBuffer is the per-subscription queue length.
const memoryBuffer = 256

// MemoryBus is an in-process MessageBus for single-process hosts and tests.
// It supports NATS-style wildcards and request/reply. Nothing is persisted.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string][]*memorySubscription
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySubscription)}
}

// Publish implements MessageBus. A subscriber whose queue is full loses the
// message and the loss is counted in Dropped.
func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

// deliver queues msg on every matching live subscription and returns how
// many accepted it.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	accepted := 0
	for pattern, subs := range b.subs {
		if !matchSubject(pattern, msg.Subject) {
			continue
		}
		for _, sub := range subs {
			if sub.closed.Load() {
				continue
			}
			select {
			case sub.messages <- msg:
				accepted++
			default:
				b.dropped.Add(1)
			}
		}
	}
	return accepted
}

// Subscribe implements MessageBus. Each subscription runs its handler on its
// own goroutine until it is unsubscribed, the bus closes or ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:       ulid.Make().String(),
		subject:  subject,
		messages: make(chan *Message, memoryBuffer),
		handler:  handler,
		bus:      b,
	}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

// Request implements MessageBus. A timeout of zero uses the default.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	inbox := "_INBOX." + ulid.Make().String()
	replies := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, inbox, func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if b.deliver(&Message{Subject: subject, Data: data, ReplyTo: inbox}) == 0 {
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many deliveries were lost on full subscriber queues.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close implements MessageBus. Closing twice returns ErrClosed.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for subject, subs := range b.subs {
		for _, sub := range subs {
			sub.shut()
		}
		delete(b.subs, subject)
	}
	return nil
}

type memorySubscription struct {
	id       string
	subject  string
	messages chan *Message
	handler  MessageHandler
	bus      *MemoryBus
	closed   atomic.Bool
}

// Unsubscribe implements Subscription. It is idempotent.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(s.bus.subs, s.subject)
	} else {
		s.bus.subs[s.subject] = subs
	}
	s.shut()
	return nil
}

// shut closes the queue once. Callers hold the bus write lock, so no
// publisher can be mid-send.
func (s *memorySubscription) shut() {
	if !s.closed.Swap(true) {
		close(s.messages)
	}
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.messages:
			if !ok {
				return
			}
			if reply := s.handler(msg); reply != nil && msg.ReplyTo != "" {
				_ = s.bus.Publish(ctx, msg.ReplyTo, reply)
			}
		case <-ctx.Done():
			return
		}
	}
}

// matchSubject reports whether subject matches pattern. "*" matches exactly
// one token; ">" matches one or more trailing tokens and must come last.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")

	for i, tok := range want {
		if tok == ">" {
			return i == len(want)-1 && len(got) > i
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
