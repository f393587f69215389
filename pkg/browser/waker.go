package browser

import "sync/atomic"

// Waker lets engine goroutines ask the host for a tick without the host
// polling. Any number of Wake calls before the next tick coalesce into a
// single pending signal. The sequence number lets the host notice wakes that
// landed while it was ticking.
//
// A nil or closed Waker is valid; Wake on it does nothing.
type Waker struct {
	ch     chan struct{}
	seq    atomic.Uint64
	closed atomic.Bool
}

// NewWaker returns an open waker.
func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Wake requests a host tick. Safe from any goroutine.
func (w *Waker) Wake() {
	if w == nil || w.closed.Load() {
		return
	}
	w.seq.Add(1)
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C returns the signal channel. It is never closed, so a closed waker simply
// stops signalling. A nil waker returns a nil channel.
func (w *Waker) C() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.ch
}

// Seq returns the number of accepted wakes.
func (w *Waker) Seq() uint64 {
	if w == nil {
		return 0
	}
	return w.seq.Load()
}

// Close makes every later Wake a no-op.
func (w *Waker) Close() {
	if w == nil {
		return
	}
	w.closed.Store(true)
}

// Closed reports whether Close was called.
func (w *Waker) Closed() bool {
	return w == nil || w.closed.Load()
}
