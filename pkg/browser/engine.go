package browser

import "context"

// EventSink receives engine events. Deliver is safe to call from any
// goroutine and never blocks on host-held locks.
type EventSink interface {
	Deliver(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Deliver calls f(ev).
func (f EventSinkFunc) Deliver(ev Event) {
	f(ev)
}

// Callbacks is what the renderer registers with the engine at Initialize.
// Engines deliver events to Sink and wake the host through Waker when they
// have work queued for the next Pump.
type Callbacks struct {
	Sink  EventSink
	Waker *Waker
}

// Engine is the capability set every engine binding provides. Command
// methods must return without waiting for the page to load; completion is
// reported through the sink, tagged with the generation passed in.
//
//go:generate mockgen -package=browser -destination=mock_engine_test.go github.com/odvcencio/lantern/pkg/browser Engine
type Engine interface {
	Initialize(ctx context.Context, cfg EngineConfig, cb Callbacks) error
	CreateView(ctx context.Context, id ViewID, viewport Viewport) error
	Navigate(ctx context.Context, id ViewID, gen Generation, location string) error
	Stop(ctx context.Context, id ViewID, gen Generation) error
	Reload(ctx context.Context, id ViewID, gen Generation, location string, bypassCache bool) error
	Resize(ctx context.Context, id ViewID, viewport Viewport) error
	DestroyView(ctx context.Context, id ViewID) error
	// Pump drains the engine's internal queue once without blocking.
	Pump()
	// Shutdown blocks until the engine acknowledges teardown or ctx is done.
	Shutdown(ctx context.Context) error
}
