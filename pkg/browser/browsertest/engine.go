// Package browsertest provides a recording engine for renderer tests.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/lantern/pkg/browser"
)

// Call is one recorded engine invocation.
type Call struct {
	Method      string
	View        browser.ViewID
	Generation  browser.Generation
	Location    string
	BypassCache bool
	Viewport    browser.Viewport
}

// Engine records every command and lets tests play engine events back
// synchronously, from other goroutines, or queued until the next Pump.
type Engine struct {
	mu         sync.Mutex
	calls      []Call
	cfg        browser.EngineConfig
	sink       browser.EventSink
	waker      *browser.Waker
	queue      []browser.Event
	failures   map[string]error
	gates      map[string]chan struct{}
	hang       bool
	pumps      int
	generation map[browser.ViewID]browser.Generation
}

// New returns an engine that accepts every command.
func New() *Engine {
	return &Engine{
		failures:   make(map[string]error),
		gates:      make(map[string]chan struct{}),
		generation: make(map[browser.ViewID]browser.Generation),
	}
}

// FailOn makes every later call to method return err. A nil err clears it.
func (e *Engine) FailOn(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, method)
		return
	}
	e.failures[method] = err
}

// HangShutdown makes Shutdown wait for its context instead of acknowledging.
func (e *Engine) HangShutdown() {
	e.mu.Lock()
	e.hang = true
	e.mu.Unlock()
}

// Block makes later calls to method wait until release is called. The
// call is recorded before it blocks.
func (e *Engine) Block(method string) (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gates[method] = gate
	e.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.gates, method)
			e.mu.Unlock()
			close(gate)
		})
	}
}

func (e *Engine) record(c Call) error {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	if c.Generation != 0 {
		e.generation[c.View] = c.Generation
	}
	err := e.failures[c.Method]
	gate := e.gates[c.Method]
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

// Initialize implements browser.Engine.
func (e *Engine) Initialize(_ context.Context, cfg browser.EngineConfig, cb browser.Callbacks) error {
	if err := e.record(Call{Method: "Initialize", Viewport: cfg.Viewport}); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.sink = cb.Sink
	e.waker = cb.Waker
	e.mu.Unlock()
	return nil
}

// CreateView implements browser.Engine.
func (e *Engine) CreateView(_ context.Context, id browser.ViewID, vp browser.Viewport) error {
	return e.record(Call{Method: "CreateView", View: id, Viewport: vp})
}

// Navigate implements browser.Engine.
func (e *Engine) Navigate(_ context.Context, id browser.ViewID, gen browser.Generation, location string) error {
	return e.record(Call{Method: "Navigate", View: id, Generation: gen, Location: location})
}

// Stop implements browser.Engine.
func (e *Engine) Stop(_ context.Context, id browser.ViewID, gen browser.Generation) error {
	return e.record(Call{Method: "Stop", View: id, Generation: gen})
}

// Reload implements browser.Engine.
func (e *Engine) Reload(_ context.Context, id browser.ViewID, gen browser.Generation, location string, bypass bool) error {
	return e.record(Call{Method: "Reload", View: id, Generation: gen, Location: location, BypassCache: bypass})
}

// Resize implements browser.Engine.
func (e *Engine) Resize(_ context.Context, id browser.ViewID, vp browser.Viewport) error {
	return e.record(Call{Method: "Resize", View: id, Viewport: vp})
}

// DestroyView implements browser.Engine.
func (e *Engine) DestroyView(_ context.Context, id browser.ViewID) error {
	return e.record(Call{Method: "DestroyView", View: id})
}

// Pump delivers queued events.
func (e *Engine) Pump() {
	e.mu.Lock()
	e.pumps++
	queued := e.queue
	e.queue = nil
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}
	for _, ev := range queued {
		sink.Deliver(ev)
	}
}

// Shutdown implements browser.Engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.record(Call{Method: "Shutdown"}); err != nil {
		return err
	}
	e.mu.Lock()
	hang := e.hang
	e.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// Emit delivers ev to the sink on the calling goroutine.
func (e *Engine) Emit(ev browser.Event) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	sink.Deliver(ev)
}

// EmitAsync delivers ev from a new goroutine. The returned channel closes
// once delivery finished.
func (e *Engine) EmitAsync(ev browser.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Emit(ev)
	}()
	return done
}

// Enqueue holds ev until the next Pump and wakes the host.
func (e *Engine) Enqueue(ev browser.Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	waker := e.waker
	e.mu.Unlock()
	waker.Wake()
}

// Waker returns the waker registered at Initialize.
func (e *Engine) Waker() *browser.Waker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waker
}

// Config returns the engine config passed to Initialize.
func (e *Engine) Config() browser.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Calls returns every recorded call.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallsTo returns the recorded calls to method.
func (e *Engine) CallsTo(method string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// PumpCount returns how many times Pump ran.
func (e *Engine) PumpCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pumps
}

// Generation returns the last generation the renderer sent for id.
func (e *Engine) Generation(id browser.ViewID) browser.Generation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation[id]
}

// Started builds a NavigationStarted event.
func Started(id browser.ViewID, gen browser.Generation, location string) browser.Event {
	return browser.Event{Kind: browser.EventNavigationStarted, View: id, Generation: gen, Location: location}
}

// Progress builds a ProgressUpdated event.
func Progress(id browser.ViewID, gen browser.Generation, p float64) browser.Event {
	return browser.Event{Kind: browser.EventProgressUpdated, View: id, Generation: gen, Progress: p}
}

// Title builds a TitleChanged event.
func Title(id browser.ViewID, gen browser.Generation, title string) browser.Event {
	return browser.Event{Kind: browser.EventTitleChanged, View: id, Generation: gen, Title: title}
}

// Completed builds a LoadCompleted event.
func Completed(id browser.ViewID, gen browser.Generation, location string) browser.Event {
	return browser.Event{Kind: browser.EventLoadCompleted, View: id, Generation: gen, Location: location}
}

// Failed builds a LoadFailed event.
func Failed(id browser.ViewID, gen browser.Generation, message string) browser.Event {
	return browser.Event{Kind: browser.EventLoadFailed, View: id, Generation: gen, Message: message}
}

// Frame builds a FrameReady event.
func Frame(id browser.ViewID, gen browser.Generation) browser.Event {
	return browser.Event{Kind: browser.EventFrameReady, View: id, Generation: gen}
}

// Load plays a full successful load for the view's latest generation.
func (e *Engine) Load(id browser.ViewID, title, location string) {
	gen := e.Generation(id)
	e.Emit(Started(id, gen, location))
	e.Emit(Progress(id, gen, 0.5))
	e.Emit(Title(id, gen, title))
	e.Emit(Completed(id, gen, location))
	e.Emit(Frame(id, gen))
}
