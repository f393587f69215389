package browser_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/browser/browsertest"
)

type tickLog struct {
	mu      sync.Mutex
	updates []browser.Snapshot
}

func (l *tickLog) record(res browser.TickResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, res.Updates...)
}

func (l *tickLog) last(id browser.ViewID) (browser.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.updates) - 1; i >= 0; i-- {
		if l.updates[i].View == id {
			return l.updates[i], true
		}
	}
	return browser.Snapshot{}, false
}

func TestLoopTicksOnWake(t *testing.T) {
	r, eng := newRenderer(t)
	id := openView(t, r)
	require.NoError(t, r.Navigate(context.Background(), id, "https://example.com"))

	var log tickLog
	loop := browser.NewLoop(r, browser.WithFrameRate(0), browser.WithOnTick(log.record))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	gen := eng.Generation(id)
	<-eng.EmitAsync(browsertest.Title(id, gen, "Example"))
	<-eng.EmitAsync(browsertest.Completed(id, gen, "https://example.com"))

	require.Eventually(t, func() bool {
		snap, ok := log.last(id)
		return ok && snap.Phase == browser.PhaseLoaded
	}, 2*time.Second, 5*time.Millisecond)

	snap, _ := log.last(id)
	assert.Equal(t, "Example", snap.Title)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopDrainsQueuedEngineWork(t *testing.T) {
	r, eng := newRenderer(t)
	id := openView(t, r)
	require.NoError(t, r.Navigate(context.Background(), id, "https://queued.test"))

	var log tickLog
	loop := browser.NewLoop(r, browser.WithOnTick(log.record))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	gen := eng.Generation(id)
	eng.Enqueue(browsertest.Progress(id, gen, 0.3))
	eng.Enqueue(browsertest.Completed(id, gen, "https://queued.test"))

	require.Eventually(t, func() bool {
		snap, ok := log.last(id)
		return ok && snap.Phase == browser.PhaseLoaded
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoopFollowsNewSession(t *testing.T) {
	eng := browsertest.New()
	r := browser.NewRenderer(eng)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log tickLog
	loop := browser.NewLoop(r, browser.WithFrameRate(0), browser.WithOnTick(log.record))
	go func() { _ = loop.Run(ctx) }()

	// the loop starts before any session exists
	require.NoError(t, r.Initialize(ctx, browser.Config{}))
	defer r.Shutdown(context.Background())
	id := openView(t, r)
	require.NoError(t, r.Navigate(ctx, id, "https://late.test"))
	eng.Load(id, "late", "https://late.test")

	require.Eventually(t, func() bool {
		snap, ok := log.last(id)
		return ok && snap.Phase == browser.PhaseLoaded
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoopIdleTick(t *testing.T) {
	r, eng := newRenderer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := browser.NewLoop(r, browser.WithIdleTick(5*time.Millisecond))
	go func() { _ = loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return eng.PumpCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}
