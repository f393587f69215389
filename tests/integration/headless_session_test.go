//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/browser/adapters/headless"
	"github.com/odvcencio/lantern/pkg/bus"
	"github.com/odvcencio/lantern/pkg/storage"
	"github.com/odvcencio/lantern/pkg/telemetry"
)

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><head><title>Page %s</title></head><body>ok</body></html>", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitPhase(t *testing.T, r *browser.Renderer, id browser.ViewID, phase browser.Phase) browser.Snapshot {
	t.Helper()
	var snap browser.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = r.Snapshot(id)
		return err == nil && snap.Phase == phase && !snap.UpdatedAt.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

// TestHeadlessSessionEndToEnd runs the loop, storage recorder and bus bridge
// against a real HTTP server.
func TestHeadlessSessionEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := pageServer(t)

	store, err := storage.New(filepath.Join(t.TempDir(), "lantern.db"))
	require.NoError(t, err)
	defer store.Close()

	hub := telemetry.NewHub()
	defer hub.Close()
	msgBus := bus.NewMemoryBus()
	defer msgBus.Close()

	loaded := make(chan telemetry.Event, 8)
	_, err = msgBus.Subscribe(context.Background(), "lantern.view.*.navigation.loaded", func(msg *bus.Message) []byte {
		var ev telemetry.Event
		if json.Unmarshal(msg.Data, &ev) == nil {
			loaded <- ev
		}
		return nil
	})
	require.NoError(t, err)

	eng := headless.NewEngine(headless.WithHTTPClient(srv.Client()))
	r := browser.NewRenderer(eng, browser.WithHub(hub))
	require.NoError(t, r.Initialize(context.Background(), browser.Config{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	recorder := storage.NewRecorder(store, nil)
	bridge := bus.NewBridge(msgBus, "lantern", nil)
	go func() {
		defer close(done)
		go func() { _ = bridge.Run(ctx, hub) }()
		go func() { _ = recorder.Run(ctx, hub) }()
		_ = browser.NewLoop(r, browser.WithIdleTick(20*time.Millisecond)).Run(ctx)
	}()

	id, err := r.CreateView(ctx, srv.URL+"/a")
	require.NoError(t, err)
	snap := waitPhase(t, r, id, browser.PhaseLoaded)
	assert.Equal(t, "Page /a", snap.Title)

	require.NoError(t, r.Navigate(ctx, id, srv.URL+"/b"))
	require.Eventually(t, func() bool {
		s, err := r.Snapshot(id)
		return err == nil && s.Phase == browser.PhaseLoaded && s.Title == "Page /b"
	}, 5*time.Second, 10*time.Millisecond)

	entries, cursor, err := r.History(id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, cursor)

	_, err = r.Back(ctx, id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := r.Snapshot(id)
		return err == nil && s.Phase == browser.PhaseLoaded && s.Title == "Page /a"
	}, 5*time.Second, 10*time.Millisecond)
	_, cursor, err = r.History(id)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor, "traversal does not push")

	require.NoError(t, r.Navigate(ctx, id, srv.URL+"/missing"))
	failed := waitPhase(t, r, id, browser.PhaseFailed)
	assert.NotEmpty(t, failed.ErrorMessage())

	select {
	case ev := <-loaded:
		assert.Equal(t, string(id), ev.ViewID)
	case <-time.After(5 * time.Second):
		t.Fatal("no navigation.loaded event reached the bus")
	}

	cancel()
	<-done
	require.NoError(t, r.Shutdown(context.Background()))
	require.NoError(t, recorder.Flush())

	require.Eventually(t, func() bool {
		visits, err := store.RecentVisits(context.Background(), 10)
		return err == nil && len(visits) >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

// TestHeadlessBusControl drives a headless renderer through the bus.
func TestHeadlessBusControl(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := pageServer(t)

	msgBus := bus.NewMemoryBus()
	defer msgBus.Close()

	eng := headless.NewEngine(headless.WithHTTPClient(srv.Client()))
	r := browser.NewRenderer(eng)
	require.NoError(t, r.Initialize(context.Background(), browser.Config{}))
	defer func() { _ = r.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = browser.NewLoop(r, browser.WithIdleTick(20*time.Millisecond)).Run(ctx) }()

	control := bus.NewControl(msgBus, r, "lantern", nil)
	sub, err := control.Start(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	request := func(cmd bus.Command) bus.Reply {
		data, err := json.Marshal(cmd)
		require.NoError(t, err)
		raw, err := msgBus.Request(ctx, control.Subject(), data, 2*time.Second)
		require.NoError(t, err)
		var reply bus.Reply
		require.NoError(t, json.Unmarshal(raw, &reply))
		return reply
	}

	created := request(bus.Command{Op: "create", Location: srv.URL + "/remote"})
	require.True(t, created.OK, created.Error)

	snap := waitPhase(t, r, created.View, browser.PhaseLoaded)
	assert.Equal(t, "Page /remote", snap.Title)

	rejected := request(bus.Command{Op: "navigate", View: created.View, Location: "ftp://files.test/"})
	assert.False(t, rejected.OK)
	assert.Equal(t, "UNSUPPORTED_SCHEME", rejected.Code)
}
