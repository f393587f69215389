package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/lantern/pkg/telemetry"
)

func TestBridgeSubjects(t *testing.T) {
	br := NewBridge(NewMemoryBus(), "", nil)

	assert.Equal(t, "lantern.view.v1.navigation.loaded",
		br.Subject(telemetry.Event{Type: telemetry.EventNavigationLoaded, ViewID: "v1"}))
	assert.Equal(t, "lantern.renderer.shutdown",
		br.Subject(telemetry.Event{Type: telemetry.EventRendererShutdown}))
	assert.Equal(t, "lantern.view.a_b_c.view.created",
		br.Subject(telemetry.Event{Type: telemetry.EventViewCreated, ViewID: "a.b*c"}))

	custom := NewBridge(NewMemoryBus(), ".ops.browser.", nil)
	assert.Equal(t, "ops.browser.view.v1.view.destroyed",
		custom.Subject(telemetry.Event{Type: telemetry.EventViewDestroyed, ViewID: "v1"}))
}

func TestBridgeForwardsHubEvents(t *testing.T) {
	mem := NewMemoryBus()
	defer mem.Close()
	hub := telemetry.NewHub()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Message, 4)
	_, err := mem.Subscribe(ctx, "lantern.view.*.navigation.loaded", func(msg *Message) []byte {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	br := NewBridge(mem, "lantern", nil)
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx, hub) }()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, 2*time.Second, time.Millisecond)

	hub.Publish(telemetry.Event{Type: telemetry.EventViewCreated, ViewID: "v9"})
	hub.Publish(telemetry.Event{
		Type:   telemetry.EventNavigationLoaded,
		ViewID: "v9",
		Data:   map[string]any{"location": "https://bridge.test/"},
	})

	select {
	case msg := <-received:
		assert.Equal(t, "lantern.view.v9.navigation.loaded", msg.Subject)
		var ev telemetry.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, telemetry.EventNavigationLoaded, ev.Type)
		assert.Equal(t, "https://bridge.test/", ev.Data["location"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bridged event")
	}

	cancel()
	require.NoError(t, <-done)
}
