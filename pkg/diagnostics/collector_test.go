package diagnostics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/lantern/pkg/telemetry"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	require.NotNil(t, c)
	assert.Equal(t, MaxEvents, c.maxEvents)
	assert.Empty(t, c.Events(0))
}

func TestCollectorSubscribe(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	c := NewCollector()
	c.Subscribe(hub)
	defer c.Close()

	hub.Publish(telemetry.Event{Type: telemetry.EventViewCreated, ViewID: "v1", Timestamp: time.Now()})
	hub.Publish(telemetry.Event{
		Type:      telemetry.EventNavigationLoaded,
		ViewID:    "v1",
		Timestamp: time.Now(),
		Data:      map[string]any{"location": "https://example.test/a", "latency_ms": int64(120)},
	})

	require.Eventually(t, func() bool { return len(c.Events(0)) == 2 }, 2*time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, 2, stats["event_count"])
	byType := stats["events_by_type"].(map[string]int)
	assert.Equal(t, 1, byType["navigation.loaded"])
	hosts := stats["loads_by_host"].(map[string]int)
	assert.Equal(t, 1, hosts["example.test"])
}

func TestCollectorRingBuffer(t *testing.T) {
	c := NewCollector()
	c.maxEvents = 3
	for i := 0; i < 5; i++ {
		c.Record(telemetry.Event{Type: telemetry.EventNavigationStarted, ViewID: string(rune('a' + i))})
	}

	events := c.Events(0)
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].ViewID)
	assert.Equal(t, "e", events[2].ViewID)

	last := c.Events(2)
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].ViewID)
}

func TestCollectorRecordsFailures(t *testing.T) {
	c := NewCollector()
	for i := 0; i < maxRecentErrors+5; i++ {
		c.Record(telemetry.Event{
			Type:   telemetry.EventNavigationFailed,
			ViewID: "v2",
			Data:   map[string]any{"location": "https://down.test/", "error": "connection refused"},
		})
	}
	assert.Len(t, c.recentErrors, maxRecentErrors)
	assert.False(t, c.recentErrors[0].Time.IsZero())

	dump := c.Dump()
	assert.Contains(t, dump, "=== Recent Errors ===")
	assert.Contains(t, dump, "connection refused")
	assert.Contains(t, dump, "Failed: 55")
}

func TestCollectorDumpLoadStats(t *testing.T) {
	c := NewCollector()
	c.Record(telemetry.Event{Type: telemetry.EventNavigationLoaded, Data: map[string]any{"location": "https://a.test/", "latency_ms": int64(100)}})
	c.Record(telemetry.Event{Type: telemetry.EventNavigationLoaded, Data: map[string]any{"location": "http://b.test:8080/x", "latency_ms": int64(300)}})
	c.Record(telemetry.Event{Type: telemetry.EventNavigationLoaded, Data: map[string]any{"location": "data:text/plain,hi"}})

	dump := c.Dump()
	assert.True(t, strings.HasPrefix(dump, "=== Renderer Diagnostics ==="))
	assert.Contains(t, dump, "Loaded: 3")
	assert.Contains(t, dump, "a.test: 1")
	assert.Contains(t, dump, "b.test:8080: 1")
	assert.Contains(t, dump, "data: 1")
	assert.Contains(t, dump, "Avg Load Time: 133ms")
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://a.test/path?q=1": "a.test",
		"http://b.test#frag":      "b.test",
		"about:blank":             "about",
		"data:text/html,x":        "data",
		"weird":                   "weird",
	}
	for in, want := range tests {
		assert.Equal(t, want, hostOf(in), in)
	}
}
