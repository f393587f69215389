package storage

import (
	"context"
	"testing"
	"time"

	"github.com/odvcencio/lantern/pkg/telemetry"
)

func TestRecorderHandleRecordsLoadedNavigations(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecorder(store, nil)
	at := time.Date(2026, 2, 2, 2, 2, 2, 0, time.UTC)

	rec.Handle(telemetry.Event{
		Type:      telemetry.EventNavigationLoaded,
		Timestamp: at,
		ViewID:    "view-7",
		Data:      map[string]any{"location": "https://loaded.test/", "title": "Loaded"},
	})
	rec.Handle(telemetry.Event{
		Type: telemetry.EventNavigationFailed,
		Data: map[string]any{"location": "https://failed.test/"},
	})
	rec.Handle(telemetry.Event{Type: telemetry.EventNavigationLoaded, Data: map[string]any{}})

	if err := rec.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	visits, err := store.RecentVisits(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent visits: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("expected 1 visit, got %d", len(visits))
	}
	v := visits[0]
	if v.URL != "https://loaded.test/" || v.Title != "Loaded" || v.ViewID != "view-7" {
		t.Errorf("unexpected visit: %+v", v)
	}
	if !v.VisitedAt.Equal(at) {
		t.Errorf("visited_at = %v, want %v", v.VisitedAt, at)
	}
}

func TestRecorderRunFlushesOnCancel(t *testing.T) {
	store := newTestStore(t)
	hub := telemetry.NewHub()
	t.Cleanup(hub.Close)
	rec := NewRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, hub) }()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	hub.Publish(telemetry.Event{
		Type:      telemetry.EventNavigationLoaded,
		Timestamp: time.Now(),
		Data:      map[string]any{"location": "https://run.test/", "title": "Run"},
	})

	// Give the recorder a chance to buffer before cancelling.
	deadline = time.Now().Add(2 * time.Second)
	for rec.writer.BatchSize() == 0 && rec.writer.FlushedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder never received the event")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	visits, err := store.RecentVisits(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent visits: %v", err)
	}
	if len(visits) != 1 || visits[0].URL != "https://run.test/" {
		t.Fatalf("unexpected visits: %+v", visits)
	}
}
