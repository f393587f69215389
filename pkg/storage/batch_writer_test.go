package storage

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestBatchWriterFlushesOnSize(t *testing.T) {
	store := newTestStore(t)
	writer := store.NewBatchWriter(3, time.Hour)
	t.Cleanup(func() { _ = writer.Close() })

	for i := 0; i < 2; i++ {
		if err := writer.Add(&Visit{URL: fmt.Sprintf("https://%d.test/", i)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if writer.BatchSize() != 2 {
		t.Fatalf("batch size = %d, want 2", writer.BatchSize())
	}

	if err := writer.Add(&Visit{URL: "https://2.test/"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if writer.BatchSize() != 0 {
		t.Fatalf("expected full batch to flush, size = %d", writer.BatchSize())
	}
	if writer.FlushedCount() != 3 {
		t.Fatalf("flushed = %d, want 3", writer.FlushedCount())
	}

	visits, err := store.RecentVisits(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent visits: %v", err)
	}
	if len(visits) != 3 {
		t.Fatalf("expected 3 stored visits, got %d", len(visits))
	}
}

func TestBatchWriterFlushesOnTimer(t *testing.T) {
	store := newTestStore(t)
	writer := store.NewBatchWriter(100, 20*time.Millisecond)
	t.Cleanup(func() { _ = writer.Close() })

	if err := writer.Add(&Visit{URL: "https://timer.test/"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for writer.FlushedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatchWriterCloseFlushesAndRejects(t *testing.T) {
	store := newTestStore(t)
	writer := store.NewBatchWriter(100, time.Hour)

	if err := writer.Add(&Visit{URL: "https://close.test/"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := writer.Add(&Visit{URL: "https://late.test/"}); err != ErrStoreClosed {
		t.Fatalf("expected ErrStoreClosed after close, got %v", err)
	}

	visits, err := store.RecentVisits(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent visits: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("expected 1 visit after close, got %d", len(visits))
	}
}

func TestBatchWriterReportsFlushError(t *testing.T) {
	store := newTestStore(t)
	writer := store.NewBatchWriter(100, time.Hour)

	if err := writer.Add(&Visit{URL: ""}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := writer.Flush(); err == nil {
		t.Fatal("expected flush error for invalid visit")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close after failed flush: %v", err)
	}
}
