package storage

import (
	"context"
	"testing"
	"time"
)

func TestBookmarkLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	events := collectEvents(store)

	b, err := store.AddBookmark(ctx, "https://go.test/", "Go", "")
	if err != nil {
		t.Fatalf("add bookmark: %v", err)
	}
	if b.ID == 0 {
		t.Fatal("expected bookmark id")
	}
	if b.Folder != DefaultFolder {
		t.Errorf("folder = %q, want %q", b.Folder, DefaultFolder)
	}
	waitEvent(t, events, EventBookmarkAdded)

	// Saving the same url again updates it in place.
	updated, err := store.AddBookmark(ctx, "https://go.test/", "Go Home", "Dev")
	if err != nil {
		t.Fatalf("update bookmark: %v", err)
	}
	if updated.ID != b.ID {
		t.Errorf("upsert changed id: %d -> %d", b.ID, updated.ID)
	}
	if updated.Title != "Go Home" || updated.Folder != "Dev" {
		t.Errorf("unexpected bookmark after upsert: %+v", updated)
	}

	all, err := store.ListBookmarks(ctx, "")
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 bookmark, got %d", len(all))
	}

	removed, err := store.RemoveBookmark(ctx, "https://go.test/")
	if err != nil {
		t.Fatalf("remove bookmark: %v", err)
	}
	if !removed {
		t.Fatal("expected bookmark to be removed")
	}
	waitEvent(t, events, EventBookmarkRemoved)

	removed, err = store.RemoveBookmark(ctx, "https://go.test/")
	if err != nil {
		t.Fatalf("remove missing bookmark: %v", err)
	}
	if removed {
		t.Fatal("expected second remove to report false")
	}

	got, err := store.GetBookmark(ctx, "https://go.test/")
	if err != nil {
		t.Fatalf("get bookmark: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil bookmark, got %+v", got)
	}
}

func TestListBookmarksByFolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	for _, bm := range []struct{ url, folder string }{
		{"https://a.test/", "Work"},
		{"https://b.test/", ""},
		{"https://c.test/", "Work"},
	} {
		if _, err := store.AddBookmark(ctx, bm.url, "", bm.folder); err != nil {
			t.Fatalf("add bookmark %s: %v", bm.url, err)
		}
	}

	work, err := store.ListBookmarks(ctx, "Work")
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(work) != 2 || work[0].URL != "https://a.test/" || work[1].URL != "https://c.test/" {
		t.Fatalf("unexpected Work bookmarks: %+v", work)
	}

	unsorted, err := store.ListBookmarks(ctx, DefaultFolder)
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(unsorted) != 1 || unsorted[0].URL != "https://b.test/" {
		t.Fatalf("unexpected Unsorted bookmarks: %+v", unsorted)
	}
}

func TestAddBookmarkRequiresURL(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.AddBookmark(context.Background(), " ", "t", ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
