package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultFolder holds bookmarks saved without a folder.
const DefaultFolder = "Unsorted"

// Bookmark is a saved location.
type Bookmark struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Folder    string    `json:"folder"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddBookmark saves url. Saving an existing url updates its title and folder.
func (s *Store) AddBookmark(ctx context.Context, url, title, folder string) (*Bookmark, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("bookmark url is required")
	}
	folder = strings.TrimSpace(folder)
	if folder == "" {
		folder = DefaultFolder
	}

	createdAt := s.now().UTC()
	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bookmarks (url, title, folder, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET title = excluded.title, folder = excluded.folder`,
			url, strings.TrimSpace(title), folder, createdAt,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add bookmark: %w", err)
	}
	b, err := s.GetBookmark(ctx, url)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("add bookmark: %s not found after save", url)
	}
	s.notify(s.newEvent(EventBookmarkAdded, b.ID, *b))
	return b, nil
}

// ListBookmarks returns bookmarks in folder, oldest first. An empty folder
// lists every bookmark.
func (s *Store) ListBookmarks(ctx context.Context, folder string) ([]Bookmark, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	query := `SELECT id, url, title, folder, created_at FROM bookmarks`
	var args []any
	if folder = strings.TrimSpace(folder); folder != "" {
		query += ` WHERE folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.ID, &b.URL, &b.Title, &b.Folder, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBookmark returns the bookmark for url, or nil when none exists.
func (s *Store) GetBookmark(ctx context.Context, url string) (*Bookmark, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var b Bookmark
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, folder, created_at FROM bookmarks WHERE url = ?`, strings.TrimSpace(url),
	).Scan(&b.ID, &b.URL, &b.Title, &b.Folder, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bookmark: %w", err)
	}
	return &b, nil
}

// RemoveBookmark deletes the bookmark for url and reports whether one existed.
func (s *Store) RemoveBookmark(ctx context.Context, url string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStoreClosed
	}
	url = strings.TrimSpace(url)
	var n int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE url = ?`, url)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove bookmark: %w", err)
	}
	if n > 0 {
		s.notify(s.newEvent(EventBookmarkRemoved, url, nil))
	}
	return n > 0, nil
}
