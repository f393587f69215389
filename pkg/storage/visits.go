package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Visit is one completed page load.
type Visit struct {
	ID        int64     `json:"id"`
	ViewID    string    `json:"viewId,omitempty"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	VisitedAt time.Time `json:"visitedAt"`
}

// RecordVisit appends a visit. A zero VisitedAt is stamped with the store clock.
func (s *Store) RecordVisit(ctx context.Context, v *Visit) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if err := s.insertVisits(ctx, []*Visit{v}); err != nil {
		return err
	}
	s.notify(s.newEvent(EventVisitRecorded, v.ID, *v))
	return nil
}

// RecordVisits appends visits in one transaction.
func (s *Store) RecordVisits(ctx context.Context, visits []*Visit) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if len(visits) == 0 {
		return nil
	}
	if err := s.insertVisits(ctx, visits); err != nil {
		return err
	}
	for _, v := range visits {
		s.notify(s.newEvent(EventVisitRecorded, v.ID, *v))
	}
	return nil
}

func (s *Store) insertVisits(ctx context.Context, visits []*Visit) error {
	for _, v := range visits {
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("visit url is required")
		}
		if v.VisitedAt.IsZero() {
			v.VisitedAt = s.now()
		}
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin visits tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO visits (view_id, url, title, visited_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare visit insert: %w", err)
		}
		defer stmt.Close()

		ids := make([]int64, len(visits))
		for i, v := range visits {
			res, err := stmt.ExecContext(ctx, v.ViewID, v.URL, v.Title, v.VisitedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert visit: %w", err)
			}
			if ids[i], err = res.LastInsertId(); err != nil {
				return fmt.Errorf("visit id: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit visits: %w", err)
		}
		for i, v := range visits {
			v.ID = ids[i]
		}
		return nil
	})
}

// RecentVisits returns up to limit visits, newest first.
func (s *Store) RecentVisits(ctx context.Context, limit int) ([]Visit, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, view_id, url, title, visited_at FROM visits
		ORDER BY visited_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent visits: %w", err)
	}
	return scanVisits(rows)
}

// SearchVisits returns visits whose url or title contains term, newest first.
func (s *Store) SearchVisits(ctx context.Context, term string, limit int) ([]Visit, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return s.RecentVisits(ctx, limit)
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(term) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, view_id, url, title, visited_at FROM visits
		WHERE url LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\'
		ORDER BY visited_at DESC, id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search visits: %w", err)
	}
	return scanVisits(rows)
}

// ClearVisits deletes visits older than before and returns how many went.
func (s *Store) ClearVisits(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	var n int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM visits WHERE visited_at < ?`, before.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear visits: %w", err)
	}
	if n > 0 {
		s.notify(s.newEvent(EventVisitsCleared, nil, map[string]any{"count": n, "before": before}))
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanVisits(rows rowScanner) ([]Visit, error) {
	defer rows.Close()
	var out []Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.ViewID, &v.URL, &v.Title, &v.VisitedAt); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
