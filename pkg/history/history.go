// Package history tracks the visited locations of a single view.
package history

import "time"

// Entry is one visited location.
type Entry struct {
	Location  string    `json:"location"`
	Title     string    `json:"title,omitempty"`
	VisitedAt time.Time `json:"visited_at"`
}

// History is an ordered list of entries plus a cursor.
//
// History is not safe for concurrent use. The owning renderer only touches it
// from the host goroutine.
type History struct {
	entries []Entry
	cursor  int
	now     func() time.Time
}

// New returns an empty history.
func New() *History {
	return &History{cursor: -1, now: time.Now}
}

// NewWithClock returns an empty history that stamps entries using now.
func NewWithClock(now func() time.Time) *History {
	h := New()
	if now != nil {
		h.now = now
	}
	return h
}

// Push truncates every entry after the cursor, appends a new entry and moves
// the cursor onto it.
func (h *History) Push(location, title string) Entry {
	if h.cursor+1 < len(h.entries) {
		// Clear the dropped tail so titles and locations are not retained.
		for i := h.cursor + 1; i < len(h.entries); i++ {
			h.entries[i] = Entry{}
		}
		h.entries = h.entries[:h.cursor+1]
	}
	entry := Entry{Location: location, Title: title, VisitedAt: h.now()}
	h.entries = append(h.entries, entry)
	h.cursor = len(h.entries) - 1
	return entry
}

// Back moves the cursor one entry back. It reports false at the boundary and
// leaves the cursor unchanged.
func (h *History) Back() (Entry, bool) {
	if !h.CanGoBack() {
		return Entry{}, false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Forward moves the cursor one entry forward. It reports false at the
// boundary and leaves the cursor unchanged.
func (h *History) Forward() (Entry, bool) {
	if !h.CanGoForward() {
		return Entry{}, false
	}
	h.cursor++
	return h.entries[h.cursor], true
}

// CanGoBack reports whether Back would succeed.
func (h *History) CanGoBack() bool {
	return h.cursor > 0
}

// CanGoForward reports whether Forward would succeed.
func (h *History) CanGoForward() bool {
	return h.cursor >= 0 && h.cursor < len(h.entries)-1
}

// Current returns the entry under the cursor.
func (h *History) Current() (Entry, bool) {
	if h.cursor < 0 {
		return Entry{}, false
	}
	return h.entries[h.cursor], true
}

// Cursor returns the cursor index, or -1 when the history is empty.
func (h *History) Cursor() int {
	return h.cursor
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of all entries.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// SetCurrentTitle updates the title of the entry under the cursor. Traversals
// use it when a revisited page reports a new title.
func (h *History) SetCurrentTitle(title string) {
	if h.cursor < 0 {
		return
	}
	h.entries[h.cursor].Title = title
}
