package browser

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// StaleFunc observes events dropped by the generation check.
type StaleFunc func(ev Event, current Generation)

type viewRecord struct {
	mu      sync.Mutex
	state   ViewState
	dirty   bool
	removed bool

	// pendingTitle buffers TitleChanged until the load completes.
	pendingTitle string

	// last stable Loaded state, restored by Cancel
	hasStable      bool
	stableTitle    string
	stableLocation string
	stableGen      Generation
}

// Store holds per-view navigation state shared between engine goroutines and
// the host. Each view has its own lock; there is no lock across views.
// Critical sections only copy or assign fields.
type Store struct {
	views    sync.Map // ViewID -> *viewRecord
	draining atomic.Bool
	stale    atomic.Int64
	now      func() time.Time
	onStale  StaleFunc
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for UpdatedAt.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleObserver registers fn for events discarded as stale. fn runs on
// the delivering goroutine outside any store lock.
func WithStaleObserver(fn StaleFunc) StoreOption {
	return func(s *Store) {
		s.onStale = fn
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) record(id ViewID) (*viewRecord, bool) {
	v, ok := s.views.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*viewRecord), true
}

// Register adds an Idle record for id. Registering an existing id is a no-op.
func (s *Store) Register(id ViewID) {
	rec := &viewRecord{}
	rec.state.UpdatedAt = s.now()
	s.views.LoadOrStore(id, rec)
}

// Remove forgets id; later events for it are ignored.
// Remove drops the record and returns its final state. Events that raced
// with the removal are ignored.
func (s *Store) Remove(id ViewID) (ViewState, bool) {
	v, ok := s.views.LoadAndDelete(id)
	if !ok {
		return ViewState{}, false
	}
	rec := v.(*viewRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.removed = true
	return rec.state, true
}

// Begin starts a new generation in Loading(0) for location and returns it.
func (s *Store) Begin(id ViewID, location string) (Generation, bool) {
	_, gen, ok := s.Supersede(id, location)
	return gen, ok
}

// Supersede is Begin that also returns the state it replaced, read under
// the same lock. A load that finished but was never collected is therefore
// handed back to the caller instead of being overwritten.
func (s *Store) Supersede(id ViewID, location string) (ViewState, Generation, bool) {
	rec, ok := s.record(id)
	if !ok {
		return ViewState{}, 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	prev := rec.state
	st := &rec.state
	st.Generation++
	st.Phase = PhaseLoading
	st.Progress = 0
	st.PendingLocation = location
	st.Err = nil
	st.Frames = 0
	st.Terminal = false
	st.UpdatedAt = s.now()
	rec.pendingTitle = ""
	rec.dirty = true
	return prev, st.Generation, true
}

// Cancel ends the current generation because of a stop request. The view
// reverts to its last stable Loaded state, or becomes Cancelled if it never
// loaded. It reports the resulting phase and false when the view was not
// Loading.
func (s *Store) Cancel(id ViewID) (Phase, bool) {
	rec, ok := s.record(id)
	if !ok {
		return 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	st := &rec.state
	if st.Phase != PhaseLoading || st.Terminal {
		return st.Phase, false
	}
	if rec.hasStable {
		st.Phase = PhaseLoaded
		st.Title = rec.stableTitle
		st.Location = rec.stableLocation
		st.LoadedGeneration = rec.stableGen
		st.Progress = 1
		st.PendingLocation = ""
	} else {
		st.Phase = PhaseCancelled
		st.Err = cancelled()
	}
	st.Terminal = true
	st.UpdatedAt = s.now()
	rec.dirty = true
	return st.Phase, true
}

// Fail ends generation gen with err. It is used when the engine refuses a
// command synchronously.
func (s *Store) Fail(id ViewID, gen Generation, err error) bool {
	rec, ok := s.record(id)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	st := &rec.state
	if st.Generation != gen || st.Terminal {
		return false
	}
	st.Phase = PhaseFailed
	st.Err = err
	st.Terminal = true
	st.UpdatedAt = s.now()
	rec.dirty = true
	return true
}

// Apply folds an engine event into the view's state. It reports whether the
// visible state changed. Events arriving while draining, for unknown views,
// for older generations or after the generation's terminal state are
// dropped.
func (s *Store) Apply(ev Event) bool {
	if s.draining.Load() {
		return false
	}
	rec, ok := s.record(ev.View)
	if !ok {
		return false
	}

	rec.mu.Lock()
	if rec.removed {
		rec.mu.Unlock()
		return false
	}
	st := &rec.state
	if ev.Generation != st.Generation {
		current := st.Generation
		rec.mu.Unlock()
		s.stale.Add(1)
		if s.onStale != nil {
			s.onStale(ev, current)
		}
		return false
	}
	changed := s.applyLocked(rec, ev)
	if changed {
		st.UpdatedAt = s.now()
		rec.dirty = true
	}
	rec.mu.Unlock()
	return changed
}

func (s *Store) applyLocked(rec *viewRecord, ev Event) bool {
	st := &rec.state
	if ev.Kind == EventFrameReady {
		st.Frames++
		return true
	}
	if st.Terminal || st.Phase != PhaseLoading {
		return false
	}

	switch ev.Kind {
	case EventNavigationStarted:
		if ev.Location == "" || ev.Location == st.PendingLocation {
			return false
		}
		st.PendingLocation = ev.Location
		return true

	case EventProgressUpdated:
		p := clampProgress(ev.Progress)
		if p <= st.Progress {
			return false
		}
		st.Progress = p
		return true

	case EventTitleChanged:
		rec.pendingTitle = ev.Title
		return false

	case EventLoadCompleted:
		loc := ev.Location
		if loc == "" {
			loc = st.PendingLocation
		}
		st.Phase = PhaseLoaded
		st.Location = loc
		st.Title = rec.pendingTitle
		st.Progress = 1
		st.PendingLocation = ""
		st.LoadedGeneration = st.Generation
		st.Terminal = true
		rec.hasStable = true
		rec.stableTitle = st.Title
		rec.stableLocation = st.Location
		rec.stableGen = st.Generation
		return true

	case EventLoadFailed:
		st.Phase = PhaseFailed
		st.Err = loadFailure(ev.Message)
		st.Terminal = true
		return true
	}
	return false
}

func clampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Collect returns the view's state and whether it changed since the last
// Collect, clearing the changed mark.
func (s *Store) Collect(id ViewID) (ViewState, bool, bool) {
	rec, ok := s.record(id)
	if !ok {
		return ViewState{}, false, false
	}
	rec.mu.Lock()
	st := rec.state
	changed := rec.dirty
	rec.dirty = false
	rec.mu.Unlock()
	return st, changed, true
}

// Get returns a copy of the view's state.
func (s *Store) Get(id ViewID) (ViewState, bool) {
	rec, ok := s.record(id)
	if !ok {
		return ViewState{}, false
	}
	rec.mu.Lock()
	st := rec.state
	rec.mu.Unlock()
	return st, true
}

// SetDraining turns every later Apply into a no-op.
func (s *Store) SetDraining() {
	s.draining.Store(true)
}

// Draining reports whether SetDraining was called.
func (s *Store) Draining() bool {
	return s.draining.Load()
}

// StaleDropped returns how many events lost the generation check.
func (s *Store) StaleDropped() int64 {
	return s.stale.Load()
}
