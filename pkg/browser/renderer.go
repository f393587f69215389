package browser

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/lantern/pkg/history"
	"github.com/odvcencio/lantern/pkg/logging"
	"github.com/odvcencio/lantern/pkg/telemetry"
)

type navKind string

const (
	navPush     navKind = "push"
	navTraverse navKind = "traverse"
	navReload   navKind = "reload"
)

// navRecord remembers what the host asked for in the current generation so
// Tick can decide how a Loaded transition affects history.
type navRecord struct {
	gen       Generation
	kind      navKind
	location  string
	startedAt time.Time
}

type view struct {
	id       ViewID
	history  *history.History
	viewport Viewport
	nav      navRecord
	// reported is the last generation whose terminal state was published.
	reported Generation
	frames   int
}

// TickResult is the outcome of one host step.
type TickResult struct {
	Updates []Snapshot
	// Again is set when a wake arrived during the tick.
	Again bool
}

// Renderer is the single entry point the host uses to drive the engine. All
// methods except Shutdown return as soon as the command has been validated
// and handed to the engine.
type Renderer struct {
	engine  Engine
	log     *logging.Logger
	metrics *Metrics
	now     func() time.Time

	// cmdMu serializes commands so they reach the engine in the order their
	// generations were issued. It is taken before mu and never by Tick.
	cmdMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	cfg         Config
	store       *Store
	waker       *Waker
	views       map[ViewID]*view
	order       []ViewID
	// settled holds snapshots of loads that finished between ticks and
	// were committed when a newer navigation replaced them.
	settled []Snapshot

	lastSeq  atomic.Uint64
	sessions chan struct{}
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the renderer logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Renderer) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithHub publishes renderer telemetry to hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(r *Renderer) {
		r.metrics.EnableTelemetry(hub)
	}
}

// WithClock overrides the renderer clock.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
			r.metrics.SetClock(now)
		}
	}
}

// NewRenderer creates a Renderer backed by engine.
func NewRenderer(engine Engine, opts ...Option) *Renderer {
	r := &Renderer{
		engine:   engine,
		log:      logging.Discard(),
		metrics:  NewMetrics(),
		now:      time.Now,
		views:    make(map[ViewID]*view),
		sessions: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics returns the renderer's metrics collector.
func (r *Renderer) Metrics() *Metrics {
	return r.metrics
}

// Initialize starts the engine session.
func (r *Renderer) Initialize(ctx context.Context, cfg Config) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.initialize")
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine == nil {
		return configurationError(errors.New("no engine binding"), "engine cannot start")
	}
	if r.initialized {
		return ErrAlreadyInitialized
	}

	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return configurationError(err, "invalid renderer config")
	}
	if merged.InitialLocation != "" {
		loc, err := NormalizeLocation(merged.InitialLocation)
		if err != nil {
			return configurationError(err, "invalid initial location")
		}
		merged.InitialLocation = loc
	}

	store := NewStore(WithStoreClock(r.now), WithStaleObserver(r.staleEvent))
	waker := NewWaker()
	cb := Callbacks{Sink: sessionSink{store: store, waker: waker}, Waker: waker}
	engineCfg := EngineConfig{Viewport: merged.Viewport, UserAgent: merged.UserAgent}
	if err := r.engine.Initialize(ctx, engineCfg, cb); err != nil {
		waker.Close()
		return configurationError(err, "engine cannot start")
	}

	r.cfg = merged
	r.store = store
	r.waker = waker
	r.views = make(map[ViewID]*view)
	r.order = nil
	r.lastSeq.Store(0)
	r.initialized = true

	select {
	case r.sessions <- struct{}{}:
	default:
	}
	r.log.Info("renderer initialized",
		slog.String("viewport", merged.Viewport.String()),
		slog.String("initial_location", merged.InitialLocation),
	)
	return nil
}

// sessionSink is the EventSink handed to the engine. It only touches the
// session's store and waker, never the renderer lock.
type sessionSink struct {
	store *Store
	waker *Waker
}

func (s sessionSink) Deliver(ev Event) {
	if s.store.Apply(ev) {
		s.waker.Wake()
	}
}

func (r *Renderer) staleEvent(ev Event, current Generation) {
	r.metrics.RecordStaleEvent()
	r.log.StaleEventDropped(string(ev.View), ev.Kind.String(), uint64(ev.Generation), uint64(current))
}

// Initialized reports whether a session is active.
func (r *Renderer) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Config returns the active session config.
func (r *Renderer) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// CreateView opens a view. An empty initialLocation falls back to the
// session's initial location; with neither the view stays Idle. A
// non-empty location is validated like Navigate and nothing is created when
// it is rejected.
func (r *Renderer) CreateView(ctx context.Context, initialLocation string) (id ViewID, err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.create_view")
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return "", ErrNotInitialized
	}
	loc := strings.TrimSpace(initialLocation)
	if loc == "" {
		loc = r.cfg.InitialLocation
	}
	if loc != "" {
		normalized, err := NormalizeLocation(loc)
		if err != nil {
			r.mu.Unlock()
			r.metrics.RecordNavigationRejected()
			r.log.NavigationRejected("", loc, err)
			return "", err
		}
		loc = normalized
	}
	viewport := r.cfg.Viewport
	r.mu.Unlock()

	id = ViewID(ulid.Make().String())
	span.SetAttributes(telemetry.AttrViewID.String(string(id)))
	if err := r.engine.CreateView(ctx, id, viewport); err != nil {
		r.log.EngineFault(string(id), err)
		return "", engineFault(err, id, "create view")
	}

	r.mu.Lock()
	r.store.Register(id)
	v := &view{
		id:       id,
		history:  history.NewWithClock(r.now),
		viewport: viewport,
	}
	r.views[id] = v
	r.order = append(r.order, id)
	r.metrics.RecordViewCreated(id)
	if loc == "" {
		r.mu.Unlock()
		return id, nil
	}
	cmd, err := r.beginNavigationLocked(ctx, v, loc, navPush, false)
	r.mu.Unlock()
	if err != nil {
		return id, err
	}
	return id, r.forward(ctx, cmd)
}

// Navigate loads location in the view. Rejected locations never reach the
// engine and leave the view untouched. An accepted navigation supersedes any
// in-flight one.
func (r *Renderer) Navigate(ctx context.Context, id ViewID, location string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.navigate",
		trace.WithAttributes(telemetry.AttrViewID.String(string(id)), telemetry.AttrLocation.String(location)))
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	v, err := r.viewLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	loc, err := NormalizeLocation(location)
	if err != nil {
		r.mu.Unlock()
		r.metrics.RecordNavigationRejected()
		r.log.NavigationRejected(string(id), location, err)
		return err
	}
	cmd, err := r.beginNavigationLocked(ctx, v, loc, navPush, false)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.forward(ctx, cmd)
}

// Stop asks the engine to abandon the in-flight load. The view reverts to
// its last Loaded state, or becomes Cancelled when it never loaded. Stop is
// a no-op unless the view is Loading.
func (r *Renderer) Stop(ctx context.Context, id ViewID) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.stop",
		trace.WithAttributes(telemetry.AttrViewID.String(string(id))))
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	v, err := r.viewLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	phase, ok := r.store.Cancel(id)
	if !ok {
		r.mu.Unlock()
		return nil
	}
	gen := v.nav.gen
	v.reported = gen
	r.metrics.RecordNavigationCancelled(id, gen, phase == PhaseLoaded)
	r.mu.Unlock()

	// Advisory: a late completion for gen is dropped by the terminal check.
	if err := r.engine.Stop(ctx, id, gen); err != nil {
		r.log.EngineFault(string(id), err)
	}
	return nil
}

// Reload re-navigates to the committed location, or to the pending one if
// nothing ever loaded. It does not touch history.
func (r *Renderer) Reload(ctx context.Context, id ViewID, bypassCache bool) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.reload",
		trace.WithAttributes(telemetry.AttrViewID.String(string(id)), telemetry.AttrBypass.Bool(bypassCache)))
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	v, err := r.viewLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	st, _ := r.store.Get(id)
	loc := st.Location
	if loc == "" {
		loc = st.PendingLocation
	}
	if loc == "" {
		r.mu.Unlock()
		return invalidLocation("", "view has no location to reload")
	}
	cmd, err := r.beginNavigationLocked(ctx, v, loc, navReload, bypassCache)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.forward(ctx, cmd)
}

// Resize forwards a new viewport to the engine. Navigation state is not
// affected.
func (r *Renderer) Resize(ctx context.Context, id ViewID, viewport Viewport) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.resize",
		trace.WithAttributes(telemetry.AttrViewID.String(string(id))))
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	v, err := r.viewLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if viewport.DeviceScaleFactor == 0 {
		viewport.DeviceScaleFactor = v.viewport.DeviceScaleFactor
	}
	r.mu.Unlock()
	if err := viewport.Validate(); err != nil {
		return err
	}

	if err := r.engine.Resize(ctx, id, viewport); err != nil {
		r.log.EngineFault(string(id), err)
		return engineFault(err, id, "resize")
	}
	r.mu.Lock()
	v.viewport = viewport
	r.mu.Unlock()
	return nil
}

// DestroyView releases the view. Later engine events for it are ignored.
func (r *Renderer) DestroyView(ctx context.Context, id ViewID) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.destroy_view",
		trace.WithAttributes(telemetry.AttrViewID.String(string(id))))
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	if _, err := r.viewLocked(id); err != nil {
		r.mu.Unlock()
		return err
	}
	r.detachViewLocked(id)
	r.mu.Unlock()

	r.destroyEngineView(ctx, id)
	return nil
}

// detachViewLocked drops the view from the session, committing a load that
// finished but was never collected.
func (r *Renderer) detachViewLocked(id ViewID) {
	if final, ok := r.store.Remove(id); ok {
		if v := r.views[id]; v != nil {
			r.commitLocked(v, final)
		}
	}
	delete(r.views, id)
	for i, vid := range r.order {
		if vid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Renderer) destroyEngineView(ctx context.Context, id ViewID) {
	if err := r.engine.DestroyView(ctx, id); err != nil {
		r.log.EngineFault(string(id), err)
	}
	r.metrics.RecordViewDestroyed(id)
}

// Back moves the view's history cursor back and navigates to that entry
// without pushing a new one.
func (r *Renderer) Back(ctx context.Context, id ViewID) (history.Entry, error) {
	return r.traverse(ctx, id, "back")
}

// Forward moves the view's history cursor forward and navigates to that
// entry without pushing a new one.
func (r *Renderer) Forward(ctx context.Context, id ViewID) (history.Entry, error) {
	return r.traverse(ctx, id, "forward")
}

func (r *Renderer) traverse(ctx context.Context, id ViewID, direction string) (entry history.Entry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer."+direction,
		trace.WithAttributes(telemetry.AttrViewID.String(string(id))))
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	v, err := r.viewLocked(id)
	if err != nil {
		r.mu.Unlock()
		return history.Entry{}, err
	}

	var ok bool
	if direction == "back" {
		entry, ok = v.history.Back()
	} else {
		entry, ok = v.history.Forward()
	}
	if !ok {
		r.mu.Unlock()
		return history.Entry{}, atBoundary(id, direction)
	}
	cmd, err := r.beginNavigationLocked(ctx, v, entry.Location, navTraverse, false)
	r.mu.Unlock()
	if err != nil {
		return history.Entry{}, err
	}
	return entry, r.forward(ctx, cmd)
}

// navCommand is an accepted navigation waiting to be handed to the engine.
type navCommand struct {
	store    *Store
	view     ViewID
	gen      Generation
	kind     navKind
	location string
	bypass   bool
}

// beginNavigationLocked starts a new generation for v. A load that finished
// since the last tick is committed first so history never loses it.
func (r *Renderer) beginNavigationLocked(ctx context.Context, v *view, loc string, kind navKind, bypass bool) (navCommand, error) {
	prev, gen, ok := r.store.Supersede(v.id, loc)
	if !ok {
		return navCommand{}, viewNotFound(v.id)
	}
	if prev.Terminal && prev.Generation == v.nav.gen && v.reported != prev.Generation {
		r.commitLocked(v, prev)
		r.settled = append(r.settled, r.snapshotLocked(v, prev))
	}
	v.nav = navRecord{gen: gen, kind: kind, location: loc, startedAt: r.now()}
	v.frames = 0
	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrGeneration.Int64(int64(gen)))
	r.metrics.RecordNavigationStarted(v.id, gen, loc, string(kind))
	return navCommand{store: r.store, view: v.id, gen: gen, kind: kind, location: loc, bypass: bypass}, nil
}

// forward hands an accepted navigation to the engine without holding the
// renderer lock, so Tick and readers are not blocked by a slow engine.
// Callers hold cmdMu, which keeps commands reaching the engine in
// generation order.
func (r *Renderer) forward(ctx context.Context, cmd navCommand) error {
	var err error
	if cmd.kind == navReload {
		err = r.engine.Reload(ctx, cmd.view, cmd.gen, cmd.location, cmd.bypass)
	} else {
		err = r.engine.Navigate(ctx, cmd.view, cmd.gen, cmd.location)
	}
	if err != nil {
		fault := engineFault(err, cmd.view, string(cmd.kind))
		if cmd.store.Fail(cmd.view, cmd.gen, fault) {
			r.wake()
		}
		r.log.EngineFault(string(cmd.view), err)
		return fault
	}
	r.log.NavigationAccepted(string(cmd.view), uint64(cmd.gen), cmd.location, string(cmd.kind))
	return nil
}

func (r *Renderer) wake() {
	r.mu.Lock()
	w := r.waker
	r.mu.Unlock()
	w.Wake()
}

// Tick runs one host step: pump the engine once, collect every view whose
// state changed since the last tick, commit finished push navigations into
// history and publish telemetry.
func (r *Renderer) Tick() TickResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return TickResult{}
	}

	start := r.waker.Seq()
	r.engine.Pump()

	updates := r.settled
	r.settled = nil
	for _, id := range r.order {
		v := r.views[id]
		st, changed, ok := r.store.Collect(id)
		if !ok || !changed {
			continue
		}
		r.commitLocked(v, st)
		updates = append(updates, r.snapshotLocked(v, st))
	}

	r.lastSeq.Store(start)
	return TickResult{Updates: updates, Again: r.waker.Seq() != start}
}

func (r *Renderer) commitLocked(v *view, st ViewState) {
	if st.Frames > v.frames && st.Generation == v.nav.gen {
		r.metrics.RecordFrames(st.Frames - v.frames)
		v.frames = st.Frames
	}
	if !st.Terminal || st.Generation != v.nav.gen || v.reported == st.Generation {
		return
	}
	v.reported = st.Generation

	switch st.Phase {
	case PhaseLoaded:
		if st.LoadedGeneration != v.nav.gen {
			return
		}
		switch {
		case v.nav.kind == navPush || v.history.Len() == 0:
			v.history.Push(st.Location, st.Title)
		default:
			v.history.SetCurrentTitle(st.Title)
		}
		r.metrics.RecordNavigationLoaded(v.id, st.Generation, st.Location, st.Title, r.now().Sub(v.nav.startedAt))
	case PhaseFailed:
		r.metrics.RecordNavigationFailed(v.id, st.Generation, v.nav.location, st.Err)
	}
}

func (r *Renderer) snapshotLocked(v *view, st ViewState) Snapshot {
	return Snapshot{
		View:         v.id,
		ViewState:    st,
		CanGoBack:    v.history.CanGoBack(),
		CanGoForward: v.history.CanGoForward(),
		Viewport:     v.viewport,
	}
}

// Pending reports whether a wake arrived after the last tick started. The
// loop uses it to skip wake tokens a tick already covered.
func (r *Renderer) Pending() bool {
	r.mu.Lock()
	w := r.waker
	r.mu.Unlock()
	if w == nil {
		return false
	}
	return w.Seq() != r.lastSeq.Load()
}

// Waker returns the session waker, or nil when no session is active.
func (r *Renderer) Waker() *Waker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waker
}

// SessionChanged signals when Initialize starts a new session, so loops can
// pick up the new waker.
func (r *Renderer) SessionChanged() <-chan struct{} {
	return r.sessions
}

// Snapshot returns the current state of a view.
func (r *Renderer) Snapshot(id ViewID) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.viewLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	st, _ := r.store.Get(id)
	return r.snapshotLocked(v, st), nil
}

// Views returns the open views in creation order.
func (r *Renderer) Views() []ViewID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ViewID, len(r.order))
	copy(out, r.order)
	return out
}

// History returns a copy of a view's history and its cursor.
func (r *Renderer) History(id ViewID) ([]history.Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.viewLocked(id)
	if err != nil {
		return nil, -1, err
	}
	return v.history.Entries(), v.history.Cursor(), nil
}

func (r *Renderer) viewLocked(id ViewID) (*view, error) {
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	v, ok := r.views[id]
	if !ok {
		return nil, viewNotFound(id)
	}
	return v, nil
}

// Shutdown tears the session down. It marks the store draining first so
// callbacks arriving from any goroutine become no-ops, destroys every view
// and waits for the engine to acknowledge, bounded by the configured
// shutdown timeout or ctx. On timeout resources are released anyway and
// ErrShutdownTimeout is returned. The renderer can be initialized again
// afterwards.
func (r *Renderer) Shutdown(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "renderer.shutdown")
	defer func() { endSpan(span, err) }()

	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}

	r.store.SetDraining()
	r.waker.Close()

	timeout := r.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	viewCount := len(r.order)
	for _, id := range append([]ViewID(nil), r.order...) {
		r.detachViewLocked(id)
		r.destroyEngineView(sctx, id)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.engine.Shutdown(sctx)
	}()

	var result error
	select {
	case engineErr := <-done:
		if engineErr != nil {
			if sctx.Err() != nil {
				result = shutdownTimeout(engineErr)
			} else {
				r.log.Warn("engine shutdown error", slog.String("error", engineErr.Error()))
			}
		}
	case <-sctx.Done():
		result = shutdownTimeout(sctx.Err())
	}

	if result != nil {
		r.log.ShutdownFault(result)
	}
	r.metrics.RecordShutdown(result != nil, viewCount)

	r.initialized = false
	r.store = nil
	r.waker = nil
	r.views = make(map[ViewID]*view)
	r.order = nil
	r.settled = nil
	return result
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
