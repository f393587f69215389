// Package servo binds the renderer to an out-of-process browserd engine
// over a unix socket.
package servo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/lantern/pkg/browser"
	lerrors "github.com/odvcencio/lantern/pkg/errors"
	"github.com/odvcencio/lantern/pkg/logging"
)

// Engine is a browser.Engine backed by browserd. Commands are acknowledged
// by browserd before returning; page events arrive on the connection, are
// queued and handed to the sink on Pump.
type Engine struct {
	cfg Config
	log *logging.Logger

	mu         sync.Mutex
	client     *client
	cmd        *exec.Cmd
	waitDone   chan struct{}
	socketPath string
	session    browser.EngineConfig
	reconnects int

	// qmu is never held across a browserd round trip, so the reader
	// goroutine can always make progress.
	qmu      sync.Mutex
	sink     browser.EventSink
	waker    *browser.Waker
	shutting bool
	queue    []browser.Event
	inflight map[browser.ViewID]browser.Generation
	// views is replayed to browserd after a reconnect.
	views map[browser.ViewID]browser.Viewport
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine validates cfg and returns an engine that connects on Initialize.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      merged,
		log:      logging.Discard(),
		inflight: make(map[browser.ViewID]browser.Generation),
		views:    make(map[browser.ViewID]browser.Viewport),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Initialize starts or dials browserd and performs the handshake.
func (e *Engine) Initialize(ctx context.Context, cfg browser.EngineConfig, cb browser.Callbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return errors.New("browserd session already open")
	}

	socketPath := e.cfg.Address
	if socketPath == "" {
		path, err := resolveSocketPath(e.cfg.SocketDir, "lantern-"+uuid.NewString())
		if err != nil {
			return err
		}
		socketPath = path
		cmd := exec.Command(e.cfg.BrowserdPath, "--socket", socketPath)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start browserd: %w", err)
		}
		e.cmd = cmd
		e.waitDone = make(chan struct{})
		go func(done chan struct{}) {
			_ = cmd.Wait()
			close(done)
		}(e.waitDone)
	}

	conn, err := dialBrowserd(ctx, socketPath, e.cfg.ConnectTimeout)
	if err != nil {
		e.reapLocked(0)
		return err
	}

	e.socketPath = socketPath
	e.qmu.Lock()
	e.sink = cb.Sink
	e.waker = cb.Waker
	e.shutting = false
	e.queue = nil
	e.inflight = make(map[browser.ViewID]browser.Generation)
	e.views = make(map[browser.ViewID]browser.Viewport)
	e.qmu.Unlock()
	e.client = newClient(conn, e.cfg.QueueSize, e.log, e.receive, e.connectionLost)
	e.session = cfg
	e.reconnects = 0

	ictx, cancel := e.withOperationTimeout(ctx)
	defer cancel()
	if err := e.exchangeLocked(ictx, envelope{Op: opInitialize, Viewport: cfg.Viewport, UserAgent: cfg.UserAgent}); err != nil {
		e.client.close()
		e.client = nil
		e.reapLocked(0)
		return err
	}
	e.log.Info("browserd connected", slog.String("socket", socketPath), slog.Bool("spawned", e.cmd != nil))
	return nil
}

// CreateView implements browser.Engine.
func (e *Engine) CreateView(ctx context.Context, id browser.ViewID, viewport browser.Viewport) error {
	if err := e.call(ctx, envelope{Op: opCreateView, View: id, Viewport: viewport}); err != nil {
		return err
	}
	e.setView(id, viewport)
	return nil
}

// Navigate implements browser.Engine.
func (e *Engine) Navigate(ctx context.Context, id browser.ViewID, gen browser.Generation, location string) error {
	if err := e.call(ctx, envelope{Op: opNavigate, View: id, Generation: gen, Location: location}); err != nil {
		return err
	}
	e.track(id, gen)
	return nil
}

// Stop implements browser.Engine.
func (e *Engine) Stop(ctx context.Context, id browser.ViewID, gen browser.Generation) error {
	e.untrack(id, gen)
	return e.call(ctx, envelope{Op: opStop, View: id, Generation: gen})
}

// Reload implements browser.Engine.
func (e *Engine) Reload(ctx context.Context, id browser.ViewID, gen browser.Generation, location string, bypassCache bool) error {
	err := e.call(ctx, envelope{Op: opReload, View: id, Generation: gen, Location: location, BypassCache: bypassCache})
	if err != nil {
		return err
	}
	e.track(id, gen)
	return nil
}

// Resize implements browser.Engine.
func (e *Engine) Resize(ctx context.Context, id browser.ViewID, viewport browser.Viewport) error {
	if err := e.call(ctx, envelope{Op: opResize, View: id, Viewport: viewport}); err != nil {
		return err
	}
	e.setView(id, viewport)
	return nil
}

// DestroyView implements browser.Engine.
func (e *Engine) DestroyView(ctx context.Context, id browser.ViewID) error {
	e.qmu.Lock()
	delete(e.inflight, id)
	delete(e.views, id)
	e.qmu.Unlock()
	return e.call(ctx, envelope{Op: opDestroyView, View: id})
}

// Pump hands every queued event to the sink.
func (e *Engine) Pump() {
	e.qmu.Lock()
	queued := e.queue
	e.queue = nil
	sink := e.sink
	e.qmu.Unlock()
	if sink == nil {
		return
	}
	for _, ev := range queued {
		sink.Deliver(ev)
	}
}

// Shutdown asks browserd to exit and waits for it, bounded by ctx. A
// spawned process that has not exited by then is killed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	e.qmu.Lock()
	e.shutting = true
	e.qmu.Unlock()

	var result error
	if e.client.alive() {
		if err := e.exchangeLocked(ctx, envelope{Op: opShutdown}); err != nil && ctx.Err() != nil {
			result = ctx.Err()
		}
	}
	e.client.close()
	e.client = nil
	e.qmu.Lock()
	e.sink = nil
	e.queue = nil
	e.qmu.Unlock()

	if e.cmd != nil {
		select {
		case <-e.waitDone:
		case <-ctx.Done():
			result = ctx.Err()
		}
	}
	e.reapLocked(time.Second)
	return result
}

func (e *Engine) call(ctx context.Context, req envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callLocked(ctx, req)
}

// callLocked sends req, reconnecting once first when the connection was
// lost since the last command or dies while req is outstanding.
func (e *Engine) callLocked(ctx context.Context, req envelope) error {
	if e.client == nil {
		return errors.New("browserd not connected")
	}
	ctx, cancel := e.withOperationTimeout(ctx)
	defer cancel()

	if !e.client.alive() {
		if err := e.reconnectLocked(ctx); err != nil {
			return err
		}
		return e.exchangeLocked(ctx, req)
	}
	err := e.exchangeLocked(ctx, req)
	if err == nil || e.client.alive() || ctx.Err() != nil {
		return err
	}
	if rerr := e.reconnectLocked(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return e.exchangeLocked(ctx, req)
}

// exchangeLocked performs one request/response round trip.
func (e *Engine) exchangeLocked(ctx context.Context, req envelope) error {
	resp, err := e.client.send(ctx, req)
	if err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeEngineFault, req.Op+" failed").
			WithContext("op", req.Op).
			WithRetryable(isNetworkError(err))
	}
	return responseError(req.Op, resp)
}

// reconnectLocked redials browserd, repeats the handshake and recreates
// every open view. Loads that were in flight on the old connection have
// already been failed by connectionLost. After MaxReconnects consecutive
// failures it stops trying.
func (e *Engine) reconnectLocked(ctx context.Context) error {
	if e.cfg.MaxReconnects < 0 || e.reconnects >= e.cfg.MaxReconnects {
		return lerrors.New(lerrors.ErrCodeEngineFault, "browserd connection lost and reconnect attempts exhausted").
			WithContext("attempts", e.reconnects)
	}
	e.reconnects++
	e.client.close()

	conn, err := dialBrowserd(ctx, e.socketPath, e.cfg.ConnectTimeout)
	if err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeEngineFault, "reconnect browserd").
			WithContext("attempt", e.reconnects).
			WithRetryable(true)
	}
	e.client = newClient(conn, e.cfg.QueueSize, e.log, e.receive, e.connectionLost)
	if err := e.exchangeLocked(ctx, envelope{Op: opInitialize, Viewport: e.session.Viewport, UserAgent: e.session.UserAgent}); err != nil {
		return err
	}

	e.qmu.Lock()
	views := make(map[browser.ViewID]browser.Viewport, len(e.views))
	for id, vp := range e.views {
		views[id] = vp
	}
	e.qmu.Unlock()
	for id, vp := range views {
		if err := e.exchangeLocked(ctx, envelope{Op: opCreateView, View: id, Viewport: vp}); err != nil {
			e.log.Warn("recreate view after reconnect", slog.String("view", string(id)), slog.String("error", err.Error()))
		}
	}

	e.log.Info("browserd reconnected", slog.String("socket", e.socketPath), slog.Int("attempt", e.reconnects), slog.Int("views", len(views)))
	e.reconnects = 0
	return nil
}

// withOperationTimeout applies the configured timeout when ctx has none.
func (e *Engine) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || e.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

func (e *Engine) setView(id browser.ViewID, vp browser.Viewport) {
	e.qmu.Lock()
	e.views[id] = vp
	e.qmu.Unlock()
}

func (e *Engine) track(id browser.ViewID, gen browser.Generation) {
	e.qmu.Lock()
	e.inflight[id] = gen
	e.qmu.Unlock()
}

func (e *Engine) untrack(id browser.ViewID, gen browser.Generation) {
	e.qmu.Lock()
	if e.inflight[id] == gen {
		delete(e.inflight, id)
	}
	e.qmu.Unlock()
}

// receive runs on the client reader goroutine.
func (e *Engine) receive(env envelope) {
	ev := env.Event
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.qmu.Lock()
	if ev.Kind == browser.EventLoadCompleted || ev.Kind == browser.EventLoadFailed {
		if e.inflight[ev.View] == ev.Generation {
			delete(e.inflight, ev.View)
		}
	}
	e.queue = append(e.queue, ev)
	e.qmu.Unlock()
	e.wake()
}

// connectionLost fails every in-flight load so no view is left Loading
// after browserd disappears.
func (e *Engine) connectionLost(reason error) {
	e.qmu.Lock()
	if e.shutting {
		e.qmu.Unlock()
		return
	}
	now := time.Now()
	for id, gen := range e.inflight {
		e.queue = append(e.queue, browser.Event{
			Kind:       browser.EventLoadFailed,
			View:       id,
			Generation: gen,
			Message:    "browserd connection lost: " + reason.Error(),
			Timestamp:  now,
		})
	}
	lost := len(e.inflight)
	e.inflight = make(map[browser.ViewID]browser.Generation)
	e.qmu.Unlock()

	e.log.Error("browserd connection lost", slog.String("error", reason.Error()), slog.Int("inflight", lost))
	if lost > 0 {
		e.wake()
	}
}

func (e *Engine) wake() {
	e.qmu.Lock()
	waker := e.waker
	e.qmu.Unlock()
	waker.Wake()
}

// reapLocked kills a spawned browserd that is still running after grace
// and removes its socket.
func (e *Engine) reapLocked(grace time.Duration) {
	if e.cmd != nil && e.cmd.Process != nil {
		select {
		case <-e.waitDone:
		case <-time.After(grace):
			_ = e.cmd.Process.Kill()
			<-e.waitDone
		}
		if e.socketPath != "" {
			_ = os.Remove(e.socketPath)
		}
	}
	e.cmd = nil
	e.waitDone = nil
}

func responseError(op string, resp envelope) error {
	if resp.Error == "" {
		return nil
	}
	return lerrors.New(lerrors.ErrCodeEngineFault, resp.Error).WithContext("op", op)
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

func resolveSocketPath(socketDir, name string) (string, error) {
	dir := strings.TrimSpace(socketDir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "lantern", "browserd")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create socket dir: %w", err)
	}
	return filepath.Join(dir, sanitizeName(name)+".sock"), nil
}

func sanitizeName(name string) string {
	out := strings.Builder{}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	if out.Len() == 0 {
		return "browserd"
	}
	return out.String()
}

func dialBrowserd(ctx context.Context, socketPath string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for browserd")
	}
	return nil, fmt.Errorf("connect browserd: %w", lastErr)
}
