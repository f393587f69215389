// Package headless is an in-process engine that fetches pages over HTTP and
// parses them without painting. It backs the CLI and integration tests.
package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/logging"
)

const (
	defaultUserAgent = "Lantern/1.0 (+https://github.com/odvcencio/lantern)"
	maxBodyBytes     = 8 << 20
	readChunk        = 32 << 10
)

var errResponseTooLarge = errors.New("response too large")

// Link is an anchor found on a loaded page.
type Link struct {
	Text string
	URL  string
}

// Page is the parsed content of a view's last completed load.
type Page struct {
	Location   string
	Title      string
	Text       string
	Links      []Link
	StatusCode int
}

type viewState struct {
	viewport browser.Viewport
	gen      browser.Generation
	cancel   context.CancelFunc
	page     *Page
}

// Engine implements browser.Engine with net/http and goquery.
type Engine struct {
	client    *http.Client
	log       *logging.Logger
	userAgent string
	maxBody   int64

	mu     sync.Mutex
	sink   browser.EventSink
	waker  *browser.Waker
	views  map[browser.ViewID]*viewState
	queue  []browser.Event
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithMaxBodyBytes caps how much of a response body is read. Larger
// responses fail the load.
func WithMaxBodyBytes(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBody = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates a headless engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		client: &http.Client{Timeout: 30 * time.Second},
		log:     logging.Discard(),
		maxBody: maxBodyBytes,
		views:   make(map[browser.ViewID]*viewState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize implements browser.Engine.
func (e *Engine) Initialize(_ context.Context, cfg browser.EngineConfig, cb browser.Callbacks) error {
	if cb.Sink == nil {
		return errors.New("event sink required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = cb.Sink
	e.waker = cb.Waker
	e.userAgent = cfg.UserAgent
	if e.userAgent == "" {
		e.userAgent = defaultUserAgent
	}
	e.views = make(map[browser.ViewID]*viewState)
	e.queue = nil
	e.closed = false
	return nil
}

// CreateView implements browser.Engine.
func (e *Engine) CreateView(_ context.Context, id browser.ViewID, viewport browser.Viewport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is shut down")
	}
	if _, ok := e.views[id]; ok {
		return fmt.Errorf("view %s already exists", id)
	}
	e.views[id] = &viewState{viewport: viewport}
	return nil
}

// Navigate implements browser.Engine.
func (e *Engine) Navigate(_ context.Context, id browser.ViewID, gen browser.Generation, location string) error {
	return e.start(id, gen, location, false)
}

// Reload implements browser.Engine.
func (e *Engine) Reload(_ context.Context, id browser.ViewID, gen browser.Generation, location string, bypassCache bool) error {
	return e.start(id, gen, location, bypassCache)
}

// Stop cancels the fetch for gen if it is still the view's current one.
func (e *Engine) Stop(_ context.Context, id browser.ViewID, gen browser.Generation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return fmt.Errorf("unknown view %s", id)
	}
	if v.gen == gen && v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	return nil
}

// Resize implements browser.Engine.
func (e *Engine) Resize(_ context.Context, id browser.ViewID, viewport browser.Viewport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return fmt.Errorf("unknown view %s", id)
	}
	v.viewport = viewport
	return nil
}

// DestroyView implements browser.Engine.
func (e *Engine) DestroyView(_ context.Context, id browser.ViewID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return fmt.Errorf("unknown view %s", id)
	}
	if v.cancel != nil {
		v.cancel()
	}
	delete(e.views, id)
	return nil
}

// Pump implements browser.Engine.
func (e *Engine) Pump() {
	e.mu.Lock()
	queued := e.queue
	e.queue = nil
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}
	for _, ev := range queued {
		sink.Deliver(ev)
	}
}

// Shutdown cancels every fetch and waits for the fetch goroutines.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, v := range e.views {
		if v.cancel != nil {
			v.cancel()
		}
	}
	e.views = make(map[browser.ViewID]*viewState)
	e.sink = nil
	e.queue = nil
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Page returns the parsed content of the view's last completed load.
func (e *Engine) Page(id browser.ViewID) (Page, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok || v.page == nil {
		return Page{}, false
	}
	page := *v.page
	page.Links = append([]Link(nil), v.page.Links...)
	return page, true
}

func (e *Engine) start(id browser.ViewID, gen browser.Generation, location string, bypassCache bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is shut down")
	}
	v, ok := e.views[id]
	if !ok {
		return fmt.Errorf("unknown view %s", id)
	}
	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.gen = gen
	v.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.load(ctx, id, gen, location, bypassCache)
	}()
	return nil
}

// load runs on its own goroutine and reports through emit.
func (e *Engine) load(ctx context.Context, id browser.ViewID, gen browser.Generation, location string, bypassCache bool) {
	emit := func(ev browser.Event) {
		ev.View = id
		ev.Generation = gen
		e.emit(ctx, ev)
	}
	emit(browser.Event{Kind: browser.EventNavigationStarted, Location: location})

	var page *Page
	var err error
	switch browser.Scheme(location) {
	case "about":
		page = &Page{Location: location}
	case "data":
		page, err = loadData(location)
	default:
		page, err = e.fetch(ctx, location, bypassCache, func(p float64) {
			emit(browser.Event{Kind: browser.EventProgressUpdated, Progress: p})
		})
	}
	if ctx.Err() != nil {
		// Stopped, superseded or shut down. Nothing more to report.
		return
	}
	if err != nil {
		e.log.Debug("load failed", slog.String("view", string(id)), slog.String("location", location), slog.String("error", err.Error()))
		emit(browser.Event{Kind: browser.EventLoadFailed, Message: err.Error()})
		return
	}

	e.mu.Lock()
	if v, ok := e.views[id]; ok && v.gen == gen {
		v.page = page
	}
	e.mu.Unlock()

	if page.Title != "" {
		emit(browser.Event{Kind: browser.EventTitleChanged, Title: page.Title})
	}
	emit(browser.Event{Kind: browser.EventLoadCompleted, Location: page.Location})
	emit(browser.Event{Kind: browser.EventFrameReady})
}

func (e *Engine) emit(ctx context.Context, ev browser.Event) {
	if ctx.Err() != nil {
		return
	}
	ev.Timestamp = time.Now()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	waker := e.waker
	e.mu.Unlock()
	waker.Wake()
}

func (e *Engine) fetch(ctx context.Context, location string, bypassCache bool, progress func(float64)) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	e.mu.Lock()
	req.Header.Set("User-Agent", e.userAgent)
	e.mu.Unlock()
	if bypassCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("received status code %d", resp.StatusCode)
	}

	if resp.ContentLength > e.maxBody {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", errResponseTooLarge, resp.ContentLength, e.maxBody)
	}
	body, err := readWithProgress(resp.Body, resp.ContentLength, e.maxBody, progress)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	final := location
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	page, err := parseHTML(bytes.NewReader(body), final)
	if err != nil {
		return nil, err
	}
	page.StatusCode = resp.StatusCode
	return page, nil
}

// readWithProgress reports fractions of Content-Length while reading. An
// unknown length reports nothing until the load completes. A body longer
// than limit is an error rather than a truncated page.
func readWithProgress(r io.Reader, length, limit int64, progress func(float64)) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	limited := io.LimitReader(r, limit+1)
	for {
		n, err := limited.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > limit {
				return nil, fmt.Errorf("%w: more than %d bytes", errResponseTooLarge, limit)
			}
			if length > 0 {
				progress(float64(buf.Len()) / float64(length))
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseHTML(r io.Reader, location string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	page := &Page{
		Location: location,
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Text:     strings.Join(strings.Fields(doc.Find("body").Text()), " "),
	}
	base, _ := url.Parse(location)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link := strings.TrimSpace(href)
		if base != nil {
			if resolved, err := base.Parse(link); err == nil {
				link = resolved.String()
			}
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			text = link
		}
		page.Links = append(page.Links, Link{Text: text, URL: link})
	})
	return page, nil
}
