package diagnostics

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/lantern/pkg/browser"
	apperrors "github.com/odvcencio/lantern/pkg/errors"
	"github.com/odvcencio/lantern/pkg/history"
	"github.com/odvcencio/lantern/pkg/logging"
)

// NewRouter builds the diagnostics HTTP surface:
//
//	GET /healthz            liveness
//	GET /readyz             readiness
//	GET /health             full report
//	GET /metrics            prometheus exposition
//	GET /debug/events       recent telemetry (?limit=N)
//	GET /debug/dump         text dump
//	GET /views              snapshots of every open view
//	GET /views/{id}         one snapshot
//	GET /views/{id}/history the view's history and cursor
func NewRouter(checker *Checker, collector *Collector, renderer Renderer) http.Handler {
	h := &handlers{checker: checker, collector: collector, renderer: renderer}

	router := chi.NewRouter()
	router.Use(noStore)
	router.Get("/healthz", h.handleHealthz)
	router.Get("/readyz", h.handleReadyz)
	router.Get("/health", h.handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/debug", func(r chi.Router) {
		r.Get("/events", h.handleEvents)
		r.Get("/dump", h.handleDump)
	})

	router.Route("/views", func(r chi.Router) {
		r.Get("/", h.handleViews)
		r.Get("/{id}", h.handleView)
		r.Get("/{id}/history", h.handleHistory)
	})
	return router
}

type handlers struct {
	checker   *Checker
	collector *Collector
	renderer  Renderer
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Liveness(r.Context())
	respondStatusJSON(w, StatusCode(report.Status), report)
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Readiness(r.Context())
	respondStatusJSON(w, StatusCode(report.Status), report)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Health(r.Context())
	respondStatusJSON(w, StatusCode(report.Status), report)
}

func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		respondJSON(w, []any{})
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	respondJSON(w, h.collector.Events(limit))
}

func (h *handlers) handleDump(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		respondError(w, http.StatusNotFound, stderrors.New("collector disabled"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(h.collector.Dump()))
}

func (h *handlers) handleViews(w http.ResponseWriter, r *http.Request) {
	ids := h.renderer.Views()
	out := make([]viewPayload, 0, len(ids))
	for _, id := range ids {
		snap, err := h.renderer.Snapshot(id)
		if err != nil {
			// Destroyed between Views and Snapshot.
			continue
		}
		out = append(out, newViewPayload(snap))
	}
	respondJSON(w, out)
}

func (h *handlers) handleView(w http.ResponseWriter, r *http.Request) {
	snap, err := h.renderer.Snapshot(browser.ViewID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, newViewPayload(snap))
}

func (h *handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, cursor, err := h.renderer.History(browser.ViewID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, map[string]any{"entries": entries, "cursor": cursor})
}

// viewPayload adds the error text that Snapshot omits from JSON.
type viewPayload struct {
	browser.Snapshot
	Error string `json:"error,omitempty"`
}

func newViewPayload(s browser.Snapshot) viewPayload {
	return viewPayload{Snapshot: s, Error: s.ErrorMessage()}
}

func statusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeViewNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, payload any) {
	respondStatusJSON(w, http.StatusOK, payload)
}

func respondStatusJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	response := struct {
		Error       string   `json:"error"`
		Status      int      `json:"status"`
		Code        string   `json:"code,omitempty"`
		Remediation []string `json:"remediation,omitempty"`
		Timestamp   string   `json:"timestamp"`
	}{
		Error:     err.Error(),
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	var appErr *apperrors.Error
	if stderrors.As(err, &appErr) {
		response.Code = string(appErr.Code)
		response.Remediation = apperrors.Remediation(err)
	}
	respondStatusJSON(w, status, response)
}

func parseIntDefault(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logging.Logger) error {
	if log == nil {
		log = logging.Discard()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("diagnostics listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("diagnostics shutdown: %w", err)
		}
		return nil
	}
}
