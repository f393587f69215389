// Package logging provides the structured slog logger shared by lantern components.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for lantern components.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a JSON logger tagged with component. A nil writer logs to stderr.
func New(component string, level slog.Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "lantern"),
	)
	return &Logger{Logger: logger, level: lv}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New("discard", slog.LevelError+4, io.Discard)
}

// ParseLevel maps a config string to a slog level. Unknown values become info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level of this logger and every logger derived from it.
func (l *Logger) SetLevel(level slog.Level) {
	if l == nil || l.level == nil {
		return
	}
	l.level.Set(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	if l == nil || l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// With returns a derived logger sharing the level control.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent returns a logger whose component field is replaced.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(slog.String("subcomponent", component))
}

// WithContext returns a logger carrying trace and span ids from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return l.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// WithView returns a logger with view-specific fields.
func (l *Logger) WithView(viewID string) *Logger {
	return l.With(slog.String("view_id", viewID))
}

// NavigationAccepted logs a navigation handed to the engine.
func (l *Logger) NavigationAccepted(viewID string, generation uint64, location, kind string) {
	l.Debug("navigation accepted",
		slog.String("view_id", viewID),
		slog.Uint64("generation", generation),
		slog.String("location", location),
		slog.String("kind", kind),
	)
}

// NavigationRejected logs a navigation refused during validation.
func (l *Logger) NavigationRejected(viewID, location string, err error) {
	l.Info("navigation rejected",
		slog.String("view_id", viewID),
		slog.String("location", location),
		slog.String("error", err.Error()),
	)
}

// StaleEventDropped logs an engine event that lost the generation check.
func (l *Logger) StaleEventDropped(viewID string, kind string, eventGen, currentGen uint64) {
	l.Debug("stale event dropped",
		slog.String("view_id", viewID),
		slog.String("event", kind),
		slog.Uint64("event_generation", eventGen),
		slog.Uint64("current_generation", currentGen),
	)
}

// EngineFault logs a fault reported by or about the engine.
func (l *Logger) EngineFault(viewID string, err error) {
	l.Warn("engine fault",
		slog.String("view_id", viewID),
		slog.String("error", err.Error()),
	)
}

// ShutdownFault logs an engine that did not acknowledge teardown.
func (l *Logger) ShutdownFault(err error) {
	l.Error("engine shutdown fault",
		slog.String("error", err.Error()),
	)
}
