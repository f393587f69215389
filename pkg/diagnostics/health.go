package diagnostics

import (
	"context"
	"net/http"
	"time"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/history"
)

// Status is an aggregate health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Renderer is the renderer surface diagnostics reads from.
type Renderer interface {
	Initialized() bool
	Views() []browser.ViewID
	Snapshot(id browser.ViewID) (browser.Snapshot, error)
	History(id browser.ViewID) ([]history.Entry, int, error)
	Metrics() *browser.Metrics
}

// Pinger is satisfied by the storage layer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one component's result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the aggregate of all checks. Ready is only true when the
// status is Healthy.
type Report struct {
	Status    Status                  `json:"status"`
	Ready     bool                    `json:"ready"`
	Checks    []Check                 `json:"checks"`
	Metrics   browser.MetricsSnapshot `json:"metrics"`
	Timestamp time.Time               `json:"timestamp"`
}

// Checker derives health from the renderer and optional storage.
type Checker struct {
	renderer Renderer
	store    Pinger
	now      func() time.Time
}

// NewChecker creates a checker. store may be nil when persistence is off.
func NewChecker(r Renderer, store Pinger) *Checker {
	return &Checker{renderer: r, store: store, now: time.Now}
}

// Liveness reports whether the process can serve requests at all.
func (c *Checker) Liveness(ctx context.Context) Report {
	return c.report(StatusHealthy, []Check{{Name: "process", Status: StatusHealthy}})
}

// Readiness reports whether the host should take traffic. It runs the full
// health check; only a Healthy host is ready.
func (c *Checker) Readiness(ctx context.Context) Report {
	return c.Health(ctx)
}

// Health runs every check. An uninitialized renderer is Unhealthy. Otherwise
// navigation and storage each count as one subsystem: one failing degrades
// the host and both failing make it Unhealthy.
func (c *Checker) Health(ctx context.Context) Report {
	renderer := c.rendererCheck()
	nav := c.navigationCheck()
	checks := []Check{renderer, nav}

	failing := 0
	if nav.Status != StatusHealthy {
		failing++
	}
	if c.store != nil {
		st := c.storageCheck(ctx)
		checks = append(checks, st)
		if st.Status != StatusHealthy {
			failing++
		}
	}

	status := StatusHealthy
	switch {
	case renderer.Status == StatusUnhealthy || failing >= 2:
		status = StatusUnhealthy
	case failing == 1:
		status = StatusDegraded
	}
	return c.report(status, checks)
}

func (c *Checker) rendererCheck() Check {
	if c.renderer == nil || !c.renderer.Initialized() {
		return Check{Name: "renderer", Status: StatusUnhealthy, Message: "renderer not initialized"}
	}
	return Check{Name: "renderer", Status: StatusHealthy}
}

func (c *Checker) navigationCheck() Check {
	if c.renderer == nil {
		return Check{Name: "navigation", Status: StatusHealthy}
	}
	m := c.renderer.Metrics()
	if m.IsHealthy() {
		return Check{Name: "navigation", Status: StatusHealthy}
	}
	snap := m.Snapshot()
	msg := "recent load failures"
	if snap.LastError != "" {
		msg = "recent load failure: " + snap.LastError
	}
	return Check{Name: "navigation", Status: StatusDegraded, Message: msg}
}

func (c *Checker) storageCheck(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		return Check{Name: "storage", Status: StatusDegraded, Message: "database unreachable: " + err.Error()}
	}
	return Check{Name: "storage", Status: StatusHealthy}
}

func (c *Checker) report(status Status, checks []Check) Report {
	r := Report{Status: status, Ready: status == StatusHealthy, Checks: checks, Timestamp: c.now().UTC()}
	if c.renderer != nil {
		r.Metrics = c.renderer.Metrics().Snapshot()
	}
	return r
}

// StatusCode maps a health status to an HTTP status. Only Healthy is 200;
// Degraded and Unhealthy are both 503 so load balancers drain the host.
func StatusCode(s Status) int {
	if s == StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
