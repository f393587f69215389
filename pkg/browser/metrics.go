package browser

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/lantern/pkg/telemetry"
)

const (
	loadWindowSize   = 1000
	healthyErrorRate = 0.05
	errorQuietPeriod = 5 * time.Minute
)

var (
	metricViewsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lantern",
		Name:      "views_active",
		Help:      "Number of open views.",
	})
	metricNavigations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lantern",
		Name:      "navigations_total",
		Help:      "Navigations by outcome.",
	}, []string{"outcome"})
	metricStaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lantern",
		Name:      "stale_events_dropped_total",
		Help:      "Engine events discarded by the generation check.",
	})
	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lantern",
		Name:      "frames_ready_total",
		Help:      "FrameReady events accepted for current generations.",
	})
	metricLoadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lantern",
		Name:      "load_duration_seconds",
		Help:      "Time from navigation start to LoadCompleted.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	metricShutdownFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lantern",
		Name:      "shutdown_timeouts_total",
		Help:      "Engine shutdowns that were not acknowledged in time.",
	})
)

// Metrics tracks renderer counters, the recent load-time window and error
// recovery, and publishes renderer telemetry events.
type Metrics struct {
	// View counts
	ViewsCreated   atomic.Int64
	ViewsDestroyed atomic.Int64
	ActiveViews    atomic.Int64

	// Navigation outcomes
	NavigationsStarted   atomic.Int64
	NavigationsLoaded    atomic.Int64
	NavigationsFailed    atomic.Int64
	NavigationsCancelled atomic.Int64
	NavigationsRejected  atomic.Int64
	StaleEventsDropped   atomic.Int64
	FramesDelivered      atomic.Int64
	ShutdownTimeouts     atomic.Int64

	mu            sync.RWMutex
	hub           *telemetry.Hub
	now           func() time.Time
	loadTimes     []time.Duration // ring of the last loadWindowSize loads
	loadNext      int
	lastError     string
	lastErrorAt   time.Time
	incidentStart time.Time
	recoveries    int64
	recoverySum   time.Duration
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{now: time.Now}
}

// EnableTelemetry wires the metrics collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.mu.Unlock()
}

// SetClock overrides the clock used for error timestamps.
func (m *Metrics) SetClock(now func() time.Time) {
	if m == nil || now == nil {
		return
	}
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Metrics) clock() time.Time {
	m.mu.RLock()
	now := m.now
	m.mu.RUnlock()
	return now()
}

// RecordViewCreated increments view creation counters.
func (m *Metrics) RecordViewCreated(id ViewID) {
	if m == nil {
		return
	}
	m.ViewsCreated.Add(1)
	m.ActiveViews.Add(1)
	metricViewsActive.Inc()
	m.publishEvent(telemetry.EventViewCreated, id, nil)
}

// RecordViewDestroyed increments view destruction counters.
func (m *Metrics) RecordViewDestroyed(id ViewID) {
	if m == nil {
		return
	}
	m.ViewsDestroyed.Add(1)
	m.ActiveViews.Add(-1)
	metricViewsActive.Dec()
	m.publishEvent(telemetry.EventViewDestroyed, id, nil)
}

// RecordNavigationStarted counts an accepted navigation.
func (m *Metrics) RecordNavigationStarted(id ViewID, gen Generation, location, kind string) {
	if m == nil {
		return
	}
	m.NavigationsStarted.Add(1)
	metricNavigations.WithLabelValues("started").Inc()
	m.publishEvent(telemetry.EventNavigationStarted, id, map[string]any{
		"generation": uint64(gen),
		"location":   location,
		"kind":       kind,
	})
}

// RecordNavigationRejected counts a navigation refused during validation.
func (m *Metrics) RecordNavigationRejected() {
	if m == nil {
		return
	}
	m.NavigationsRejected.Add(1)
	metricNavigations.WithLabelValues("rejected").Inc()
}

// RecordNavigationLoaded tracks a successful load and closes any open
// error incident for MTTR.
func (m *Metrics) RecordNavigationLoaded(id ViewID, gen Generation, location, title string, latency time.Duration) {
	if m == nil {
		return
	}
	m.NavigationsLoaded.Add(1)
	metricNavigations.WithLabelValues("loaded").Inc()
	metricLoadSeconds.Observe(latency.Seconds())

	now := m.clock()
	m.mu.Lock()
	if len(m.loadTimes) < loadWindowSize {
		m.loadTimes = append(m.loadTimes, latency)
	} else {
		m.loadTimes[m.loadNext] = latency
		m.loadNext = (m.loadNext + 1) % loadWindowSize
	}
	if !m.incidentStart.IsZero() {
		m.recoveries++
		m.recoverySum += now.Sub(m.incidentStart)
		m.incidentStart = time.Time{}
	}
	m.mu.Unlock()

	m.publishEvent(telemetry.EventNavigationLoaded, id, map[string]any{
		"generation": uint64(gen),
		"location":   location,
		"title":      title,
		"latency_ms": latency.Milliseconds(),
	})
}

// RecordNavigationFailed tracks a failed load.
func (m *Metrics) RecordNavigationFailed(id ViewID, gen Generation, location string, err error) {
	if m == nil {
		return
	}
	m.NavigationsFailed.Add(1)
	metricNavigations.WithLabelValues("failed").Inc()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	now := m.clock()
	m.mu.Lock()
	m.lastError = msg
	m.lastErrorAt = now
	if m.incidentStart.IsZero() {
		m.incidentStart = now
	}
	m.mu.Unlock()

	m.publishEvent(telemetry.EventNavigationFailed, id, map[string]any{
		"generation": uint64(gen),
		"location":   location,
		"error":      msg,
	})
}

// RecordNavigationCancelled tracks a stop request that ended a load.
func (m *Metrics) RecordNavigationCancelled(id ViewID, gen Generation, reverted bool) {
	if m == nil {
		return
	}
	m.NavigationsCancelled.Add(1)
	metricNavigations.WithLabelValues("cancelled").Inc()
	m.publishEvent(telemetry.EventNavigationCancelled, id, map[string]any{
		"generation": uint64(gen),
		"reverted":   reverted,
	})
}

// RecordStaleEvent counts an event dropped by the generation check. It is
// called from engine goroutines.
func (m *Metrics) RecordStaleEvent() {
	if m == nil {
		return
	}
	m.StaleEventsDropped.Add(1)
	metricStaleEvents.Inc()
}

// RecordFrames counts accepted frames.
func (m *Metrics) RecordFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesDelivered.Add(int64(n))
	metricFrames.Add(float64(n))
}

// RecordShutdown publishes the renderer shutdown outcome.
func (m *Metrics) RecordShutdown(timedOut bool, views int) {
	if m == nil {
		return
	}
	if timedOut {
		m.ShutdownTimeouts.Add(1)
		metricShutdownFaults.Inc()
	}
	m.publishEvent(telemetry.EventRendererShutdown, "", map[string]any{
		"timed_out": timedOut,
		"views":     views,
	})
}

// IsHealthy reports whether the error rate is at most 5% and no load failed
// in the last five minutes.
func (m *Metrics) IsHealthy() bool {
	if m == nil {
		return true
	}
	snap := m.Snapshot()
	if snap.ErrorRate > healthyErrorRate {
		return false
	}
	if !snap.LastErrorAt.IsZero() && m.clock().Sub(snap.LastErrorAt) < errorQuietPeriod {
		return false
	}
	return true
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	loaded := m.NavigationsLoaded.Load()
	failed := m.NavigationsFailed.Load()
	errorRate := 0.0
	if total := loaded + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	m.mu.RLock()
	window := make([]time.Duration, len(m.loadTimes))
	copy(window, m.loadTimes)
	lastError := m.lastError
	lastErrorAt := m.lastErrorAt
	var mttr time.Duration
	if m.recoveries > 0 {
		mttr = m.recoverySum / time.Duration(m.recoveries)
	}
	m.mu.RUnlock()

	snap := MetricsSnapshot{
		ViewsCreated:         m.ViewsCreated.Load(),
		ViewsDestroyed:       m.ViewsDestroyed.Load(),
		ActiveViews:          m.ActiveViews.Load(),
		NavigationsStarted:   m.NavigationsStarted.Load(),
		NavigationsLoaded:    loaded,
		NavigationsFailed:    failed,
		NavigationsCancelled: m.NavigationsCancelled.Load(),
		NavigationsRejected:  m.NavigationsRejected.Load(),
		StaleEventsDropped:   m.StaleEventsDropped.Load(),
		FramesDelivered:      m.FramesDelivered.Load(),
		ShutdownTimeouts:     m.ShutdownTimeouts.Load(),
		ErrorRate:            errorRate,
		LastError:            lastError,
		LastErrorAt:          lastErrorAt,
		MeanTimeToRecovery:   mttr,
	}
	if len(window) > 0 {
		var sum time.Duration
		for _, d := range window {
			sum += d
		}
		snap.AverageLoadTime = sum / time.Duration(len(window))
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		snap.P50LoadTime = percentile(window, 0.50)
		snap.P95LoadTime = percentile(window, 0.95)
		snap.P99LoadTime = percentile(window, 0.99)
	}
	return snap
}

// percentile uses the nearest-rank method on a sorted window.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted))*p+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, id ViewID, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: m.clock(),
		ViewID:    string(id),
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of renderer metrics.
type MetricsSnapshot struct {
	ViewsCreated         int64         `json:"views_created"`
	ViewsDestroyed       int64         `json:"views_destroyed"`
	ActiveViews          int64         `json:"active_views"`
	NavigationsStarted   int64         `json:"navigations_started"`
	NavigationsLoaded    int64         `json:"navigations_loaded"`
	NavigationsFailed    int64         `json:"navigations_failed"`
	NavigationsCancelled int64         `json:"navigations_cancelled"`
	NavigationsRejected  int64         `json:"navigations_rejected"`
	StaleEventsDropped   int64         `json:"stale_events_dropped"`
	FramesDelivered      int64         `json:"frames_delivered"`
	ShutdownTimeouts     int64         `json:"shutdown_timeouts"`
	ErrorRate            float64       `json:"error_rate"`
	LastError            string        `json:"last_error,omitempty"`
	LastErrorAt          time.Time     `json:"last_error_at,omitempty"`
	MeanTimeToRecovery   time.Duration `json:"mttr"`
	AverageLoadTime      time.Duration `json:"average_load_time"`
	P50LoadTime          time.Duration `json:"p50_load_time"`
	P95LoadTime          time.Duration `json:"p95_load_time"`
	P99LoadTime          time.Duration `json:"p99_load_time"`
}
