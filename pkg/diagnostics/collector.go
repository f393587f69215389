// Package diagnostics collects renderer telemetry for debugging and serves
// health, metrics and view state over HTTP.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/lantern/pkg/telemetry"
)

// MaxEvents is the default maximum number of events to retain.
const MaxEvents = 200

const maxRecentErrors = 50

// Collector keeps the most recent telemetry events and aggregates
// navigation outcomes for diagnostic dumps.
type Collector struct {
	mu        sync.RWMutex
	events    []telemetry.Event
	maxEvents int

	counts       map[telemetry.EventType]int
	loadedByHost map[string]int
	recentErrors []errorEntry
	totalLatency time.Duration
	loads        int

	unsubscribe func()
	started     time.Time
	now         func() time.Time
}

type errorEntry struct {
	Time     time.Time `json:"time"`
	ViewID   string    `json:"view_id,omitempty"`
	Location string    `json:"location,omitempty"`
	Message  string    `json:"message"`
}

// NewCollector creates a new diagnostic collector.
func NewCollector() *Collector {
	return &Collector{
		events:       make([]telemetry.Event, 0, MaxEvents),
		maxEvents:    MaxEvents,
		counts:       make(map[telemetry.EventType]int),
		loadedByHost: make(map[string]int),
		recentErrors: make([]errorEntry, 0, maxRecentErrors),
		started:      time.Now(),
		now:          time.Now,
	}
}

// Subscribe starts collecting events from a telemetry hub.
func (c *Collector) Subscribe(hub *telemetry.Hub) {
	if hub == nil {
		return
	}
	ch, unsub := hub.Subscribe()
	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()

	go func() {
		for event := range ch {
			c.Record(event)
		}
	}()
}

// Close stops collecting events.
func (c *Collector) Close() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Record adds one event.
func (c *Collector) Record(event telemetry.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) >= c.maxEvents {
		c.events = c.events[1:]
	}
	c.events = append(c.events, event)
	c.counts[event.Type]++

	switch event.Type {
	case telemetry.EventNavigationLoaded:
		c.loads++
		if ms, ok := asInt64(event.Data["latency_ms"]); ok {
			c.totalLatency += time.Duration(ms) * time.Millisecond
		}
		if loc, ok := event.Data["location"].(string); ok {
			c.loadedByHost[hostOf(loc)]++
		}
	case telemetry.EventNavigationFailed:
		entry := errorEntry{Time: event.Timestamp, ViewID: event.ViewID}
		if entry.Time.IsZero() {
			entry.Time = c.now()
		}
		entry.Location, _ = event.Data["location"].(string)
		entry.Message, _ = event.Data["error"].(string)
		if len(c.recentErrors) >= maxRecentErrors {
			c.recentErrors = c.recentErrors[1:]
		}
		c.recentErrors = append(c.recentErrors, entry)
	}
}

// Events returns up to limit of the most recent events, oldest first. A
// non-positive limit returns everything retained.
func (c *Collector) Events(limit int) []telemetry.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := 0
	if limit > 0 && len(c.events) > limit {
		start = len(c.events) - limit
	}
	out := make([]telemetry.Event, len(c.events)-start)
	copy(out, c.events[start:])
	return out
}

// Dump returns a formatted diagnostic report.
func (c *Collector) Dump() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("=== Renderer Diagnostics ===\n")
	sb.WriteString(fmt.Sprintf("Collection Started: %s\n", c.started.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Collection Duration: %s\n", c.now().Sub(c.started).Round(time.Second)))
	sb.WriteString("\n")

	sb.WriteString("=== Navigation Statistics ===\n")
	sb.WriteString(fmt.Sprintf("Started: %d\n", c.counts[telemetry.EventNavigationStarted]))
	sb.WriteString(fmt.Sprintf("Loaded: %d\n", c.counts[telemetry.EventNavigationLoaded]))
	sb.WriteString(fmt.Sprintf("Failed: %d\n", c.counts[telemetry.EventNavigationFailed]))
	sb.WriteString(fmt.Sprintf("Cancelled: %d\n", c.counts[telemetry.EventNavigationCancelled]))
	if c.loads > 0 {
		avg := c.totalLatency / time.Duration(c.loads)
		sb.WriteString(fmt.Sprintf("Avg Load Time: %s\n", avg.Round(time.Millisecond)))
	}
	sb.WriteString("\n")

	if len(c.loadedByHost) > 0 {
		sb.WriteString("=== Loads By Host ===\n")
		hosts := make([]string, 0, len(c.loadedByHost))
		for host := range c.loadedByHost {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		for _, host := range hosts {
			sb.WriteString(fmt.Sprintf("  %s: %d\n", host, c.loadedByHost[host]))
		}
		sb.WriteString("\n")
	}

	if len(c.recentErrors) > 0 {
		sb.WriteString("=== Recent Errors ===\n")
		for _, err := range c.recentErrors {
			sb.WriteString(fmt.Sprintf("  [%s] %s %s: %s\n",
				err.Time.Format("15:04:05"), err.ViewID, err.Location, err.Message))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== Recent Events (last 20) ===\n")
	start := len(c.events) - 20
	if start < 0 {
		start = 0
	}
	for _, event := range c.events[start:] {
		data := ""
		if len(event.Data) > 0 {
			if b, err := json.Marshal(event.Data); err == nil {
				data = string(b)
				if len(data) > 80 {
					data = data[:77] + "..."
				}
			}
		}
		sb.WriteString(fmt.Sprintf("  [%s] %s %s %s\n",
			event.Timestamp.Format("15:04:05"), event.Type, event.ViewID, data))
	}
	sb.WriteString("\n")

	sb.WriteString("=== End Renderer Diagnostics ===\n")
	return sb.String()
}

// Stats returns a summary of collected statistics.
func (c *Collector) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		counts[string(k)] = v
	}
	hosts := make(map[string]int, len(c.loadedByHost))
	for k, v := range c.loadedByHost {
		hosts[k] = v
	}
	return map[string]any{
		"uptime":         c.now().Sub(c.started).String(),
		"event_count":    len(c.events),
		"events_by_type": counts,
		"loads_by_host":  hosts,
		"error_count":    len(c.recentErrors),
	}
}

func hostOf(location string) string {
	rest, ok := strings.CutPrefix(location, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(location, "http://")
	}
	if !ok {
		if i := strings.IndexByte(location, ':'); i > 0 {
			return location[:i]
		}
		return location
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
