package browser

import (
	"fmt"
	"strings"
	"time"
)

// ViewID identifies one navigable surface.
type ViewID string

// Generation is the per-view navigation counter. Every navigate, reload and
// traversal bumps it; engine events tagged with an older value are stale.
type Generation uint64

// Viewport defines the rendering surface size.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor"`
}

// Validate reports ErrInvalidViewport for non-positive dimensions.
func (v Viewport) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return invalidViewport(v)
	}
	if v.DeviceScaleFactor < 0 {
		return invalidViewport(v)
	}
	return nil
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d@%.2f", v.Width, v.Height, v.DeviceScaleFactor)
}

// Phase is the navigation state of a view.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLoaded
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes p by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for candidate := PhaseIdle; candidate <= PhaseCancelled; candidate++ {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Terminal reports whether p ends a generation.
func (p Phase) Terminal() bool {
	return p == PhaseLoaded || p == PhaseFailed || p == PhaseCancelled
}

// EventKind tags an engine event.
type EventKind int

const (
	EventNavigationStarted EventKind = iota + 1
	EventProgressUpdated
	EventTitleChanged
	EventLoadCompleted
	EventLoadFailed
	EventFrameReady
)

var eventKindNames = map[EventKind]string{
	EventNavigationStarted: "navigation_started",
	EventProgressUpdated:   "progress_updated",
	EventTitleChanged:      "title_changed",
	EventLoadCompleted:     "load_completed",
	EventLoadFailed:        "load_failed",
	EventFrameReady:        "frame_ready",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// ParseEventKind maps a wire name back to an EventKind.
func ParseEventKind(name string) (EventKind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range eventKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Event is a lifecycle report emitted by the engine. Events may arrive on
// any goroutine, late, duplicated or out of order.
type Event struct {
	Kind       EventKind  `json:"kind"`
	View       ViewID     `json:"view"`
	Generation Generation `json:"generation"`
	Location   string     `json:"location,omitempty"`
	Progress   float64    `json:"progress,omitempty"`
	Title      string     `json:"title,omitempty"`
	Message    string     `json:"message,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ViewState is a copy of one view's record in the Store.
type ViewState struct {
	Phase      Phase      `json:"phase"`
	Generation Generation `json:"generation"`
	Progress   float64    `json:"progress"`

	// Location is the committed location, empty until the first successful load.
	Location         string     `json:"location,omitempty"`
	PendingLocation  string     `json:"pending_location,omitempty"`
	Title            string     `json:"title,omitempty"`
	Err              error      `json:"-"`
	LoadedGeneration Generation `json:"loaded_generation"`
	Frames           int        `json:"frames"`
	Terminal         bool       `json:"terminal"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Loading reports whether a navigation is in flight.
func (s ViewState) Loading() bool {
	return s.Phase == PhaseLoading
}

// Snapshot is the read-only view state handed to the host.
type Snapshot struct {
	View ViewID `json:"view"`
	ViewState
	CanGoBack    bool     `json:"can_go_back"`
	CanGoForward bool     `json:"can_go_forward"`
	Viewport     Viewport `json:"viewport"`
}

// ErrorMessage returns the error text or an empty string.
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Config configures a renderer session.
type Config struct {
	Viewport        Viewport      `json:"viewport"`
	InitialLocation string        `json:"initial_location,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	UserAgent       string        `json:"user_agent,omitempty"`
}

// DefaultConfig returns the recommended session defaults.
func DefaultConfig() Config {
	return Config{
		Viewport: Viewport{
			Width:             1024,
			Height:            768,
			DeviceScaleFactor: 1.0,
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	merged := DefaultConfig()
	if c.Viewport.Width != 0 {
		merged.Viewport.Width = c.Viewport.Width
	}
	if c.Viewport.Height != 0 {
		merged.Viewport.Height = c.Viewport.Height
	}
	if c.Viewport.DeviceScaleFactor != 0 {
		merged.Viewport.DeviceScaleFactor = c.Viewport.DeviceScaleFactor
	}
	if strings.TrimSpace(c.InitialLocation) != "" {
		merged.InitialLocation = strings.TrimSpace(c.InitialLocation)
	}
	if c.ShutdownTimeout != 0 {
		merged.ShutdownTimeout = c.ShutdownTimeout
	}
	if c.UserAgent != "" {
		merged.UserAgent = c.UserAgent
	}
	return merged
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if err := c.Viewport.Validate(); err != nil {
		return err
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be zero or positive")
	}
	return nil
}

// EngineConfig is what the renderer hands to the engine binding.
type EngineConfig struct {
	Viewport  Viewport
	UserAgent string
}
