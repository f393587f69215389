// Package config loads lantern host configuration from YAML files and
// LANTERN_* environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/browser/adapters/servo"
	"github.com/odvcencio/lantern/pkg/bus"
)

// Engine kinds.
const (
	EngineServo    = "servo"
	EngineHeadless = "headless"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".lantern"

// Config is the complete host configuration.
type Config struct {
	Renderer  RendererConfig  `yaml:"renderer"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RendererConfig configures the renderer session and its tick loop.
type RendererConfig struct {
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	DeviceScaleFactor float64       `yaml:"device_scale_factor"`
	InitialLocation   string        `yaml:"initial_location"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	FrameRate         int           `yaml:"frame_rate"`
	IdleTick          time.Duration `yaml:"idle_tick"`
}

// EngineConfig selects and configures the engine binding.
type EngineConfig struct {
	Kind             string        `yaml:"kind"`
	BrowserdPath     string        `yaml:"browserd_path"`
	SocketDir        string        `yaml:"socket_dir"`
	Address          string        `yaml:"address"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	QueueSize        int           `yaml:"queue_size"`
	MaxReconnects    int           `yaml:"max_reconnects"`
	UserAgent        string        `yaml:"user_agent"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

// StorageConfig configures visit history persistence.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	Kind          string `yaml:"kind"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Control       bool   `yaml:"control"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     bool   `yaml:"tracing"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	rd := browser.DefaultConfig()
	sv := servo.DefaultConfig()
	bc := bus.DefaultConfig()
	return &Config{
		Renderer: RendererConfig{
			Width:             rd.Viewport.Width,
			Height:            rd.Viewport.Height,
			DeviceScaleFactor: rd.Viewport.DeviceScaleFactor,
			InitialLocation:   browser.AboutBlank,
			ShutdownTimeout:   rd.ShutdownTimeout,
			FrameRate:         browser.DefaultFrameRate,
			IdleTick:          time.Second,
		},
		Engine: EngineConfig{
			Kind:             EngineHeadless,
			BrowserdPath:     sv.BrowserdPath,
			ConnectTimeout:   sv.ConnectTimeout,
			OperationTimeout: sv.OperationTimeout,
			QueueSize:        sv.QueueSize,
			MaxReconnects:    sv.MaxReconnects,
			UserAgent:        "lantern/1.0",
			FetchTimeout:     30 * time.Second,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join("~", DirName, "lantern.db"),
		},
		Bus: BusConfig{
			Kind:          bc.Kind,
			URL:           bc.URL,
			SubjectPrefix: bc.SubjectPrefix,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "127.0.0.1:9477",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.lantern/config.yaml, ./.lantern/config.yaml, then environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", DirName, "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies LANTERN_* variables. Process environment wins
// over ~/.lantern/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}
	getBool := func(key string) (bool, bool) {
		return parseBool(get(key))
	}
	getDuration := func(key string) (time.Duration, bool) {
		v := get(key)
		if v == "" {
			return 0, false
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	}

	if v := get("LANTERN_ENGINE"); v != "" {
		cfg.Engine.Kind = strings.ToLower(v)
	}
	if v := get("LANTERN_BROWSERD_PATH"); v != "" {
		cfg.Engine.BrowserdPath = v
	}
	if v := get("LANTERN_BROWSERD_ADDRESS"); v != "" {
		cfg.Engine.Address = v
	}
	if v := get("LANTERN_USER_AGENT"); v != "" {
		cfg.Engine.UserAgent = v
	}
	if d, ok := getDuration("LANTERN_FETCH_TIMEOUT"); ok {
		cfg.Engine.FetchTimeout = d
	}

	if v := get("LANTERN_INITIAL_URL"); v != "" {
		cfg.Renderer.InitialLocation = v
	}
	if v := get("LANTERN_VIEWPORT"); v != "" {
		if w, h, ok := ParseViewport(v); ok {
			cfg.Renderer.Width, cfg.Renderer.Height = w, h
		}
	}
	if d, ok := getDuration("LANTERN_SHUTDOWN_TIMEOUT"); ok {
		cfg.Renderer.ShutdownTimeout = d
	}
	if v := get("LANTERN_FRAME_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Renderer.FrameRate = n
		}
	}

	if v := get("LANTERN_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if b, ok := getBool("LANTERN_STORAGE_ENABLED"); ok {
		cfg.Storage.Enabled = b
	}

	if v := get("LANTERN_BUS"); v != "" {
		cfg.Bus.Kind = strings.ToLower(v)
	}
	if v := get("LANTERN_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if b, ok := getBool("LANTERN_BUS_CONTROL"); ok {
		cfg.Bus.Control = b
	}

	if v := get("LANTERN_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if b, ok := getBool("LANTERN_TRACING"); ok {
		cfg.Telemetry.Tracing = b
	}
	if v := get("LANTERN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// ParseViewport parses "WIDTHxHEIGHT".
func ParseViewport(raw string) (int, int, bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

func parseBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if err := c.BrowserConfig().Validate(); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	if c.Renderer.FrameRate < 0 {
		return fmt.Errorf("renderer.frame_rate must be zero or positive")
	}
	if c.Renderer.IdleTick < 0 {
		return fmt.Errorf("renderer.idle_tick must be zero or positive")
	}
	if loc := strings.TrimSpace(c.Renderer.InitialLocation); loc != "" {
		if _, err := browser.NormalizeLocation(loc); err != nil {
			return fmt.Errorf("renderer.initial_location: %w", err)
		}
	}

	switch c.Engine.Kind {
	case EngineServo:
		if err := c.ServoConfig().Validate(); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	case EngineHeadless:
		if c.Engine.FetchTimeout < 0 {
			return fmt.Errorf("engine.fetch_timeout must be zero or positive")
		}
	default:
		return fmt.Errorf("invalid engine kind: %s (valid: servo, headless)", c.Engine.Kind)
	}

	if c.Storage.Enabled && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}

	switch c.Bus.Kind {
	case bus.KindMemory:
	case bus.KindNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return fmt.Errorf("bus.url is required for the nats bus")
		}
	default:
		return fmt.Errorf("invalid bus kind: %s (valid: memory, nats)", c.Bus.Kind)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}

// ValidationWarnings reports settings that are valid but risky.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if addr := strings.TrimSpace(c.Telemetry.MetricsAddr); addr != "" && !isLoopbackBindAddress(addr) {
		warnings = append(warnings, fmt.Sprintf("telemetry.metrics_addr %s is reachable from other hosts", addr))
	}
	if c.Bus.Control && c.Bus.Kind == bus.KindNATS {
		warnings = append(warnings, "bus.control accepts navigation commands from any NATS client")
	}
	if c.Engine.Kind == EngineServo && c.Engine.Address != "" && c.Engine.BrowserdPath != "" {
		warnings = append(warnings, "engine.address is set; engine.browserd_path is ignored")
	}
	return warnings
}

// BrowserConfig converts the renderer section for browser.Renderer.Initialize.
func (c *Config) BrowserConfig() browser.Config {
	return browser.Config{
		Viewport: browser.Viewport{
			Width:             c.Renderer.Width,
			Height:            c.Renderer.Height,
			DeviceScaleFactor: c.Renderer.DeviceScaleFactor,
		},
		InitialLocation: c.Renderer.InitialLocation,
		ShutdownTimeout: c.Renderer.ShutdownTimeout,
		UserAgent:       c.Engine.UserAgent,
	}
}

// ServoConfig converts the engine section for the servo adapter.
func (c *Config) ServoConfig() servo.Config {
	return servo.Config{
		BrowserdPath:     expandHomeDir(c.Engine.BrowserdPath),
		SocketDir:        expandHomeDir(c.Engine.SocketDir),
		Address:          c.Engine.Address,
		ConnectTimeout:   c.Engine.ConnectTimeout,
		OperationTimeout: c.Engine.OperationTimeout,
		QueueSize:        c.Engine.QueueSize,
		MaxReconnects:    c.Engine.MaxReconnects,
	}
}

// BusConfig converts the bus section.
func (c *Config) BusConfig() bus.Config {
	bc := bus.DefaultConfig()
	bc.Kind = c.Bus.Kind
	bc.URL = c.Bus.URL
	bc.SubjectPrefix = c.Bus.SubjectPrefix
	return bc
}

// StoragePath returns the database path with ~ expanded.
func (c *Config) StoragePath() string {
	return expandHomeDir(c.Storage.Path)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// loadConfigEnvVars reads KEY=VALUE lines from ~/.lantern/config.env.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, DirName, "config.env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}
