package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values leave base alone;
// booleans only apply when the key is present in raw.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	r := override.Renderer
	if r.Width != 0 {
		base.Renderer.Width = r.Width
	}
	if r.Height != 0 {
		base.Renderer.Height = r.Height
	}
	if r.DeviceScaleFactor != 0 {
		base.Renderer.DeviceScaleFactor = r.DeviceScaleFactor
	}
	if strings.TrimSpace(r.InitialLocation) != "" {
		base.Renderer.InitialLocation = strings.TrimSpace(r.InitialLocation)
	}
	if r.ShutdownTimeout != 0 {
		base.Renderer.ShutdownTimeout = r.ShutdownTimeout
	}
	if fieldSet(raw, "renderer", "frame_rate") {
		base.Renderer.FrameRate = r.FrameRate
	}
	if fieldSet(raw, "renderer", "idle_tick") {
		base.Renderer.IdleTick = r.IdleTick
	}

	e := override.Engine
	if e.Kind != "" {
		base.Engine.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
	}
	if e.BrowserdPath != "" {
		base.Engine.BrowserdPath = e.BrowserdPath
	}
	if e.SocketDir != "" {
		base.Engine.SocketDir = e.SocketDir
	}
	if e.Address != "" {
		base.Engine.Address = e.Address
	}
	if e.ConnectTimeout != 0 {
		base.Engine.ConnectTimeout = e.ConnectTimeout
	}
	if e.OperationTimeout != 0 {
		base.Engine.OperationTimeout = e.OperationTimeout
	}
	if e.QueueSize != 0 {
		base.Engine.QueueSize = e.QueueSize
	}
	if fieldSet(raw, "engine", "max_reconnects") {
		base.Engine.MaxReconnects = e.MaxReconnects
	}
	if e.UserAgent != "" {
		base.Engine.UserAgent = e.UserAgent
	}
	if e.FetchTimeout != 0 {
		base.Engine.FetchTimeout = e.FetchTimeout
	}

	if fieldSet(raw, "storage", "enabled") {
		base.Storage.Enabled = override.Storage.Enabled
	}
	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}

	if override.Bus.Kind != "" {
		base.Bus.Kind = strings.ToLower(strings.TrimSpace(override.Bus.Kind))
	}
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.SubjectPrefix != "" {
		base.Bus.SubjectPrefix = override.Bus.SubjectPrefix
	}
	if fieldSet(raw, "bus", "control") {
		base.Bus.Control = override.Bus.Control
	}

	if fieldSet(raw, "telemetry", "metrics_addr") {
		base.Telemetry.MetricsAddr = strings.TrimSpace(override.Telemetry.MetricsAddr)
	}
	if fieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}

	if override.Logging.Level != "" {
		base.Logging.Level = strings.ToLower(strings.TrimSpace(override.Logging.Level))
	}
}

func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
