package servo

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the engine reaches browserd. When Address is set the
// engine dials an already running browserd and never spawns a process.
// MaxReconnects bounds consecutive failed redials after the connection is
// lost; zero means the default and a negative value disables reconnects.
type Config struct {
	BrowserdPath     string
	SocketDir        string
	Address          string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	QueueSize        int
	MaxReconnects    int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		BrowserdPath:     "browserd",
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 10 * time.Second,
		QueueSize:        256,
		MaxReconnects:    3,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.BrowserdPath) != "" {
		defaults.BrowserdPath = c.BrowserdPath
	}
	if strings.TrimSpace(c.SocketDir) != "" {
		defaults.SocketDir = c.SocketDir
	}
	if strings.TrimSpace(c.Address) != "" {
		defaults.Address = strings.TrimSpace(c.Address)
	}
	if c.ConnectTimeout != 0 {
		defaults.ConnectTimeout = c.ConnectTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	if c.QueueSize != 0 {
		defaults.QueueSize = c.QueueSize
	}
	if c.MaxReconnects != 0 {
		defaults.MaxReconnects = c.MaxReconnects
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BrowserdPath) == "" && c.Address == "" {
		return errors.New("browserd_path or address is required")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must be zero or positive")
	}
	if c.OperationTimeout < 0 {
		return errors.New("operation_timeout must be zero or positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue_size must be greater than zero")
	}
	return nil
}
