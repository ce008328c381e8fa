package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backends selectable with Config.Backend.
const (
	BackendAuto   = "auto"
	BackendDaemon = "daemon"
	BackendMDNS   = "mdns"
)

const (
	// DefaultAddress is the loopback endpoint the daemon listens on.
	DefaultAddress = "127.0.0.1:5354"
	// DefaultClientTimeout bounds how long the client waits for the daemon
	// to connect back on an error return channel.
	DefaultClientTimeout = 60 * time.Second
	// ConnectTries is how many times the daemon is dialed before giving up.
	ConnectTries = 4
)

// Config holds client settings. Zero fields in a loaded file keep their defaults.
type Config struct {
	// Daemon endpoint and timing
	Address       string        `json:"address" toml:"address"`
	ClientTimeout time.Duration `json:"client_timeout" toml:"client_timeout"`
	ConnectRetry  *RetryPolicy  `json:"connect_retry" toml:"connect_retry"`

	// Event delivery
	EventBufferSize int `json:"event_buffer_size" toml:"event_buffer_size"`

	// CLI defaults
	InterfaceIndex uint32 `json:"interface" toml:"interface"`
	Backend        string `json:"backend" toml:"backend"`
	MetricsAddr    string `json:"metrics_addr" toml:"metrics_addr"`
	LogFile        string `json:"log_file" toml:"log_file"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Address:         DefaultAddress,
		ClientTimeout:   DefaultClientTimeout,
		ConnectRetry:    DefaultConnectRetry(),
		EventBufferSize: 100,
		Backend:         BackendAuto,
		LogFile:         "debug.log",
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address cannot be empty")
	}
	if c.ClientTimeout <= 0 {
		return errors.New("client_timeout must be positive")
	}
	if c.ConnectRetry == nil {
		return errors.New("connect_retry cannot be nil")
	}
	if err := c.ConnectRetry.Validate(); err != nil {
		return fmt.Errorf("connect_retry: %w", err)
	}
	if c.EventBufferSize <= 0 {
		return errors.New("event_buffer_size must be positive")
	}
	switch c.Backend {
	case BackendAuto, BackendDaemon, BackendMDNS:
	default:
		return fmt.Errorf("backend must be one of %s, %s, %s", BackendAuto, BackendDaemon, BackendMDNS)
	}
	return nil
}
