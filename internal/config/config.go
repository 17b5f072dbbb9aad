package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultListenAddr is used when the adapter runner does not inject an explicit address.
	DefaultListenAddr         = "127.0.0.1:50051"
	DefaultLogLevel           = "info"
	DefaultModelDir           = "models/voxtral"
	DefaultProcessingInterval = time.Second
	DefaultRingCapacity       = 8 * time.Second
	DefaultMaxSessions        = 16
)

// Config captures bootstrap configuration extracted from an optional YAML
// file, the injected JSON payload (`NUPI_MODULE_CONFIG`) and environment
// variables, in that order of precedence.
type Config struct {
	ListenAddr string
	// WSAddr enables the WebSocket endpoint when non-empty.
	WSAddr             string
	LogLevel           string
	ModelDir           string
	UseStubEngine      bool
	UseAccel           *bool
	ProcessingInterval time.Duration
	RingCapacity       time.Duration
	MaxSessions        int
}

// Validate applies defaults, checks required fields, and rejects out-of-range
// values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.ModelDir == "" {
		c.ModelDir = DefaultModelDir
	}
	if c.ProcessingInterval == 0 {
		c.ProcessingInterval = DefaultProcessingInterval
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.ProcessingInterval < 0 {
		return fmt.Errorf("config: processing_interval must be positive, got %s", c.ProcessingInterval)
	}
	if c.RingCapacity < 0 {
		return fmt.Errorf("config: ring_seconds must be positive, got %s", c.RingCapacity)
	}
	if c.ProcessingInterval > c.RingCapacity {
		return fmt.Errorf("config: processing_interval %s exceeds ring capacity %s", c.ProcessingInterval, c.RingCapacity)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("config: max_sessions must be >= 0, got %d", c.MaxSessions)
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	return nil
}

// AccelEnabled reports whether the accelerator should be initialised. It
// defaults to true.
func (c Config) AccelEnabled() bool {
	return c.UseAccel == nil || *c.UseAccel
}
