package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/metrics"
	"gopkg.in/yaml.v3"
)

// Wake-lock backends.
const (
	WakeLockBackendNop   = "nop"
	WakeLockBackendSysfs = "sysfs"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	EventQueueSize      int           `yaml:"event_queue_size" default:"256"`
	AckQueueSize        int           `yaml:"ack_queue_size" default:"64"`
	MaxPendingEvents    int           `yaml:"max_pending_events" default:"65536"`
	PendingWriteTimeout time.Duration `yaml:"pending_write_timeout" default:"5s"`

	WakeLock  WakeLockConfig   `yaml:"wake_lock"`
	Metrics   metrics.Config   `yaml:"metrics"`
	Providers []ProviderConfig `yaml:"providers"`
}

// WakeLockConfig configures the wake-lock supervisor.
type WakeLockConfig struct {
	Name        string        `yaml:"name" default:"SensorsHAL_WAKEUP"`
	Timeout     time.Duration `yaml:"timeout" default:"1s"`
	Backend     string        `yaml:"backend" default:"nop"`
	SysfsDir    string        `yaml:"sysfs_dir" default:"/sys/power"`
	HistorySize uint32        `yaml:"history_size" default:"32"`
}

// ProviderConfig selects a registered provider factory. Options is decoded
// by the factory into its own options type.
type ProviderConfig struct {
	Name    string    `yaml:"name"`
	Kind    string    `yaml:"kind"`
	Options yaml.Node `yaml:"options"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("event_queue_size must be positive, got %d", c.EventQueueSize))
	}
	if c.AckQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("ack_queue_size must be positive, got %d", c.AckQueueSize))
	}
	if c.MaxPendingEvents <= 0 {
		errs = append(errs, fmt.Errorf("max_pending_events must be positive, got %d", c.MaxPendingEvents))
	}
	if c.PendingWriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pending_write_timeout must be positive, got %s", c.PendingWriteTimeout))
	}
	if c.WakeLock.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("wake_lock.timeout must be positive, got %s", c.WakeLock.Timeout))
	}
	switch c.WakeLock.Backend {
	case WakeLockBackendNop, WakeLockBackendSysfs:
	default:
		errs = append(errs, fmt.Errorf("wake_lock.backend: unknown backend %q", c.WakeLock.Backend))
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Kind == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: kind is required", i))
		}
		name := p.DisplayName()
		if seen[name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
	}

	return errors.Join(errs...)
}

// DisplayName is Name, or Kind when no name is set.
func (p ProviderConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Kind
}

// Level returns the parsed log level, InfoLevel if it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
