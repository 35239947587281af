package config

import (
	"time"

	"github.com/avrlink/avrlink/internal/core/engine"
)

// Config represents the complete application configuration. Values come
// from built-in defaults, the user config file and AVRLINK_* environment
// variables, in that order of precedence.
type Config struct {
	Receiver ReceiverConfig       `mapstructure:"receiver"`
	Realtime RealtimeConfig       `mapstructure:"realtime"`
	Limiter  engine.LimiterConfig `mapstructure:"limiter"`
	Refresh  RefreshConfig        `mapstructure:"refresh"`
	Store    StoreConfig          `mapstructure:"store"`
	Server   ServerConfig         `mapstructure:"server"`
	Logging  LoggingConfig        `mapstructure:"logging"`
	Metrics  MetricsConfig        `mapstructure:"metrics"`
}

// ReceiverConfig identifies the device and zone to control.
type ReceiverConfig struct {
	Host string `mapstructure:"host"`

	// HTTPPort pins the document port; 0 probes 80 and then 8080.
	HTTPPort int           `mapstructure:"http_port"`
	Zone     string        `mapstructure:"zone"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// PreferStructured is auto, true or false.
	PreferStructured string `mapstructure:"prefer_structured"`
}

// RealtimeConfig controls the telnet event channel.
type RealtimeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// RefreshConfig controls periodic reconciliation.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`

	// RulesFile is an optional YAML catalogue merged over the built-in rules.
	RulesFile string `mapstructure:"rules_file"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port. The serve command
	// proxies it at /metrics on the main HTTP port.
	Port int `mapstructure:"port"`
}
