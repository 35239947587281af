// Package config provides centralized configuration management for avrlink.
// Settings are read through viper, decoded with mapstructure and validated
// before any component sees them.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/avrlink/avrlink/internal/core"
)

// Application identity used for config, data and environment lookups.
const (
	AppName   = "avrlink"
	EnvPrefix = "AVRLINK"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("receiver.host", "")
	v.SetDefault("receiver.http_port", 0)
	v.SetDefault("receiver.zone", string(core.ZoneMain))
	v.SetDefault("receiver.timeout", "2s")
	v.SetDefault("receiver.prefer_structured", "auto")

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.port", 23)
	v.SetDefault("realtime.connect_timeout", "2s")
	v.SetDefault("realtime.backoff_initial", "500ms")
	v.SetDefault("realtime.backoff_max", "30s")

	v.SetDefault("limiter.initial_wait_ms", 100)
	v.SetDefault("limiter.min_wait_ms", 100)
	v.SetDefault("limiter.max_wait_ms", 200)
	v.SetDefault("limiter.k", 2.0)
	v.SetDefault("limiter.adjust_interval", "2s")
	v.SetDefault("limiter.alpha", 0.2)

	v.SetDefault("refresh.interval", "10s")
	v.SetDefault("refresh.rules_file", "")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// Load decodes and validates the settings held by v. The result also
// becomes the process-wide config returned by GetConfig.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate checks values that decoding alone cannot.
func (c *Config) Validate() error {
	zone, err := core.ParseZone(c.Receiver.Zone)
	if err != nil {
		return err
	}
	c.Receiver.Zone = string(zone)

	if _, err := c.Receiver.PreferStructuredOverride(); err != nil {
		return err
	}
	if c.Receiver.HTTPPort < 0 || c.Realtime.Port < 0 {
		return fmt.Errorf("%w: ports must not be negative", core.ErrInvalidArgument)
	}
	if err := c.Limiter.Validate(); err != nil {
		return err
	}
	return nil
}

// RequireHost reports an error when no receiver host is configured.
func (c *Config) RequireHost() error {
	if strings.TrimSpace(c.Receiver.Host) == "" {
		return fmt.Errorf("%w: receiver.host is required (flag --host or %s_RECEIVER_HOST)", core.ErrInvalidArgument, EnvPrefix)
	}
	return nil
}

// PreferStructuredOverride returns nil for auto detection.
func (r ReceiverConfig) PreferStructuredOverride() (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(r.PreferStructured)) {
	case "", "auto":
		return nil, nil
	case "true", "yes", "on":
		v := true
		return &v, nil
	case "false", "no", "off":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("%w: prefer_structured must be auto, true or false", core.ErrInvalidArgument)
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
