// Package config handles simserver configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/simserver/config.yaml, /config/config.yaml,
// /etc/simserver/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "simserver", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/simserver/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all simserver configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Clock    ClockConfig    `yaml:"clock"`
	Undo     UndoConfig     `yaml:"undo"`
	Weather  WeatherConfig  `yaml:"weather"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the HTTP API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ClockConfig defines the simulated clock's starting state.
type ClockConfig struct {
	// StartTime seeds the clock. Empty means "now" at startup.
	StartTime string `yaml:"start_time"`
	// TimeScale is the auto-advance multiplier applied to wall-clock
	// ticks when the engine is started with auto_advance enabled.
	TimeScale float64 `yaml:"time_scale"`
}

// UndoConfig bounds the undo/redo stacks.
type UndoConfig struct {
	// MaxSize is the FIFO eviction limit for each stack. 0 means unbounded.
	MaxSize int `yaml:"max_size"`
}

// WeatherConfig defines the optional real-collaborator weather backend.
// With Mode == "real" and a non-empty APIKey, the key is exported as
// OPENWEATHER_API_KEY, which the weather modality reads when an update
// asks for real data; it then calls OpenWeather's default endpoint
// through the shared outbound HTTP kit (§4.L) with
// httpkit.DefaultWeatherClientTimeout. BaseURL and Timeout are loaded
// but not passed to the weather modality.
type WeatherConfig struct {
	Mode    string        `yaml:"mode"` // "simulated" (default) or "real"
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTTConfig defines the optional tick publisher. Disabled unless Broker
// is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether an MQTT broker address was configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// SnapshotConfig defines the optional sqlite-backed snapshot store.
// Unset (Path == "") keeps snapshot export purely in-memory/JSON.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether a sqlite snapshot path was configured.
func (c SnapshotConfig) Enabled() bool { return c.Path != "" }

// Real reports whether weather should call a live provider rather than
// generate deterministic in-memory readings.
func (c WeatherConfig) Real() bool { return c.Mode == "real" }

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${OPENWEATHER_API_KEY}). This
	// is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Clock.TimeScale == 0 {
		c.Clock.TimeScale = 1.0
	}
	if c.Weather.Mode == "" {
		c.Weather.Mode = "simulated"
	}
	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if c.Weather.Timeout == 0 {
		c.Weather.Timeout = 10 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "simserver"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "simserver/events"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Clock.TimeScale <= 0 {
		return fmt.Errorf("clock.time_scale %g must be positive", c.Clock.TimeScale)
	}
	if c.Clock.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Clock.StartTime); err != nil {
			return fmt.Errorf("clock.start_time: %w", err)
		}
	}
	if c.Undo.MaxSize < 0 {
		return fmt.Errorf("undo.max_size %d must be >= 0", c.Undo.MaxSize)
	}
	if c.Weather.Mode != "simulated" && c.Weather.Mode != "real" {
		return fmt.Errorf("weather.mode %q must be \"simulated\" or \"real\"", c.Weather.Mode)
	}
	if c.Weather.Real() && c.Weather.APIKey == "" {
		return fmt.Errorf("weather.mode is \"real\" but weather.api_key is empty")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// StartTime parses Clock.StartTime, defaulting to the zero time.Time
// (which internal/clock.New treats as "now") when unset.
func (c *Config) StartTime() (time.Time, error) {
	if c.Clock.StartTime == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.Clock.StartTime)
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
