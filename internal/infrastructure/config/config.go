package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Pixelgrid Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Fleet     FleetConfig     `yaml:"fleet"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Devices   []DeviceSeed    `yaml:"devices"`
}

// FleetConfig contains fleet-wide identity settings.
type FleetConfig struct {
	// ID identifies this controller instance (used in MQTT client IDs).
	ID string `yaml:"id"`

	// Name is a human-readable fleet name.
	Name string `yaml:"name"`

	// Namespace is the MQTT topic namespace prefix for all fleet traffic.
	// Commands arrive on {namespace}/{device_id}/{section}/{action}.
	Namespace string `yaml:"namespace"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for frame metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SchedulerConfig contains render-loop tuning.
type SchedulerConfig struct {
	// MinFrameDelay clamps the lower bound of the delay a scene may request
	// between renders. Protects devices from being hammered.
	MinFrameDelay time.Duration `yaml:"min_frame_delay"`

	// MaxFrameDelay clamps the upper bound of the requested delay.
	MaxFrameDelay time.Duration `yaml:"max_frame_delay"`

	// RenderTimeout is the hard limit for a single scene render call.
	RenderTimeout time.Duration `yaml:"render_timeout"`

	// ManualGraceWindow is how long after a manual scene switch automated
	// switch requests (watchdog, rotation) are suppressed for that device.
	ManualGraceWindow time.Duration `yaml:"manual_grace_window"`

	// FallbackScene is switched to when a commanded scene cannot be resolved
	// or the watchdog forces a device back to a known-good state.
	FallbackScene string `yaml:"fallback_scene"`
}

// WatchdogConfig contains device health sweep settings.
type WatchdogConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is how often all devices are health-checked.
	Interval time.Duration `yaml:"interval"`

	// StaleAfter marks a running device unhealthy when its last render is
	// older than this.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// DeviceSeed describes a device known at startup. Devices referenced by
// commands at runtime are still created on first use; seeding just lets a
// deployment declare its fleet up front.
type DeviceSeed struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	Driver     string `yaml:"driver"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Brightness bool   `yaml:"supports_brightness"`
	Power      bool   `yaml:"supports_power"`
	Scene      string `yaml:"default_scene"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PIXELGRID_SECTION_KEY
// For example: PIXELGRID_DATABASE_PATH, PIXELGRID_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			ID:        "pixelgrid-001",
			Name:      "Pixelgrid",
			Namespace: "pixelgrid",
		},
		Database: DatabaseConfig{
			Path:        "./data/pixelgrid.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pixelgrid-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Scheduler: SchedulerConfig{
			MinFrameDelay:     16 * time.Millisecond,
			MaxFrameDelay:     5 * time.Second,
			RenderTimeout:     10 * time.Second,
			ManualGraceWindow: 10 * time.Second,
			FallbackScene:     "clock",
		},
		Watchdog: WatchdogConfig{
			Enabled:    true,
			Interval:   30 * time.Second,
			StaleAfter: 2 * time.Minute,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PIXELGRID_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PIXELGRID_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PIXELGRID_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PIXELGRID_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PIXELGRID_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PIXELGRID_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PIXELGRID_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.ID == "" {
		errs = append(errs, "fleet.id is required")
	}
	if c.Fleet.Namespace == "" {
		errs = append(errs, "fleet.namespace is required")
	}
	if strings.ContainsAny(c.Fleet.Namespace, "+#/") {
		errs = append(errs, "fleet.namespace must not contain MQTT wildcards or slashes")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Scheduler.MinFrameDelay <= 0 {
		errs = append(errs, "scheduler.min_frame_delay must be positive")
	}
	if c.Scheduler.MaxFrameDelay < c.Scheduler.MinFrameDelay {
		errs = append(errs, "scheduler.max_frame_delay must be >= min_frame_delay")
	}
	if c.Scheduler.FallbackScene == "" {
		errs = append(errs, "scheduler.fallback_scene is required")
	}

	if c.Watchdog.Enabled && c.Watchdog.Interval <= 0 {
		errs = append(errs, "watchdog.interval must be positive when enabled")
	}

	for i, seed := range c.Devices {
		if seed.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		}
		if seed.Width <= 0 || seed.Height <= 0 {
			errs = append(errs, fmt.Sprintf("devices[%d] canvas size must be positive", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
