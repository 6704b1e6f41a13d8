package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/silverlink-av/avgate-core/internal/device"
)

// Config is the root configuration structure for the AV gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Devices   []device.Device `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Power     PowerConfig     `yaml:"power"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// GatewayConfig tunes command execution across all devices.
type GatewayConfig struct {
	// QueueCapacity bounds how many commands may wait per device.
	QueueCapacity int `yaml:"queue_capacity"`

	// DefaultTimeout is the exchange timeout for commands that carry
	// none, in seconds.
	DefaultTimeout int `yaml:"default_timeout"`

	// ReconnectInitialDelayMs and ReconnectMaxDelaySeconds bound the
	// lazy-reconnect backoff for device connections.
	ReconnectInitialDelayMs  int `yaml:"reconnect_initial_delay_ms"`
	ReconnectMaxDelaySeconds int `yaml:"reconnect_max_delay_seconds"`

	// TelemetryBuffer is the per-subscriber reading buffer size.
	TelemetryBuffer int `yaml:"telemetry_buffer"`

	// Breaker tunes the per-device circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains circuit breaker settings shared by all devices.
type BreakerConfig struct {
	// WindowSeconds is the rolling window over which outcomes count.
	WindowSeconds int `yaml:"window_seconds"`

	// VolumeThreshold is the minimum outcomes in the window before the
	// breaker may trip.
	VolumeThreshold int `yaml:"volume_threshold"`

	// ErrorPercentage is the failure rate (0-100) that trips the circuit.
	ErrorPercentage float64 `yaml:"error_percentage"`

	// ResetTimeoutSeconds is how long an open circuit waits before a
	// half-open probe.
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds"`

	// ProbeFailureReopens controls half-open behaviour after a failed
	// probe: true re-opens for a full reset timeout, false probes again
	// on the next command.
	ProbeFailureReopens *bool `yaml:"probe_failure_reopens"`
}

// DatabaseConfig contains SQLite database settings (IR code library).
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket telemetry stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// PowerConfig contains rack power meter polling settings.
type PowerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Host and Port locate the Modbus TCP energy meter.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SlaveID is the Modbus unit identifier.
	SlaveID int `yaml:"slave_id"`

	// IntervalSeconds is the polling cadence.
	IntervalSeconds int `yaml:"interval_seconds"`

	// DeviceID labels the meter's readings in the telemetry stream.
	DeviceID string `yaml:"device_id"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AVGATE_SECTION_KEY
// For example: AVGATE_DATABASE_PATH, AVGATE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the built-in defaults, before
// any file or environment overrides are applied.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "AV Gateway",
			Timezone: "UTC",
		},
		Gateway: GatewayConfig{
			QueueCapacity:            32,
			DefaultTimeout:           3,
			ReconnectInitialDelayMs:  200,
			ReconnectMaxDelaySeconds: 10,
			TelemetryBuffer:          64,
			Breaker: BreakerConfig{
				WindowSeconds:       10,
				VolumeThreshold:     5,
				ErrorPercentage:     50,
				ResetTimeoutSeconds: 30,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/avgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "avgate-core",
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
		Power: PowerConfig{
			Port:            502,
			SlaveID:         1,
			IntervalSeconds: 10,
			DeviceID:        "rack-power",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AVGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("AVGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("AVGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AVGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AVGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AVGATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AVGATE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("AVGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Gateway validation
	if c.Gateway.QueueCapacity < 1 {
		errs = append(errs, "gateway.queue_capacity must be at least 1")
	}
	if c.Gateway.Breaker.ErrorPercentage < 0 || c.Gateway.Breaker.ErrorPercentage > 100 {
		errs = append(errs, "gateway.breaker.error_percentage must be between 0 and 100")
	}

	// Device validation
	seen := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if err := d.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, dup := seen[d.ID]; dup {
			errs = append(errs, fmt.Sprintf("devices: duplicate id %q", d.ID))
		}
		seen[d.ID] = struct{}{}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Power validation
	if c.Power.Enabled {
		if c.Power.Host == "" {
			errs = append(errs, "power.host is required when power polling is enabled")
		}
		if c.Power.IntervalSeconds < 1 {
			errs = append(errs, "power.interval_seconds must be at least 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ProbeFailureReopens resolves the breaker probe behaviour, defaulting
// to true (a failed probe re-opens the circuit for a full reset timeout).
func (c *Config) ProbeFailureReopens() bool {
	if c.Gateway.Breaker.ProbeFailureReopens == nil {
		return true
	}
	return *c.Gateway.Breaker.ProbeFailureReopens
}

// GetDefaultTimeout returns the default command timeout as a Duration.
func (c *Config) GetDefaultTimeout() time.Duration {
	return time.Duration(c.Gateway.DefaultTimeout) * time.Second
}

// GetReconnectInitialDelay returns the initial reconnect backoff.
func (c *Config) GetReconnectInitialDelay() time.Duration {
	return time.Duration(c.Gateway.ReconnectInitialDelayMs) * time.Millisecond
}

// GetReconnectMaxDelay returns the reconnect backoff cap.
func (c *Config) GetReconnectMaxDelay() time.Duration {
	return time.Duration(c.Gateway.ReconnectMaxDelaySeconds) * time.Second
}

// GetBreakerWindow returns the breaker rolling window as a Duration.
func (c *Config) GetBreakerWindow() time.Duration {
	return time.Duration(c.Gateway.Breaker.WindowSeconds) * time.Second
}

// GetBreakerResetTimeout returns the breaker reset timeout as a Duration.
func (c *Config) GetBreakerResetTimeout() time.Duration {
	return time.Duration(c.Gateway.Breaker.ResetTimeoutSeconds) * time.Second
}

// GetPowerInterval returns the power polling cadence as a Duration.
func (c *Config) GetPowerInterval() time.Duration {
	return time.Duration(c.Power.IntervalSeconds) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
