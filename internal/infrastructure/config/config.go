package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Bus drivers supported for the secondary relay transport.
const (
	BusDriverMQTT = "mqtt"
	BusDriverNATS = "nats"
)

// Config is the root configuration structure for Relay Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Bus       BusConfig       `yaml:"bus"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Queue     QueueConfig     `yaml:"queue"`
	Conflict  ConflictConfig  `yaml:"conflict"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BusConfig selects the pub/sub transport used for devices that cannot hold
// a persistent push connection.
type BusConfig struct {
	// Driver is "mqtt" (default) or "nats".
	Driver string `yaml:"driver"`

	// TopicPrefix is the root of all relay topics (default "relaycore").
	TopicPrefix string `yaml:"topic_prefix"`
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

// NATSConfig contains NATS server connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Token         string        `yaml:"token"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	MaxReconnects int           `yaml:"max_reconnects"`
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

// WebSocketConfig contains WebSocket server settings, shared by the observer
// hub and the device push channel.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RegistryConfig controls device liveness tracking.
type RegistryConfig struct {
	// HeartbeatTimeout is how long a device may stay silent before it is
	// marked offline. Default: 90s
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// SweepInterval is how often liveness is checked. Default: 15s
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DispatchConfig controls command dispatch.
type DispatchConfig struct {
	// AckTimeout bounds the wait for a device acknowledgement. Default: 10s
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// CommandGrace is how long terminal commands stay in memory. Default: 5m
	CommandGrace time.Duration `yaml:"command_grace"`
}

// QueueConfig controls the offline command queue.
type QueueConfig struct {
	// TTL is the maximum age of a queued command. Default: 1h
	TTL time.Duration `yaml:"ttl"`

	// CleanupInterval is the janitor period for expired entries. Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ConflictConfig controls manual override conflict detection.
type ConflictConfig struct {
	// Window is the span after a command is issued during which a
	// contradicting manual report is treated as a conflict. Default: 10s
	Window time.Duration `yaml:"window"`
}

// ScheduleConfig controls the schedule executor.
type ScheduleConfig struct {
	// Tick is a robfig/cron spec for the evaluation tick. Default: "@every 30s"
	Tick string `yaml:"tick"`

	// Tolerance is the matching window for one-shot schedules and must be
	// at least the tick period. Default: 30s
	Tolerance time.Duration `yaml:"tolerance"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYCORE_SECTION_KEY
// For example: RELAYCORE_DATABASE_PATH, RELAYCORE_MQTT_HOST
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

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Relay Core",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/relaycore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Bus: BusConfig{
			Driver:      BusDriverMQTT,
			TopicPrefix: "relaycore",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relaycore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "relaycore",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
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
		Registry: RegistryConfig{
			HeartbeatTimeout: 90 * time.Second,
			SweepInterval:    15 * time.Second,
		},
		Dispatch: DispatchConfig{
			AckTimeout:   10 * time.Second,
			CommandGrace: 5 * time.Minute,
		},
		Queue: QueueConfig{
			TTL:             time.Hour,
			CleanupInterval: time.Minute,
		},
		Conflict: ConflictConfig{
			Window: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Tick:      "@every 30s",
			Tolerance: 30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RELAYCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAYCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("RELAYCORE_BUS_DRIVER"); v != "" {
		cfg.Bus.Driver = v
	}

	// MQTT
	if v := os.Getenv("RELAYCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// NATS
	if v := os.Getenv("RELAYCORE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RELAYCORE_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}

	if v := os.Getenv("RELAYCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("RELAYCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("RELAYCORE_SITE_TIMEZONE"); v != "" {
		cfg.Site.Timezone = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid IANA zone", c.Site.Timezone))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Bus.Driver {
	case BusDriverMQTT, BusDriverNATS:
	default:
		errs = append(errs, "bus.driver must be \"mqtt\" or \"nats\"")
	}
	if c.Bus.TopicPrefix == "" {
		errs = append(errs, "bus.topic_prefix is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Registry.HeartbeatTimeout <= 0 {
		errs = append(errs, "registry.heartbeat_timeout must be positive")
	}
	if c.Registry.SweepInterval <= 0 {
		errs = append(errs, "registry.sweep_interval must be positive")
	}
	if c.Dispatch.AckTimeout <= 0 {
		errs = append(errs, "dispatch.ack_timeout must be positive")
	}
	if c.Queue.TTL <= 0 {
		errs = append(errs, "queue.ttl must be positive")
	}
	if c.Conflict.Window < 0 {
		errs = append(errs, "conflict.window must not be negative")
	}
	if c.Schedule.Tick == "" {
		errs = append(errs, "schedule.tick is required")
	} else if period, err := TickPeriod(c.Schedule.Tick); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.tick: %v", err))
	} else if c.Schedule.Tolerance < period {
		errs = append(errs, fmt.Sprintf("schedule.tolerance must be at least the tick period (%s)", period))
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TickPeriod returns the longest gap between two runs of a cron tick spec.
// A once schedule whose window is shorter than this can fall between ticks.
func TickPeriod(spec string) (time.Duration, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, err
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return every.Delay, nil
	}

	var longest time.Duration
	prev := sched.Next(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	for range 16 {
		next := sched.Next(prev)
		longest = max(longest, next.Sub(prev))
		prev = next
	}
	return longest, nil
}

// Location returns the site's time zone for schedule evaluation.
// Validate guarantees the zone loads; UTC is returned if it somehow does not.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
