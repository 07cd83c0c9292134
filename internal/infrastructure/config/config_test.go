package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
  name: "Test Bench"
  timezone: "Europe/London"
database:
  path: "/tmp/test.db"
bus:
  driver: "nats"
api:
  port: 9090
dispatch:
  ack_timeout: 5s
queue:
  ttl: 30m
schedule:
  tick: "@every 10s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Bus.Driver != BusDriverNATS {
		t.Errorf("Bus.Driver = %q, want %q", cfg.Bus.Driver, BusDriverNATS)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Dispatch.AckTimeout != 5*time.Second {
		t.Errorf("Dispatch.AckTimeout = %v, want 5s", cfg.Dispatch.AckTimeout)
	}
	if cfg.Queue.TTL != 30*time.Minute {
		t.Errorf("Queue.TTL = %v, want 30m", cfg.Queue.TTL)
	}
	if cfg.Schedule.Tick != "@every 10s" {
		t.Errorf("Schedule.Tick = %q, want %q", cfg.Schedule.Tick, "@every 10s")
	}

	// Fields absent from the file keep their defaults.
	if cfg.Registry.HeartbeatTimeout != 90*time.Second {
		t.Errorf("Registry.HeartbeatTimeout = %v, want 90s", cfg.Registry.HeartbeatTimeout)
	}
	if cfg.Conflict.Window != 10*time.Second {
		t.Errorf("Conflict.Window = %v, want 10s", cfg.Conflict.Window)
	}
	if cfg.Location().String() != "Europe/London" {
		t.Errorf("Location() = %q, want Europe/London", cfg.Location())
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "site: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected parse error, got nil")
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
database:
  path: "/tmp/test.db"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Site.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown bus driver", mutate: func(c *Config) { c.Bus.Driver = "kafka" }, wantErr: true},
		{name: "empty topic prefix", mutate: func(c *Config) { c.Bus.TopicPrefix = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "zero heartbeat timeout", mutate: func(c *Config) { c.Registry.HeartbeatTimeout = 0 }, wantErr: true},
		{name: "zero ack timeout", mutate: func(c *Config) { c.Dispatch.AckTimeout = 0 }, wantErr: true},
		{name: "zero queue ttl", mutate: func(c *Config) { c.Queue.TTL = 0 }, wantErr: true},
		{name: "negative conflict window", mutate: func(c *Config) { c.Conflict.Window = -time.Second }, wantErr: true},
		{name: "zero conflict window allowed", mutate: func(c *Config) { c.Conflict.Window = 0 }},
		{name: "empty schedule tick", mutate: func(c *Config) { c.Schedule.Tick = "" }, wantErr: true},
		{name: "unparseable schedule tick", mutate: func(c *Config) { c.Schedule.Tick = "every minute" }, wantErr: true},
		{name: "tolerance shorter than tick", mutate: func(c *Config) { c.Schedule.Tick = "@every 60s" }, wantErr: true},
		{
			name: "tolerance covering tick",
			mutate: func(c *Config) {
				c.Schedule.Tick = "@every 60s"
				c.Schedule.Tolerance = time.Minute
			},
		},
		{name: "tolerance shorter than minute cron", mutate: func(c *Config) { c.Schedule.Tick = "* * * * *" }, wantErr: true},
		{
			name: "rate limit enabled without budget",
			mutate: func(c *Config) {
				c.Security.RateLimit.Enabled = true
				c.Security.RateLimit.RequestsPerMinute = 0
			},
			wantErr: true,
		},
		{
			name: "rate limit disabled without budget",
			mutate: func(c *Config) {
				c.Security.RateLimit.Enabled = false
				c.Security.RateLimit.RequestsPerMinute = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("RELAYCORE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("RELAYCORE_BUS_DRIVER", "nats")
	t.Setenv("RELAYCORE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("RELAYCORE_MQTT_USERNAME", "testuser")
	t.Setenv("RELAYCORE_MQTT_PASSWORD", "testpass")
	t.Setenv("RELAYCORE_NATS_URL", "nats://bus:4222")
	t.Setenv("RELAYCORE_API_HOST", "192.168.1.1")
	t.Setenv("RELAYCORE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("RELAYCORE_SITE_TIMEZONE", "America/New_York")

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Bus.Driver", cfg.Bus.Driver, "nats"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"NATS.URL", cfg.NATS.URL, "nats://bus:4222"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Site.Timezone", cfg.Site.Timezone, "America/New_York"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Dispatch.AckTimeout != 10*time.Second {
		t.Errorf("defaultConfig Dispatch.AckTimeout = %v, want 10s", cfg.Dispatch.AckTimeout)
	}
	if cfg.Queue.TTL != time.Hour {
		t.Errorf("defaultConfig Queue.TTL = %v, want 1h", cfg.Queue.TTL)
	}
	if cfg.Schedule.Tick != "@every 30s" {
		t.Errorf("defaultConfig Schedule.Tick = %q, want @every 30s", cfg.Schedule.Tick)
	}
}

func TestTickPeriod(t *testing.T) {
	tests := []struct {
		spec string
		want time.Duration
	}{
		{"@every 30s", 30 * time.Second},
		{"@every 2m", 2 * time.Minute},
		{"* * * * *", time.Minute},
		{"*/15 * * * *", 15 * time.Minute},
		{"0 9,17 * * *", 16 * time.Hour},
	}
	for _, tt := range tests {
		got, err := TickPeriod(tt.spec)
		if err != nil {
			t.Fatalf("TickPeriod(%q) error: %v", tt.spec, err)
		}
		if got != tt.want {
			t.Errorf("TickPeriod(%q) = %s, want %s", tt.spec, got, tt.want)
		}
	}

	if _, err := TickPeriod("not a spec"); err == nil {
		t.Error("TickPeriod(invalid) should fail")
	}
}
