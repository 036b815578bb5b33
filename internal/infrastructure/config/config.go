package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Cloudlink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	Vault     VaultConfig     `yaml:"vault"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CloudConfig contains the control-plane (REST) settings.
type CloudConfig struct {
	// Server is the API host, with or without a scheme (e.g. "api.example.io").
	Server string `yaml:"server"`

	// Scheme is used when Server carries no scheme. Default: "https".
	Scheme string `yaml:"scheme"`

	// Username and Password are used for the initial login when no stored
	// session can be resumed. Prefer the environment overrides for these.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout is the overall per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// CommandRetries is how many times an actuator command is resent after
	// a transport failure.
	CommandRetries int `yaml:"command_retries"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
// Credentials are not configured here; they are derived from the cloud login.
type MQTTBrokerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTReconnectConfig contains settings for the underlying client's
// reconnection after an established session drops.
type MQTTReconnectConfig struct {
	Auto     bool `yaml:"auto"`
	MaxDelay int  `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// VaultConfig controls persistence of a resumable session between runs.
type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Profile    string `yaml:"profile"`
	Passphrase string `yaml:"passphrase"`
}

// InfluxDBConfig contains InfluxDB connection settings for value history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local gateway HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: CLOUDLINK_SECTION_KEY
// For example: CLOUDLINK_CLOUD_SERVER, CLOUDLINK_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides applied.
// Used when no configuration file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			Scheme:         "https",
			Timeout:        30,
			CommandRetries: 3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:           1883,
				ClientIDPrefix: "cloudlink",
			},
			QoS:       0,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				Auto:     true,
				MaxDelay: 60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/cloudlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Vault: VaultConfig{
			Profile: "default",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8087,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLOUDLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud
	if v := os.Getenv("CLOUDLINK_CLOUD_SERVER"); v != "" {
		cfg.Cloud.Server = v
	}
	if v := os.Getenv("CLOUDLINK_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("CLOUDLINK_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}

	// MQTT
	if v := os.Getenv("CLOUDLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}

	// Database
	if v := os.Getenv("CLOUDLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Vault
	if v := os.Getenv("CLOUDLINK_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}

	// InfluxDB
	if v := os.Getenv("CLOUDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.Timeout < 0 {
		errs = append(errs, "cloud.timeout must not be negative")
	}
	if c.Cloud.CommandRetries < 0 {
		errs = append(errs, "cloud.command_retries must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	// Vault validation - sealed tokens are only as strong as the passphrase.
	const minPassphraseLength = 16
	if c.Vault.Enabled {
		if !c.Database.Enabled {
			errs = append(errs, "vault requires database.enabled")
		}
		if len(c.Vault.Passphrase) < minPassphraseLength {
			errs = append(errs, "vault.passphrase must be at least 16 characters (set CLOUDLINK_VAULT_PASSPHRASE)")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the cloud request timeout as a Duration.
func (c CloudConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
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
