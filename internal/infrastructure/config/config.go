package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the TiVo remote bridge.
// Values come from defaults, an optional YAML file, environment variables
// and command-line flags, in that order of precedence (last wins).
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	TiVo      TiVoConfig      `yaml:"tivo"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

// BridgeConfig identifies this bridge instance on the bus.
type BridgeConfig struct {
	// Name prefixes every topic: <name>:<device-id>/<suffix>.
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Broker is a URL such as mqtt://127.0.0.1:1883 or wss://host/mqtt.
	Broker    string              `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DiscoveryConfig selects how DVRs are found.
type DiscoveryConfig struct {
	MDNS   MDNSConfig     `yaml:"mdns"`
	Static []StaticDevice `yaml:"static"`
}

// MDNSConfig contains mDNS/DNS-SD browsing settings.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Service   string `yaml:"service"`
	Domain    string `yaml:"domain"`
	Interface string `yaml:"interface"`
}

// StaticDevice is a DVR reachable at a fixed address, for networks without mDNS.
type StaticDevice struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TiVoConfig contains settings for the DVR remote-control connection.
type TiVoConfig struct {
	Port           int `yaml:"port"`
	ConnectTimeout int `yaml:"connect_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the HTTP status endpoint (health, Prometheus, devices).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DatabaseConfig contains SQLite settings for the lifecycle audit log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for status history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Supported broker URL schemes.
var brokerSchemes = map[string]bool{
	"mqtt":  true,
	"mqtts": true,
	"tcp":   true,
	"tls":   true,
	"ws":    true,
	"wss":   true,
}

// Supported verbosity levels.
var verbosityLevels = map[string]bool{
	"error": true,
	"warn":  true,
	"info":  true,
	"debug": true,
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// An empty path skips the file and uses defaults plus environment.
//
// Environment variables follow the pattern: TIVOREMOTE_KEY
// For example: TIVOREMOTE_BROKER, TIVOREMOTE_NAME
func Load(path string) (*Config, error) {
	return LoadWithFlags(&Flags{ConfigPath: path})
}

// LoadWithFlags is Load followed by command-line overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if flags.ConfigPath is set
//  3. Environment variables
//  4. Command-line flags
func LoadWithFlags(flags *Flags) (*Config, error) {
	cfg := defaultConfig()

	if flags.ConfigPath != "" {
		data, err := os.ReadFile(flags.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	flags.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Name: "tivoremote",
		},
		MQTT: MQTTConfig{
			Broker: "mqtt://127.0.0.1",
			QoS:    2,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Discovery: DiscoveryConfig{
			MDNS: MDNSConfig{
				Enabled: true,
				Service: "_tivo-remote._tcp",
				Domain:  "local.",
			},
		},
		TiVo: TiVoConfig{
			Port:           31339,
			ConnectTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Host: "0.0.0.0",
			Port: 9464,
		},
		Database: DatabaseConfig{
			Path:        "./data/tivoremote.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIVOREMOTE_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("TIVOREMOTE_NAME"); v != "" {
		cfg.Bridge.Name = v
	}
	if v := os.Getenv("TIVOREMOTE_VERBOSITY"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TIVOREMOTE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TIVOREMOTE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("TIVOREMOTE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TIVOREMOTE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// It is only called at startup; nothing is re-validated at runtime.
func (c *Config) Validate() error {
	var errs []string

	if err := validateBroker(c.MQTT.Broker); err != nil {
		errs = append(errs, err.Error())
	}

	switch {
	case c.Bridge.Name == "":
		errs = append(errs, "bridge.name is required")
	case strings.ContainsAny(c.Bridge.Name, "+#/"):
		errs = append(errs, "bridge.name must not contain '+', '#' or '/'")
	}

	if !verbosityLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, `verbosity must be one of "error", "warn", "info", "debug"`)
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.TiVo.Port < 1 || c.TiVo.Port > 65535 {
		errs = append(errs, "tivo.port must be between 1 and 65535")
	}

	for i, d := range c.Discovery.Static {
		if d.ID == "" || d.Host == "" {
			errs = append(errs, fmt.Sprintf("discovery.static[%d] needs id and host", i))
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBroker accepts mqtt, mqtts, tcp, tls, ws and wss URLs.
func validateBroker(broker string) error {
	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker is not a valid URL: %w", err)
	}
	if !brokerSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("mqtt.broker scheme %q is not one of mqtt, mqtts, tcp, tls, ws, wss", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("mqtt.broker %q has no host", broker)
	}
	return nil
}

// GetTiVoConnectTimeout returns the DVR connect timeout as a Duration.
func (c *Config) GetTiVoConnectTimeout() time.Duration {
	return time.Duration(c.TiVo.ConnectTimeout) * time.Second
}

// MetricsAddr returns the listen address for the status endpoint.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Metrics.Host, c.Metrics.Port)
}
