// Package config handles the bridge's CLI/environment/file configuration,
// mirroring the engine codebase's pkg/config: yaml file loading plus
// struct-tag validation, with the device, broker, topic and log-level
// fields also overridable from an environment variable and a CLI flag.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the bridge's full runtime configuration: broker connection
// plus the ambient logging/metrics/audit/API surfaces.
type Config struct {
	Device string `yaml:"device" validate:"required"`

	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	SSL      bool   `yaml:"ssl"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	BaseTopic      string `yaml:"base_topic" validate:"required"`
	DiscoveryTopic string `yaml:"discovery_topic" validate:"required"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audit   AuditConfig   `yaml:"audit"`
	API     APIConfig     `yaml:"api"`
	Rules   RulesConfig   `yaml:"rules"`
}

// LoggingConfig controls internal/logger construction.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	Output string `yaml:"output" validate:"oneof=stdout file"`
	File   string `yaml:"file"`
}

// MetricsConfig controls the optional Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Port     int    `yaml:"port"`
}

// AuditConfig controls the optional sqlite command-audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig controls the optional REST/WS diagnostics surfaces.
type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RESTPort  int    `yaml:"rest_port"`
	WSPort    int    `yaml:"ws_port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// RulesConfig points at an optional Lua or JS hook script.
type RulesConfig struct {
	LuaScript string `yaml:"lua_script"`
	JSScript  string `yaml:"js_script"`
}

// DefaultConfig returns the configuration used when no file and no
// overrides are supplied.
func DefaultConfig() *Config {
	return &Config{
		Port:           1883,
		BaseTopic:      "rvlink-bridge/",
		DiscoveryTopic: "homeassistant/",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
			Port:     9100,
		},
		API: APIConfig{
			Enabled:  false,
			RESTPort: 8080,
			WSPort:   8081,
		},
	}
}

// Load reads path (if non-empty) as yaml, applies environment variable and
// flag overrides, and validates the result. An empty path starts from
// DefaultConfig instead of failing.
func Load(path string, flags Flags) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	flags.applyTo(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Flags holds the subset of CLI flags this bridge exposes, each layered
// over both the loaded file and any environment variable (a flag set on
// the command line always wins).
type Flags struct {
	Device         *string
	Host           *string
	Port           *int
	SSL            *bool
	Username       *string
	Password       *string
	BaseTopic      *string
	DiscoveryTopic *string
	LogLevel       *string
}

func (f Flags) applyTo(cfg *Config) {
	if f.Device != nil {
		cfg.Device = *f.Device
	}
	if f.Host != nil {
		cfg.Host = *f.Host
	}
	if f.Port != nil {
		cfg.Port = *f.Port
	}
	if f.SSL != nil {
		cfg.SSL = *f.SSL
	}
	if f.Username != nil {
		cfg.Username = *f.Username
	}
	if f.Password != nil {
		cfg.Password = *f.Password
	}
	if f.BaseTopic != nil {
		cfg.BaseTopic = *f.BaseTopic
	}
	if f.DiscoveryTopic != nil {
		cfg.DiscoveryTopic = *f.DiscoveryTopic
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
}

// applyEnv overlays the recognized environment variables ("--device"/DEVICE,
// "--host"/HOST, ...) on top of the file-loaded config, before flags get
// their turn.
func applyEnv(cfg *Config) {
	setString(&cfg.Device, "DEVICE")
	setString(&cfg.Host, "HOST")
	setInt(&cfg.Port, "PORT")
	setBool(&cfg.SSL, "SSL")
	setString(&cfg.Username, "USERNAME")
	setString(&cfg.Password, "PASSWORD")
	setString(&cfg.BaseTopic, "BASE_TOPIC")
	setString(&cfg.DiscoveryTopic, "DISCOVERY_TOPIC")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v == "1" || v == "true" || v == "yes"
	}
}

// ConnectTimeout is the fixed dial timeout used by the MQTT transport.
const ConnectTimeout = 10 * time.Second
