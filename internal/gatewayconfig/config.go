// Package gatewayconfig loads the gateway's configuration from a YAML file
// overlaid with environment variables, the way the rest of the stack does.
package gatewayconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BusConfig controls the in-process message bus (C4).
type BusConfig struct {
	QueueDepth  int `yaml:"queue_depth" env:"GATEWAY_BUS_QUEUE_DEPTH"`
	SendTimeout int `yaml:"send_timeout_ms" env:"GATEWAY_BUS_SEND_TIMEOUT_MS"`
}

// ServerConfig controls listen addresses for north-bound apps and diagnostics.
type ServerConfig struct {
	EKuiperListen string `yaml:"ekuiper_listen" env:"GATEWAY_EKUIPER_LISTEN"`
	DiagListen    string `yaml:"diag_listen" env:"GATEWAY_DIAG_LISTEN"`
}

// PersistenceConfig controls the optional Postgres-backed persistence contract (§6).
type PersistenceConfig struct {
	DSN             string `yaml:"dsn" env:"GATEWAY_DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"GATEWAY_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"GATEWAY_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifeSecs int    `yaml:"conn_max_lifetime_seconds" env:"GATEWAY_DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"GATEWAY_DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"GATEWAY_LOG_LEVEL"`
	Format     string `yaml:"format" env:"GATEWAY_LOG_FORMAT"`
	Output     string `yaml:"output" env:"GATEWAY_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"GATEWAY_LOG_FILE_PREFIX"`
}

// TracingConfig controls the tracing sidecar (C10).
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"GATEWAY_TRACING_ENABLED"`
	SamplingRate float64 `yaml:"sampling_rate" env:"GATEWAY_TRACING_SAMPLING_RATE"`
	ServiceName  string  `yaml:"service_name" env:"GATEWAY_TRACING_SERVICE_NAME"`
}

// PluginsConfig locates the plugin library directories (C1).
type PluginsConfig struct {
	SystemDir string `yaml:"system_dir" env:"GATEWAY_PLUGINS_SYSTEM_DIR"`
	CustomDir string `yaml:"custom_dir" env:"GATEWAY_PLUGINS_CUSTOM_DIR"`
}

// Config is the top-level gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Bus         BusConfig         `yaml:"bus"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Plugins     PluginsConfig     `yaml:"plugins"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			EKuiperListen: "0.0.0.0:7081",
			DiagListen:    "0.0.0.0:9081",
		},
		Bus: BusConfig{
			QueueDepth:  256,
			SendTimeout: 500,
		},
		Persistence: PersistenceConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName: "gateway",
		},
		Plugins: PluginsConfig{
			SystemDir: "/var/lib/gateway/plugins/system",
			CustomDir: "/var/lib/gateway/plugins/custom",
		},
	}
}

// Load loads configuration from CONFIG_FILE (or configs/gateway.yaml) and
// overlays environment variables; .env is sourced first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/gateway.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, defaults otherwise applied.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
