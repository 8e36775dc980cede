package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/adapter/ws"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/authority"
	"github.com/marmos91/dittoshare/pkg/files"
	"github.com/spf13/viper"
)

// Config represents the complete dittoshare configuration.
//
// This structure captures all configurable aspects of the process:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Token verification against the identity authority
//   - Record, blob, cache and notification backends (type-specific)
//   - The three services: file API, notifier and identity authority
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOSHARE_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Backend Configuration Pattern:
// Each backend implementation defines its own configuration type. The Config
// struct carries one map per implementation (e.g. records.badger,
// records.sqlite) and only the section matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Auth configures token verification for the file API and notifier
	Auth auth.Config `mapstructure:"auth"`

	// Records selects the durable file record store
	Records RecordsConfig `mapstructure:"records"`

	// Blobs selects the object store holding file payloads
	Blobs BlobsConfig `mapstructure:"blobs"`

	// Cache selects the cache in front of the record store
	Cache CacheConfig `mapstructure:"cache"`

	// Notify selects how the file service hands events to the notifier
	Notify NotifyConfig `mapstructure:"notify"`

	// Services configures each network surface
	Services ServicesConfig `mapstructure:"services"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds the graceful shutdown of all services
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=0,max=65535"`
}

// RecordsConfig selects the record store.
type RecordsConfig struct {
	// Type specifies which record store implementation to use
	// Valid values: memory, badger, sqlite
	Type string `mapstructure:"type" validate:"required,oneof=memory badger sqlite"`

	// Memory is used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger is used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// SQLite is used when Type = "sqlite"
	SQLite map[string]any `mapstructure:"sqlite"`
}

// BlobsConfig selects the blob store.
type BlobsConfig struct {
	// Type specifies which blob store implementation to use
	// Valid values: memory, fs, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory fs s3"`

	Memory map[string]any `mapstructure:"memory"`
	FS     map[string]any `mapstructure:"fs"`
	S3     map[string]any `mapstructure:"s3"`
}

// CacheConfig selects the cache store and the catalog's caching policy.
type CacheConfig struct {
	// Type specifies which cache implementation to use
	// Valid values: none, memory, redis
	Type string `mapstructure:"type" validate:"required,oneof=none memory redis"`

	// TTL bounds how long a cached entry may be served
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`

	// InvalidateTimeout bounds each invalidation after a write
	InvalidateTimeout time.Duration `mapstructure:"invalidate_timeout" validate:"min=0"`

	Memory map[string]any `mapstructure:"memory"`
	Redis  map[string]any `mapstructure:"redis"`
}

// NotifyConfig selects the notification transport used by the file service.
type NotifyConfig struct {
	// Type specifies the transport
	// Valid values:
	//   - none: events are dropped
	//   - local: dispatched in-process (requires the notifier in this process)
	//   - http: posted to the notifier's trigger routes
	//   - amqp: published to a RabbitMQ queue the notifier consumes
	Type string `mapstructure:"type" validate:"required,oneof=none local http amqp"`

	HTTP map[string]any `mapstructure:"http"`
	AMQP map[string]any `mapstructure:"amqp"`
}

// ServicesConfig contains the per-service settings.
type ServicesConfig struct {
	Files     FilesServiceConfig     `mapstructure:"files"`
	Notifier  ws.Config              `mapstructure:"notifier"`
	Authority AuthorityServiceConfig `mapstructure:"authority"`
}

// FilesServiceConfig configures the file API.
type FilesServiceConfig struct {
	adapter.HTTPConfig `mapstructure:",squash"`
	files.Config       `mapstructure:",squash"`
}

// AuthorityServiceConfig configures the identity authority.
type AuthorityServiceConfig struct {
	adapter.HTTPConfig `mapstructure:",squash"`
	authority.Config   `mapstructure:",squash"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSHARE_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file there is
// not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSHARE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so the
	// scalar keys are bound explicitly for configs without a file.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Services run unless explicitly disabled.
	for _, service := range []string{"files", "notifier", "authority"} {
		v.SetDefault("services."+service+".enabled", true)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"auth.verify_url",
	"auth.timeout",
	"records.type",
	"blobs.type",
	"cache.type",
	"cache.ttl",
	"notify.type",
	"services.files.enabled",
	"services.files.port",
	"services.files.max_upload_bytes",
	"services.notifier.enabled",
	"services.notifier.port",
	"services.notifier.trigger_token",
	"services.authority.enabled",
	"services.authority.port",
	"services.authority.secret",
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file means defaults, whether searched for or explicit.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dittoshare, ~/.config/dittoshare,
// or "." when the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoshare")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoshare")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
