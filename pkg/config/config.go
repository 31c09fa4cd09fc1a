// Package config loads tidestore configuration from file, environment, and
// defaults.
//
// Precedence (highest to lowest):
//  1. Environment variables (TIDESTORE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/tidestore/tidestore/internal/bytesize"
)

// Config is the root configuration for the tidestore server.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the HTTP surface
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the durable metadata store (SQLite or PostgreSQL)
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Redis configures the volatile coordination store
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`

	// Storage configures the tiered on-disk blob layout
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Upload configures chunked upload sessions
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Download configures the download path
	Download DownloadConfig `mapstructure:"download" yaml:"download"`

	// Lifecycle configures expiry, tier migration, and cleanup workers
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`

	// RateLimit configures the sliding-window limiter and the abuse gate
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`

	// Auth configures token issuance for the HTTP surface
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DatabaseType selects the metadata store backend.
type DatabaseType string

const (
	// DatabaseSQLite uses SQLite (single-node, default).
	DatabaseSQLite DatabaseType = "sqlite"
	// DatabasePostgres uses PostgreSQL.
	DatabasePostgres DatabaseType = "postgres"
)

// DatabaseConfig configures the durable metadata store.
type DatabaseConfig struct {
	Type DatabaseType `mapstructure:"type" validate:"oneof=sqlite postgres" yaml:"type"`

	// SQLitePath is the database file path when Type is sqlite
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`

	// Postgres connection settings when Type is postgres
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Name         string `mapstructure:"name" yaml:"name"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	SSLMode      string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Name)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// RedisConfig configures the volatile store connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`

	// DialTimeout bounds connection establishment
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	// ReadTimeout bounds individual requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// MaxRetries is the per-request retry budget
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// StorageConfig configures the tiered blob backend.
//
// Layout: <tier path>/<first-2-of-key>/<storageKey>; in-flight chunks live
// under <hot path>/temp/<sessionId>/<chunkIndex>.
type StorageConfig struct {
	// HotPath is the fast tier root (SSD)
	HotPath string `mapstructure:"hot_path" validate:"required" yaml:"hot_path"`

	// ColdPath is the slow tier root (HDD)
	ColdPath string `mapstructure:"cold_path" validate:"required" yaml:"cold_path"`
}

// UploadConfig configures chunked upload sessions.
type UploadConfig struct {
	// ChunkSize is the fixed chunk size handed to clients at init
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// SessionTTL is how long an idle session stays resumable
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// DownloadConfig configures the download path.
type DownloadConfig struct {
	// CacheTTL bounds the volatile metadata cache entry per file
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// LifecycleConfig configures the background workers.
type LifecycleConfig struct {
	// Interval is the worker tick period
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// BatchSize bounds items processed per tick
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// ExpiryDaysFree is the TTL granted to files of free-tier users
	ExpiryDaysFree int `mapstructure:"expiry_days_free" yaml:"expiry_days_free"`

	// ExtensionDays is how far a download pushes out a file's expiry
	ExtensionDays int `mapstructure:"extension_days" yaml:"extension_days"`

	// HotToColdDays demotes files not accessed for this many days
	HotToColdDays int `mapstructure:"hot_to_cold_days" yaml:"hot_to_cold_days"`

	// ColdToHotDownloads promotes cold files once downloads reach this count
	ColdToHotDownloads int64 `mapstructure:"cold_to_hot_downloads" yaml:"cold_to_hot_downloads"`

	// SessionGrace keeps terminal sessions in the durable store before purge
	SessionGrace time.Duration `mapstructure:"session_grace" yaml:"session_grace"`

	// OrphanAge is the minimum chunk-directory age before the orphan sweep
	// will remove it
	OrphanAge time.Duration `mapstructure:"orphan_age" yaml:"orphan_age"`
}

// RateLimitRule is one sliding-window budget.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// RateLimitConfig configures per-type limits keyed by role tier, plus the
// abuse gate thresholds.
type RateLimitConfig struct {
	// Upload/Download/Auth map role tier ("free", "premium", "admin",
	// "anonymous") to a rule
	Upload   map[string]RateLimitRule `mapstructure:"upload" yaml:"upload"`
	Download map[string]RateLimitRule `mapstructure:"download" yaml:"download"`
	Auth     map[string]RateLimitRule `mapstructure:"auth" yaml:"auth"`

	// AbuseThreshold blocks an IP once its abuse score reaches this count
	AbuseThreshold int64 `mapstructure:"abuse_threshold" yaml:"abuse_threshold"`

	// AbuseWindow is the TTL of the abuse counter (and of the block)
	AbuseWindow time.Duration `mapstructure:"abuse_window" yaml:"abuse_window"`
}

// AuthConfig configures token issuance for the HTTP surface.
type AuthConfig struct {
	// JWTSecret signs access tokens (HS256)
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// AccessTokenTTL bounds access token lifetime
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl" yaml:"access_token_ttl"`

	// RefreshTokenTTL bounds refresh token lifetime
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath skips the file and uses environment plus defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("TIDESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHooks combines the custom decode hooks for ByteSize and Duration.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// byteSizeDecodeHook converts strings like "10Mi" into bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		return bytesize.Parse(data.(string))
	}
}
