package config

import (
	"time"

	"github.com/tidestore/tidestore/internal/bytesize"
)

// ApplyDefaults fills in missing configuration with default values.
// Called after loading from file and environment, so only zero values are
// touched.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyRedisDefaults(&cfg.Redis)
	applyStorageDefaults(&cfg.Storage)
	applyUploadDefaults(&cfg.Upload)
	applyDownloadDefaults(&cfg.Download)
	applyLifecycleDefaults(&cfg.Lifecycle)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyAuthDefaults(&cfg.Auth)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Type == "" {
		cfg.Type = DatabaseSQLite
	}
	if cfg.Type == DatabaseSQLite && cfg.SQLitePath == "" {
		cfg.SQLitePath = "tidestore.db"
	}
	if cfg.Type == DatabasePostgres {
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		if cfg.SSLMode == "" {
			cfg.SSLMode = "disable"
		}
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 25
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 5
		}
	}
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.HotPath == "" {
		cfg.HotPath = "/var/lib/tidestore/ssd"
	}
	if cfg.ColdPath == "" {
		cfg.ColdPath = "/var/lib/tidestore/hdd"
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 10 * bytesize.MiB
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
}

func applyDownloadDefaults(cfg *DownloadConfig) {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 300 * time.Second
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.ExpiryDaysFree == 0 {
		cfg.ExpiryDaysFree = 5
	}
	if cfg.ExtensionDays == 0 {
		cfg.ExtensionDays = 5
	}
	if cfg.HotToColdDays == 0 {
		cfg.HotToColdDays = 30
	}
	if cfg.ColdToHotDownloads == 0 {
		cfg.ColdToHotDownloads = 5
	}
	if cfg.SessionGrace == 0 {
		cfg.SessionGrace = 7 * 24 * time.Hour
	}
	if cfg.OrphanAge == 0 {
		cfg.OrphanAge = time.Hour
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.Upload == nil {
		cfg.Upload = map[string]RateLimitRule{
			"free":      {Limit: 60, Window: time.Minute},
			"premium":   {Limit: 600, Window: time.Minute},
			"admin":     {Limit: 600, Window: time.Minute},
			"anonymous": {Limit: 10, Window: time.Minute},
		}
	}
	if cfg.Download == nil {
		cfg.Download = map[string]RateLimitRule{
			"free":      {Limit: 120, Window: time.Minute},
			"premium":   {Limit: 1200, Window: time.Minute},
			"admin":     {Limit: 1200, Window: time.Minute},
			"anonymous": {Limit: 30, Window: time.Minute},
		}
	}
	if cfg.Auth == nil {
		cfg.Auth = map[string]RateLimitRule{
			"free":      {Limit: 10, Window: 15 * time.Minute},
			"premium":   {Limit: 10, Window: 15 * time.Minute},
			"admin":     {Limit: 10, Window: 15 * time.Minute},
			"anonymous": {Limit: 10, Window: 15 * time.Minute},
		}
	}
	if cfg.AbuseThreshold == 0 {
		cfg.AbuseThreshold = 100
	}
	if cfg.AbuseWindow == 0 {
		cfg.AbuseWindow = time.Hour
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}
