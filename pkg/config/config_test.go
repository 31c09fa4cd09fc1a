package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidestore/tidestore/internal/bytesize"
)

// validConfig is the smallest configuration that passes validation after
// defaults are applied.
func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Database.Type != DatabaseSQLite {
		t.Errorf("expected sqlite default, got %s", cfg.Database.Type)
	}
	if cfg.Upload.ChunkSize != 10*bytesize.MiB {
		t.Errorf("expected 10MiB chunk size, got %s", cfg.Upload.ChunkSize)
	}
	if cfg.Upload.SessionTTL != 24*time.Hour {
		t.Errorf("expected 24h session TTL, got %v", cfg.Upload.SessionTTL)
	}
	if cfg.RateLimit.Download["anonymous"].Limit != 30 {
		t.Errorf("unexpected anonymous download budget: %+v", cfg.RateLimit.Download)
	}
	if cfg.RateLimit.AbuseThreshold != 100 {
		t.Errorf("expected abuse threshold 100, got %d", cfg.RateLimit.AbuseThreshold)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected 30s shutdown timeout, got %v", cfg.ShutdownTimeout)
	}

	// Defaults never clobber explicit values
	set := &Config{}
	set.Server.Port = 9000
	ApplyDefaults(set)
	if set.Server.Port != 9000 {
		t.Errorf("explicit port should survive defaults, got %d", set.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config should pass: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"same tier paths", func(c *Config) { c.Storage.ColdPath = c.Storage.HotPath }},
		{"zero chunk size", func(c *Config) { c.Upload.ChunkSize = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad database type", func(c *Config) { c.Database.Type = "oracle" }},
		{"postgres without host", func(c *Config) { c.Database.Type = DatabasePostgres }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s should fail validation", tc.name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `
logging:
  level: DEBUG
server:
  port: 9999
upload:
  chunk_size: 1Mi
  session_ttl: 2h
auth:
  jwt_secret: file-secret
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("file value should win, got port %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Upload.ChunkSize != bytesize.MiB {
		t.Errorf("chunk_size should parse as 1MiB, got %s", cfg.Upload.ChunkSize)
	}
	if cfg.Upload.SessionTTL != 2*time.Hour {
		t.Errorf("session_ttl should parse as 2h, got %v", cfg.Upload.SessionTTL)
	}
	// Untouched sections still get defaults
	if cfg.Download.CacheTTL != 300*time.Second {
		t.Errorf("expected default cache TTL, got %v", cfg.Download.CacheTTL)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	// No jwt secret anywhere fails validation
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("config without a jwt secret should fail to load")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing config file should fail to load")
	}
}
