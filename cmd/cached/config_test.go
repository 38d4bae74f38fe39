package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Listen != ":8080" {
		t.Fatalf("Listen = %q", cfg.Listen)
	}
	if cfg.Backend != "memory" {
		t.Fatalf("Backend = %q", cfg.Backend)
	}
	if cfg.Cache.DefaultTTL != time.Hour {
		t.Fatalf("DefaultTTL = %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Memory.JanitorInterval != time.Minute {
		t.Fatalf("JanitorInterval = %v", cfg.Memory.JanitorInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `
listen: ":9090"
backend: redis
cache:
  default_ttl: 5m
  key_prefix: "edge:"
  stampede_protection: true
redis:
  addr: redis.internal:6379
  db: 2
  pool_size: 20
`
	path := filepath.Join(t.TempDir(), "cached.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Backend != "redis" {
		t.Fatalf("loaded config = %+v", cfg)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Fatalf("DefaultTTL = %v", cfg.Cache.DefaultTTL)
	}
	if !cfg.Cache.StampedeProtection || cfg.Cache.KeyPrefix != "edge:" {
		t.Fatalf("cache section = %+v", cfg.Cache)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.DB != 2 || cfg.Redis.PoolSize != 20 {
		t.Fatalf("redis section = %+v", cfg.Redis)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Memory.JanitorInterval != time.Minute {
		t.Fatalf("JanitorInterval = %v", cfg.Memory.JanitorInterval)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFromFile() error = nil for a missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CACHED_LISTEN", ":7070")
	t.Setenv("CACHED_BACKEND", "postgres")
	t.Setenv("CACHED_POSTGRES_DSN", "postgres://cache@db/cache")
	t.Setenv("CACHED_TOKEN_DIGEST", "digest")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Listen != ":7070" || cfg.Backend != "postgres" {
		t.Fatalf("env overrides = %+v", cfg)
	}
	if cfg.Postgres.DSN != "postgres://cache@db/cache" {
		t.Fatalf("DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.Auth.TokenDigest != "digest" {
		t.Fatalf("TokenDigest = %q", cfg.Auth.TokenDigest)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "memcached"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil for an unknown backend")
	}

	cfg = DefaultConfig()
	cfg.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil for postgres without a DSN")
	}

	cfg = DefaultConfig()
	cfg.Cache.DefaultTTL = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil for a negative default TTL")
	}
}
