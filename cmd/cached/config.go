package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the central daemon configuration. Each section maps onto one
// subsystem; the backend field selects which storage section applies.
type Config struct {
	Listen   string         `yaml:"listen"`
	Backend  string         `yaml:"backend"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Memory   MemoryConfig   `yaml:"memory"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// AuthConfig guards the HTTP API. TokenDigest is a bcrypt digest of the
// bearer token; empty disables authentication.
type AuthConfig struct {
	TokenDigest string `yaml:"token_digest"`
}

// CacheConfig holds service-level settings.
type CacheConfig struct {
	DefaultTTL         time.Duration `yaml:"default_ttl"`
	KeyPrefix          string        `yaml:"key_prefix"`
	StampedeProtection bool          `yaml:"stampede_protection"`
}

// MemoryConfig holds in-memory backend settings.
type MemoryConfig struct {
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:  ":8080",
		Backend: "memory",
		Cache: CacheConfig{
			DefaultTTL: time.Hour,
		},
		Memory: MemoryConfig{
			JanitorInterval: time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CACHED_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CACHED_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("CACHED_TOKEN_DIGEST"); v != "" {
		cfg.Auth.TokenDigest = v
	}
	if v := os.Getenv("CACHED_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CACHED_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CACHED_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q (want memory, redis, or postgres)", c.Backend)
	}
	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache.default_ttl must not be negative")
	}
	return nil
}
