// Package postgres implements the cache.Repository contract on top of a
// single PostgreSQL table, with tags held in a text[] column under a GIN
// index. Atomic primitives are single statements (or row-locked
// transactions), so per-key atomicity comes from Postgres itself.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var ErrMissingDSN = errors.New("postgres: DSN is required")

// Options configures PostgreSQL connections and pool behavior.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

// WithMaxOpenConns controls the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

// WithMaxIdleConns controls the idle connection pool size.
func WithMaxIdleConns(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxIdleConns = n
		}
	}
}

// WithConnMaxLifetime controls how long a connection can be reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

func defaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects to PostgreSQL using the provided options and applies pool
// settings.
func Open(opts ...Option) (*sql.DB, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return db, nil
}

// Schema returns the DDL statements for the cache table, in order.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			ttl_seconds BIGINT NOT NULL DEFAULT 0,
			tags        TEXT[] NOT NULL DEFAULT '{}',
			metadata    JSONB,
			hit_count   BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS cache_entries_tags_idx ON cache_entries USING GIN (tags)`,
		`CREATE INDEX IF NOT EXISTS cache_entries_expires_idx ON cache_entries (expires_at)`,
	}
}

// ApplyMigrations executes the provided SQL statements in order within the
// given context.
func ApplyMigrations(ctx context.Context, db *sql.DB, statements ...string) error {
	if db == nil {
		return fmt.Errorf("postgres: db is nil")
	}
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
