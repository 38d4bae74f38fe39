package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/khanakat/cachekit/cache"
	"github.com/khanakat/cachekit/httpapi"
	"github.com/khanakat/cachekit/memory"
	"github.com/khanakat/cachekit/postgres"
	"github.com/khanakat/cachekit/redis"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache daemon",
		Long:  "Serve the cache API on the configured address until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := DefaultConfig()
			if configPath != "" {
				loaded, err := LoadFromFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			LoadFromEnv(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			repo, err := buildRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			svc, err := buildService(repo, cfg)
			if err != nil {
				return err
			}

			server := httpapi.NewServer(svc,
				httpapi.WithAddress(cfg.Listen),
				httpapi.WithTokenDigest(cfg.Auth.TokenDigest),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("cached: serving %s backend on %s", cfg.Backend, cfg.Listen)
			if err := server.Start(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	return cmd
}

func buildRepository(cfg *Config) (cache.Repository, error) {
	switch cfg.Backend {
	case "memory":
		var opts []memory.Option
		if cfg.Memory.JanitorInterval > 0 {
			opts = append(opts, memory.WithJanitor(cfg.Memory.JanitorInterval))
		}
		return memory.NewRepository(opts...), nil
	case "redis":
		return redis.NewRepository(redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		}), nil
	case "postgres":
		db, err := postgres.Open(
			postgres.WithDSN(cfg.Postgres.DSN),
			postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
			postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		)
		if err != nil {
			return nil, err
		}
		if err := postgres.ApplyMigrations(context.Background(), db, postgres.Schema()...); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgres.NewRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildService(repo cache.Repository, cfg *Config) (*cache.Service, error) {
	opts := []cache.Option{cache.WithKeyPrefix(cfg.Cache.KeyPrefix)}
	if cfg.Cache.DefaultTTL > 0 {
		ttl, err := cache.TTLFromDuration(cfg.Cache.DefaultTTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithDefaultTTL(ttl))
	}
	if cfg.Cache.StampedeProtection {
		opts = append(opts, cache.WithStampedeProtection())
	}
	return cache.NewService(repo, opts...), nil
}
