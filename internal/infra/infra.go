// Package infra opens the optional Postgres and Redis backends.
package infra

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/authsocket/internal/config"
)

const pingTimeout = 5 * time.Second

// Clients holds whichever backends are configured. Either field may be nil.
type Clients struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Open connects to the backends named in cfg and applies the schema. A
// backend without a URL is skipped.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Clients, error) {
	var c Clients
	if cfg.DatabaseURL != "" {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return Clients{}, err
		}
		if err := EnsureSchema(ctx, db); err != nil {
			db.Close()
			return Clients{}, err
		}
		c.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, peers and history kept in memory")
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			c.Close(logger)
			return Clients{}, err
		}
		c.Cache = cache
	} else {
		logger.Warn("REDIS_URL not set, nonces kept in memory and relay disabled")
	}
	return c, nil
}

// Close releases the open backends.
func (c Clients) Close(logger *slog.Logger) {
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
