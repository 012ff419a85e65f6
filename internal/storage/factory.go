package storage

import (
	"context"
	"fmt"

	"eventnet/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open builds the configured KV backend. redisClient is required only for the
// redis driver. With cfg.Failover set the backend is wrapped in a FailoverKV.
func Open(ctx context.Context, cfg config.StorageConfig, redisCfg config.RedisConfig, redisClient *redis.Client, logger *zerolog.Logger) (KV, error) {
	var (
		primary KV
		err     error
	)

	switch cfg.Driver {
	case "sqlite":
		primary, err = NewSQLiteKV(cfg.Path, logger)
	case "postgres":
		primary, err = NewPostgresKV(ctx, cfg.Postgres.DSN(), cfg.Postgres.Table)
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis storage requires a connected redis client")
		}
		primary = NewRedisKV(redisClient, redisCfg.KeyPrefix)
	case "memory", "":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Failover {
		return NewFailoverKV(primary, NewMemoryKV(), logger), nil
	}
	return primary, nil
}
