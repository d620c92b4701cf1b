// README: Redis client initialization for settings cache, pub/sub, GEO mirror and offer ledger.
package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"honeycomb/internal/config"
)

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
