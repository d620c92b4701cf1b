// README: Redis cache for zone settings plus the settings-change channel.
package zoneconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "honeycomb:settings:"
	globalCacheKey = cacheKeyPrefix + "global"
	// SettingsChannel carries an Invalidation every time a zone's settings are written.
	SettingsChannel = "honeycomb:settings"
)

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

// Get returns (nil, false, nil) on a cache miss.
func (c *RedisCache) Get(ctx context.Context, zoneID string) (*ZoneDispatchConfig, bool, error) {
	raw, err := c.redis.Get(ctx, CacheKey(zoneID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var cfg ZoneDispatchConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

func (c *RedisCache) Set(ctx context.Context, cfg ZoneDispatchConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, CacheKey(cfg.ZoneID), raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Publish announces an invalidation on SettingsChannel.
func (c *RedisCache) Publish(ctx context.Context, inv Invalidation) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, SettingsChannel, raw).Err()
}

// Subscribe delivers invalidations until ctx is done. Malformed payloads are skipped.
func (c *RedisCache) Subscribe(ctx context.Context) <-chan Invalidation {
	out := make(chan Invalidation, 16)
	sub := c.redis.Subscribe(ctx, SettingsChannel)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					continue
				}
				select {
				case out <- inv:
				default:
				}
			}
		}
	}()
	return out
}

// CacheKey is the Redis key holding the cached row for zoneID.
func CacheKey(zoneID string) string {
	if zoneID == "" {
		return globalCacheKey
	}
	return cacheKeyPrefix + "zone:" + zoneID
}
