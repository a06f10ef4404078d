package summarizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "linksummary:summary:"

// RedisCache shares summaries between agent replicas.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("ping redis (addr = %s): %w", addr, err), client.Close())
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	summary, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get key: %w", err)
	}

	return summary, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, summary string, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, summary, ttl).Err(); err != nil {
		return fmt.Errorf("set key: %w", err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
