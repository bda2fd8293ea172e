package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// clearBatch is the SCAN page size used by Clear.
const clearBatch = 100

// Redis stores entries in a shared redis server with native expiry. The
// entry bound is left to the server's maxmemory policy.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttls   TTLs
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a cache storing keys under prefix.
func NewRedis(client redis.UniversalClient, prefix string, ttls TTLs) *Redis {
	return &Redis{client: client, prefix: prefix, ttls: ttls}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry from redis: %w", err)
	}
	return value, true, nil
}

func (c *Redis) Put(ctx context.Context, key string, value []byte, class TTLClass) error {
	if err := c.client.Set(ctx, c.prefix+key, value, c.ttls.For(class)).Err(); err != nil {
		return fmt.Errorf("writing cache entry to redis: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting cache entry from redis: %w", err)
	}
	return nil
}

// Clear deletes every key under the prefix.
func (c *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", clearBatch).Result()
		if err != nil {
			return fmt.Errorf("scanning redis cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("clearing redis cache: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close releases the redis connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
