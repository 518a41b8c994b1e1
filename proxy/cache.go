package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "ebay-harvester:proxies:"

// cacheKey scopes the cached list to the URL it was downloaded from.
func cacheKey(listURL string) string {
	sum := sha256.Sum256([]byte(listURL))
	return cacheKeyPrefix + hex.EncodeToString(sum[:8])
}

// RedisListCache keeps the downloaded proxy list in Redis so that runs
// started within the TTL do not hit the list provider again.
type RedisListCache struct {
	client *redis.Client
	key    string
}

// NewRedisListCache connects to Redis and checks it answers. Lists are
// cached per listURL.
func NewRedisListCache(ctx context.Context, addr string, db int, listURL string) (*RedisListCache, error) {
	const op = "proxy.NewRedisListCache"

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisListCache{client: rdb, key: cacheKey(listURL)}, nil
}

// Get returns the cached list, or nil on a cache miss.
func (c *RedisListCache) Get(ctx context.Context) ([]string, error) {
	const op = "proxy.RedisListCache.Get"

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Set stores the list for ttl.
func (c *RedisListCache) Set(ctx context.Context, proxies []string, ttl time.Duration) error {
	const op = "proxy.RedisListCache.Set"

	data, err := json.Marshal(proxies)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisListCache) Close() error {
	return c.client.Close()
}
