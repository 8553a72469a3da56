// Package cache is the read-side invalidation cache in front of the
// property-records store (spec.md §4.D [EXPANSION]).
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize bounds how many keys SCAN returns per cursor round trip.
const scanBatchSize = 200

// Cache wraps a go-redis client with the two operations the persistence
// gateway needs after a successful write: point deletes and prefix
// invalidation (Redis has no native prefix-delete primitive).
type Cache struct {
	rdb *redis.Client
}

// New builds a Cache over the given connection options.
func New(opts *redis.Options) *Cache {
	return &Cache{rdb: redis.NewClient(opts)}
}

// Ping verifies connectivity. The binaries do not call it at startup;
// a Redis outage surfaces on the first invalidation instead.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Delete removes a single key. A missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	return nil
}

// DeletePattern removes every key matching prefix (a glob pattern, e.g.
// "properties:list:*") via a non-blocking SCAN cursor loop followed by a
// pipelined DEL per batch, avoiding the KEYS command's O(n) full-keyspace
// block on a live server.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("cache: scan %q: %w", pattern, err)
		}

		if len(keys) > 0 {
			pipe := c.rdb.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("cache: pipelined delete for %q: %w", pattern, err)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
