package profile

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// cachePrefix is the Redis key prefix for cached profiles.
	cachePrefix = "profile:"

	// cacheTTL bounds staleness of cached display metadata.
	cacheTTL = 10 * time.Minute

	// negativeMarker is stored for identities with no profile so repeated
	// misses do not hammer the upstream store.
	negativeMarker = "-"
)

// RedisCache is a read-through cache in front of another Enricher. Cache
// errors fail open: the lookup falls through to the upstream store.
type RedisCache struct {
	rdb  *redis.Client
	next Enricher
}

// NewRedisCache wraps next with a Redis cache.
func NewRedisCache(rdb *redis.Client, next Enricher) *RedisCache {
	return &RedisCache{rdb: rdb, next: next}
}

// Lookup returns the cached profile when present, otherwise consults the
// upstream enricher and caches the result (including not-found).
func (c *RedisCache) Lookup(ctx context.Context, identityID string) (*Profile, error) {
	key := cachePrefix + identityID

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == negativeMarker {
			return nil, ErrNotFound
		}
		var p Profile
		if err := json.Unmarshal([]byte(val), &p); err == nil {
			return &p, nil
		}
		// Corrupt entry: fall through to upstream and overwrite.
	case err != redis.Nil:
		log.Printf("profile: cache GET %s: %v (falling through)", key, err)
	}

	p, err := c.next.Lookup(ctx, identityID)
	if err == ErrNotFound {
		c.store(ctx, key, negativeMarker)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if data, merr := json.Marshal(p); merr == nil {
		c.store(ctx, key, string(data))
	}
	return p, nil
}

func (c *RedisCache) store(ctx context.Context, key, val string) {
	if err := c.rdb.Set(ctx, key, val, cacheTTL).Err(); err != nil {
		log.Printf("profile: cache SET %s: %v", key, err)
	}
}
