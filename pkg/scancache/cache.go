package scancache

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// Cache is the sharded, TTL- and LRU-evicted scan result cache.
type Cache struct {
	shards [shardCount]*shard
	ttl    time.Duration
}

// New constructs a Cache from the cache.* configuration options.
func New(cfg config.CacheConfiguration) *Cache {
	perShardBudget := int64(cfg.ByteBudget) / shardCount
	c := &Cache{ttl: cfg.TTL()}
	for i := range c.shards {
		c.shards[i] = newShard(perShardBudget)
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(key string) (*Entry, bool) {
	return c.shardFor(key).get(key, time.Now())
}

// Put stores value under key with the cache's configured TTL, estimating
// SizeBytes as the encoded composite verdict length plus 64 bytes.
func (c *Cache) Put(key string, value []byte) {
	now := time.Now()
	entry := &Entry{
		Key:              key,
		CompositeVerdict: value,
		SizeBytes:        int64(len(value)) + 64,
		StoredAt:         now,
	}
	if c.ttl > 0 {
		entry.ExpiresAt = now.Add(c.ttl)
	}
	c.shardFor(key).put(key, entry)
}

// Compute is the function signature used by GetOrCompute to produce a value
// on a cache miss.
type Compute func(ctx context.Context) ([]byte, error)

// GetOrCompute returns the cached entry for key if present, otherwise
// invokes compute exactly once across all concurrent callers requesting the
// same key (single-flight coalescing) and caches the result.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute Compute) ([]byte, error) {
	target := c.shardFor(key)

	for {
		if entry, ok := target.get(key, time.Now()); ok {
			return entry.CompositeVerdict, nil
		}

		wait, owner := target.acquireOrWait(key)
		if !owner {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, sderrors.New(sderrors.KindCancelled, "cancelled while waiting for in-flight scan")
			}
		}

		value, err := compute(ctx)
		if err != nil {
			target.release(key)
			return nil, err
		}
		c.Put(key, value)
		target.release(key)
		return value, nil
	}
}

// SweepExpired removes expired entries across all shards, returning the
// total count removed. Intended to be called periodically by a housekeeping
// loop rather than on every access.
func (c *Cache) SweepExpired() int {
	now := time.Now()
	total := 0
	for _, s := range c.shards {
		total += s.sweepExpired(now)
	}
	return total
}
