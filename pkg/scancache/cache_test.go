package scancache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
)

func newTestCache(byteBudget, ttlSeconds uint64) *Cache {
	return New(config.CacheConfiguration{
		ByteBudget: config.ByteSize(byteBudget),
		TTLSeconds: ttlSeconds,
	})
}

// TestGetOrComputeCoalescesConcurrentMisses covers property #1: concurrent
// requests for the same uncached key trigger exactly one compute call, with
// every waiter observing the same result.
func TestGetOrComputeCoalescesConcurrentMisses(t *testing.T) {
	cache := newTestCache(1<<20, 60)

	var calls int32
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("verdict"), nil
	}

	const concurrency = 16
	var wg sync.WaitGroup
	results := make([][]byte, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := cache.GetOrCompute(context.Background(), "same-key", compute)
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = value
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 compute call across %d concurrent misses, got %d", concurrency, got)
	}
	for i, r := range results {
		if string(r) != "verdict" {
			t.Fatalf("waiter %d got %q, want %q", i, r, "verdict")
		}
	}
}

// TestGetOrComputeDistinctKeysComputeIndependently ensures coalescing is
// scoped per key, not global to the shard.
func TestGetOrComputeDistinctKeysComputeIndependently(t *testing.T) {
	cache := newTestCache(1<<20, 60)

	var calls int32
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := cache.GetOrCompute(context.Background(), key, compute); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", key, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 compute calls for 4 distinct keys, got %d", got)
	}
}

// TestGetOrComputeCachesSubsequentCall covers property #2's complement: once
// computed, a key is served from cache without invoking compute again.
func TestGetOrComputeCachesSubsequentCall(t *testing.T) {
	cache := newTestCache(1<<20, 60)

	var calls int32
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v1"), nil
	}

	if _, err := cache.GetOrCompute(context.Background(), "k", compute); err != nil {
		t.Fatalf("first GetOrCompute: %v", err)
	}
	if _, err := cache.GetOrCompute(context.Background(), "k", compute); err != nil {
		t.Fatalf("second GetOrCompute: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected the second call to hit cache, got %d compute calls", got)
	}
}

// TestEntryExpiresAfterTTL covers property #2: cache invalidation. An entry
// stored with a TTL is no longer returned by Get once it elapses, and a
// subsequent GetOrCompute recomputes it.
func TestEntryExpiresAfterTTL(t *testing.T) {
	cache := newTestCache(1<<20, 0)
	cache.ttl = 10 * time.Millisecond

	cache.Put("k", []byte("stale"))
	if _, ok := cache.Get("k"); !ok {
		t.Fatalf("expected entry to be present immediately after Put")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := cache.Get("k"); ok {
		t.Fatalf("expected entry to have expired")
	}

	var calls int32
	value, err := cache.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute after expiry: %v", err)
	}
	if string(value) != "fresh" || calls != 1 {
		t.Fatalf("expected a fresh recompute after TTL expiry, got %q (calls=%d)", value, calls)
	}
}

// TestPutEvictsLeastRecentlyUsed exercises the shard's byte-budget eviction
// directly: once the budget is exceeded, the least recently touched entry is
// dropped first, not the most recently inserted one.
func TestPutEvictsLeastRecentlyUsed(t *testing.T) {
	s := newShard(80) // fits roughly one 64+len(value)-byte entry at a time

	s.put("a", &Entry{Key: "a", SizeBytes: 65})
	s.put("b", &Entry{Key: "b", SizeBytes: 65})

	if _, ok := s.get("a", time.Now()); ok {
		t.Fatalf("expected the least recently used entry 'a' to have been evicted")
	}
	if _, ok := s.get("b", time.Now()); !ok {
		t.Fatalf("expected the most recently inserted entry 'b' to remain")
	}
}
