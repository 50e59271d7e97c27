package research

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synapselabs/cortex/llm/cache"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
)

// ResultCache is A4: a cache of completed/partial research results keyed by
// plan id, built on the multi-level prompt cache (L1 in-process LRU, plus an
// L2 Redis tier when a client is attached) with an added active eviction
// sweep for entries older than maxAge (the LRU's own TTL only evicts lazily
// on Get).
//
// An optional ResultStore makes it durable: Put writes through, and a Get
// that misses both cache levels falls back to the store before reporting
// absence, so a result survives a process restart or a rolling deploy.
type ResultCache struct {
	mlc      *cache.MultiLevelCache
	capacity int
	maxAge   time.Duration

	mu      sync.Mutex
	created map[string]time.Time

	store  *ResultStore
	logger *zap.Logger
}

// WithStore attaches a durable ResultStore to c and returns c for chaining.
// Call once during wiring; nil disables the durable tier (the default).
func (c *ResultCache) WithStore(store *ResultStore, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.store = store
	c.logger = logger.With(zap.String("component", "research_result_cache"))
	return c
}

// WithRedis attaches an L2 Redis tier and returns c for chaining. A result
// evicted from the in-process LRU (or Put by another replica sharing the
// same Redis) is then still served from Redis before the durable store is
// consulted.
func (c *ResultCache) WithRedis(rdb *redis.Client, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.mlc = newResultLevels(c.capacity, c.maxAge, rdb, logger)
	return c
}

// NewResultCache builds A4. capacity bounds the number of cached plans;
// maxAge defaults to 24h.
func NewResultCache(capacity int, maxAge time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &ResultCache{
		mlc:      newResultLevels(capacity, maxAge, nil, zap.NewNop()),
		capacity: capacity,
		maxAge:   maxAge,
		created:  make(map[string]time.Time),
		logger:   zap.NewNop(),
	}
}

func newResultLevels(capacity int, maxAge time.Duration, rdb *redis.Client, logger *zap.Logger) *cache.MultiLevelCache {
	return cache.NewMultiLevelCache(rdb, &cache.CacheConfig{
		LocalMaxSize: capacity,
		LocalTTL:     maxAge,
		RedisTTL:     maxAge,
		EnableLocal:  true,
		EnableRedis:  rdb != nil,
	}, logger)
}

// Put stores or replaces the result for planID in both cache levels, and
// persists it to the durable store if one is attached.
func (c *ResultCache) Put(planID string, result *types.ResearchResult) {
	if err := c.mlc.Set(context.Background(), planID, &cache.CacheEntry{Response: result}); err != nil {
		c.logger.Warn("failed to cache research result", zap.String("plan_id", planID), zap.Error(err))
	}

	c.mu.Lock()
	c.created[planID] = time.Now()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(context.Background(), planID, result); err != nil {
			c.logger.Warn("failed to persist research result", zap.String("plan_id", planID), zap.Error(err))
		}
	}
}

// Get returns the cached result, or ok=false if absent or expired in both
// cache levels and (when a durable store is attached) not found there.
func (c *ResultCache) Get(planID string) (*types.ResearchResult, bool) {
	if entry, err := c.mlc.Get(context.Background(), planID); err == nil {
		if result, ok := decodeCachedResult(entry.Response); ok {
			return result, true
		}
	}

	if c.store == nil {
		return nil, false
	}
	result, ok, err := c.store.Get(context.Background(), planID)
	if err != nil {
		c.logger.Warn("failed to load research result from store", zap.String("plan_id", planID), zap.Error(err))
		return nil, false
	}
	if ok {
		if err := c.mlc.Set(context.Background(), planID, &cache.CacheEntry{Response: result}); err != nil {
			c.logger.Warn("failed to re-cache research result", zap.String("plan_id", planID), zap.Error(err))
		}
	}
	return result, ok
}

// decodeCachedResult recovers a ResearchResult from a cache entry's payload.
// The L1 hit path hands back the original pointer; an L2 hit has been
// through a JSON round trip and comes back as a generic map, so it is
// re-marshalled into the concrete type.
func decodeCachedResult(v any) (*types.ResearchResult, bool) {
	if result, ok := v.(*types.ResearchResult); ok {
		return result, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var result types.ResearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Sweep removes entries older than maxAge from both cache levels. Intended
// to run periodically (e.g. hourly) alongside the LRU's lazy per-Get expiry.
func (c *ResultCache) Sweep(now time.Time) int {
	c.mu.Lock()
	var expired []string
	for id, createdAt := range c.created {
		if now.Sub(createdAt) > c.maxAge {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(c.created, id)
	}
	c.mu.Unlock()

	for _, id := range expired {
		if err := c.mlc.Delete(context.Background(), id); err != nil {
			c.logger.Warn("failed to evict research result", zap.String("plan_id", id), zap.Error(err))
		}
	}
	return len(expired)
}

// Stats reports the number of tracked results and the configured L1
// capacity.
func (c *ResultCache) Stats() (size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created), c.capacity
}
