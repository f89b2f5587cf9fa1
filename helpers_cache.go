// ctorhelp/helpers_cache.go
// Contains helper functions for memory caching (Ristretto).
package ctorhelp

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// Memory Cache
// ============================================================================

// memoryCache is the surface withMemoryCache needs from a cache.
type memoryCache interface {
	GetMemoryCache(key string) (any, bool)
	SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool
	MemoryCacheEnabled() bool
}

// UnitCache keeps parsed per-context units in a ristretto cache.
type UnitCache struct {
	mu     sync.RWMutex
	cache  *ristretto.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewUnitCache creates the in-memory unit cache. A cache that cannot be
// created is logged and left disabled; callers then compute every unit.
func NewUnitCache(ttl time.Duration, logger *slog.Logger) *UnitCache {
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("component", "UnitCache")
	memCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     256 << 20, // 256MB
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		cacheLogger.Warn("Failed to create ristretto memory cache, in-memory caching disabled.", "error", err)
		memCache = nil
	} else {
		cacheLogger.Info("Initialized ristretto in-memory cache", "max_cost", "256MB", "ttl", ttl)
	}
	return &UnitCache{cache: memCache, ttl: ttl, logger: cacheLogger}
}

// GetMemoryCache implements memoryCache.
func (c *UnitCache) GetMemoryCache(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache == nil {
		return nil, false
	}
	return cache.Get(key)
}

// SetMemoryCache implements memoryCache.
func (c *UnitCache) SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache == nil {
		return false
	}
	set := cache.SetWithTTL(key, value, cost, ttl)
	if !set {
		c.logger.Warn("SetMemoryCache failed.", "key", key, "cost", cost, "ttl", ttl)
	}
	return set
}

// MemoryCacheEnabled returns true if the Ristretto cache is initialized and available.
func (c *UnitCache) MemoryCacheEnabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache != nil
}

// TTL returns the time-to-live applied to new entries.
func (c *UnitCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// SetTTL changes the time-to-live for entries stored from now on.
func (c *UnitCache) SetTTL(ttl time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Wait blocks until buffered writes are applied.
func (c *UnitCache) Wait() {
	if c == nil {
		return
	}
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache != nil {
		cache.Wait()
	}
}

// Clear drops every cached unit.
func (c *UnitCache) Clear() {
	if c == nil {
		return
	}
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache != nil {
		c.logger.Debug("Clearing ristretto memory cache")
		cache.Clear()
	}
}

// Metrics returns the performance metrics collected by Ristretto.
func (c *UnitCache) Metrics() *ristretto.Metrics {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cache != nil {
		return c.cache.Metrics
	}
	return nil
}

// Close releases the cache.
func (c *UnitCache) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		c.logger.Info("Closing ristretto memory cache.")
		c.cache.Close()
		c.cache = nil
	}
}

// ============================================================================
// Memory Cache Helpers
// ============================================================================

// generateCacheKey creates a memory cache key for derived state of one file.
// Format: prefix:path:hash:symbols (symbols sorted so order does not matter).
func generateCacheKey(prefix, path string, text []byte, symbols []string) string {
	if path == "" {
		path = "[unknown-path]"
	}
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s:%s:%016x:%s", prefix, path, hashContent(text), strings.Join(sorted, ","))
}

// withMemoryCache wraps a function call with caching logic.
// Tries to fetch from cache using cacheKey. If miss, calls computeFn,
// stores the result with cost and ttl, and returns it.
// Returns the result (cached or computed), a boolean indicating cache hit, and any error from computeFn.
func withMemoryCache[T any](
	cache memoryCache,
	cacheKey string,
	cost int64,
	ttl time.Duration,
	computeFn func() (T, error),
	logger *slog.Logger,
) (T, bool, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("cache_key", cacheKey)

	if cache == nil || !cache.MemoryCacheEnabled() {
		result, err := computeFn()
		return result, false, err
	}

	if cachedResult, found := cache.GetMemoryCache(cacheKey); found {
		if typedResult, ok := cachedResult.(T); ok {
			cacheLogger.Debug("Memory cache hit")
			return typedResult, true, nil
		}
		// The entry will be overwritten below.
		cacheLogger.Error("Memory cache type assertion failed", "expected_type", fmt.Sprintf("%T", zero), "actual_type", fmt.Sprintf("%T", cachedResult))
	} else {
		cacheLogger.Debug("Memory cache miss")
	}

	computedResult, err := computeFn()
	if err != nil {
		return zero, false, err
	}

	if cost <= 0 {
		cost = max(estimateCost(computedResult), 1)
	}
	if ttl <= 0 {
		ttl = time.Duration(defaultMemoryCacheTTLSecs) * time.Second
	}
	cache.SetMemoryCache(cacheKey, computedResult, cost, ttl)
	return computedResult, false, nil
}

// estimateCost estimates the ristretto cost of a value in bytes.
func estimateCost(v any) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val))
	case []byte:
		return int64(len(val))
	case *csharpUnit:
		if val == nil {
			return 1
		}
		// Token and symbol headers dominate the text itself.
		return int64(val.length) + int64(len(val.tokens))*48 + int64(len(val.types))*256
	default:
		return 1
	}
}
