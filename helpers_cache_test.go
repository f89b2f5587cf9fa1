// ctorhelp/helpers_cache_test.go
package ctorhelp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache is a synchronous memoryCache for exercising withMemoryCache.
type mapCache struct {
	entries map[string]any
	ttls    map[string]time.Duration
	costs   map[string]int64
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]any{}, ttls: map[string]time.Duration{}, costs: map[string]int64{}}
}

func (m *mapCache) GetMemoryCache(key string) (any, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *mapCache) SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool {
	m.entries[key] = value
	m.costs[key] = cost
	m.ttls[key] = ttl
	return true
}

func (m *mapCache) MemoryCacheEnabled() bool { return true }

func TestWithMemoryCache(t *testing.T) {
	cache := newMapCache()
	calls := 0
	compute := func() (string, error) {
		calls++
		return "value", nil
	}

	got, hit, err := withMemoryCache(cache, "k", 0, 0, compute, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.False(t, hit)
	assert.Equal(t, int64(len("value")), cache.costs["k"])
	assert.Equal(t, time.Duration(defaultMemoryCacheTTLSecs)*time.Second, cache.ttls["k"])

	got, hit, err = withMemoryCache(cache, "k", 0, 0, compute, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
}

func TestWithMemoryCache_WrongTypeRecomputes(t *testing.T) {
	cache := newMapCache()
	cache.entries["k"] = 42
	got, hit, err := withMemoryCache(cache, "k", 3, time.Minute, func() (string, error) { return "fresh", nil }, discardLogger())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", got)
	assert.Equal(t, "fresh", cache.entries["k"])
	assert.Equal(t, int64(3), cache.costs["k"])
	assert.Equal(t, time.Minute, cache.ttls["k"])
}

func TestWithMemoryCache_ErrorNotCached(t *testing.T) {
	cache := newMapCache()
	boom := errors.New("boom")
	_, _, err := withMemoryCache(cache, "k", 0, 0, func() (string, error) { return "", boom }, discardLogger())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, cache.entries)
}

func TestWithMemoryCache_NilCache(t *testing.T) {
	var units *UnitCache
	calls := 0
	for range 2 {
		_, hit, err := withMemoryCache(units, "k", 0, 0, func() (int, error) { calls++; return 1, nil }, nil)
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 2, calls)

	// Every method tolerates a nil receiver.
	assert.Equal(t, time.Duration(0), units.TTL())
	assert.Nil(t, units.Metrics())
	units.SetTTL(time.Second)
	units.Wait()
	units.Clear()
	units.Close()
}

func TestUnitCache(t *testing.T) {
	units := NewUnitCache(time.Minute, discardLogger())
	t.Cleanup(units.Close)
	require.True(t, units.MemoryCacheEnabled())
	assert.Equal(t, time.Minute, units.TTL())
	units.SetTTL(2 * time.Minute)
	assert.Equal(t, 2*time.Minute, units.TTL())
	assert.NotNil(t, units.Metrics())

	units.Close()
	assert.False(t, units.MemoryCacheEnabled())
	assert.False(t, units.SetMemoryCache("k", 1, 1, time.Minute))
	_, ok := units.GetMemoryCache("k")
	assert.False(t, ok)
}

func TestGenerateCacheKey(t *testing.T) {
	text := []byte("class C { }")
	a := generateCacheKey("unit", "A.cs", text, []string{"X", "Y"})
	b := generateCacheKey("unit", "A.cs", text, []string{"Y", "X"})
	assert.Equal(t, a, b, "symbol order does not matter")
	assert.NotEqual(t, a, generateCacheKey("unit", "A.cs", []byte("class D { }"), []string{"X", "Y"}))
	assert.NotEqual(t, a, generateCacheKey("unit", "A.cs", text, []string{"X"}))
	assert.Contains(t, generateCacheKey("unit", "", text, nil), "[unknown-path]")
}

func TestEstimateCost(t *testing.T) {
	assert.Equal(t, int64(3), estimateCost("abc"))
	assert.Equal(t, int64(2), estimateCost([]byte("ab")))
	assert.Equal(t, int64(1), estimateCost((*csharpUnit)(nil)))
	unit := &csharpUnit{length: 10, tokens: make([]Token, 2)}
	assert.Equal(t, int64(10+2*48), estimateCost(unit))
	assert.Equal(t, int64(1), estimateCost(struct{}{}))
}
