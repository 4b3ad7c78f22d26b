package providers

import (
	"dupguard/internal/structures"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache map[string][]byte

func (c mapCache) Get(key string) ([]byte, bool) {
	v, ok := c[key]
	return v, ok
}

func (c mapCache) Set(key string, value []byte) { c[key] = value }

func TestMetricsCacheProvider_CountsLookups(t *testing.T) {
	inner := mapCache{"att-a:8": []byte("00ff00ff00ff00ff")}
	metrics := &mockMetrics{}
	cache := &MetricsCacheProvider{inner: inner, metrics: metrics}

	val, ok := cache.Get("att-a:8")
	require.True(t, ok)
	assert.Equal(t, "00ff00ff00ff00ff", string(val))

	_, ok = cache.Get("att-b:8")
	assert.False(t, ok)

	assert.Equal(t, 1, metrics.cacheHits)
	assert.Equal(t, 1, metrics.cacheMisses)
}

func TestMetricsCacheProvider_SetReachesInner(t *testing.T) {
	inner := mapCache{}
	cache := &MetricsCacheProvider{inner: inner, metrics: &mockMetrics{}}

	cache.Set("att-c:16", []byte("ffff"))

	assert.Equal(t, []byte("ffff"), inner["att-c:16"])
	assert.Equal(t, uint64(1), cache.Stats().Stores)
}

func TestMetricsCacheProvider_Stats(t *testing.T) {
	tests := []struct {
		name    string
		lookups []string
		hits    uint64
		misses  uint64
		rate    float64
	}{
		{"no lookups", nil, 0, 0, 0},
		{"all hits", []string{"x:8", "x:8"}, 2, 0, 1},
		{"half", []string{"x:8", "y:8", "x:8", "z:8"}, 2, 2, 0.5},
		{"all misses", []string{"y:8"}, 0, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &MetricsCacheProvider{inner: mapCache{"x:8": []byte("1")}, metrics: &mockMetrics{}}
			for _, key := range tt.lookups {
				cache.Get(key)
			}

			stats := cache.Stats()
			assert.True(t, stats.Enabled)
			assert.Equal(t, tt.hits, stats.Hits)
			assert.Equal(t, tt.misses, stats.Misses)
			assert.InDelta(t, tt.rate, stats.HitRate, 1e-9)
			assert.Zero(t, stats.Entries, "map-backed cache has no arena")
		})
	}
}

func TestNewInstrumentedCacheProvider_NoArenaIsUnwrapped(t *testing.T) {
	for _, cc := range []structures.CacheConfig{
		{Enabled: false, Size: 4},
		{Enabled: true, Size: 0},
	} {
		cache := NewInstrumentedCacheProvider(&structures.Config{Cache: cc}, NopLogger{}, &mockMetrics{})

		_, wrapped := cache.(*MetricsCacheProvider)
		assert.False(t, wrapped)
		assert.False(t, cache.(CacheStatsReporter).Stats().Enabled)
	}
}

func TestNewInstrumentedCacheProvider_ReportsArena(t *testing.T) {
	conf := &structures.Config{Cache: structures.CacheConfig{Enabled: true, Size: 1, TTL: time.Minute}}
	metrics := &mockMetrics{}
	cache := NewInstrumentedCacheProvider(conf, NopLogger{}, metrics)

	cache.Set(FingerprintCacheKey("a", 8), []byte("1"))
	cache.Set(FingerprintCacheKey("b", 8), []byte("2"))
	_, ok := cache.Get(FingerprintCacheKey("a", 8))
	require.True(t, ok)

	stats := cache.(CacheStatsReporter).Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, 1, metrics.cacheHits)
}
