package providers

import (
	"dupguard/internal/structures"
	"sync/atomic"
)

// CacheStats is a point-in-time view of fingerprint cache effectiveness.
type CacheStats struct {
	Enabled bool    `json:"enabled"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Stores  uint64  `json:"stores"`
	HitRate float64 `json:"hit_rate"`

	// Entries and Evictions come from the freecache arena when there is one.
	Entries   int64 `json:"entries"`
	Evictions int64 `json:"evictions"`
}

type CacheStatsReporter interface {
	Stats() CacheStats
}

// MetricsCacheProvider counts lookups into both prometheus and local
// counters, so the health endpoint can report a hit rate without scraping.
type MetricsCacheProvider struct {
	inner   CacheProviderInterface
	metrics MetricsProviderInterface
	hits    atomic.Uint64
	misses  atomic.Uint64
	stores  atomic.Uint64
}

func (c *MetricsCacheProvider) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
		c.metrics.IncCacheHits()
	} else {
		c.misses.Add(1)
		c.metrics.IncCacheMisses()
	}
	return val, ok
}

func (c *MetricsCacheProvider) Set(key string, value []byte) {
	c.stores.Add(1)
	c.inner.Set(key, value)
}

func (c *MetricsCacheProvider) Stats() CacheStats {
	s := CacheStats{Enabled: true, Hits: c.hits.Load(), Misses: c.misses.Load(), Stores: c.stores.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if arena, ok := c.inner.(*CacheProvider); ok {
		s.Entries = arena.Entries()
		s.Evictions = arena.Evictions()
	}
	return s
}

func (n *noopCache) Stats() CacheStats { return CacheStats{} }

// NewInstrumentedCacheProvider returns the fingerprint cache. A disabled
// cache is not wrapped, so it never reports misses.
func NewInstrumentedCacheProvider(conf *structures.Config, logger Logger, metrics MetricsProviderInterface) CacheProviderInterface {
	inner := NewCacheProvider(conf, logger)
	if _, ok := inner.(*CacheProvider); !ok {
		return inner
	}
	return &MetricsCacheProvider{
		inner:   inner,
		metrics: metrics,
	}
}
