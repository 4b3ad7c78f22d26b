package providers

import (
	"dupguard/internal/structures"
	"strconv"

	"github.com/coocood/freecache"
)

// CacheProviderInterface memoizes computed fingerprints keyed by attachment
// identity and hash size.
type CacheProviderInterface interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// FingerprintCacheKey is the cache key of an attachment hashed at size.
// Attachment ids are stable across edits and reposts of the same upload.
func FingerprintCacheKey(attachmentID string, size int) string {
	return attachmentID + ":" + strconv.Itoa(size)
}

// CacheProvider is a fixed-size freecache arena. Entries expire after the
// configured TTL or get evicted when the arena wraps.
type CacheProvider struct {
	cache *freecache.Cache
	ttl   int
}

func NewCacheProvider(conf *structures.Config, logger Logger) CacheProviderInterface {
	if !conf.Cache.Enabled || conf.Cache.Size <= 0 {
		logger.Infof(TypeApp, "Fingerprint cache disabled")
		return &noopCache{}
	}

	// freecache takes whole seconds; anything shorter would mean "never expire"
	ttl := max(int(conf.Cache.TTL.Seconds()), 1)
	logger.Infof(TypeApp, "Fingerprint cache initialized: %dMB, TTL=%ds", conf.Cache.Size, ttl)

	return &CacheProvider{
		cache: freecache.NewCache(conf.Cache.Size << 20),
		ttl:   ttl,
	}
}

func (c *CacheProvider) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *CacheProvider) Set(key string, value []byte) {
	_ = c.cache.Set([]byte(key), value, c.ttl)
}

// Entries is the number of live fingerprints held.
func (c *CacheProvider) Entries() int64 {
	return c.cache.EntryCount()
}

// Evictions counts fingerprints dropped to make room, not expired ones.
func (c *CacheProvider) Evictions() int64 {
	return c.cache.EvacuateCount()
}

type noopCache struct{}

func (n *noopCache) Get(_ string) ([]byte, bool) { return nil, false }
func (n *noopCache) Set(_ string, _ []byte)      {}
