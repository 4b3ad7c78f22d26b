package hashing

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"errors"
	"fmt"
	"time"
)

var ErrTooLarge = errors.New("attachment exceeds size limit")

// Hasher turns an attachment into a fingerprint.
type Hasher interface {
	Fingerprint(ctx context.Context, att models.Attachment, size int) (Fingerprint, error)
}

// CachedHasher downloads, hashes on the worker pool and memoizes the result
// by attachment id and hash size, so a rescan of the same history does not
// download every image again.
type CachedHasher struct {
	pool     *Pool
	cache    providers.CacheProviderInterface
	metrics  providers.MetricsProviderInterface
	maxBytes int64
	timeout  time.Duration
}

func NewCachedHasher(conf *structures.Config, pool *Pool, cache providers.CacheProviderInterface, metrics providers.MetricsProviderInterface) *CachedHasher {
	return &CachedHasher{
		pool:     pool,
		cache:    cache,
		metrics:  metrics,
		maxBytes: conf.Hashing.MaxImageBytes,
		timeout:  conf.Hashing.DownloadTimeout,
	}
}

func cacheKey(att models.Attachment, size int) string {
	if att.ID == "" {
		return ""
	}
	return providers.FingerprintCacheKey(att.ID, size)
}

func (h *CachedHasher) Fingerprint(ctx context.Context, att models.Attachment, size int) (Fingerprint, error) {
	key := cacheKey(att, size)
	if key != "" {
		if v, ok := h.cache.Get(key); ok {
			if fp, err := ParseFingerprint(string(v)); err == nil && fp.Size() == size {
				return fp, nil
			}
		}
	}

	if h.maxBytes > 0 && att.Size > h.maxBytes {
		return Fingerprint{}, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, att.Filename, att.Size)
	}
	if att.Fetch == nil {
		return Fingerprint{}, fmt.Errorf("attachment %s has no content", att.Filename)
	}

	fetchCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	data, err := att.Fetch(fetchCtx)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("download %s: %w", att.Filename, err)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return Fingerprint{}, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, att.Filename, len(data))
	}

	start := time.Now()
	fp, err := h.pool.Compute(ctx, data, size)
	if err != nil {
		return Fingerprint{}, err
	}
	h.metrics.ObserveHashDuration(time.Since(start))

	if key != "" {
		h.cache.Set(key, []byte(fp.String()))
	}
	return fp, nil
}
