package cache

import (
	"context"
	"time"
)

// LimitedCache enforces a hard maximum value size on top of another cache.
//
// Writes whose value exceeds the limit are silently skipped, mirroring the
// behavior of memcached-style backends that drop oversized payloads without
// reporting an error. Callers that need to distinguish a skipped write from a
// stored one read the key back, or consult cached size metadata, instead of
// relying on Set's return value.
type LimitedCache struct {
	inner   Cache
	maxSize int
}

// Limited wraps inner with a maximum value size in bytes.
// A maxSize of 0 disables the limit.
func Limited(inner Cache, maxSize int) *LimitedCache {
	return &LimitedCache{inner: inner, maxSize: maxSize}
}

// MaxValueSize returns the configured limit in bytes (0 = unlimited).
func (c *LimitedCache) MaxValueSize() int { return c.maxSize }

// Get delegates to the wrapped cache.
func (c *LimitedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.inner.Get(ctx, key)
}

// Set stores the value unless it exceeds the size limit, in which case the
// write is a no-op.
func (c *LimitedCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if c.maxSize > 0 && len(data) > c.maxSize {
		return nil
	}
	return c.inner.Set(ctx, key, data, ttl)
}

// Delete delegates to the wrapped cache.
func (c *LimitedCache) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

// Close closes the wrapped cache.
func (c *LimitedCache) Close() error { return c.inner.Close() }

var _ Cache = (*LimitedCache)(nil)
