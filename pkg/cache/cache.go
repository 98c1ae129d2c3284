// Package cache provides the byte-cache service used by the symbolication
// pipeline to memoize release artifacts and scrape results across runs.
//
// The [Cache] interface is deliberately small: get, set with TTL, delete.
// Backends include an in-process [Memory] cache, a [File] cache for CLI use,
// a [Redis] cache for production deployments, and [Null] for disabling
// caching entirely. [Limited] layers a hard maximum value size on top of any
// backend, silently skipping oversized writes the way memcached-style
// services do.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores opaque byte values under string keys with per-entry TTL.
//
// Implementations must treat a missing key as (nil, false, nil), not as an
// error. A TTL of 0 means the entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
