// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about stacktrace processing, cache operations, and
// artifact fetches.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// This approach:
//   - Avoids import cycles (hooks are registered by main, not by libraries)
//   - Keeps the core library dependency-free from observability frameworks
//   - Allows different backends (OpenTelemetry, Prometheus, DataDog, etc.)
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetProcessorHooks(&myProcessorHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Processor().OnStacktraceStart(ctx, runID, frameCount)
//	// ... process frames ...
//	observability.Processor().OnStacktraceComplete(ctx, runID, sourcemaps, duration)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Processor Hooks
// =============================================================================

// ProcessorHooks receives events from stacktrace processing runs.
type ProcessorHooks interface {
	// OnStacktraceStart records the beginning of a processing run.
	OnStacktraceStart(ctx context.Context, runID string, frameCount int)

	// OnStacktraceComplete records a finished run and how many distinct
	// sourcemaps were applied during it.
	OnStacktraceComplete(ctx context.Context, runID string, sourcemaps int, duration time.Duration)

	// OnFrameError records a structured error attached to a frame.
	OnFrameError(ctx context.Context, kind string)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Fetch Hooks
// =============================================================================

// FetchHooks receives events from artifact resolution and web scraping.
type FetchHooks interface {
	// OnFetch records a completed retrieval and which tier satisfied it
	// ("cache", "archive", "store", "scrape").
	OnFetch(ctx context.Context, url, tier string, duration time.Duration)

	// OnFetchError records a failed retrieval.
	OnFetchError(ctx context.Context, url string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopProcessorHooks is a no-op implementation of ProcessorHooks.
type NoopProcessorHooks struct{}

func (NoopProcessorHooks) OnStacktraceStart(context.Context, string, int)                   {}
func (NoopProcessorHooks) OnStacktraceComplete(context.Context, string, int, time.Duration) {}
func (NoopProcessorHooks) OnFrameError(context.Context, string)                             {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopFetchHooks is a no-op implementation of FetchHooks.
type NoopFetchHooks struct{}

func (NoopFetchHooks) OnFetch(context.Context, string, string, time.Duration) {}
func (NoopFetchHooks) OnFetchError(context.Context, string, error)            {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	processorHooks ProcessorHooks = NoopProcessorHooks{}
	cacheHooks     CacheHooks     = NoopCacheHooks{}
	fetchHooks     FetchHooks     = NoopFetchHooks{}
	hooksMu        sync.RWMutex
)

// SetProcessorHooks registers custom processor hooks.
// This should be called once at application startup before any processing.
func SetProcessorHooks(h ProcessorHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		processorHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetFetchHooks registers custom fetch hooks.
// This should be called once at application startup before any fetches.
func SetFetchHooks(h FetchHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		fetchHooks = h
	}
}

// Processor returns the registered processor hooks.
func Processor() ProcessorHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return processorHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Fetch returns the registered fetch hooks.
func Fetch() FetchHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return fetchHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	processorHooks = NoopProcessorHooks{}
	cacheHooks = NoopCacheHooks{}
	fetchHooks = NoopFetchHooks{}
}
