// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about encoding, decoding, loop detection and cache
// operations.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// The codec and loop packages call hooks; the CLI registers the Prometheus
// implementation from [NewMetrics] when serving.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    m := observability.NewMetrics(prometheus.DefaultRegisterer)
//	    observability.SetCodecHooks(m)
//	    observability.SetLoopHooks(m)
//	    observability.SetCacheHooks(m)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Codec().OnDecodeStart(ctx, name, policy)
//	// ... decode ...
//	observability.Codec().OnDecodeComplete(ctx, name, nodeCount, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Codec Hooks
// =============================================================================

// CodecHooks receives events from graph encoding and decoding.
type CodecHooks interface {
	// Encode events
	OnEncodeStart(ctx context.Context, graph string, nodeCount int)
	OnEncodeComplete(ctx context.Context, graph string, size int, duration time.Duration, err error)

	// Decode events
	OnDecodeStart(ctx context.Context, graph, policy string)
	OnDecodeComplete(ctx context.Context, graph string, nodeCount int, duration time.Duration, err error)

	// OnLoopIteration records a loop scope created by loop explosion.
	OnLoopIteration(ctx context.Context, graph, trigger string)
}

// =============================================================================
// Loop Hooks
// =============================================================================

// LoopHooks receives events from loop reconstruction.
type LoopHooks interface {
	OnLoopsDetected(ctx context.Context, graph string, loops, irreducible int, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, backend string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, backend string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, backend string, size int)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopCodecHooks is a no-op implementation of CodecHooks.
type NoopCodecHooks struct{}

func (NoopCodecHooks) OnEncodeStart(context.Context, string, int)                          {}
func (NoopCodecHooks) OnEncodeComplete(context.Context, string, int, time.Duration, error) {}
func (NoopCodecHooks) OnDecodeStart(context.Context, string, string)                       {}
func (NoopCodecHooks) OnDecodeComplete(context.Context, string, int, time.Duration, error) {}
func (NoopCodecHooks) OnLoopIteration(context.Context, string, string)                     {}

// NoopLoopHooks is a no-op implementation of LoopHooks.
type NoopLoopHooks struct{}

func (NoopLoopHooks) OnLoopsDetected(context.Context, string, int, int, time.Duration, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	codecHooks CodecHooks = NoopCodecHooks{}
	loopHooks  LoopHooks  = NoopLoopHooks{}
	cacheHooks CacheHooks = NoopCacheHooks{}
	hooksMu    sync.RWMutex
)

// SetCodecHooks registers custom codec hooks.
// This should be called once at application startup before any codec operations.
func SetCodecHooks(h CodecHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		codecHooks = h
	}
}

// SetLoopHooks registers custom loop detection hooks.
func SetLoopHooks(h LoopHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		loopHooks = h
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

// Codec returns the registered codec hooks.
func Codec() CodecHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return codecHooks
}

// Loops returns the registered loop detection hooks.
func Loops() LoopHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return loopHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	codecHooks = NoopCodecHooks{}
	loopHooks = NoopLoopHooks{}
	cacheHooks = NoopCacheHooks{}
}
