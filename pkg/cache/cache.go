// Package cache stores encoded graph artifacts.
//
// Encoding a large graph and self-checking it is the expensive step of the
// CLI and the HTTP API, so both keep the persisted form of an
// [codec.EncodedGraph] keyed by the content hash of its source. Backends
// implement [Cache]:
//
//   - [FileCache]: one JSON entry per key under a local directory (CLI default)
//   - [RedisCache]: shared cache for `irgraph serve` replicas
//   - [MongoCache]: durable cache with server-side TTL expiry
//   - [NullCache]: disables caching
//
// Keys come from a [Keyer]. [Instrument] wraps any backend so lookups and
// writes are reported to the observability cache hooks.
//
// [codec.EncodedGraph]: github.com/matzehuels/irgraph/pkg/codec.EncodedGraph
package cache

import (
	"context"
	"time"
)

// Cache is a byte store with optional per-entry expiry.
type Cache interface {
	// Get returns the entry for key. A missing or expired entry is a miss,
	// not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero keeps the entry until it is
	// deleted.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's connections.
	Close() error
}

// Clearer is implemented by backends that can drop every entry they own.
type Clearer interface {
	// Clear removes all entries and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}
