package cache

import (
	"context"
	"time"

	"github.com/matzehuels/irgraph/pkg/observability"
)

// Instrumented reports the lookups and writes of a backend to the
// registered observability cache hooks.
type Instrumented struct {
	Cache
	backend string
}

// Instrument wraps c, labelling its events with backend.
func Instrument(c Cache, backend string) *Instrumented {
	return &Instrumented{Cache: c, backend: backend}
}

// Backend returns the backend label.
func (c *Instrumented) Backend() string { return c.backend }

// Unwrap returns the wrapped backend.
func (c *Instrumented) Unwrap() Cache { return c.Cache }

func (c *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.Cache.Get(ctx, key)
	if err == nil {
		if ok {
			observability.Cache().OnCacheHit(ctx, c.backend)
		} else {
			observability.Cache().OnCacheMiss(ctx, c.backend)
		}
	}
	return data, ok, err
}

func (c *Instrumented) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := c.Cache.Set(ctx, key, data, ttl)
	if err == nil {
		observability.Cache().OnCacheSet(ctx, c.backend, len(data))
	}
	return err
}

// Clear forwards to the wrapped backend when it supports clearing.
func (c *Instrumented) Clear(ctx context.Context) (int, error) {
	if cl, ok := c.Cache.(Clearer); ok {
		return cl.Clear(ctx)
	}
	return 0, nil
}

var _ Clearer = (*Instrumented)(nil)
