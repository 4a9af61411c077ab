package cache

import (
	"context"
	"time"
)

// NullCache is the "none" backend. Every lookup misses and every write is
// dropped, so each encode and decode runs from scratch. It backs --no-cache.
type NullCache struct{}

// NewNullCache returns the "none" backend.
func NewNullCache() Cache {
	return &NullCache{}
}

func (c *NullCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (c *NullCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return nil
}

func (c *NullCache) Delete(ctx context.Context, key string) error {
	return nil
}

// Clear reports zero entries; there is never anything to drop.
func (c *NullCache) Clear(ctx context.Context) (int, error) {
	return 0, nil
}

func (c *NullCache) Close() error {
	return nil
}

var (
	_ Cache   = (*NullCache)(nil)
	_ Clearer = (*NullCache)(nil)
)
