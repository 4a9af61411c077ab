package cache

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendMongo = "mongo"
	BackendNone  = "none"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string // file (default), redis, mongo or none
	Dir       string // FileCache directory
	RedisAddr string
	MongoURI  string
	MongoDB   string
}

// Open creates the configured backend wrapped with [Instrument].
func Open(ctx context.Context, cfg Config) (Cache, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	var (
		c   Cache
		err error
	)
	switch backend {
	case "", BackendFile:
		backend = BackendFile
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file cache: no directory configured")
		}
		c, err = NewFileCache(cfg.Dir)
	case BackendRedis:
		c, err = NewRedisCache(ctx, cfg.RedisAddr)
	case BackendMongo:
		c, err = NewMongoCache(ctx, cfg.MongoURI, cfg.MongoDB)
	case BackendNone:
		c = NewNullCache()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(c, backend), nil
}
