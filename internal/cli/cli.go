// Package cli implements the irgraph command-line interface.
//
// The commands wrap a [pipeline.Runner]:
//   - encode: JSON graph to persisted encoded graph (self-checked, cached)
//   - decode: encoded graph to JSON graph under a loop explosion policy
//   - inspect: header summary of an encoded graph
//   - render: JSON graph to DOT, SVG or PNG
//   - cache: manage the artifact cache
//   - serve: HTTP API with Prometheus metrics
//
// Settings come from flags and an optional TOML file given with --config.
// The logger lives in the command context; --verbose switches it to debug.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/irgraph/pkg/cache"
	"github.com/matzehuels/irgraph/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "irgraph"

	// remoteTimeout bounds connecting to a Redis or MongoDB cache.
	remoteTimeout = 10 * time.Second
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Config is loaded by the root command before any subcommand runs.
	Config Config

	configPath string
}

// New creates a new CLI instance with a default logger and configuration.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Config: DefaultConfig(),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner backed by the configured cache.
func (c *CLI) newRunner(ctx context.Context, noCache bool) (*pipeline.Runner, error) {
	store, err := c.openCache(ctx, noCache)
	if err != nil {
		return nil, err
	}
	r := pipeline.NewRunner(store, nil, loggerFromContext(ctx))
	if ttl, err := c.Config.Cache.ttl(); err == nil && ttl > 0 {
		r.TTL = ttl
	}
	return r, nil
}

// openCache opens the configured backend. An unusable file cache directory
// degrades to no caching; a remote backend that cannot be reached is an error.
func (c *CLI) openCache(ctx context.Context, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	cfg := c.Config.Cache.backendConfig()
	if cfg.Backend == "" || cfg.Backend == cache.BackendFile {
		if cfg.Dir == "" {
			dir, err := cacheDir()
			if err != nil {
				loggerFromContext(ctx).Warnf("Caching disabled: %v", err)
				return cache.NewNullCache(), nil
			}
			cfg.Dir = dir
		}
	}
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	return cache.Open(ctx, cfg)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/irgraph/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
