package cli

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/irgraph/pkg/cache"
	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/pipeline"
)

// Config is the content of the TOML file given with --config:
//
//	[decode]
//	policy = "unroll"
//	max_iterations = 500
//	detect_loops = true
//	fold = true
//
//	[cache]
//	backend = "redis"
//	redis_addr = "localhost:6379"
//	ttl = "24h"
//
//	[serve]
//	addr = ":8080"
//
// Flags given on the command line override the file.
type Config struct {
	Decode DecodeConfig `toml:"decode"`
	Cache  CacheConfig  `toml:"cache"`
	Serve  ServeConfig  `toml:"serve"`
}

// DecodeConfig holds decode defaults.
type DecodeConfig struct {
	Policy        string `toml:"policy"`
	MaxIterations int    `toml:"max_iterations"`
	DetectLoops   bool   `toml:"detect_loops"`
	Fold          bool   `toml:"fold"`
}

// CacheConfig selects the artifact cache backend.
type CacheConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	RedisAddr string `toml:"redis_addr"`
	MongoURI  string `toml:"mongo_uri"`
	TTL       string `toml:"ttl"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr string `toml:"addr"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Decode: DecodeConfig{Policy: pipeline.DefaultPolicy, DetectLoops: true},
		Cache:  CacheConfig{Backend: cache.BackendFile},
		Serve:  ServeConfig{Addr: ":8080"},
	}
}

// LoadConfig reads path over the defaults. Keys absent from the file keep
// their default values; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errors.Wrap(errors.ErrCodeFileNotFound, err, "config %s", path)
		}
		return cfg, errors.Wrap(errors.ErrCodeInvalidPath, err, "config %s", path)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidInput, err, "config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return cfg, errors.New(errors.ErrCodeInvalidInput, "config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks values that flags cannot correct later.
func (c Config) Validate() error {
	opts := c.Decode.options()
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return err
	}
	if _, err := c.Cache.ttl(); err != nil {
		return err
	}
	if c.Serve.Addr != "" {
		if err := errors.ValidateAddr(c.Serve.Addr); err != nil {
			return err
		}
	}
	return nil
}

// options converts the decode section into pipeline options.
func (d DecodeConfig) options() pipeline.Options {
	return pipeline.Options{
		Policy:        d.Policy,
		Fold:          d.Fold,
		NoDetect:      !d.DetectLoops,
		MaxIterations: d.MaxIterations,
	}
}

func (c CacheConfig) ttl() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidInput, err, "cache ttl %q", c.TTL)
	}
	if d < 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "cache ttl %q is negative", c.TTL)
	}
	return d, nil
}

func (c CacheConfig) backendConfig() cache.Config {
	return cache.Config{
		Backend:   strings.ToLower(strings.TrimSpace(c.Backend)),
		Dir:       c.Dir,
		RedisAddr: c.RedisAddr,
		MongoURI:  c.MongoURI,
	}
}
