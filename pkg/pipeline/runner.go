package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/irgraph/pkg/cache"
	"github.com/matzehuels/irgraph/pkg/codec"
	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/fold"
	irio "github.com/matzehuels/irgraph/pkg/io"
	"github.com/matzehuels/irgraph/pkg/ir"
	"github.com/matzehuels/irgraph/pkg/observability"
	"github.com/matzehuels/irgraph/pkg/render/nodelink"
)

var tracer = otel.Tracer("github.com/matzehuels/irgraph/pkg/pipeline")

// Runner encapsulates pipeline execution with caching.
//
// The Runner is stateless except for its cache, keyer and logger. Multiple
// goroutines can use the same Runner with different options.
type Runner struct {
	Cache    cache.Cache
	Keyer    cache.Keyer
	Logger   *log.Logger
	Registry *ir.Registry

	// TTL is the lifetime of cached artifacts; zero keeps them forever.
	TTL time.Duration
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:    c,
		Keyer:    keyer,
		Logger:   logger,
		Registry: ir.DefaultRegistry(),
		TTL:      DefaultTTL,
	}
}

// SourceHash returns the content hash of g's JSON form.
func SourceHash(g *ir.Graph) (string, error) {
	var buf bytes.Buffer
	if err := irio.WriteJSON(g, &buf); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "hash %s", g.Name)
	}
	return cache.Hash(buf.Bytes()), nil
}

// Encode serializes g with self-checking enabled. A cached encoding of an
// identical source graph is reused unless opts.Refresh is set.
func (r *Runner) Encode(ctx context.Context, g *ir.Graph, opts Options) (*EncodeResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Encode", trace.WithAttributes(attribute.String("irgraph.graph", g.Name)))
	defer span.End()
	start := time.Now()

	hash, err := SourceHash(g)
	if err != nil {
		return nil, err
	}
	key := r.Keyer.EncodedKey(hash)
	res := &EncodeResult{SourceHash: hash}

	if !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			if eg, err := codec.Unmarshal(data, r.Registry); err == nil {
				res.Encoded, res.Data, res.CacheHit = eg, data, true
				res.Duration = time.Since(start)
				span.SetAttributes(attribute.Bool("irgraph.cache_hit", true))
				r.Logger.Debug("encoded graph from cache", "graph", g.Name, "hash", hash[:12])
				return res, nil
			}
			// An unreadable entry is re-encoded and overwritten below.
		} else if err != nil {
			r.Logger.Warn("cache lookup failed", "error", err)
		}
	}

	enc := codec.NewEncoder()
	enc.SelfCheck = true
	enc.Logger = r.Logger
	eg, err := enc.Encode(ctx, g)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	data, err := codec.Marshal(eg)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := r.Cache.Set(ctx, key, data, r.TTL); err != nil {
		r.Logger.Warn("cache write failed", "error", err)
	}

	res.Encoded, res.Data = eg, data
	res.Duration = time.Since(start)
	r.Logger.Info("encoded graph",
		"graph", g.Name,
		"nodes", eg.NodeCount(),
		"bytes", len(eg.Bytes()),
		"duration", res.Duration)
	return res, nil
}

// Decode rebuilds a graph from eg. The decoded JSON form is cached by the
// hash of eg and the options that affect the result.
func (r *Runner) Decode(ctx context.Context, eg *codec.EncodedGraph, opts Options) (*DecodeResult, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	session := uuid.NewString()
	logger := r.Logger.With("session", session[:8])
	ctx = observability.WithPolicy(ctx, opts.Policy)
	ctx, span := tracer.Start(ctx, "pipeline.Decode", trace.WithAttributes(
		attribute.String("irgraph.session", session),
		attribute.String("irgraph.graph", eg.Name()),
		attribute.String("irgraph.policy", opts.Policy),
	))
	defer span.End()
	start := time.Now()

	res := &DecodeResult{Session: session, Policy: opts.Policy}
	key := r.Keyer.DecodedKey(cache.Hash(eg.Bytes()), opts.DecodeKeyOpts())
	if !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			if g, err := irio.ReadJSON(bytes.NewReader(data), r.Registry); err == nil {
				res.Graph, res.CacheHit = g, true
				res.Duration = time.Since(start)
				logger.Debug("decoded graph from cache", "graph", eg.Name(), "policy", opts.Policy)
				return res, nil
			}
		}
	}

	g, err := codec.Decode(ctx, eg, r.decodeOptions(opts, opts.policy, logger))
	if err != nil && opts.FallBack && errors.CanFallBack(err) {
		logger.Warn("loop explosion bailed out, decoding without explosion",
			"graph", eg.Name(), "policy", opts.Policy, "reason", errors.UserMessage(err))
		span.AddEvent("fallback", trace.WithAttributes(attribute.String("irgraph.reason", errors.UserMessage(err))))
		res.Policy, res.FellBack = codec.PolicyNone.String(), true
		g, err = codec.Decode(ctx, eg, r.decodeOptions(opts, codec.PolicyNone, logger))
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Graph = g
	res.Duration = time.Since(start)

	// A fallback result is not what the key's policy would produce.
	var buf bytes.Buffer
	if !res.FellBack && irio.WriteJSON(g, &buf) == nil {
		if err := r.Cache.Set(ctx, key, buf.Bytes(), r.TTL); err != nil {
			logger.Warn("cache write failed", "error", err)
		}
	}

	logger.Info("decoded graph",
		"graph", g.Name,
		"policy", res.Policy,
		"nodes", g.NodeCount(),
		"duration", res.Duration)
	return res, nil
}

func (r *Runner) decodeOptions(opts Options, p codec.Policy, logger *log.Logger) codec.Options {
	co := codec.Options{
		Policy:                 p,
		SkipLoopDetection:      opts.NoDetect,
		MaxExplosionIterations: opts.MaxIterations,
		Logger:                 logger,
	}
	if opts.Fold {
		co.Simplifier = fold.New()
	}
	return co
}

// DecodeAll decodes eg once per options value concurrently. Results are in
// the order of opts; the first failure cancels the remaining decodes.
func (r *Runner) DecodeAll(ctx context.Context, eg *codec.EncodedGraph, opts []Options) ([]*DecodeResult, error) {
	results := make([]*DecodeResult, len(opts))
	g, ctx := errgroup.WithContext(ctx)
	for i := range opts {
		g.Go(func() error {
			res, err := r.Decode(ctx, eg, opts[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Render converts g to the given format. Rendered artifacts are cached by
// the hash of g's JSON form.
func (r *Runner) Render(ctx context.Context, g *ir.Graph, format string, opts nodelink.Options) ([]byte, bool, error) {
	if err := ValidateFormat(format); err != nil {
		return nil, false, err
	}
	ctx, span := tracer.Start(ctx, "pipeline.Render", trace.WithAttributes(attribute.String("irgraph.format", format)))
	defer span.End()

	hash, err := SourceHash(g)
	if err != nil {
		return nil, false, err
	}
	variant := format
	if opts.Detailed {
		variant += "+detailed"
	}
	if opts.ControlOnly {
		variant += "+control"
	}
	key := r.Keyer.RenderKey(hash, variant)
	if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
		return data, true, nil
	}

	dot := nodelink.ToDOT(g, opts)
	var out []byte
	switch format {
	case FormatDOT:
		out = []byte(dot)
	case FormatSVG:
		out, err = nodelink.RenderSVG(ctx, dot)
	case FormatPNG:
		out, err = nodelink.RenderPNG(ctx, dot)
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, errors.Wrap(errors.ErrCodeInternal, err, "render %s", format)
	}
	if err := r.Cache.Set(ctx, key, out, r.TTL); err != nil {
		r.Logger.Warn("cache write failed", "error", err)
	}
	r.Logger.Debug("rendered graph", "graph", g.Name, "format", format, "bytes", len(out))
	return out, false, nil
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}
