// Package pipeline provides the encode → decode → render pipeline for irgraph.
//
// The CLI and the HTTP API both run graphs through a [Runner], which puts
// every stage behind the artifact cache so repeated requests for the same
// source graph skip encoding and self-checking.
//
// # Architecture
//
// The pipeline consists of three stages:
//
//  1. Encode: Serialize an [ir.Graph] into an [codec.EncodedGraph] and
//     self-check it; the persisted form is cached by source hash
//  2. Decode: Rebuild a graph under a loop explosion policy, optionally
//     folding constants and reconstructing loops; each decode gets a session
//     id that tags its log lines and trace span
//  3. Render: Convert a graph to DOT, SVG or PNG
//
// # Usage
//
//	runner := pipeline.NewRunner(c, nil, logger)
//	enc, err := runner.Encode(ctx, g, pipeline.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := runner.Decode(ctx, enc.Encoded, pipeline.Options{Policy: "unroll", Fold: true})
//
// Several policies can be decoded from one encoded graph concurrently with
// [Runner.DecodeAll].
package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/irgraph/pkg/cache"
	"github.com/matzehuels/irgraph/pkg/codec"
	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and API
// =============================================================================

const (
	// DefaultPolicy is the loop explosion policy used when none is given.
	DefaultPolicy = "none"

	// DefaultTTL is how long encoded and decoded artifacts stay cached.
	DefaultTTL = 7 * 24 * time.Hour
)

// Format constants for render output.
const (
	FormatDOT = "dot"
	FormatSVG = "svg"
	FormatPNG = "png"
)

// ValidFormats is the set of supported render formats.
var ValidFormats = map[string]bool{
	FormatDOT: true,
	FormatSVG: true,
	FormatPNG: true,
}

// =============================================================================
// Options - Decode Configuration
// =============================================================================

// Options configures the decode stage. It supports JSON serialization for
// API requests.
type Options struct {
	Policy        string `json:"policy,omitempty"`
	Fold          bool   `json:"fold,omitempty"`
	NoDetect      bool   `json:"no_detect,omitempty"` // Leave merge-explode loop placeholders in place
	FallBack      bool   `json:"fall_back,omitempty"` // Decode without explosion after a bailout
	MaxIterations int    `json:"max_iterations,omitempty"`
	Refresh       bool   `json:"refresh,omitempty"` // Ignore cached artifacts

	// Runtime options (not serialized)
	Logger *log.Logger `json:"-"`

	policy    codec.Policy
	validated bool
}

// ValidateFormat checks that a render format is valid.
func ValidateFormat(format string) error {
	if !ValidFormats[format] {
		return errors.New(errors.ErrCodeInvalidInput, "invalid format: %q (must be one of: dot, svg, png)", format)
	}
	return nil
}

// FormatFromPath infers the render format from a file extension.
func FormatFromPath(path string) (string, error) {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return "", errors.New(errors.ErrCodeInvalidInput, "cannot infer format of %q", path)
	}
	format := strings.ToLower(path[i+1:])
	return format, ValidateFormat(format)
}

// ValidateAndSetDefaults parses the policy and applies defaults.
// Calling it again has no further effect.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.Policy == "" {
		o.Policy = DefaultPolicy
	}
	p, err := codec.ParsePolicy(o.Policy)
	if err != nil {
		return err
	}
	o.policy = p
	o.Policy = p.String()

	if o.MaxIterations < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "max_iterations must not be negative, got %d", o.MaxIterations)
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = codec.DefaultMaxExplosionIterations
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// DecodeKeyOpts returns the cache key options for the decode stage.
func (o *Options) DecodeKeyOpts() cache.DecodeKeyOpts {
	return cache.DecodeKeyOpts{
		Policy:      o.Policy,
		Fold:        o.Fold,
		DetectLoops: !o.NoDetect,
	}
}

// =============================================================================
// Results
// =============================================================================

// EncodeResult is the output of the encode stage.
type EncodeResult struct {
	Encoded *codec.EncodedGraph

	// Data is the persisted form written by the CLI and cached.
	Data []byte

	// SourceHash is the content hash of the source graph's JSON form.
	SourceHash string

	CacheHit bool
	Duration time.Duration
}

// DecodeResult is the output of the decode stage.
type DecodeResult struct {
	Graph *ir.Graph

	// Session identifies this decode in logs and traces.
	Session string

	// Policy is the policy the graph was decoded with; it is "none" after a
	// fallback.
	Policy   string
	FellBack bool

	CacheHit bool
	Duration time.Duration
}

func (r *DecodeResult) String() string {
	return fmt.Sprintf("%s[%s] %d nodes", r.Graph.Name, r.Policy, r.Graph.NodeCount())
}
