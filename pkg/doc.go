// Package pkg provides the core libraries for irgraph.
//
// # Overview
//
// irgraph stores compiler IR graphs in a compact, position-independent
// binary form and rebuilds them later, possibly many times and concurrently,
// under different loop treatments. The pkg directory is organized into:
//
//  1. [ir] - Node/edge model, node classes, graph bookkeeping
//  2. [codec] - Encoder, encoded graph, decoder and loop explosion
//  3. [loops] - Loop reconstruction after merge explosion
//  4. [fold] - Constant folding hook used while decoding
//  5. [pipeline] - Orchestration (encode → decode → render) behind a cache
//  6. [cache], [io], [render/nodelink] - Storage, JSON form, diagrams
//
// # Architecture
//
// The typical data flow through irgraph:
//
//	JSON graph ([io])
//	     ↓
//	[ir.Graph]
//	     ↓  [codec.Encoder] (self-checked)
//	[codec.EncodedGraph] ── persisted ──▶ [cache] (file, Redis, MongoDB)
//	     ↓  [codec.Decode] (policy, fold, inline)
//	[ir.Graph] ──▶ [loops.Detect] ──▶ JSON / DOT / SVG / PNG
//
// # Quick Start
//
//	import (
//	    "github.com/matzehuels/irgraph/pkg/codec"
//	    "github.com/matzehuels/irgraph/pkg/io"
//	)
//
//	g, _ := io.ImportJSON("loop.json", nil)
//	eg, _ := codec.NewEncoder().Encode(ctx, g)
//	back, _ := codec.Decode(ctx, eg, codec.Options{Policy: codec.PolicyUnroll})
//
// # Error Handling
//
// Errors carry codes from [errors]: INTERNAL_ERROR marks a defect (corrupt
// encoding, failed self-check), BAILOUT a graph shape the requested policy
// does not support. Callers may retry a bailout without loop explosion.
//
// # Observability
//
// The [observability] package exposes hooks for codec, loop detection and
// cache events; the HTTP server installs a Prometheus implementation.
package pkg
