// Package codec encodes IR graphs into a compact, position-independent byte
// stream and decodes them back, optionally exploding loops on the way.
//
// An [Encoder] orders the nodes of a graph, writes one record per node and
// returns an immutable [EncodedGraph]. Edges are stored as order ids whose
// width (1, 2 or 4 bytes) depends on the node count; property objects and
// node classes are stored as indices into side tables.
//
// [Decode] rebuilds a graph from an EncodedGraph. Decoding is read-only with
// respect to the EncodedGraph, so one encoding may be decoded by several
// goroutines at once. [Options] select a loop explosion [Policy] and the
// [Simplifier], [Inliner] and [Tracker] hooks.
//
// Defects in the encoding surface as INTERNAL_ERROR; graph shapes the chosen
// policy cannot handle surface as BAILOUT.
package codec
