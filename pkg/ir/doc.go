// Package ir models compiler IR graphs as nodes joined by typed edges.
//
// Every [Node] belongs to a [Class] that declares its layout: named direct
// inputs and input lists, named successors and successor lists, and
// property fields. Fixed nodes form the control-flow skeleton; floating
// nodes hang off it through data edges and are value-numbered by
// [Graph.Unique] when a simplify hook is active.
//
// Classes live in an explicit [Registry] owned by the caller; decoders and
// importers resolve class names through it:
//
//	reg := ir.NewRegistry(ir.Builtins()...)
//	g := ir.NewGraph("main")
//
// The graph keeps usages and predecessors in sync with edge updates, so
// replace and delete operations never leave dangling edges. [Graph.Verify]
// checks that consistency.
package ir
