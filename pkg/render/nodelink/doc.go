// Package nodelink renders IR graphs as node-link diagrams.
//
// # Overview
//
// Fixed nodes are drawn as boxes linked by bold control-flow arrows in
// successor order; floating nodes are ellipses. Data edges run dashed from
// an input to the node that uses it, so a reader follows values downwards
// the same way control flows.
//
// # Usage
//
// Convert a graph to DOT format, then render to SVG or PNG:
//
//	dot := nodelink.ToDOT(g, nodelink.Options{})
//	svg, err := nodelink.RenderSVG(ctx, dot)
//	png, err := nodelink.RenderPNG(ctx, dot)
//
// # Options
//
//   - Detailed: node labels include the node id and every field, and edges
//     are labelled with their slot names
//   - ControlOnly: floating nodes and data edges are omitted
//
// # Dependencies
//
// This package uses [github.com/goccy/go-graphviz] for in-process rendering;
// no Graphviz installation is needed.
package nodelink
