// Package io provides JSON import and export for IR graphs.
//
// # Overview
//
// The JSON form is the human-editable representation of an [ir.Graph]. It is
// the input of `irgraph encode` and `irgraph render`, and the output of
// `irgraph decode -o`. The format is generic over node classes: every edge
// slot and field is addressed by the name its [ir.Class] declares, so graphs
// using registered custom classes round-trip without changes here.
//
// # JSON Format
//
//	{
//	  "name": "branch",
//	  "meta": {"stage_flags": ["parsed"]},
//	  "nodes": [
//	    {"id": 0, "class": "Start", "successors": {"next": 2}},
//	    {"id": 1, "class": "Parameter", "fields": {"index": 0}},
//	    {"id": 2, "class": "Effect", "inputs": {"value": 1}, "successors": {"next": 3},
//	     "fields": {"name": "tick"}},
//	    {"id": 3, "class": "Return", "inputs": {"value": 1}}
//	  ]
//	}
//
// # Node Fields
//
// Required:
//   - id: Dense, unique integer used by edges to reference the node
//   - class: Registered class name
//
// Optional:
//   - inputs, successors: Direct edge slots by name; a missing slot is empty
//   - input_lists, successor_lists: Edge lists by name; a missing key means an
//     absent list, [] a present but empty one, null entries are empty slots
//   - fields: Primitive fields as integers (raw bit patterns), object fields
//     as strings or integer arrays
//
// Exactly one node must have class Start. Node ids in exported files are
// renumbered densely in graph order; deleted nodes are not written.
//
// # Import
//
// Use [ImportJSON] to read a graph from a file path, or [ReadJSON] to read
// from any io.Reader:
//
//	g, err := io.ImportJSON("loop.json", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// A nil registry means [ir.DefaultRegistry]. The imported graph is checked
// with [ir.Graph.Verify] before it is returned.
//
// # Export
//
// Use [ExportJSON] to write a graph to a file, or [WriteJSON] to write to any
// io.Writer. [ToDocument] returns the in-memory form, which tests compare
// structurally.
//
// # Concurrency
//
// All functions in this package are safe to call concurrently with other
// readers of the same graph, but not with concurrent modifications to it.
package io
