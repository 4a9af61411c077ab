package io

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// Document is the JSON form of a graph.
type Document struct {
	Name  string  `json:"name"`
	Meta  ir.Meta `json:"meta"`
	Nodes []Node  `json:"nodes"`
}

// Node is the JSON form of one node.
type Node struct {
	ID             int               `json:"id"`
	Class          string            `json:"class"`
	Inputs         map[string]int    `json:"inputs,omitempty"`
	InputLists     map[string][]*int `json:"input_lists,omitempty"`
	Successors     map[string]int    `json:"successors,omitempty"`
	SuccessorLists map[string][]*int `json:"successor_lists,omitempty"`
	Fields         map[string]any    `json:"fields,omitempty"`
}

// ToDocument converts g to its JSON form.
func ToDocument(g *ir.Graph) Document {
	nodes := g.Nodes()
	ids := make(map[*ir.Node]int, len(nodes))
	for i, n := range nodes {
		ids[n] = i
	}
	ref := func(n *ir.Node) *int {
		if n == nil {
			return nil
		}
		id := ids[n]
		return &id
	}
	refs := func(list []*ir.Node) []*int {
		out := make([]*int, len(list))
		for i, n := range list {
			out[i] = ref(n)
		}
		return out
	}

	doc := Document{Name: g.Name, Meta: g.Meta, Nodes: make([]Node, len(nodes))}
	for i, n := range nodes {
		c := n.Class()
		out := Node{ID: i, Class: c.Name}
		for j, name := range c.Inputs.Direct {
			if v := n.Input(j); v != nil {
				out.Inputs = setEdge(out.Inputs, name, ids[v])
			}
		}
		for j, name := range c.Inputs.Lists {
			if list, ok := n.InputList(j); ok {
				out.InputLists = setList(out.InputLists, name, refs(list))
			}
		}
		for j, name := range c.Successors.Direct {
			if s := n.Successor(j); s != nil {
				out.Successors = setEdge(out.Successors, name, ids[s])
			}
		}
		for j, name := range c.Successors.Lists {
			if list, ok := n.SuccessorList(j); ok {
				out.SuccessorLists = setList(out.SuccessorLists, name, refs(list))
			}
		}
		for j, f := range c.Fields {
			if out.Fields == nil {
				out.Fields = make(map[string]any, len(c.Fields))
			}
			if f.Object {
				out.Fields[f.Name] = n.Object(j)
			} else {
				out.Fields[f.Name] = n.Prim(j)
			}
		}
		doc.Nodes[i] = out
	}
	return doc
}

func setEdge(m map[string]int, name string, id int) map[string]int {
	if m == nil {
		m = make(map[string]int)
	}
	m[name] = id
	return m
}

func setList(m map[string][]*int, name string, ids []*int) map[string][]*int {
	if m == nil {
		m = make(map[string][]*int)
	}
	m[name] = ids
	return m
}

// WriteJSON encodes g as JSON and writes it to w.
// The output can be re-imported with [ReadJSON].
func WriteJSON(g *ir.Graph, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToDocument(g)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// ExportJSON writes g to a JSON file at path.
func ExportJSON(g *ir.Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return WriteJSON(g, f)
}
