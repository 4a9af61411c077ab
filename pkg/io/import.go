package io

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// ReadJSON decodes a JSON graph from r.
//
// Classes are resolved in reg; a nil reg means [ir.DefaultRegistry].
//
// ReadJSON returns an INVALID_FORMAT error if:
//   - The JSON is malformed
//   - A node id is duplicated, or an edge references an unknown id
//   - A class, edge slot or field name is unknown
//   - There is not exactly one Start node
//   - The resulting graph fails [ir.Graph.Verify], for example because a
//     node is the successor of two nodes
//
// ReadJSON does not close r.
func ReadJSON(r io.Reader, reg *ir.Registry) (*ir.Graph, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "decode")
	}
	return FromDocument(doc, reg)
}

// FromDocument builds a graph from its JSON form.
func FromDocument(doc Document, reg *ir.Registry) (*ir.Graph, error) {
	if reg == nil {
		reg = ir.DefaultRegistry()
	}
	g := ir.NewGraph(doc.Name)
	g.Meta = doc.Meta

	byID := make(map[int]*ir.Node, len(doc.Nodes))
	starts := 0
	for _, nd := range doc.Nodes {
		if _, dup := byID[nd.ID]; dup {
			return nil, errors.New(errors.ErrCodeInvalidFormat, "node %d: duplicate id", nd.ID)
		}
		c, err := reg.Lookup(nd.Class)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "node %d", nd.ID)
		}
		var n *ir.Node
		if c.Kind == ir.KindStart {
			if starts++; starts > 1 {
				return nil, errors.New(errors.ErrCodeInvalidFormat, "node %d: second start node", nd.ID)
			}
			n = g.Start()
		} else {
			n = g.Add(ir.New(c))
		}
		if err := setFields(n, nd.Fields); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "node %d", nd.ID)
		}
		byID[nd.ID] = n
	}
	if starts == 0 {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "no start node")
	}

	l := linker{byID: byID}
	for _, nd := range doc.Nodes {
		if err := l.link(byID[nd.ID], nd); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "node %d", nd.ID)
		}
	}
	if err := g.Verify(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "verify")
	}
	return g, nil
}

type linker struct {
	byID map[int]*ir.Node
}

func (l linker) node(id int) (*ir.Node, error) {
	n, ok := l.byID[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "unknown node id %d", id)
	}
	return n, nil
}

func (l linker) nodes(ids []*int) ([]*ir.Node, error) {
	out := make([]*ir.Node, len(ids))
	for i, id := range ids {
		if id == nil {
			continue
		}
		n, err := l.node(*id)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (l linker) link(n *ir.Node, nd Node) error {
	c := n.Class()
	for name, id := range nd.Inputs {
		i := c.InputIndex(name)
		if i < 0 {
			return errors.New(errors.ErrCodeInvalidFormat, "%s has no input %q", c, name)
		}
		v, err := l.node(id)
		if err != nil {
			return err
		}
		n.SetInput(i, v)
	}
	for name, ids := range nd.InputLists {
		i := c.InputListIndex(name)
		if i < 0 {
			return errors.New(errors.ErrCodeInvalidFormat, "%s has no input list %q", c, name)
		}
		vs, err := l.nodes(ids)
		if err != nil {
			return err
		}
		n.SetInputList(i, vs)
	}
	for name, id := range nd.Successors {
		i := c.SuccessorIndex(name)
		if i < 0 {
			return errors.New(errors.ErrCodeInvalidFormat, "%s has no successor %q", c, name)
		}
		s, err := l.node(id)
		if err != nil {
			return err
		}
		n.SetSuccessor(i, s)
	}
	for name, ids := range nd.SuccessorLists {
		i := indexOf(c.Successors.Lists, name)
		if i < 0 {
			return errors.New(errors.ErrCodeInvalidFormat, "%s has no successor list %q", c, name)
		}
		ss, err := l.nodes(ids)
		if err != nil {
			return err
		}
		n.SetSuccessorList(i, ss)
	}
	return nil
}

func setFields(n *ir.Node, fields map[string]any) error {
	c := n.Class()
	for name, raw := range fields {
		i := c.FieldIndex(name)
		if i < 0 {
			return errors.New(errors.ErrCodeInvalidFormat, "%s has no field %q", c, name)
		}
		if !c.Fields[i].Object {
			v, err := toInt64(raw)
			if err != nil {
				return errors.Wrap(errors.ErrCodeInvalidFormat, err, "field %q", name)
			}
			n.SetPrim(i, v)
			continue
		}
		v, err := toObject(raw)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidFormat, err, "field %q", name)
		}
		n.SetObject(i, v)
	}
	return nil
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	}
	return 0, errors.New(errors.ErrCodeInvalidFormat, "want an integer, got %T", raw)
}

// toObject accepts the object field values the codec can persist: nil,
// strings and integer arrays.
func toObject(raw any) (any, error) {
	switch v := raw.(type) {
	case nil, string, []int64:
		return v, nil
	case []any:
		out := make([]int64, len(v))
		for i, x := range v {
			n, err := toInt64(x)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidFormat, "unsupported object %T", raw)
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// ImportJSON reads a JSON file at path and returns the decoded graph.
func ImportJSON(path string, reg *ir.Registry) (*ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "open %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "open %s", path)
	}
	return ReadJSON(bytes.NewReader(data), reg)
}
