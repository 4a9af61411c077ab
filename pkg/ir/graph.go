package ir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Meta is compilation metadata carried through encode and decode opaquely.
type Meta struct {
	StageFlags     []string `json:"stage_flags,omitempty"`
	Assumptions    []string `json:"assumptions,omitempty"`
	InlinedMethods []string `json:"inlined_methods,omitempty"`
}

// Graph is a mutable IR graph. Every graph has a Start node created by
// [NewGraph]. Node ids are dense and never reused; deleted nodes keep their
// slot.
type Graph struct {
	Name string
	Meta Meta

	nodes  []*Node
	live   int
	start  *Node
	unique map[string]*Node
}

// NewGraph creates a graph holding a fresh Start node.
func NewGraph(name string) *Graph {
	g := &Graph{Name: name}
	g.start = g.Add(New(StartClass))
	return g
}

// Start returns the graph entry.
func (g *Graph) Start() *Node { return g.start }

// Add attaches n to g, registering the usages of its inputs and the
// predecessor links of its successors.
func (g *Graph) Add(n *Node) *Node {
	if n.graph != nil {
		panic(fmt.Sprintf("ir: %v already belongs to a graph", n))
	}
	n.graph = g
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.live++
	n.EachInput(func(v *Node) { v.addUsage(n) })
	for _, s := range n.Successors() {
		s.pred = n
	}
	return n
}

// NewNode allocates a node of class c and attaches it to g.
func (g *Graph) NewNode(c *Class) *Node { return g.Add(New(c)) }

// Unique adds n unless an equal value-numberable node already exists, in which
// case the existing node is returned and n is discarded.
func (g *Graph) Unique(n *Node) *Node {
	if !n.class.ValueNumberable() {
		return g.Add(n)
	}
	key := valueKey(n)
	if prev, ok := g.unique[key]; ok && !prev.deleted {
		return prev
	}
	if g.unique == nil {
		g.unique = make(map[string]*Node)
	}
	g.Add(n)
	g.unique[key] = n
	return n
}

func valueKey(n *Node) string {
	var b strings.Builder
	b.WriteString(n.class.Name)
	for _, v := range n.inputs {
		b.WriteByte('|')
		if v != nil {
			b.WriteString(strconv.Itoa(v.id))
		}
	}
	for i, f := range n.class.Fields {
		b.WriteByte('#')
		if f.Object {
			fmt.Fprint(&b, n.objs[i])
		} else {
			b.WriteString(strconv.FormatInt(n.prims[i], 10))
		}
	}
	return b.String()
}

// Nodes returns the live nodes in id order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, g.live)
	for _, n := range g.nodes {
		if !n.deleted {
			out = append(out, n)
		}
	}
	return out
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return g.live }

// Mark identifies a point in a graph's allocation history.
type Mark int

// Mark returns the current allocation mark.
func (g *Graph) Mark() Mark { return Mark(len(g.nodes)) }

// IsNew reports whether n was allocated after m.
func (g *Graph) IsNew(m Mark, n *Node) bool { return n.id >= int(m) }

// ErrInconsistent is returned by Verify for broken back-pointers.
var ErrInconsistent = errors.New("inconsistent graph")

// Verify checks that usages mirror inputs and predecessors mirror successors.
func (g *Graph) Verify() error {
	for _, n := range g.nodes {
		if n.deleted {
			continue
		}
		var err error
		n.EachInput(func(v *Node) {
			if err != nil {
				return
			}
			if v.deleted {
				err = fmt.Errorf("%w: %v has deleted input %v", ErrInconsistent, n, v)
			} else if !containsNode(v.usages, n) {
				err = fmt.Errorf("%w: %v missing usage %v", ErrInconsistent, v, n)
			}
		})
		if err != nil {
			return err
		}
		for _, s := range n.Successors() {
			if s.deleted {
				return fmt.Errorf("%w: %v has deleted successor %v", ErrInconsistent, n, s)
			}
			if s.pred != n {
				return fmt.Errorf("%w: %v predecessor is %v, want %v", ErrInconsistent, s, s.pred, n)
			}
		}
		for _, u := range n.usages {
			if u.deleted {
				return fmt.Errorf("%w: %v used by deleted %v", ErrInconsistent, n, u)
			}
		}
	}
	return nil
}

func containsNode(list []*Node, n *Node) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}
