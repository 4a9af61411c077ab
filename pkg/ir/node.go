package ir

import (
	"fmt"
	"slices"
)

// edgeList is a variable-length edge slot. An absent list is distinct from an
// empty one.
type edgeList struct {
	nodes   []*Node
	present bool
}

// Node is a typed IR node. Input and successor edges are addressed by slot
// index according to the node's [Class]; back-pointers (usages and the control
// predecessor) are maintained automatically while the node is attached to a
// graph.
type Node struct {
	id    int
	class *Class
	graph *Graph

	inputs     []*Node
	inputLists []edgeList
	succs      []*Node
	succLists  []edgeList
	prims      []int64
	objs       []any

	usages  []*Node
	pred    *Node
	deleted bool
}

// New allocates a detached node of class c. Edges set before the node is
// added to a graph are registered as usages by [Graph.Add].
func New(c *Class) *Node {
	return &Node{
		class:      c,
		id:         -1,
		inputs:     make([]*Node, len(c.Inputs.Direct)),
		inputLists: make([]edgeList, len(c.Inputs.Lists)),
		succs:      make([]*Node, len(c.Successors.Direct)),
		succLists:  make([]edgeList, len(c.Successors.Lists)),
		prims:      make([]int64, len(c.Fields)),
		objs:       make([]any, len(c.Fields)),
	}
}

func (n *Node) ID() int { return n.id }
func (n *Node) Class() *Class { return n.class }
func (n *Node) Kind() Kind { return n.class.Kind }
func (n *Node) Graph() *Graph { return n.graph }
func (n *Node) Deleted() bool { return n.deleted }
func (n *Node) IsFixed() bool { return n.class.IsFixed() }
func (n *Node) Predecessor() *Node { return n.pred }

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d|%s", n.id, n.class.Name)
}

func (n *Node) attached() bool { return n.graph != nil }

// Usages returns the nodes that reference n as an input, once per edge.
func (n *Node) Usages() []*Node { return n.usages }

// HasUsages reports whether any node references n as an input.
func (n *Node) HasUsages() bool { return len(n.usages) > 0 }

func (n *Node) addUsage(u *Node) { n.usages = append(n.usages, u) }

func (n *Node) removeUsage(u *Node) {
	for i, x := range n.usages {
		if x == u {
			last := len(n.usages) - 1
			n.usages[i] = n.usages[last]
			n.usages[last] = nil
			n.usages = n.usages[:last]
			return
		}
	}
}

func (n *Node) updateInput(old, v *Node) {
	if !n.attached() || old == v {
		return
	}
	if old != nil {
		old.removeUsage(n)
	}
	if v != nil {
		v.addUsage(n)
	}
}

func (n *Node) updatePredecessor(old, v *Node) {
	if !n.attached() || old == v {
		return
	}
	if old != nil && old.pred == n {
		old.pred = nil
	}
	if v != nil {
		v.pred = n
	}
}

// =============================================================================
// Inputs
// =============================================================================

// Input returns direct input slot i.
func (n *Node) Input(i int) *Node { return n.inputs[i] }

// SetInput installs v in direct input slot i.
func (n *Node) SetInput(i int, v *Node) {
	n.updateInput(n.inputs[i], v)
	n.inputs[i] = v
}

// InputList returns input list i and whether it is present.
func (n *Node) InputList(i int) ([]*Node, bool) {
	l := n.inputLists[i]
	return l.nodes, l.present
}

// SetInputList replaces input list i with a copy of nodes and marks it present.
func (n *Node) SetInputList(i int, nodes []*Node) {
	n.ClearInputList(i)
	l := &n.inputLists[i]
	l.present = true
	l.nodes = make([]*Node, 0, len(nodes))
	for _, v := range nodes {
		l.nodes = append(l.nodes, v)
		n.updateInput(nil, v)
	}
}

// ClearInputList marks input list i absent.
func (n *Node) ClearInputList(i int) {
	l := &n.inputLists[i]
	for _, v := range l.nodes {
		n.updateInput(v, nil)
	}
	l.nodes = nil
	l.present = false
}

// AppendInput appends v to input list i, marking the list present.
func (n *Node) AppendInput(i int, v *Node) {
	l := &n.inputLists[i]
	l.present = true
	l.nodes = append(l.nodes, v)
	n.updateInput(nil, v)
}

// InsertInputAt inserts v at position j of input list i, shifting later
// entries, and marks the list present.
func (n *Node) InsertInputAt(i, j int, v *Node) {
	l := &n.inputLists[i]
	l.present = true
	l.nodes = slices.Insert(l.nodes, j, v)
	n.updateInput(nil, v)
}

// SetInputAt replaces entry j of input list i.
func (n *Node) SetInputAt(i, j int, v *Node) {
	l := &n.inputLists[i]
	n.updateInput(l.nodes[j], v)
	l.nodes[j] = v
}

// RemoveInputAt removes entry j of input list i, preserving order.
func (n *Node) RemoveInputAt(i, j int) {
	l := &n.inputLists[i]
	n.updateInput(l.nodes[j], nil)
	l.nodes = append(l.nodes[:j], l.nodes[j+1:]...)
}

// EachInput calls fn for every non-nil input edge, direct slots first.
func (n *Node) EachInput(fn func(v *Node)) {
	for _, v := range n.inputs {
		if v != nil {
			fn(v)
		}
	}
	for _, l := range n.inputLists {
		for _, v := range l.nodes {
			if v != nil {
				fn(v)
			}
		}
	}
}

// ReplaceFirstInput replaces the first input edge referencing old with v and
// reports whether one was found.
func (n *Node) ReplaceFirstInput(old, v *Node) bool {
	for i, x := range n.inputs {
		if x == old {
			n.SetInput(i, v)
			return true
		}
	}
	for i := range n.inputLists {
		for j, x := range n.inputLists[i].nodes {
			if x == old {
				n.SetInputAt(i, j, v)
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Successors
// =============================================================================

// Successor returns direct successor slot i.
func (n *Node) Successor(i int) *Node { return n.succs[i] }

// SetSuccessor installs s in direct successor slot i.
func (n *Node) SetSuccessor(i int, s *Node) {
	n.updatePredecessor(n.succs[i], s)
	n.succs[i] = s
}

// InitSuccessor installs s in direct successor slot i without claiming s as
// the predecessor. The caller must link s to its final predecessor before the
// slot is cleared or the graph is verified.
func (n *Node) InitSuccessor(i int, s *Node) { n.succs[i] = s }

// SuccessorList returns successor list i and whether it is present.
func (n *Node) SuccessorList(i int) ([]*Node, bool) {
	l := n.succLists[i]
	return l.nodes, l.present
}

// SetSuccessorList replaces successor list i with a copy of nodes.
func (n *Node) SetSuccessorList(i int, nodes []*Node) {
	l := &n.succLists[i]
	for _, s := range l.nodes {
		n.updatePredecessor(s, nil)
	}
	l.present = true
	l.nodes = make([]*Node, 0, len(nodes))
	for _, s := range nodes {
		l.nodes = append(l.nodes, s)
		n.updatePredecessor(nil, s)
	}
}

// ClearSuccessorList marks successor list i absent.
func (n *Node) ClearSuccessorList(i int) {
	l := &n.succLists[i]
	for _, s := range l.nodes {
		n.updatePredecessor(s, nil)
	}
	l.nodes = nil
	l.present = false
}

// Successors returns all non-nil control successors in slot order.
func (n *Node) Successors() []*Node {
	var out []*Node
	for _, s := range n.succs {
		if s != nil {
			out = append(out, s)
		}
	}
	for _, l := range n.succLists {
		for _, s := range l.nodes {
			if s != nil {
				out = append(out, s)
			}
		}
	}
	return out
}

func (n *Node) replaceSuccessor(old, s *Node) bool {
	for i, x := range n.succs {
		if x == old {
			n.SetSuccessor(i, s)
			return true
		}
	}
	for i := range n.succLists {
		l := &n.succLists[i]
		for j, x := range l.nodes {
			if x == old {
				n.updatePredecessor(old, s)
				l.nodes[j] = s
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Fields
// =============================================================================

// Prim returns primitive field i as a raw bit pattern.
func (n *Node) Prim(i int) int64 { return n.prims[i] }

// SetPrim sets primitive field i.
func (n *Node) SetPrim(i int, v int64) { n.prims[i] = v }

// Object returns object field i.
func (n *Node) Object(i int) any { return n.objs[i] }

// SetObject sets object field i.
func (n *Node) SetObject(i int, v any) { n.objs[i] = v }

// =============================================================================
// Rewiring
// =============================================================================

// ReplaceAtUsages redirects every input edge referencing n to r.
func (n *Node) ReplaceAtUsages(r *Node) {
	for len(n.usages) > 0 {
		u := n.usages[len(n.usages)-1]
		if !u.ReplaceFirstInput(n, r) {
			panic(fmt.Sprintf("ir: usage %v does not reference %v", u, n))
		}
	}
}

// ReplaceAtPredecessor redirects the control edge into n to r.
func (n *Node) ReplaceAtPredecessor(r *Node) {
	if p := n.pred; p != nil {
		if !p.replaceSuccessor(n, r) {
			panic(fmt.Sprintf("ir: predecessor %v does not reference %v", p, n))
		}
	}
}

// ReplaceAndDelete replaces n by r at its usages and predecessor, then deletes n.
func (n *Node) ReplaceAndDelete(r *Node) {
	n.ReplaceAtUsages(r)
	n.ReplaceAtPredecessor(r)
	n.SafeDelete()
}

// ReplaceAtUsagesAndDelete replaces n by r at its usages, then deletes n.
func (n *Node) ReplaceAtUsagesAndDelete(r *Node) {
	n.ReplaceAtUsages(r)
	n.SafeDelete()
}

// ClearInputs drops every input edge of n.
func (n *Node) ClearInputs() {
	for i := range n.inputs {
		n.SetInput(i, nil)
	}
	for i := range n.inputLists {
		if n.inputLists[i].present {
			n.ClearInputList(i)
			n.inputLists[i].present = true
		}
	}
}

// ClearSuccessors drops every control successor edge of n.
func (n *Node) ClearSuccessors() {
	for i := range n.succs {
		n.SetSuccessor(i, nil)
	}
	for i := range n.succLists {
		if n.succLists[i].present {
			n.ClearSuccessorList(i)
			n.succLists[i].present = true
		}
	}
}

// SafeDelete removes n from its graph. n must have no remaining usages.
func (n *Node) SafeDelete() {
	if n.deleted {
		return
	}
	if len(n.usages) > 0 {
		panic(fmt.Sprintf("ir: deleting %v with %d usages", n, len(n.usages)))
	}
	n.ClearInputs()
	n.ClearSuccessors()
	if n.pred != nil {
		n.pred.replaceSuccessor(n, nil)
	}
	n.deleted = true
	if n.graph != nil {
		n.graph.live--
	}
}

// KillUnusedFloating deletes n and, transitively, floating inputs that become
// unused as a result.
func KillUnusedFloating(n *Node) {
	stack := []*Node{n}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if x.deleted || x.IsFixed() || x.HasUsages() {
			continue
		}
		var inputs []*Node
		x.EachInput(func(v *Node) { inputs = append(inputs, v) })
		x.SafeDelete()
		for _, v := range inputs {
			if !v.IsFixed() {
				stack = append(stack, v)
			}
		}
	}
}
