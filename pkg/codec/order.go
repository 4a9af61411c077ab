package codec

import (
	"fmt"
	"slices"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// Reserved order ids.
const (
	NullOrderID  = 0
	StartOrderID = 1
	FirstOrderID = 2

	// beginNextOffset is the distance between a fixed-with-next node and its
	// successor; the orderer numbers a node's next immediately after it.
	beginNextOffset = 1
)

// NodeOrder is a dense order-id assignment for every live node of a graph.
type NodeOrder struct {
	ids   map[*ir.Node]int
	nodes []*ir.Node // indexed by order id; entry 0 is nil

	// MaxFixedOrderID is the highest order id held by a fixed node.
	MaxFixedOrderID int
	// ParameterCount is the number of formal parameters, numbered
	// consecutively from MaxFixedOrderID+1 in index order.
	ParameterCount int
}

// NewNodeOrder numbers the nodes of g. Fixed nodes are numbered in reverse
// postorder from the graph entry; a merge is numbered once all of its forward
// ends are, so loop headers are numbered before their backward edges. Formal
// parameters follow, then every other floating node in graph order.
func NewNodeOrder(g *ir.Graph) (*NodeOrder, error) {
	o := &NodeOrder{ids: make(map[*ir.Node]int), nodes: []*ir.Node{nil}}

	var queue []*ir.Node
	current := g.Start()
	for current != nil {
		o.assign(current)
		c := current.Class()
		switch {
		case c.HasNext():
			current = current.Next()
			if current != nil {
				continue
			}
		case c.IsControlSplit():
			for _, s := range current.Successors() {
				queue = append([]*ir.Node{s}, queue...)
			}
		case current.Kind() == ir.KindEnd:
			merge := current.EndMerge()
			if merge == nil {
				return nil, fmt.Errorf("%v is not attached to a merge", current)
			}
			ready := true
			for _, end := range merge.ForwardEnds() {
				if _, ok := o.ids[end]; !ok {
					ready = false
					break
				}
			}
			if ready {
				queue = append(queue, merge)
			}
		}
		current = nil
		if len(queue) > 0 {
			current, queue = queue[0], queue[1:]
		}
	}
	o.MaxFixedOrderID = len(o.nodes) - 1

	var params []*ir.Node
	for _, n := range g.Nodes() {
		if n.Kind() == ir.KindParameter {
			params = append(params, n)
		}
	}
	slices.SortFunc(params, func(a, b *ir.Node) int { return a.ParameterIndex() - b.ParameterIndex() })
	for i, p := range params {
		if p.ParameterIndex() != i {
			return nil, fmt.Errorf("parameter indices are not dense: found %d at position %d", p.ParameterIndex(), i)
		}
		o.assign(p)
	}
	o.ParameterCount = len(params)

	for _, n := range g.Nodes() {
		if _, ok := o.ids[n]; ok {
			continue
		}
		if n.IsFixed() {
			return nil, fmt.Errorf("fixed node %v is unreachable from the start node", n)
		}
		o.assign(n)
	}
	return o, nil
}

func (o *NodeOrder) assign(n *ir.Node) {
	o.ids[n] = len(o.nodes)
	o.nodes = append(o.nodes, n)
}

// ID returns the order id of n, or NullOrderID for nil.
func (o *NodeOrder) ID(n *ir.Node) int {
	if n == nil {
		return NullOrderID
	}
	return o.ids[n]
}

// Node returns the node with the given order id.
func (o *NodeOrder) Node(id int) *ir.Node { return o.nodes[id] }

// Count returns the number of order ids, including the null id.
func (o *NodeOrder) Count() int { return len(o.nodes) }

// orderIDWidth returns the byte width needed for order ids up to maxID.
func orderIDWidth(maxID int) int {
	switch {
	case maxID <= 0xFF:
		return 1
	case maxID <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

// skipInput reports whether direct input slot i is recovered from a trailer
// instead of being written.
func skipInput(c *ir.Class, i int) bool {
	name := c.Inputs.Direct[i]
	switch c.Kind {
	case ir.KindInvoke:
		return name == "callTarget" || name == "stateAfter"
	case ir.KindLoopExit:
		return name == "stateAfter"
	}
	return false
}

// skipSuccessors reports whether the direct successors of c are recovered
// from a trailer.
func skipSuccessors(c *ir.Class) bool { return c.Kind == ir.KindInvoke }

// skipInputLists reports whether the input lists of c are rebuilt by the
// decoder rather than written.
func skipInputLists(c *ir.Class) bool { return c.Kind.IsMerge() }
