package codec

import (
	"fmt"
	"sync/atomic"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// EncodedGraph is the immutable result of encoding one graph. It may be
// decoded any number of times, concurrently.
type EncodedGraph struct {
	data    []byte
	footer  int
	objects []any
	classes []*ir.Class

	maxFixed   int
	paramCount int
	nodeCount  int
	width      int
	meta       ir.Meta
	name       string
	deltaStart int

	// offsets is derived from the footer on first use. Recomputing it is
	// idempotent, so concurrent first uses may race benignly on the store.
	offsets atomic.Pointer[[]int]
}

func newEncodedGraph(data []byte, footer int, objects []any, classes []*ir.Class) (*EncodedGraph, error) {
	eg := &EncodedGraph{data: data, footer: footer, objects: objects, classes: classes}
	r := NewReader(data)
	r.SetPos(footer)
	eg.maxFixed = r.UVInt()
	eg.paramCount = r.UVInt()
	name, _ := eg.objectAt(r.UVInt()).(string)
	eg.name = name
	eg.meta.StageFlags = stringsAt(eg.objectAt(r.UVInt()))
	eg.meta.Assumptions = stringsAt(eg.objectAt(r.UVInt()))
	eg.meta.InlinedMethods = stringsAt(eg.objectAt(r.UVInt()))
	eg.nodeCount = r.UVInt()
	eg.deltaStart = r.Pos()
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read footer at %d", footer)
	}
	if eg.nodeCount < FirstOrderID || eg.maxFixed >= eg.nodeCount || eg.maxFixed+eg.paramCount >= eg.nodeCount {
		return nil, errors.New(errors.ErrCodeInternal, "footer is inconsistent: %d nodes, max fixed %d, %d parameters",
			eg.nodeCount, eg.maxFixed, eg.paramCount)
	}
	eg.width = orderIDWidth(eg.nodeCount - 1)
	return eg, nil
}

func (eg *EncodedGraph) objectAt(i int) any {
	if i < 0 || i >= len(eg.objects) {
		return nil
	}
	return eg.objects[i]
}

func stringsAt(v any) []string {
	s, _ := v.([]string)
	return s
}

// Name returns the name of the source graph.
func (eg *EncodedGraph) Name() string { return eg.name }

// Bytes returns the encoded records and footer.
func (eg *EncodedGraph) Bytes() []byte { return eg.data }

// FooterOffset returns the byte offset of the footer.
func (eg *EncodedGraph) FooterOffset() int { return eg.footer }

// NodeCount returns the number of order ids, including the null id.
func (eg *EncodedGraph) NodeCount() int { return eg.nodeCount }

// MaxFixedOrderID returns the highest order id of a fixed node.
func (eg *EncodedGraph) MaxFixedOrderID() int { return eg.maxFixed }

// ParameterCount returns the number of formal parameters.
func (eg *EncodedGraph) ParameterCount() int { return eg.paramCount }

// ParameterOrderID returns the order id of formal parameter i.
func (eg *EncodedGraph) ParameterOrderID(i int) int { return eg.maxFixed + 1 + i }

// OrderIDWidth returns the width in bytes of each encoded order id.
func (eg *EncodedGraph) OrderIDWidth() int { return eg.width }

// Meta returns the metadata recorded with the source graph.
func (eg *EncodedGraph) Meta() ir.Meta { return eg.meta }

// Objects returns the object table entries visible to this graph.
func (eg *EncodedGraph) Objects() []any { return eg.objects }

// Classes returns the node-class table visible to this graph.
func (eg *EncodedGraph) Classes() []*ir.Class { return eg.classes }

// Object returns object table entry i.
func (eg *EncodedGraph) Object(i int) (any, error) {
	if i < 0 || i >= len(eg.objects) {
		return nil, errors.New(errors.ErrCodeInternal, "object index %d outside table of %d", i, len(eg.objects))
	}
	return eg.objects[i], nil
}

// Class returns the node class with type id i.
func (eg *EncodedGraph) Class(i int) (*ir.Class, error) {
	c, err := classAt(eg.classes, i)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "resolve node class")
	}
	return c, nil
}

// NodeOffset returns the byte offset of the record for order id id.
func (eg *EncodedGraph) NodeOffset(id int) (int, error) {
	offsets := eg.nodeOffsets()
	if id < StartOrderID || id >= len(offsets) {
		return 0, errors.New(errors.ErrCodeInternal, "order id %d has no offset table entry (%d nodes)", id, len(offsets))
	}
	return offsets[id], nil
}

func (eg *EncodedGraph) nodeOffsets() []int {
	if p := eg.offsets.Load(); p != nil {
		return *p
	}
	offsets := make([]int, eg.nodeCount)
	r := NewReader(eg.data)
	r.SetPos(eg.deltaStart)
	for id := StartOrderID; id < eg.nodeCount; id++ {
		offsets[id] = eg.footer - r.UVInt()
	}
	if r.Err() != nil {
		// A truncated footer leaves later entries at the footer offset,
		// which fails the type check on first access.
		offsets = offsets[:StartOrderID]
	}
	eg.offsets.Store(&offsets)
	return offsets
}

func (eg *EncodedGraph) String() string {
	return fmt.Sprintf("EncodedGraph(%s, %d nodes, %d bytes)", eg.name, eg.nodeCount, len(eg.data))
}

// NodeReference carries the identity of one node across an encode/decode
// pair. Create it from a live node before encoding; after decoding the
// encoded graph with the reference, Node returns the decoded counterpart.
type NodeReference struct {
	node    *ir.Node
	orderID int
	state   refState
}

type refState uint8

const (
	refLive refState = iota
	refEncoded
	refDecoded
)

// NewNodeReference wraps a live node.
func NewNodeReference(n *ir.Node) *NodeReference {
	return &NodeReference{node: n, orderID: -1}
}

// Node returns the referenced node: the original before encoding, nil while
// encoded, and the decoded node afterwards.
func (r *NodeReference) Node() *ir.Node { return r.node }

// OrderID returns the order id assigned during encoding, or -1.
func (r *NodeReference) OrderID() int { return r.orderID }
