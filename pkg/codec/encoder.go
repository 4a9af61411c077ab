package codec

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
	"github.com/matzehuels/irgraph/pkg/observability"
)

var tracer = otel.Tracer("github.com/matzehuels/irgraph/pkg/codec")

// Encoder writes graphs into the compact binary form. The object and class
// tables are shared by every graph the encoder produces, so an Encoder must
// be used from one goroutine at a time.
type Encoder struct {
	objects *ObjectTable
	classes *ClassTable

	// Logger receives debug output; nil disables logging.
	Logger *log.Logger

	// SelfCheck decodes every encoded graph and compares it against its
	// source. It defaults to on unless built with the "production" tag.
	SelfCheck bool
}

// NewEncoder returns an encoder with fresh object and class tables.
func NewEncoder() *Encoder {
	return &Encoder{
		objects:   NewObjectTable(),
		classes:   NewClassTable(),
		SelfCheck: selfCheckDefault,
	}
}

// Objects returns the shared object table.
func (e *Encoder) Objects() *ObjectTable { return e.objects }

// Encode writes g. Each reference must hold a node of g; it is switched to the
// encoded state and can be resolved again by a decode of the result.
func (e *Encoder) Encode(ctx context.Context, g *ir.Graph, refs ...*NodeReference) (*EncodedGraph, error) {
	ctx, span := tracer.Start(ctx, "codec.Encode")
	defer span.End()
	start := time.Now()
	observability.Codec().OnEncodeStart(ctx, g.Name, g.NodeCount())

	eg, err := e.encode(g, refs)
	if err == nil && e.SelfCheck {
		err = e.verify(ctx, g, eg)
	}
	if err != nil {
		span.RecordError(err)
		observability.Codec().OnEncodeComplete(ctx, g.Name, 0, time.Since(start), err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("irgraph.nodes", eg.NodeCount()),
		attribute.Int("irgraph.bytes", len(eg.data)),
	)
	if e.Logger != nil {
		e.Logger.Debug("encoded graph", "graph", g.Name, "nodes", eg.NodeCount(), "bytes", len(eg.data), "width", eg.width)
	}
	observability.Codec().OnEncodeComplete(ctx, g.Name, len(eg.data), time.Since(start), nil)
	return eg, nil
}

func (e *Encoder) encode(g *ir.Graph, refs []*NodeReference) (*EncodedGraph, error) {
	order, err := NewNodeOrder(g)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "order graph %q", g.Name)
	}
	for _, ref := range refs {
		id := order.ID(ref.node)
		if ref.state != refLive || id == NullOrderID {
			return nil, errors.New(errors.ErrCodeInvalidInput, "node reference %v is not a live node of %q", ref.node, g.Name)
		}
		ref.orderID, ref.node, ref.state = id, nil, refEncoded
	}

	width := orderIDWidth(order.Count() - 1)
	w := &Writer{}
	offsets := make([]int, order.Count())
	rw := recordWriter{w: w, order: order, width: width, objects: e.objects}
	for id := StartOrderID; id < order.Count(); id++ {
		offsets[id] = w.Len()
		n := order.Node(id)
		w.PutUV(uint64(e.classes.Add(n.Class())))
		rw.node(n)
	}

	footer := w.Len()
	w.PutUV(uint64(order.MaxFixedOrderID))
	w.PutUV(uint64(order.ParameterCount))
	w.PutUV(uint64(e.objects.Add(g.Name)))
	w.PutUV(uint64(e.objects.Add(nonEmpty(g.Meta.StageFlags))))
	w.PutUV(uint64(e.objects.Add(nonEmpty(g.Meta.Assumptions))))
	w.PutUV(uint64(e.objects.Add(nonEmpty(g.Meta.InlinedMethods))))
	w.PutUV(uint64(order.Count()))
	for id := StartOrderID; id < order.Count(); id++ {
		w.PutUV(uint64(footer - offsets[id]))
	}

	return newEncodedGraph(w.Bytes(), footer, e.objects.snapshot(), e.classes.snapshot())
}

func nonEmpty(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

// recordWriter emits one node record: inputs, properties, successors and the
// kind-specific trailer.
type recordWriter struct {
	w       *Writer
	order   *NodeOrder
	width   int
	objects *ObjectTable
}

func (rw *recordWriter) id(n *ir.Node) {
	id := rw.order.ID(n)
	switch rw.width {
	case 1:
		rw.w.PutU1(uint8(id))
	case 2:
		rw.w.PutU2(uint16(id))
	default:
		rw.w.PutS4(int32(id))
	}
}

func (rw *recordWriter) list(nodes []*ir.Node, present bool) {
	if !present {
		rw.w.PutSV(-1)
		return
	}
	rw.w.PutSV(int64(len(nodes)))
	for _, v := range nodes {
		rw.id(v)
	}
}

func (rw *recordWriter) node(n *ir.Node) {
	c := n.Class()

	if c.Kind != ir.KindPhi {
		for i := range c.Inputs.Direct {
			if !skipInput(c, i) {
				rw.id(n.Input(i))
			}
		}
		if !skipInputLists(c) {
			for i := range c.Inputs.Lists {
				rw.list(n.InputList(i))
			}
		}
	}

	for i, f := range c.Fields {
		if f.Object {
			rw.w.PutUV(uint64(rw.objects.Add(n.Object(i))))
		} else {
			rw.w.PutSV(n.Prim(i))
		}
	}

	if !skipSuccessors(c) {
		for i := range c.Successors.Direct {
			rw.id(n.Successor(i))
		}
		for i := range c.Successors.Lists {
			rw.list(n.SuccessorList(i))
		}
	}

	switch c.Kind {
	case ir.KindEnd, ir.KindLoopEnd:
		merge := n.EndMerge()
		rw.id(merge)
		phis := merge.Phis()
		rw.w.PutUV(uint64(len(phis)))
		for _, phi := range phis {
			rw.id(phi.ValueAt(n))
			rw.id(phi)
		}
	case ir.KindLoopExit:
		rw.id(n.StateAfter())
		proxies := n.Proxies()
		rw.w.PutUV(uint64(len(proxies)))
		for _, p := range proxies {
			rw.id(p)
		}
	case ir.KindInvoke:
		ct := n.CallTargetOf()
		rw.id(ct)
		rw.w.PutUV(uint64(rw.objects.Add(ct.DeclaringType())))
		rw.id(n.StateAfter())
		rw.id(n.Next())
		if c.IsControlSplit() {
			exc := n.ExceptionEdge()
			rw.id(exc)
			rw.id(exc.StateAfter())
			rw.id(exc.Next())
		}
	}
}
