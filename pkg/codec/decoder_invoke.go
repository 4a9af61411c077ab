package codec

import (
	"slices"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// invokeData is the trailer of an invoke record.
type invokeData struct {
	invoke      *ir.Node
	orderID     int
	contextType any

	callTargetID int
	stateID      int
	nextID       int

	// Only set for invokes with an exception edge.
	exceptionID      int
	exceptionStateID int
	exceptionNextID  int
}

func (d *decoder) readInvokeData(m *MethodScope, id int, n *ir.Node) *invokeData {
	inv := &invokeData{invoke: n, orderID: id}
	inv.callTargetID = d.readOrderID(m)
	inv.contextType = d.readObject(m)
	inv.stateID = d.readOrderID(m)
	inv.nextID = d.readOrderID(m)
	if n.Class().IsControlSplit() {
		inv.exceptionID = d.readOrderID(m)
		inv.exceptionStateID = d.readOrderID(m)
		inv.exceptionNextID = d.readOrderID(m)
	}
	return inv
}

func (d *decoder) handleInvoke(m *MethodScope, s *LoopScope, inv *invokeData) *LoopScope {
	ct := d.ensureNodeCreated(m, s, inv.callTargetID)
	if ct == nil || ct.Kind() != ir.KindCallTarget {
		d.fail(errors.ErrCodeInternal, "invoke %d of %s has no call target", inv.orderID, m.encoded)
	}
	if d.opts.Inliner != nil && !inv.invoke.Class().IsControlSplit() {
		if callee := d.opts.Inliner.InlineGraph(ct); callee != nil {
			if body := d.inline(m, s, inv, ct, callee); body != nil {
				return body
			}
		}
	}
	d.appendInvoke(m, s, inv, ct)
	return s
}

// appendInvoke keeps the call: it restores the edges carried by the trailer.
func (d *decoder) appendInvoke(m *MethodScope, s *LoopScope, inv *invokeData, ct *ir.Node) {
	n := inv.invoke
	c := n.Class()
	n.SetInput(c.InputIndex("callTarget"), ct)
	if n.StateAfter() == nil {
		n.SetStateAfter(d.ensureNodeCreated(m, s, inv.stateID))
	}
	n.SetNext(d.makeStub(m, s, inv.nextID))
	if c.IsControlSplit() {
		n.SetExceptionEdge(d.makeStub(m, s, inv.exceptionID))
	}
}

// inline starts decoding callee in place of the invoke. It returns the root
// scope of the callee, or nil when the call cannot be inlined.
func (d *decoder) inline(m *MethodScope, s *LoopScope, inv *invokeData, ct *ir.Node, callee *EncodedGraph) *LoopScope {
	args := ct.Arguments()
	if len(args) != callee.ParameterCount() {
		if d.logger != nil {
			d.logger.Debug("not inlining: argument count mismatch", "callee", callee.Name(),
				"arguments", len(args), "parameters", callee.ParameterCount())
		}
		return nil
	}
	depth := 0
	for c := m; c != nil; c = c.caller {
		depth++
	}
	if depth > d.opts.MaxInlineDepth {
		d.fail(errors.ErrCodeBailout, "inlining %s exceeds depth %d", callee.Name(), d.opts.MaxInlineDepth)
	}

	if inv.invoke.Predecessor() == nil {
		d.fail(errors.ErrCodeInternal, "invoke %d of %s has no predecessor", inv.orderID, m.encoded)
	}

	// Callees are decoded without loop explosion.
	cm := newMethodScope(m, s, d.g, callee, PolicyNone)
	cm.invoke = inv
	body := d.initialLoopScope(cm, inv.invoke)
	for i, a := range args {
		body.created[callee.ParameterOrderID(i)] = a
	}

	meta := callee.Meta()
	d.g.Meta.InlinedMethods = appendMissing(d.g.Meta.InlinedMethods, callee.Name())
	d.g.Meta.InlinedMethods = appendMissing(d.g.Meta.InlinedMethods, meta.InlinedMethods...)
	d.g.Meta.Assumptions = appendMissing(d.g.Meta.Assumptions, meta.Assumptions...)
	d.invokes++
	if d.logger != nil {
		d.logger.Debug("inlining", "caller", m.encoded.Name(), "callee", callee.Name(), "depth", depth)
	}
	return body
}

// finishInlining wires the returns of an inlined callee to the code after
// its invoke and removes the invoke.
func (d *decoder) finishInlining(cm *MethodScope) {
	g := d.g
	inv := cm.invoke
	m, s := cm.caller, cm.callerLoop
	n := inv.invoke

	var returns []*ir.Node
	for _, r := range cm.returns {
		if r.Deleted() {
			continue
		}
		if r.Kind() == ir.KindUnwind {
			exc := r.Input(0)
			r.ReplaceAndDelete(g.Deoptimize("unhandled exception in inlined " + cm.encoded.Name()))
			if exc != nil && !exc.IsFixed() {
				ir.KillUnusedFloating(exc)
			}
			continue
		}
		returns = append(returns, r)
	}

	var result *ir.Node
	switch len(returns) {
	case 0:
		n.ReplaceAtUsages(nil)
	case 1:
		r := returns[0]
		result = r.ReturnValue()
		n.ReplaceAtUsages(result)
		r.ReplaceAndDelete(d.makeStub(m, s, inv.nextID))
	default:
		merge := g.NewNode(ir.MergeClass)
		merge.SetStateAfter(d.ensureNodeCreated(m, s, inv.stateID))
		values := make([]*ir.Node, 0, len(returns))
		same := true
		for _, r := range returns {
			v := r.ReturnValue()
			if len(values) > 0 && v != values[0] {
				same = false
			}
			values = append(values, v)
			end := g.End()
			r.ReplaceAndDelete(end)
			merge.AddForwardEnd(end)
		}
		switch {
		case values[0] == nil && same:
		case same:
			result = values[0]
		default:
			result = g.Phi(merge, values...)
		}
		merge.SetNext(d.makeStub(m, s, inv.nextID))
		n.ReplaceAtUsages(result)
	}

	d.register(s, inv.orderID, result)
	if d.opts.Tracker != nil {
		d.opts.Tracker.Replace(n, result)
	}
	n.SafeDelete()
	ct := s.node(inv.callTargetID)
	if ct != nil && !ct.Deleted() && !ct.HasUsages() {
		ct.SafeDelete()
	}
}

func appendMissing(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}
