package codec

import (
	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// handleEnd connects an End or LoopEnd to its merge, creating the merge and,
// for loop headers, the scope of the loop body on first arrival.
func (d *decoder) handleEnd(m *MethodScope, s *LoopScope, end *ir.Node) *LoopScope {
	p := m.policy
	result, inScope, nodeScope := s, s, s
	mergeID := d.readOrderID(m)

	switch {
	case p.UnrollLoops() && p.DuplicateLoopExits() && !p.DuplicateLoopEnds() && !p.MergeLoops() &&
		end.Kind() == ir.KindLoopEnd && s.trigger == triggerLoopExitDuplication:
		// A backward edge of the outer loop reached from a duplicated exit:
		// all such edges of this iteration share one next iteration.
		end = d.replaceWithEnd(end)
		if s.unrolled.isEmpty() {
			base := s.initial
			if base == nil {
				base = s.materialize()
			}
			next := newSiblingScope(s, s.iteration+1, triggerUnrolling, base, cloneNodes(base), true)
			d.checkIteration(m, next)
			s.unrolled.push(next)
			d.register(next, s.beginID, nil)
			d.makeStub(m, next, s.beginID)
		}
		nodeScope = s.unrolled.last()
	case p.UseExplosion() && end.Kind() == ir.KindLoopEnd:
		end = d.replaceWithEnd(end)
		if d.handleLoopExplosionEnd(m, s) == triggerLoopEndDuplication {
			nodeScope = s.endDup.last()
		} else {
			nodeScope = s.unrolled.last()
		}
	}

	merge := nodeScope.node(mergeID)
	if merge == nil {
		merge = d.makeStub(m, nodeScope, mergeID)
		if merge.Kind() == ir.KindLoopBegin {
			created := s.materialize()
			body := &LoopScope{
				method:  m,
				outer:   s,
				depth:   s.depth + 1,
				beginID: mergeID,
				trigger: triggerStart,
				pending: newBitset(m.maxFixed + 1),
				created: created,
			}
			if p.UseExplosion() {
				body.initial = cloneNodes(created)
				body.created = make([]*ir.Node, len(created))
				w := newBitset(len(created))
				body.written = &w
				d.register(s, mergeID, nil)
			}
			body.allocQueues(p)
			if p.MergeLoops() {
				body.states = newExplosionStates()
			}
			s.pending.clear(mergeID)
			body.pending.set(mergeID)
			result, inScope, nodeScope = body, body, body
		}
	}

	d.handlePhiFunctions(m, inScope, nodeScope, end, merge)
	return result
}

// replaceWithEnd turns a backward edge into a forward End at the same place.
func (d *decoder) replaceWithEnd(loopEnd *ir.Node) *ir.Node {
	end := d.g.End()
	loopEnd.ReplaceAtPredecessor(end)
	loopEnd.SafeDelete()
	if d.opts.Tracker != nil {
		d.opts.Tracker.Replace(loopEnd, end)
	}
	return end
}

// handleLoopExplosionEnd queues the iteration that follows the backward edge
// decoded in s and returns what triggered it. With neither end duplication
// nor a fresh unrolling, the edge joins the last queued iteration.
func (d *decoder) handleLoopExplosionEnd(m *MethodScope, s *LoopScope) trigger {
	var t trigger
	var q *scopeQueue
	switch {
	case m.policy.DuplicateLoopEnds():
		t, q = triggerLoopEndDuplication, s.endDup
	case s.unrolled.isEmpty():
		t, q = triggerUnrolling, s.unrolled
	default:
		return triggerStart
	}
	next := d.nextIterationScope(s, t, q)
	d.checkIteration(m, next)
	q.push(next)
	d.register(next, s.beginID, nil)
	d.makeStub(m, next, s.beginID)
	return t
}

func (d *decoder) nextIterationScope(s *LoopScope, t trigger, q *scopeQueue) *LoopScope {
	iteration := s.iteration + 1
	if !q.isEmpty() {
		iteration = q.last().iteration + 1
	}
	initial, created := s.initial, s.created
	if !s.pending.empty() {
		// s still decodes other paths and must keep its own bindings.
		initial = cloneNodes(s.initial)
		created = make([]*ir.Node, len(s.created))
	}
	return newSiblingScope(s, iteration, t, initial, created, true)
}

// handleLoopExplosionBegin replaces an exploded loop header by a plain merge.
// Under MergeExplode an iteration whose state equals one seen before joins
// the merge created for it instead.
func (d *decoder) handleLoopExplosionBegin(m *MethodScope, s *LoopScope, lb *ir.Node) {
	d.checkIteration(m, s)
	ends := append([]*ir.Node(nil), lb.ForwardEnds()...)
	succ := lb.Next()
	state := lb.StateAfter()

	if m.policy.MergeLoops() {
		if existing := s.states.get(newExplosionState(state, nil)); existing != nil {
			lb.ReplaceAtUsagesAndDelete(existing.merge)
			succ.SafeDelete()
			for _, e := range ends {
				existing.merge.AddForwardEnd(e)
			}
			if d.opts.Tracker != nil {
				d.opts.Tracker.Replace(lb, existing.merge)
			}
			return
		}
	}

	merge := d.g.NewNode(ir.MergeClass)
	m.placeholders[merge] = true
	if m.policy.MergeLoops() && s.states.size == 0 && s.depth == 1 {
		if m.head != nil {
			d.fail(errors.ErrCodeBailout, "implementation restriction: method with merge-explode loop explosion must not have more than one top-level loop")
		}
		m.head = merge
	}
	lb.ReplaceAtUsagesAndDelete(merge)
	merge.SetStateAfter(state)
	merge.SetNext(succ)
	for _, e := range ends {
		merge.AddForwardEnd(e)
	}
	if m.policy.MergeLoops() {
		s.states.put(newExplosionState(state, merge))
	}
	if d.opts.Tracker != nil {
		d.opts.Tracker.Replace(lb, merge)
	}
}

// handleLoopExplosionProxies connects an exploded loop exit to the code after
// the loop. Exits reached from several iterations meet in a merge in outer;
// values leaving the loop become phis of that merge.
func (d *decoder) handleLoopExplosionProxies(m *MethodScope, s, outer *LoopScope, exit *ir.Node, exitID int) {
	g := d.g
	stateID := d.readOrderID(m)
	succ := exit.Next()

	var begin *ir.Node
	if pred := exit.Predecessor(); pred != nil && pred.Kind() == ir.KindBegin {
		begin = pred
		exit.ReplaceAtPredecessor(nil)
	} else {
		begin = g.Begin()
		exit.ReplaceAtPredecessor(begin)
	}

	var placeholder *ir.Node
	if m.policy.MergeLoops() && s.depth == 1 {
		placeholder = g.NewNode(ir.MergeClass)
		m.placeholders[placeholder] = true
		end := g.End()
		begin.SetNext(end)
		placeholder.AddForwardEnd(end)
		begin = g.Begin()
		placeholder.SetNext(begin)
	}

	var merge *ir.Node
	switch existing := outer.node(exitID); {
	case existing == nil:
		d.register(outer, exitID, begin)
		begin.SetNext(succ)
	case existing.Kind() == ir.KindBegin:
		merge = g.NewNode(ir.MergeClass)
		d.register(outer, exitID, merge)
		first := g.End()
		existing.SetNext(first)
		merge.AddForwardEnd(first)
		merge.SetNext(succ)
	default:
		merge = existing
	}
	if merge != nil {
		end := g.End()
		begin.SetNext(end)
		merge.AddForwardEnd(end)
	}

	count := m.reader.UVInt()
	phiCreated := false
	for i := 0; i < count; i++ {
		id := d.readOrderID(m)
		proxy := d.ensureNodeCreated(m, s, id)
		in := proxy.ProxyValue()
		if placeholder != nil {
			d.register(s, id, in)
		}
		var repl *ir.Node
		switch existing := outer.node(id); {
		case existing == nil || existing == in:
			d.register(outer, id, in)
			repl = in
		case merge == nil:
			d.fail(errors.ErrCodeInternal, "loop exit %d of %s: conflicting value for %d without a merge", exitID, m.encoded, id)
		case !merge.IsPhiAtMerge(existing):
			phi := g.NewNode(ir.PhiClass)
			phi.SetPhiMerge(merge)
			for j := 0; j < merge.PhiPredecessorCount()-1; j++ {
				phi.AddPhiValue(existing)
			}
			phi.AddPhiValue(in)
			d.register(outer, id, phi)
			repl = phi
			phiCreated = true
		default:
			existing.AddPhiValue(in)
			repl = existing
		}
		proxy.ReplaceAtUsagesAndDelete(repl)
	}

	if placeholder != nil {
		d.register(s, stateID, nil)
		placeholder.SetStateAfter(d.ensureNodeCreated(m, s, stateID))
	}
	if merge != nil && (merge.StateAfter() == nil || phiCreated) {
		old := merge.StateAfter()
		d.register(outer, stateID, nil)
		merge.SetStateAfter(d.ensureNodeCreated(m, outer, stateID))
		if old != nil && !old.HasUsages() {
			ir.KillUnusedFloating(old)
		}
	}
	exit.SafeDelete()
}

// handleProxies decodes the state and proxies of a loop exit kept as is.
func (d *decoder) handleProxies(m *MethodScope, s *LoopScope, exit *ir.Node) {
	exit.SetStateAfter(d.ensureNodeCreated(m, s, d.readOrderID(m)))
	count := m.reader.UVInt()
	for i := 0; i < count; i++ {
		id := d.readOrderID(m)
		proxy := d.ensureNodeCreated(m, s, id)
		if s.outer != nil && !sameNodes(s.outer.created, s.created) {
			d.register(s.outer, id, proxy)
		}
	}
}

// handlePhiFunctions adds end to merge and feeds the phi inputs carried by
// the end's record. Inputs are resolved in inScope, phis bound in nodeScope.
func (d *decoder) handlePhiFunctions(m *MethodScope, inScope, nodeScope *LoopScope, end, merge *ir.Node) {
	if end.Kind() == ir.KindLoopEnd {
		// A kept loop end carries its decoded index; phi inputs follow it.
		if next := end.EndIndex() + 1; merge.NextEndIndex() < next {
			merge.SetNextEndIndex(next)
		}
	} else {
		merge.AddForwardEnd(end)
	}
	pos := merge.PhiPredecessorIndex(end)

	lazy := d.lazy && (merge.Kind() != ir.KindLoopBegin || m.policy.UseExplosion())
	count := m.reader.UVInt()
	if count > 1 && merge.Kind() == ir.KindLoopBegin {
		// Read every input first: inScope and nodeScope may share arrays and
		// binding one phi must not change the input of the next.
		inputs := make([]*ir.Node, count)
		ids := make([]int, count)
		for i := range inputs {
			inputs[i] = d.ensureNodeCreated(m, inScope, d.readOrderID(m))
			ids[i] = d.readOrderID(m)
		}
		for i := range inputs {
			d.handlePhi(m, nodeScope, merge, inputs[i], ids[i], pos, lazy)
		}
		return
	}
	for i := 0; i < count; i++ {
		in := d.ensureNodeCreated(m, inScope, d.readOrderID(m))
		d.handlePhi(m, nodeScope, merge, in, d.readOrderID(m), pos, lazy)
	}
}

// handlePhi binds the value arriving at merge through predecessor position
// pos to the phi id.
func (d *decoder) handlePhi(m *MethodScope, s *LoopScope, merge, in *ir.Node, id, pos int, lazy bool) {
	existing := s.node(id)
	if existing != nil && merge.PhiPredecessorCount() == 1 {
		// First predecessor of a fresh merge: the binding is stale.
		existing = nil
	}
	switch {
	case lazy && (existing == nil || existing == in):
		d.register(s, id, in)
	case !merge.IsPhiAtMerge(existing):
		d.register(s, id, nil)
		phi := d.ensureNodeCreated(m, s, id)
		if phi.Kind() != ir.KindPhi {
			d.fail(errors.ErrCodeInternal, "phi %d of %s decodes as %v", id, m.encoded, phi)
		}
		phi.SetPhiMerge(merge)
		for j := 0; j < merge.PhiPredecessorCount()-1; j++ {
			phi.AddPhiValue(existing)
		}
		phi.InsertPhiValue(pos, in)
	default:
		existing.InsertPhiValue(pos, in)
	}
}
