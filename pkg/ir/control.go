package ir

import (
	"fmt"
	"slices"
)

// Slot positions shared by the built-in classes.
const (
	endsList      = 0
	phiMergeInput = 0
	phiValuesList = 0
	stateOuter    = 0
	stateValues   = 0
)

var (
	loopEndBegin      = LoopEndClass.InputIndex("loopBegin")
	loopEndIndexField = LoopEndClass.FieldIndex("endIndex")
	nextEndIndexField = LoopBeginClass.FieldIndex("nextEndIndex")
	loopExitBegin     = LoopExitClass.InputIndex("loopBegin")
	proxyValue        = ProxyClass.InputIndex("value")
	proxyExit         = ProxyClass.InputIndex("loopExit")
)

// =============================================================================
// Fixed-with-next and state
// =============================================================================

// Next returns the single control successor of a fixed-with-next node.
func (n *Node) Next() *Node {
	if n.class.next < 0 {
		return nil
	}
	return n.succs[n.class.next]
}

// SetNext installs the single control successor.
func (n *Node) SetNext(s *Node) {
	if n.class.next < 0 {
		panic(fmt.Sprintf("ir: %v has no next successor", n))
	}
	n.SetSuccessor(n.class.next, s)
}

// StateAfter returns the attached state snapshot, if the class has one.
func (n *Node) StateAfter() *Node {
	if n.class.state < 0 {
		return nil
	}
	return n.inputs[n.class.state]
}

// SetStateAfter attaches a state snapshot.
func (n *Node) SetStateAfter(s *Node) {
	if n.class.state < 0 {
		panic(fmt.Sprintf("ir: %v has no state", n))
	}
	n.SetInput(n.class.state, s)
}

// =============================================================================
// Merges
// =============================================================================

// ForwardEnds returns the forward ends of a merge or loop header.
func (n *Node) ForwardEnds() []*Node { return n.inputLists[endsList].nodes }

// ForwardEndCount returns the number of forward ends.
func (n *Node) ForwardEndCount() int { return len(n.inputLists[endsList].nodes) }

// ForwardEndAt returns forward end i.
func (n *Node) ForwardEndAt(i int) *Node { return n.inputLists[endsList].nodes[i] }

// AddForwardEnd appends a forward end.
func (n *Node) AddForwardEnd(end *Node) { n.AppendInput(endsList, end) }

// ForwardEndIndex returns the position of end, or -1.
func (n *Node) ForwardEndIndex(end *Node) int {
	return slices.Index(n.inputLists[endsList].nodes, end)
}

// LoopEnds returns the loop ends of a loop header ordered by end index.
func (n *Node) LoopEnds() []*Node {
	if n.Kind() != KindLoopBegin {
		return nil
	}
	var ends []*Node
	for _, u := range n.usages {
		if u.Kind() == KindLoopEnd && u.inputs[loopEndBegin] == n && !slices.Contains(ends, u) {
			ends = append(ends, u)
		}
	}
	slices.SortFunc(ends, func(a, b *Node) int { return int(a.EndIndex() - b.EndIndex()) })
	return ends
}

// LoopExits returns the loop exits of a loop header.
func (n *Node) LoopExits() []*Node {
	var exits []*Node
	for _, u := range n.usages {
		if u.Kind() == KindLoopExit && u.inputs[loopExitBegin] == n && !slices.Contains(exits, u) {
			exits = append(exits, u)
		}
	}
	return exits
}

// EndIndex returns the position of a loop end among its header's loop ends.
func (n *Node) EndIndex() int64 { return n.prims[loopEndIndexField] }

// SetEndIndex sets the loop end position.
func (n *Node) SetEndIndex(i int64) { n.prims[loopEndIndexField] = i }

// TakeEndIndex returns the next free loop end index of a loop header and
// advances it.
func (n *Node) TakeEndIndex() int64 {
	i := n.prims[nextEndIndexField]
	n.prims[nextEndIndexField] = i + 1
	return i
}

// NextEndIndex returns the next free loop end index of a loop header.
func (n *Node) NextEndIndex() int64 { return n.prims[nextEndIndexField] }

// SetNextEndIndex resets the next free loop end index of a loop header.
func (n *Node) SetNextEndIndex(i int64) { n.prims[nextEndIndexField] = i }

// PhiPredecessorCount returns the number of control predecessors a phi at
// this merge selects between.
func (n *Node) PhiPredecessorCount() int {
	return n.ForwardEndCount() + len(n.LoopEnds())
}

// PhiPredecessorIndex returns the phi input position associated with end.
func (n *Node) PhiPredecessorIndex(end *Node) int {
	if end.Kind() == KindLoopEnd {
		return n.ForwardEndCount() + slices.Index(n.LoopEnds(), end)
	}
	i := n.ForwardEndIndex(end)
	if i < 0 {
		panic(fmt.Sprintf("ir: %v is not an end of %v", end, n))
	}
	return i
}

// Phis returns the phis attached to a merge.
func (n *Node) Phis() []*Node {
	var phis []*Node
	for _, u := range n.usages {
		if u.Kind() == KindPhi && u.inputs[phiMergeInput] == n && !slices.Contains(phis, u) {
			phis = append(phis, u)
		}
	}
	slices.SortFunc(phis, func(a, b *Node) int { return a.id - b.id })
	return phis
}

// IsPhiAtMerge reports whether v is a phi attached to merge n.
func (n *Node) IsPhiAtMerge(v *Node) bool {
	return v != nil && v.Kind() == KindPhi && v.inputs[phiMergeInput] == n
}

// RemoveEnd detaches a forward end from a merge and drops the matching phi
// inputs.
func (n *Node) RemoveEnd(end *Node) {
	i := n.PhiPredecessorIndex(end)
	for _, phi := range n.Phis() {
		phi.RemoveInputAt(phiValuesList, i)
	}
	n.RemoveInputAt(endsList, n.ForwardEndIndex(end))
}

// EndMerge returns the join an end flows into.
func (n *Node) EndMerge() *Node {
	switch n.Kind() {
	case KindLoopEnd:
		return n.inputs[loopEndBegin]
	case KindEnd:
		for _, u := range n.usages {
			if u.Kind().IsMerge() && u.ForwardEndIndex(n) >= 0 {
				return u
			}
		}
	}
	return nil
}

// LoopBegin returns the loop header of a loop end or loop exit.
func (n *Node) LoopBegin() *Node {
	switch n.Kind() {
	case KindLoopEnd:
		return n.inputs[loopEndBegin]
	case KindLoopExit:
		return n.inputs[loopExitBegin]
	}
	return nil
}

// Proxies returns the proxies attached to a loop exit.
func (n *Node) Proxies() []*Node {
	var out []*Node
	for _, u := range n.usages {
		if u.Kind() == KindProxy && u.inputs[proxyExit] == n && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// ProxyValue returns the value a proxy forwards out of its loop.
func (n *Node) ProxyValue() *Node { return n.inputs[proxyValue] }

// =============================================================================
// Phis
// =============================================================================

// PhiMerge returns the merge a phi is attached to.
func (n *Node) PhiMerge() *Node { return n.inputs[phiMergeInput] }

// SetPhiMerge attaches a phi to a merge.
func (n *Node) SetPhiMerge(m *Node) { n.SetInput(phiMergeInput, m) }

// PhiValues returns the phi inputs in predecessor order.
func (n *Node) PhiValues() []*Node { return n.inputLists[phiValuesList].nodes }

// AddPhiValue appends a phi input.
func (n *Node) AddPhiValue(v *Node) { n.AppendInput(phiValuesList, v) }

// InsertPhiValue inserts a phi input at predecessor position i.
func (n *Node) InsertPhiValue(i int, v *Node) { n.InsertInputAt(phiValuesList, i, v) }

// ValueAt returns the phi input selected when control arrives through end.
func (n *Node) ValueAt(end *Node) *Node {
	return n.PhiValues()[n.PhiMerge().PhiPredecessorIndex(end)]
}

// =============================================================================
// CFG
// =============================================================================

// CFGSuccessors returns the control-flow successors of a fixed node. Ends
// flow into their merge.
func (n *Node) CFGSuccessors() []*Node {
	if n.Kind().IsEnd() {
		if m := n.EndMerge(); m != nil {
			return []*Node{m}
		}
		return nil
	}
	return n.Successors()
}

// CFGPredecessors returns the control-flow predecessors of a fixed node.
func (n *Node) CFGPredecessors() []*Node {
	switch n.Kind() {
	case KindMerge:
		return slices.Clone(n.ForwardEnds())
	case KindLoopBegin:
		return append(slices.Clone(n.ForwardEnds()), n.LoopEnds()...)
	}
	if n.pred == nil {
		return nil
	}
	return []*Node{n.pred}
}

// PrevBegin walks up the control predecessors of n to the first block begin.
func PrevBegin(n *Node) *Node {
	for x := n; x != nil; x = x.pred {
		if x.Kind().IsBegin() {
			return x
		}
	}
	return nil
}

// ReduceTrivialMerge removes a merge with a single forward end and no loop
// ends. Its phis are replaced by their only input and the end is replaced by
// the merge's successor.
func ReduceTrivialMerge(merge *Node) {
	if merge.ForwardEndCount() != 1 || len(merge.LoopEnds()) > 0 {
		panic(fmt.Sprintf("ir: %v is not a trivial merge", merge))
	}
	for _, phi := range merge.Phis() {
		v := phi.PhiValues()[0]
		if phi.HasUsages() {
			phi.ReplaceAtUsagesAndDelete(v)
		} else {
			phi.SafeDelete()
			if v != nil && !v.IsFixed() {
				KillUnusedFloating(v)
			}
		}
	}
	end := merge.ForwardEndAt(0)
	next := merge.Next()
	state := merge.StateAfter()
	merge.SafeDelete()
	if state != nil {
		KillUnusedFloating(state)
	}
	if next == nil {
		end.ReplaceAtPredecessor(nil)
		end.SafeDelete()
		return
	}
	end.ReplaceAndDelete(next)
}
