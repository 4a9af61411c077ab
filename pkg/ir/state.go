package ir

// StateValues returns the values recorded by a state snapshot.
func (n *Node) StateValues() []*Node { return n.inputLists[stateValues].nodes }

// OuterState returns the caller snapshot of a state, if any.
func (n *Node) OuterState() *Node { return n.inputs[stateOuter] }

// SetStateValue replaces value i of a state snapshot.
func (n *Node) SetStateValue(i int, v *Node) { n.SetInputAt(stateValues, i, v) }

// DuplicateState copies a state snapshot, mapping each value through fn. The
// outer snapshot is shared, not copied. A nil fn copies values unchanged.
func DuplicateState(state *Node, fn func(v *Node) *Node) *Node {
	values := make([]*Node, 0, len(state.StateValues()))
	for _, v := range state.StateValues() {
		if fn != nil && v != nil {
			v = fn(v)
		}
		values = append(values, v)
	}
	return state.graph.FrameState(state.BCI(), state.OuterState(), values...)
}

// SameStateValues reports whether two snapshots share the same outer snapshot
// and pointer-equal value lists.
func SameStateValues(a, b *Node) bool {
	if a.OuterState() != b.OuterState() {
		return false
	}
	av, bv := a.StateValues(), b.StateValues()
	if len(av) != len(bv) {
		return false
	}
	for i := range av {
		if av[i] != bv[i] {
			return false
		}
	}
	return true
}
