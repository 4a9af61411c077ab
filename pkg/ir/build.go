package ir

import "math"

// ConstKind is the value kind of a Constant node.
type ConstKind int64

const (
	ConstInt ConstKind = iota
	ConstLong
	ConstDouble
)

var (
	constKindField   = ConstantClass.FieldIndex("kind")
	constBitsField   = ConstantClass.FieldIndex("bits")
	paramIndexField  = ParameterClass.FieldIndex("index")
	arithOpField     = ArithClass.FieldIndex("op")
	compareCondField = CompareClass.FieldIndex("condition")
	ifProbField      = IfClass.FieldIndex("probability")
	switchKeysField  = SwitchClass.FieldIndex("keys")
	stateBCIField    = FrameStateClass.FieldIndex("bci")
	invokeBCIField   = InvokeClass.FieldIndex("bci")
	targetField      = CallTargetClass.FieldIndex("target")
	declaringField   = CallTargetClass.FieldIndex("declaringType")
	reasonField      = DeoptimizeClass.FieldIndex("reason")
	effectNameField  = EffectClass.FieldIndex("name")
)

// NewConstant returns a detached constant node.
func NewConstant(kind ConstKind, bits int64) *Node {
	n := New(ConstantClass)
	n.prims[constKindField] = int64(kind)
	n.prims[constBitsField] = bits
	return n
}

// IntConstant adds (or reuses) an int constant.
func (g *Graph) IntConstant(v int32) *Node { return g.Unique(NewConstant(ConstInt, int64(v))) }

// LongConstant adds (or reuses) a long constant.
func (g *Graph) LongConstant(v int64) *Node { return g.Unique(NewConstant(ConstLong, v)) }

// DoubleConstant adds (or reuses) a double constant.
func (g *Graph) DoubleConstant(v float64) *Node {
	return g.Unique(NewConstant(ConstDouble, int64(math.Float64bits(v))))
}

// IsConstant reports whether n is a constant.
func (n *Node) IsConstant() bool { return n != nil && n.Kind() == KindConstant }

// ConstKind returns the value kind of a constant.
func (n *Node) ConstKind() ConstKind { return ConstKind(n.prims[constKindField]) }

// ConstBits returns the raw value of a constant.
func (n *Node) ConstBits() int64 { return n.prims[constBitsField] }

// AsInt returns the value of an int constant.
func (n *Node) AsInt() (int32, bool) {
	if !n.IsConstant() || n.ConstKind() != ConstInt {
		return 0, false
	}
	return int32(n.ConstBits()), true
}

// Parameter adds (or reuses) the formal parameter with the given index.
func (g *Graph) Parameter(index int) *Node {
	n := New(ParameterClass)
	n.prims[paramIndexField] = int64(index)
	return g.Unique(n)
}

// ParameterIndex returns the index of a formal parameter.
func (n *Node) ParameterIndex() int { return int(n.prims[paramIndexField]) }

// NewArith returns a detached binary arithmetic node.
func NewArith(op string, x, y *Node) *Node {
	n := New(ArithClass)
	n.inputs[0], n.inputs[1] = x, y
	n.objs[arithOpField] = op
	return n
}

// Arith adds (or reuses) a binary arithmetic node.
func (g *Graph) Arith(op string, x, y *Node) *Node { return g.Unique(NewArith(op, x, y)) }

// Op returns the operator of an arithmetic node or the condition of a compare.
func (n *Node) Op() string {
	switch n.Kind() {
	case KindArith:
		s, _ := n.objs[arithOpField].(string)
		return s
	case KindCompare:
		s, _ := n.objs[compareCondField].(string)
		return s
	}
	return ""
}

// Operands returns the two inputs of an arithmetic or compare node.
func (n *Node) Operands() (x, y *Node) { return n.inputs[0], n.inputs[1] }

// Compare adds (or reuses) a comparison producing an int 0 or 1.
func (g *Graph) Compare(cond string, x, y *Node) *Node {
	n := New(CompareClass)
	n.inputs[0], n.inputs[1] = x, y
	n.objs[compareCondField] = cond
	return g.Unique(n)
}

// FrameState adds a state snapshot with the given values.
func (g *Graph) FrameState(bci int, outer *Node, values ...*Node) *Node {
	n := New(FrameStateClass)
	n.prims[stateBCIField] = int64(bci)
	n.inputs[stateOuter] = outer
	n.inputLists[stateValues] = edgeList{nodes: append([]*Node{}, values...), present: true}
	return g.Add(n)
}

// BCI returns the bytecode index of a state snapshot or invoke.
func (n *Node) BCI() int {
	switch n.Kind() {
	case KindFrameState:
		return int(n.prims[stateBCIField])
	case KindInvoke:
		return int(n.prims[invokeBCIField])
	}
	return -1
}

// Begin adds a block begin.
func (g *Graph) Begin() *Node { return g.NewNode(BeginClass) }

// End adds a forward end.
func (g *Graph) End() *Node { return g.NewNode(EndClass) }

// Merge adds a merge joining ends.
func (g *Graph) Merge(state *Node, ends ...*Node) *Node {
	m := g.NewNode(MergeClass)
	m.SetInputList(endsList, ends)
	m.SetStateAfter(state)
	return m
}

// LoopBegin adds a loop header entered through ends.
func (g *Graph) LoopBegin(state *Node, ends ...*Node) *Node {
	m := g.NewNode(LoopBeginClass)
	m.SetInputList(endsList, ends)
	m.SetStateAfter(state)
	return m
}

// LoopEnd adds a backward edge into loopBegin.
func (g *Graph) LoopEnd(loopBegin *Node) *Node {
	n := g.NewNode(LoopEndClass)
	n.SetEndIndex(loopBegin.TakeEndIndex())
	n.SetInput(loopEndBegin, loopBegin)
	return n
}

// LoopExit adds an exit from loopBegin.
func (g *Graph) LoopExit(loopBegin, state *Node) *Node {
	n := g.NewNode(LoopExitClass)
	n.SetInput(loopExitBegin, loopBegin)
	n.SetStateAfter(state)
	return n
}

// Phi adds a phi at merge with the given inputs.
func (g *Graph) Phi(merge *Node, values ...*Node) *Node {
	n := New(PhiClass)
	n.inputs[phiMergeInput] = merge
	n.inputLists[phiValuesList] = edgeList{nodes: append([]*Node{}, values...), present: true}
	return g.Add(n)
}

// Proxy adds a proxy forwarding value out of a loop exit.
func (g *Graph) Proxy(value, exit *Node) *Node {
	n := New(ProxyClass)
	n.inputs[proxyValue] = value
	n.inputs[proxyExit] = exit
	return g.Add(n)
}

// If adds a two-way branch. Both successors must be block begins.
func (g *Graph) If(cond, trueSucc, falseSucc *Node, probability float64) *Node {
	n := New(IfClass)
	n.inputs[0] = cond
	n.succs[0], n.succs[1] = trueSucc, falseSucc
	n.prims[ifProbField] = int64(math.Float64bits(probability))
	return g.Add(n)
}

// TrueSuccessor and FalseSuccessor return the branches of an If.
func (n *Node) TrueSuccessor() *Node  { return n.succs[0] }
func (n *Node) FalseSuccessor() *Node { return n.succs[1] }

// Condition returns the condition input of an If.
func (n *Node) Condition() *Node { return n.inputs[0] }

// Probability returns the true-branch probability of an If.
func (n *Node) Probability() float64 { return math.Float64frombits(uint64(n.prims[ifProbField])) }

// Switch adds an integer switch. successors holds one entry per key plus a
// trailing default.
func (g *Graph) Switch(value *Node, keys []int64, successors ...*Node) *Node {
	n := New(SwitchClass)
	n.inputs[0] = value
	n.objs[switchKeysField] = append([]int64{}, keys...)
	n.succLists[0] = edgeList{nodes: append([]*Node{}, successors...), present: true}
	return g.Add(n)
}

// SwitchKeys returns the keys of a switch.
func (n *Node) SwitchKeys() []int64 {
	k, _ := n.objs[switchKeysField].([]int64)
	return k
}

// SwitchValue returns the value a switch dispatches on.
func (n *Node) SwitchValue() *Node { return n.inputs[0] }

// SwitchSuccessors returns the switch arms; the last one is the default.
func (n *Node) SwitchSuccessors() []*Node { return n.succLists[0].nodes }

// CallTarget adds a call target with its arguments.
func (g *Graph) CallTarget(target, declaringType string, args ...*Node) *Node {
	n := New(CallTargetClass)
	n.objs[targetField] = target
	n.objs[declaringField] = declaringType
	n.inputLists[0] = edgeList{nodes: append([]*Node{}, args...), present: true}
	return g.Add(n)
}

// Target returns the callee name of a call target.
func (n *Node) Target() string {
	s, _ := n.objs[targetField].(string)
	return s
}

// DeclaringType returns the context type of a call target.
func (n *Node) DeclaringType() string {
	s, _ := n.objs[declaringField].(string)
	return s
}

// Arguments returns the arguments of a call target.
func (n *Node) Arguments() []*Node { return n.inputLists[0].nodes }

// Invoke adds a call without an exception edge.
func (g *Graph) Invoke(callTarget, state *Node, bci int) *Node {
	n := New(InvokeClass)
	n.inputs[0], n.inputs[1] = callTarget, state
	n.prims[invokeBCIField] = int64(bci)
	return g.Add(n)
}

// InvokeWithException adds a call whose exceptional continuation is exc.
func (g *Graph) InvokeWithException(callTarget, state *Node, bci int, exc *Node) *Node {
	n := New(InvokeWithExceptionClass)
	n.inputs[0], n.inputs[1] = callTarget, state
	n.prims[invokeBCIField] = int64(bci)
	n.succs[1] = exc
	return g.Add(n)
}

// CallTargetOf returns the call target of an invoke.
func (n *Node) CallTargetOf() *Node { return n.inputs[0] }

// ExceptionEdge returns the exceptional successor of an invoke, if any.
func (n *Node) ExceptionEdge() *Node {
	if n.Kind() != KindInvoke || len(n.succs) < 2 {
		return nil
	}
	return n.succs[1]
}

// SetExceptionEdge sets the exceptional successor of an invoke.
func (n *Node) SetExceptionEdge(s *Node) { n.SetSuccessor(1, s) }

// ExceptionObject adds the begin of an exceptional continuation.
func (g *Graph) ExceptionObject(state *Node) *Node {
	n := g.NewNode(ExceptionObjectClass)
	n.SetStateAfter(state)
	return n
}

// Return adds a return of value (which may be nil).
func (g *Graph) Return(value *Node) *Node {
	n := New(ReturnClass)
	n.inputs[0] = value
	return g.Add(n)
}

// ReturnValue returns the value of a return.
func (n *Node) ReturnValue() *Node { return n.inputs[0] }

// Unwind adds an exceptional method exit.
func (g *Graph) Unwind(exception *Node) *Node {
	n := New(UnwindClass)
	n.inputs[0] = exception
	return g.Add(n)
}

// Deoptimize adds a deoptimization exit.
func (g *Graph) Deoptimize(reason string) *Node {
	n := g.NewNode(DeoptimizeClass)
	n.objs[reasonField] = reason
	return n
}

// Effect adds a named side effect consuming value.
func (g *Graph) Effect(name string, value, state *Node) *Node {
	n := New(EffectClass)
	n.objs[effectNameField] = name
	n.inputs[0] = value
	n.inputs[1] = state
	return g.Add(n)
}

// EffectName returns the name of an effect.
func (n *Node) EffectName() string {
	s, _ := n.objs[effectNameField].(string)
	return s
}

// EffectValue returns the value consumed by an effect.
func (n *Node) EffectValue() *Node { return n.inputs[0] }

// Chain links fixed-with-next nodes in order and returns the first.
func Chain(nodes ...*Node) *Node {
	for i := 0; i+1 < len(nodes); i++ {
		nodes[i].SetNext(nodes[i+1])
	}
	return nodes[0]
}
