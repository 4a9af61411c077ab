package ir

import (
	"errors"
	"testing"
)

func TestNewGraph(t *testing.T) {
	g := NewGraph("g")
	if g.Start() == nil || g.Start().Kind() != KindStart {
		t.Fatalf("Start() = %v, want a start node", g.Start())
	}
	if g.NodeCount() != 1 {
		t.Errorf("NodeCount() = %d, want 1", g.NodeCount())
	}
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestUnique(t *testing.T) {
	g := NewGraph("g")
	a, b := g.IntConstant(7), g.IntConstant(7)
	if a != b {
		t.Errorf("IntConstant(7) twice = %v and %v, want one node", a, b)
	}
	if g.LongConstant(7) == a {
		t.Error("LongConstant(7) shares a node with IntConstant(7)")
	}
	p := g.Parameter(0)
	if g.Arith("+", p, a) != g.Arith("+", p, a) {
		t.Error("equal arith nodes were not shared")
	}
	if g.Arith("+", p, a) == g.Arith("-", p, a) {
		t.Error("arith nodes with different ops were shared")
	}
	if g.Begin() == g.Begin() {
		t.Error("fixed nodes were shared")
	}
	if v, ok := a.AsInt(); !ok || v != 7 {
		t.Errorf("AsInt() = %d, %v, want 7, true", v, ok)
	}
}

func TestVerifyFindsBrokenPredecessor(t *testing.T) {
	g := NewGraph("g")
	b, e := g.Begin(), g.End()
	b.InitSuccessor(BeginClass.SuccessorIndex("next"), e)
	if err := g.Verify(); !errors.Is(err, ErrInconsistent) {
		t.Errorf("Verify() error = %v, want %v", err, ErrInconsistent)
	}
	b.SetNext(nil)
	b.SetNext(e)
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() after SetNext error = %v", err)
	}
}

func TestSafeDeletePanicsWithUsages(t *testing.T) {
	g := NewGraph("g")
	p := g.Parameter(0)
	g.Effect("use", p, nil)
	defer func() {
		if recover() == nil {
			t.Error("SafeDelete() of a used node did not panic")
		}
	}()
	p.SafeDelete()
}

func TestKillUnusedFloating(t *testing.T) {
	g := NewGraph("g")
	p := g.Parameter(0)
	sum := g.Arith("+", g.Arith("*", p, g.IntConstant(2)), g.IntConstant(1))
	before := g.NodeCount()
	KillUnusedFloating(sum)
	// sum, the product and both constants; the parameter is also unused.
	if got := before - g.NodeCount(); got != 5 {
		t.Errorf("KillUnusedFloating() removed %d nodes, want 5", got)
	}
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestMergePhis(t *testing.T) {
	g := NewGraph("g")
	e1, e2 := g.End(), g.End()
	m := g.Merge(nil, e1, e2)
	one, two := g.IntConstant(1), g.IntConstant(2)
	phi := g.Phi(m, one, two)

	if m.PhiPredecessorCount() != 2 {
		t.Errorf("PhiPredecessorCount() = %d, want 2", m.PhiPredecessorCount())
	}
	if phi.ValueAt(e2) != two {
		t.Errorf("ValueAt(e2) = %v, want %v", phi.ValueAt(e2), two)
	}
	if e1.EndMerge() != m {
		t.Errorf("EndMerge() = %v, want %v", e1.EndMerge(), m)
	}
	m.RemoveEnd(e1)
	if m.ForwardEndCount() != 1 || len(phi.PhiValues()) != 1 || phi.PhiValues()[0] != two {
		t.Errorf("after RemoveEnd: ends %d, phi values %v", m.ForwardEndCount(), phi.PhiValues())
	}
}

func TestLoopEndIndices(t *testing.T) {
	g := NewGraph("g")
	entry := g.End()
	lb := g.LoopBegin(nil, entry)
	first, second := g.LoopEnd(lb), g.LoopEnd(lb)
	if first.EndIndex() != 0 || second.EndIndex() != 1 {
		t.Errorf("EndIndex() = %d, %d, want 0, 1", first.EndIndex(), second.EndIndex())
	}
	ends := lb.LoopEnds()
	if len(ends) != 2 || ends[0] != first || ends[1] != second {
		t.Errorf("LoopEnds() = %v, want [%v %v]", ends, first, second)
	}
	if got := lb.PhiPredecessorIndex(second); got != 2 {
		t.Errorf("PhiPredecessorIndex(second) = %d, want 2", got)
	}
	if preds := lb.CFGPredecessors(); len(preds) != 3 || preds[0] != entry {
		t.Errorf("CFGPredecessors() = %v, want entry then both loop ends", preds)
	}
}

func TestReduceTrivialMerge(t *testing.T) {
	g := NewGraph("g")
	end := g.End()
	g.Start().SetNext(end)
	p := g.Parameter(0)
	m := g.Merge(g.FrameState(3, nil, p), end)
	phi := g.Phi(m, p)
	ret := g.Return(phi)
	m.SetNext(ret)

	ReduceTrivialMerge(m)
	if g.Start().Next() != ret {
		t.Errorf("start next = %v, want %v", g.Start().Next(), ret)
	}
	if ret.ReturnValue() != p {
		t.Errorf("return value = %v, want %v", ret.ReturnValue(), p)
	}
	for _, n := range []*Node{m, end, phi} {
		if !n.Deleted() {
			t.Errorf("%v not deleted", n)
		}
	}
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestDuplicateState(t *testing.T) {
	g := NewGraph("g")
	p, q := g.Parameter(0), g.Parameter(1)
	outer := g.FrameState(1, nil, p)
	s := g.FrameState(4, outer, p, nil, q)

	dup := DuplicateState(s, nil)
	if dup == s || !SameStateValues(dup, s) || dup.BCI() != 4 {
		t.Errorf("DuplicateState(nil) = %v, want an equal copy", dup)
	}
	mapped := DuplicateState(s, func(v *Node) *Node {
		if v == q {
			return p
		}
		return v
	})
	if SameStateValues(mapped, s) {
		t.Error("mapped copy has the same values")
	}
	if vals := mapped.StateValues(); vals[1] != nil || vals[2] != p || mapped.OuterState() != outer {
		t.Errorf("mapped values = %v outer %v", vals, mapped.OuterState())
	}
}

func TestPrevBegin(t *testing.T) {
	g := NewGraph("g")
	p := g.Parameter(0)
	e := g.Effect("x", p, nil)
	Chain(g.Start(), g.Effect("y", p, nil), e)
	if got := PrevBegin(e); got != g.Start() {
		t.Errorf("PrevBegin() = %v, want start", got)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	c, err := r.Lookup("LoopExit")
	if err != nil || c != LoopExitClass {
		t.Errorf("Lookup(LoopExit) = %v, %v", c, err)
	}
	if _, err := r.Lookup("Teleport"); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("Lookup(Teleport) error = %v, want %v", err, ErrUnknownClass)
	}
	if err := r.Register(EffectClass); err != nil {
		t.Errorf("Register() of a known class error = %v", err)
	}
	clash := NewClass("Effect", KindEffect, Edges{}, Edges{})
	if err := r.Register(clash); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("Register() of a clashing class error = %v, want %v", err, ErrDuplicateClass)
	}
	if got := len(r.Classes()); got != len(Builtins()) {
		t.Errorf("Classes() has %d entries, want %d", got, len(Builtins()))
	}
}

func TestClassLayout(t *testing.T) {
	tests := []struct {
		class *Class
		fixed bool
		split bool
		next  bool
	}{
		{IfClass, true, true, false},
		{InvokeWithExceptionClass, true, true, false},
		{InvokeClass, true, false, true},
		{EffectClass, true, false, true},
		{ReturnClass, true, false, false},
		{PhiClass, false, false, false},
	}
	for _, tt := range tests {
		c := tt.class
		if c.IsFixed() != tt.fixed || c.IsControlSplit() != tt.split || c.HasNext() != tt.next {
			t.Errorf("%s: fixed %v split %v next %v, want %v %v %v",
				c, c.IsFixed(), c.IsControlSplit(), c.HasNext(), tt.fixed, tt.split, tt.next)
		}
	}
	if LoopBeginClass.FieldIndex("nextEndIndex") < 0 {
		t.Error("LoopBegin has no nextEndIndex field")
	}
}
