package codec

import (
	"context"
	"testing"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// branchGraph has ten nodes and one two-way branch:
//
//	start -> if p: begin -> effect a -> end \
//	             : begin -> end ------------ merge -> return p
func branchGraph() *ir.Graph {
	g := ir.NewGraph("branch")
	p := g.Parameter(0)
	tb, fb := g.Begin(), g.Begin()
	g.Start().SetNext(g.If(p, tb, fb, 0.25))
	e1, e2 := g.End(), g.End()
	ir.Chain(tb, g.Effect("a", p, nil), e1)
	fb.SetNext(e2)
	g.Merge(nil, e1, e2).SetNext(g.Return(p))
	return g
}

// countedLoop builds
//
//	for i := 0; i < n; i++ { tick(i) }
//	return i
//
// with the bound n either a constant or the first parameter.
func countedLoop(name string, bound func(g *ir.Graph) *ir.Node) *ir.Graph {
	g := ir.NewGraph(name)
	n := bound(g)
	zero, one := g.IntConstant(0), g.IntConstant(1)

	entry := g.End()
	g.Start().SetNext(entry)
	lb := g.LoopBegin(nil, entry)
	i := g.Phi(lb, zero)
	lb.SetStateAfter(g.FrameState(1, nil, i))

	body := g.Begin()
	exit := g.LoopExit(lb, g.FrameState(9, nil, i))
	lb.SetNext(g.If(g.Compare("<", i, n), body, exit, 0.9))
	ir.Chain(body, g.Effect("tick", i, g.FrameState(5, nil, i)), g.LoopEnd(lb))
	i.AddPhiValue(g.Arith("+", i, one))
	exit.SetNext(g.Return(g.Proxy(i, exit)))
	return g
}

func constBound(n int32) func(g *ir.Graph) *ir.Node {
	return func(g *ir.Graph) *ir.Node { return g.IntConstant(n) }
}

func paramBound(g *ir.Graph) *ir.Node { return g.Parameter(0) }

// chainGraph is start -> n effects -> return.
func chainGraph(name string, n int) *ir.Graph {
	g := ir.NewGraph(name)
	p := g.Parameter(0)
	nodes := []*ir.Node{g.Start()}
	for i := 0; i < n; i++ {
		nodes = append(nodes, g.Effect("e", p, nil))
	}
	nodes = append(nodes, g.Return(p))
	ir.Chain(nodes...)
	return g
}

func encode(t *testing.T, g *ir.Graph, refs ...*NodeReference) *EncodedGraph {
	t.Helper()
	e := NewEncoder()
	e.SelfCheck = true
	eg, err := e.Encode(context.Background(), g, refs...)
	if err != nil {
		t.Fatalf("Encode(%s) error = %v", g.Name, err)
	}
	return eg
}

func mustDecode(t *testing.T, eg *EncodedGraph, opts Options) *ir.Graph {
	t.Helper()
	g, err := Decode(context.Background(), eg, opts)
	if err != nil {
		t.Fatalf("Decode(%s, %v) error = %v", eg.Name(), opts.Policy, err)
	}
	return g
}

func countKinds(g *ir.Graph) map[ir.Kind]int {
	counts := make(map[ir.Kind]int)
	for _, n := range g.Nodes() {
		counts[n.Kind()]++
	}
	return counts
}

func findKind(g *ir.Graph, k ir.Kind) []*ir.Node {
	var out []*ir.Node
	for _, n := range g.Nodes() {
		if n.Kind() == k {
			out = append(out, n)
		}
	}
	return out
}

func TestEndToEndBranch(t *testing.T) {
	g := branchGraph()
	if g.NodeCount() != 10 {
		t.Fatalf("source NodeCount() = %d, want 10", g.NodeCount())
	}
	eg := encode(t, g)
	got := mustDecode(t, eg, Options{})

	if got.NodeCount() != 10 {
		t.Errorf("decoded NodeCount() = %d, want 10", got.NodeCount())
	}
	if err := Compare(g, got); err != nil {
		t.Errorf("Compare() = %v", err)
	}

	split := got.Start().Next()
	if split.Kind() != ir.KindIf {
		t.Fatalf("start is followed by %v, want if", split)
	}
	if split.Probability() != 0.25 {
		t.Errorf("Probability() = %v, want 0.25", split.Probability())
	}
	eff := split.TrueSuccessor().Next()
	if eff.Kind() != ir.KindEffect || eff.EffectName() != "a" {
		t.Errorf("true branch starts with %v, want effect a", eff)
	}
	if split.FalseSuccessor().Next().Kind() != ir.KindEnd {
		t.Errorf("false branch starts with %v, want end", split.FalseSuccessor().Next())
	}
	ret := findKind(got, ir.KindReturn)
	if len(ret) != 1 || ret[0].ReturnValue().Kind() != ir.KindParameter {
		t.Errorf("return = %v, want one return of the parameter", ret)
	}
}

func TestRoundTripLoop(t *testing.T) {
	g := countedLoop("loop", paramBound)
	g.Meta = ir.Meta{StageFlags: []string{"parsed"}, Assumptions: []string{"leaf"}}
	eg := encode(t, g)
	got := mustDecode(t, eg, Options{})

	if err := Compare(g, got); err != nil {
		t.Fatalf("Compare() = %v", err)
	}
	counts := countKinds(got)
	for kind, want := range map[ir.Kind]int{
		ir.KindLoopBegin: 1, ir.KindLoopEnd: 1, ir.KindLoopExit: 1, ir.KindPhi: 1, ir.KindProxy: 1,
	} {
		if counts[kind] != want {
			t.Errorf("%v count = %d, want %d", kind, counts[kind], want)
		}
	}
	if got.Meta.StageFlags[0] != "parsed" || got.Meta.Assumptions[0] != "leaf" {
		t.Errorf("Meta = %+v, want source metadata", got.Meta)
	}
}

// The loop of stateMachine has two backward edges on different branches, so
// the order in which they are decoded differs from their end indices.
func TestRoundTripLoopEnds(t *testing.T) {
	src := stateMachine()
	e := NewEncoder()
	e.SelfCheck = true
	eg, err := e.Encode(context.Background(), src)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got := mustDecode(t, eg, Options{})

	if err := Compare(src, got); err != nil {
		t.Fatalf("Compare() = %v", err)
	}
	lb := findKind(got, ir.KindLoopBegin)[0]
	ends := lb.LoopEnds()
	if len(ends) != 2 {
		t.Fatalf("loop ends = %d, want 2", len(ends))
	}
	phi := lb.Phis()[0]
	for i, want := range []int32{1, 0} {
		if ends[i].EndIndex() != int64(i) {
			t.Errorf("ends[%d].EndIndex() = %d, want %d", i, ends[i].EndIndex(), i)
		}
		if v, ok := phi.ValueAt(ends[i]).AsInt(); !ok || v != want {
			t.Errorf("ValueAt(ends[%d]) = %v, want constant %d", i, phi.ValueAt(ends[i]), want)
		}
	}
	if lb.NextEndIndex() != 2 {
		t.Errorf("NextEndIndex() = %d, want 2", lb.NextEndIndex())
	}
}

func TestCompareReportsDifferences(t *testing.T) {
	a, b := branchGraph(), branchGraph()
	if err := Compare(a, b); err != nil {
		t.Fatalf("Compare() of equal graphs = %v", err)
	}
	findKind(b, ir.KindEffect)[0].SetObject(ir.EffectClass.FieldIndex("name"), "b")
	if err := Compare(a, b); err == nil {
		t.Error("Compare() = nil for graphs with different effect names")
	}
	c := branchGraph()
	c.Name = "other"
	if err := Compare(a, c); err == nil {
		t.Error("Compare() = nil for graphs with different names")
	}
}

func TestNodeOrderIsStable(t *testing.T) {
	g := countedLoop("loop", paramBound)
	first, err := NewNodeOrder(g)
	if err != nil {
		t.Fatalf("NewNodeOrder() error = %v", err)
	}
	second, err := NewNodeOrder(g)
	if err != nil {
		t.Fatalf("NewNodeOrder() error = %v", err)
	}
	if first.Count() != second.Count() {
		t.Fatalf("Count() = %d then %d", first.Count(), second.Count())
	}
	for id := StartOrderID; id < first.Count(); id++ {
		if first.Node(id) != second.Node(id) {
			t.Errorf("Node(%d) = %v then %v", id, first.Node(id), second.Node(id))
		}
	}
	if first.Node(StartOrderID) != g.Start() {
		t.Errorf("Node(StartOrderID) = %v, want start", first.Node(StartOrderID))
	}
	// The next of a fixed node follows it directly.
	if id := first.ID(g.Start()); first.Node(id+beginNextOffset) != g.Start().Next() {
		t.Errorf("start next is not numbered right after start")
	}
	for id := first.MaxFixedOrderID + 1; id < first.Count(); id++ {
		if first.Node(id).IsFixed() {
			t.Errorf("fixed node %v numbered after MaxFixedOrderID %d", first.Node(id), first.MaxFixedOrderID)
		}
	}
	if p := first.Node(first.MaxFixedOrderID + 1); p.Kind() != ir.KindParameter {
		t.Errorf("first floating id holds %v, want the parameter", p)
	}
}

func TestNodeOrderRejectsUnreachableFixed(t *testing.T) {
	g := branchGraph()
	g.Effect("orphan", nil, nil)
	if _, err := NewNodeOrder(g); err == nil {
		t.Error("NewNodeOrder() error = nil with an unreachable fixed node")
	}
}

func TestWidthBoundary(t *testing.T) {
	tests := []struct {
		effects int
		want    int
	}{
		// start + effects + return + parameter orderable nodes.
		{252, 1},
		{253, 2},
		{254, 2},
	}
	for _, tt := range tests {
		g := chainGraph("chain", tt.effects)
		eg := encode(t, g)
		if got := eg.OrderIDWidth(); got != tt.want {
			t.Errorf("%d orderable nodes: OrderIDWidth() = %d, want %d", g.NodeCount(), got, tt.want)
		}
		if err := Compare(g, mustDecode(t, eg, Options{})); err != nil {
			t.Errorf("%d orderable nodes: Compare() = %v", g.NodeCount(), err)
		}
	}
}

func TestEncodedGraphAccessors(t *testing.T) {
	g := branchGraph()
	eg := encode(t, g)
	if eg.Name() != "branch" {
		t.Errorf("Name() = %q, want branch", eg.Name())
	}
	if eg.NodeCount() != 11 {
		t.Errorf("NodeCount() = %d, want 11", eg.NodeCount())
	}
	if eg.ParameterCount() != 1 {
		t.Errorf("ParameterCount() = %d, want 1", eg.ParameterCount())
	}
	if eg.ParameterOrderID(0) != eg.MaxFixedOrderID()+1 {
		t.Errorf("ParameterOrderID(0) = %d, want %d", eg.ParameterOrderID(0), eg.MaxFixedOrderID()+1)
	}
	if _, err := eg.NodeOffset(eg.NodeCount()); err == nil {
		t.Error("NodeOffset() past the table: error = nil")
	}
	off, err := eg.NodeOffset(StartOrderID)
	if err != nil || off != 0 {
		t.Errorf("NodeOffset(StartOrderID) = %d, %v, want 0", off, err)
	}
	if _, err := eg.Object(len(eg.Objects())); err == nil {
		t.Error("Object() past the table: error = nil")
	}
}

func TestEncoderSharesObjectTable(t *testing.T) {
	e := NewEncoder()
	a, err := e.Encode(context.Background(), branchGraph())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := e.Encode(context.Background(), branchGraph())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(b.Objects()) != len(a.Objects()) {
		t.Errorf("second graph grew the object table from %d to %d", len(a.Objects()), len(b.Objects()))
	}
	if string(a.Bytes()) != string(b.Bytes()) {
		t.Error("equal graphs encoded with one encoder differ")
	}
}
