package loops

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

func countKinds(g *ir.Graph) map[ir.Kind]int {
	counts := make(map[ir.Kind]int)
	for _, n := range g.Nodes() {
		counts[n.Kind()]++
	}
	return counts
}

func placeholders(nodes ...*ir.Node) map[*ir.Node]bool {
	m := make(map[*ir.Node]bool, len(nodes))
	for _, n := range nodes {
		m[n] = true
	}
	return m
}

// naturalLoop builds the shape merge-explode leaves for a loop with one exit:
//
//	start -> head -> tick -> if p: continue to head
//	                          else: exit placeholder -> return
func naturalLoop() (*ir.Graph, Region) {
	g := ir.NewGraph("natural")
	p := g.Parameter(0)
	e0 := g.End()
	g.Start().SetNext(e0)
	mark := g.Mark()

	back, out := g.End(), g.End()
	head := g.Merge(g.FrameState(1, nil, p), e0, back)
	cont, leave := g.Begin(), g.Begin()
	cont.SetNext(back)
	leave.SetNext(out)
	ir.Chain(head, g.Effect("tick", p, nil), g.If(p, cont, leave, 0.9))
	exit := g.Merge(nil, out)
	exit.SetNext(g.Return(nil))

	return g, Region{Head: head, Placeholders: placeholders(head, exit), Mark: mark}
}

func TestDetectNaturalLoop(t *testing.T) {
	g, region := naturalLoop()
	res, err := Detect(context.Background(), g, region)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.Loops != 1 || res.Irreducible != 0 {
		t.Errorf("Detect() = %+v, want 1 loop, 0 irreducible", res)
	}

	counts := countKinds(g)
	for kind, want := range map[ir.Kind]int{ir.KindLoopBegin: 1, ir.KindLoopEnd: 1, ir.KindLoopExit: 1} {
		if counts[kind] != want {
			t.Errorf("%v count = %d, want %d", kind, counts[kind], want)
		}
	}
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	var lb *ir.Node
	for _, n := range g.Nodes() {
		if n.Kind() == ir.KindLoopBegin {
			lb = n
		}
	}
	if got := lb.ForwardEndCount(); got != 1 {
		t.Errorf("loop entries = %d, want 1", got)
	}
	if got := len(lb.LoopExits()); got != 1 {
		t.Errorf("loop exits = %d, want 1", got)
	}
	if got := lb.Next().Kind(); got != ir.KindEffect {
		t.Errorf("loop body starts with %v, want effect", got)
	}
}

func TestDetectNoHead(t *testing.T) {
	g := ir.NewGraph("empty")
	res, err := Detect(context.Background(), g, Region{})
	if err != nil || res.Loops != 0 {
		t.Errorf("Detect() = %+v, %v, want no loops", res, err)
	}
}

func TestDetectCanceled(t *testing.T) {
	g, region := naturalLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Detect(ctx, g, region)
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("Detect() error = %v, want %s", err, errors.ErrCodeCanceled)
	}
}

// Two exits of the loop meet in a placeholder whose only entries they are.
// The loop exit belongs after that placeholder, before the next one.
func TestDetectSharedExitAbsorption(t *testing.T) {
	g := ir.NewGraph("shared")
	p, q := g.Parameter(0), g.Parameter(1)
	e0 := g.End()
	g.Start().SetNext(e0)
	mark := g.Mark()

	back, outA, outB, after := g.End(), g.End(), g.End(), g.End()
	head := g.Merge(g.FrameState(1, nil, p), e0, back)
	b1, b2, b3, b4 := g.Begin(), g.Begin(), g.Begin(), g.Begin()
	head.SetNext(g.If(p, b1, b2, 0.5))
	b1.SetNext(g.If(q, b3, b4, 0.5))
	b3.SetNext(back)
	b4.SetNext(outA)
	b2.SetNext(outB)

	shared := g.Merge(nil, outA, outB)
	ir.Chain(shared, g.Effect("after", q, nil), after)
	final := g.Merge(nil, after)
	final.SetNext(g.Return(nil))

	res, err := Detect(context.Background(), g, Region{
		Head:         head,
		Placeholders: placeholders(head, shared, final),
		Mark:         mark,
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.Loops != 1 {
		t.Fatalf("Detect() loops = %d, want 1", res.Loops)
	}

	var exits []*ir.Node
	for _, n := range g.Nodes() {
		if n.Kind() == ir.KindLoopExit {
			exits = append(exits, n)
		}
	}
	if len(exits) != 1 {
		t.Fatalf("loop exits = %d, want 1", len(exits))
	}
	if exits[0].Next() != after {
		t.Errorf("loop exit is followed by %v, want %v", exits[0].Next(), after)
	}
	if got := shared.ForwardEndCount(); got != 2 {
		t.Errorf("shared merge has %d ends, want 2", got)
	}
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

// irreducibleGraph builds two placeholders n1 and n2 that form a cycle and
// are both entered from the head:
//
//	head -> if p: n1 -> tick -> n2
//	        else: n2 -> if q: n1
//	                    else: head
func irreducibleGraph(headState, loopState func(g *ir.Graph, p, q *ir.Node) *ir.Node) (*ir.Graph, Region) {
	g := ir.NewGraph("irreducible")
	p, q := g.Parameter(0), g.Parameter(1)
	e0 := g.End()
	g.Start().SetNext(e0)
	mark := g.Mark()

	toHead, toN1a, toN1b, toN2a, toN2b := g.End(), g.End(), g.End(), g.End(), g.End()
	head := g.Merge(headState(g, p, q), e0, toHead)
	b1, b2, b3, b4 := g.Begin(), g.Begin(), g.Begin(), g.Begin()
	head.SetNext(g.If(p, b1, b2, 0.5))
	b1.SetNext(toN1a)
	b2.SetNext(toN2a)

	n1 := g.Merge(g.FrameState(2, nil, g.IntConstant(1), p), toN1a, toN1b)
	ir.Chain(n1, g.Effect("tick", p, nil), toN2b)
	n2 := g.Merge(loopState(g, p, q), toN2a, toN2b)
	n2.SetNext(g.If(q, b3, b4, 0.5))
	b3.SetNext(toN1b)
	b4.SetNext(toHead)

	return g, Region{Head: head, Placeholders: placeholders(head, n1, n2), Mark: mark}
}

func TestDetectIrreducibleDispatch(t *testing.T) {
	g, region := irreducibleGraph(
		func(g *ir.Graph, p, _ *ir.Node) *ir.Node { return g.FrameState(1, nil, g.IntConstant(0), p) },
		func(g *ir.Graph, p, _ *ir.Node) *ir.Node { return g.FrameState(1, nil, g.IntConstant(2), p) },
	)
	res, err := Detect(context.Background(), g, region)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.Irreducible != 1 {
		t.Errorf("Detect() irreducible = %d, want 1", res.Irreducible)
	}
	if want := []int64{0, 2}; !slices.Equal(res.DispatchKeys, want) {
		t.Errorf("Detect() dispatch keys = %v, want %v", res.DispatchKeys, want)
	}

	var switches []*ir.Node
	for _, n := range g.Nodes() {
		if n.Kind() == ir.KindSwitch {
			switches = append(switches, n)
		}
	}
	if len(switches) != 1 {
		t.Fatalf("switch count = %d, want 1", len(switches))
	}
	// One arm per entry plus the default.
	if got := len(switches[0].SwitchSuccessors()); got != 3 {
		t.Errorf("switch arms = %d, want 3", got)
	}
	if got := countKinds(g)[ir.KindLoopBegin]; got != 1 {
		t.Errorf("LoopBegin count = %d, want 1", got)
	}
	if err := g.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestDetectIrreducibleBailout(t *testing.T) {
	tests := []struct {
		name      string
		loopState func(g *ir.Graph, p, q *ir.Node) *ir.Node
		want      string
	}{
		{
			name: "two differing slots",
			loopState: func(g *ir.Graph, _, q *ir.Node) *ir.Node {
				return g.FrameState(1, nil, g.IntConstant(2), q)
			},
			want: "only one variable",
		},
		{
			name: "non-constant slot",
			loopState: func(g *ir.Graph, p, q *ir.Node) *ir.Node {
				return g.FrameState(1, nil, q, p)
			},
			want: "of type int",
		},
		{
			name: "different shape",
			loopState: func(g *ir.Graph, p, _ *ir.Node) *ir.Node {
				return g.FrameState(1, nil, g.IntConstant(2))
			},
			want: "same state shape",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, region := irreducibleGraph(
				func(g *ir.Graph, p, _ *ir.Node) *ir.Node { return g.FrameState(1, nil, g.IntConstant(0), p) },
				tt.loopState,
			)
			_, err := Detect(context.Background(), g, region)
			if !errors.Is(err, errors.ErrCodeBailout) {
				t.Fatalf("Detect() error = %v, want %s", err, errors.ErrCodeBailout)
			}
			if !errors.CanFallBack(err) {
				t.Errorf("CanFallBack(%v) = false, want true", err)
			}
			msg := errors.UserMessage(err)
			if !strings.Contains(msg, "implementation restriction") || !strings.Contains(msg, tt.want) {
				t.Errorf("UserMessage() = %q, want restriction mentioning %q", msg, tt.want)
			}
		})
	}
}
