package nodelink

import (
	"context"
	"strings"
	"testing"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// effectGraph is start(0) -> effect "tick"(2) -> return(3) over parameter 1.
func effectGraph() *ir.Graph {
	g := ir.NewGraph("tick")
	p := g.Parameter(0)
	ir.Chain(g.Start(), g.Effect("tick", p, nil), g.Return(p))
	return g
}

func TestToDOT_Basic(t *testing.T) {
	dot := ToDOT(effectGraph(), Options{})

	for _, want := range []string{
		`digraph "tick"`,
		`n0 [label="Start"`,
		`n2 [label="Effect tick"`,
		`n1 [label="Parameter p0", shape=ellipse`,
		"n0 -> n2 [style=bold",
		"n2 -> n3 [style=bold",
		"n1 -> n2 [style=dashed",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("ToDOT() output missing %q", want)
		}
	}
	if strings.Contains(dot, "label=\"next\"") {
		t.Error("ToDOT() labels edges without Detailed")
	}
}

func TestToDOT_Detailed(t *testing.T) {
	dot := ToDOT(effectGraph(), Options{Detailed: true})

	if !strings.Contains(dot, `#2 Effect tick\nname: tick`) {
		t.Error("ToDOT() detailed output missing id and fields")
	}
	if !strings.Contains(dot, `label="next"`) || !strings.Contains(dot, `label="value"`) {
		t.Error("ToDOT() detailed output missing edge slot names")
	}
}

func TestToDOT_ControlOnly(t *testing.T) {
	dot := ToDOT(effectGraph(), Options{ControlOnly: true})

	if strings.Contains(dot, "Parameter") || strings.Contains(dot, "dashed") {
		t.Error("ToDOT() control-only output contains floating nodes or data edges")
	}
	if !strings.Contains(dot, "n0 -> n2") {
		t.Error("ToDOT() control-only output missing control edge")
	}
}

func TestSummary(t *testing.T) {
	g := ir.NewGraph("s")
	p := g.Parameter(0)
	tests := []struct {
		node *ir.Node
		want string
	}{
		{g.IntConstant(-3), "-3"},
		{g.DoubleConstant(0.5), "0.5"},
		{g.Arith("*", p, p), "*"},
		{g.Compare("<", p, p), "<"},
		{g.FrameState(12, nil), "@12"},
		{g.CallTarget("callee", "T"), "callee"},
		{g.Begin(), ""},
	}
	for _, tt := range tests {
		if got := summary(tt.node); got != tt.want {
			t.Errorf("summary(%v) = %q, want %q", tt.node, got, tt.want)
		}
	}
}

func TestRenderSVG(t *testing.T) {
	svg, err := RenderSVG(context.Background(), ToDOT(effectGraph(), Options{}))
	if err != nil {
		t.Fatalf("RenderSVG() error = %v", err)
	}
	if !strings.Contains(string(svg), "<svg") || !strings.Contains(string(svg), "viewBox=\"0 0") {
		t.Error("RenderSVG() output is not a normalized svg")
	}
	if _, err := RenderSVG(context.Background(), "digraph {"); err == nil {
		t.Error("RenderSVG() of malformed DOT: error = nil")
	}
}
