package fold

import (
	"testing"

	"github.com/matzehuels/irgraph/pkg/ir"
)

func TestCanonicalizeArith(t *testing.T) {
	g := ir.NewGraph("arith")
	p := g.Parameter(0)
	s := New()

	tests := []struct {
		name string
		op   string
		x, y *ir.Node
		want int64
	}{
		{"add", "+", g.IntConstant(3), g.IntConstant(4), 7},
		{"sub", "-", g.IntConstant(3), g.IntConstant(4), -1},
		{"mul", "*", g.IntConstant(6), g.IntConstant(7), 42},
		{"div", "/", g.IntConstant(9), g.IntConstant(2), 4},
		{"rem", "%", g.IntConstant(9), g.IntConstant(4), 1},
		{"and", "&", g.IntConstant(6), g.IntConstant(3), 2},
		{"or", "|", g.IntConstant(6), g.IntConstant(3), 7},
		{"xor", "^", g.IntConstant(6), g.IntConstant(3), 5},
		{"shl", "<<", g.IntConstant(1), g.IntConstant(4), 16},
		{"shr", ">>", g.IntConstant(-16), g.IntConstant(2), -4},
		{"int overflow wraps", "+", g.IntConstant(2147483647), g.IntConstant(1), -2147483648},
		{"long", "*", g.LongConstant(1 << 40), g.LongConstant(2), 1 << 41},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CanonicalizeFloating(g, ir.NewArith(tt.op, tt.x, tt.y))
			if !got.IsConstant() {
				t.Fatalf("CanonicalizeFloating() = %v, want a constant", got)
			}
			if got.ConstBits() != tt.want {
				t.Errorf("CanonicalizeFloating() = %d, want %d", got.ConstBits(), tt.want)
			}
			if got.ConstKind() != tt.x.ConstKind() {
				t.Errorf("ConstKind() = %v, want %v", got.ConstKind(), tt.x.ConstKind())
			}
		})
	}

	t.Run("identities", func(t *testing.T) {
		for _, n := range []*ir.Node{
			ir.NewArith("+", p, g.IntConstant(0)),
			ir.NewArith("+", g.IntConstant(0), p),
			ir.NewArith("*", p, g.IntConstant(1)),
			ir.NewArith("*", g.IntConstant(1), p),
			ir.NewArith("-", p, g.IntConstant(0)),
		} {
			if got := s.CanonicalizeFloating(g, n); got != p {
				t.Errorf("CanonicalizeFloating(%s) = %v, want %v", n.Op(), got, p)
			}
		}
	})

	t.Run("unfoldable", func(t *testing.T) {
		for _, n := range []*ir.Node{
			ir.NewArith("/", g.IntConstant(1), g.IntConstant(0)),
			ir.NewArith("%", g.IntConstant(1), g.IntConstant(0)),
			ir.NewArith("+", p, g.IntConstant(2)),
			ir.NewArith("+", g.IntConstant(1), g.LongConstant(2)),
			ir.NewArith("+", g.DoubleConstant(1), g.DoubleConstant(2)),
		} {
			if got := s.CanonicalizeFloating(g, n); got != n {
				t.Errorf("CanonicalizeFloating() = %v, want the node itself", got)
			}
		}
	})
}

func TestCanonicalizeCompare(t *testing.T) {
	g := ir.NewGraph("compare")
	p := g.Parameter(0)
	s := New()

	tests := []struct {
		cond string
		x, y *ir.Node
		want int64
	}{
		{"<", g.IntConstant(1), g.IntConstant(2), 1},
		{"<=", g.IntConstant(2), g.IntConstant(2), 1},
		{"==", g.IntConstant(1), g.IntConstant(2), 0},
		{"!=", g.IntConstant(1), g.IntConstant(2), 1},
		{">", g.IntConstant(1), g.IntConstant(2), 0},
		{">=", g.LongConstant(3), g.LongConstant(2), 1},
		{"==", p, p, 1},
		{"<", p, p, 0},
	}
	for _, tt := range tests {
		n := ir.New(ir.CompareClass)
		n.SetInput(0, tt.x)
		n.SetInput(1, tt.y)
		n.SetObject(ir.CompareClass.FieldIndex("condition"), tt.cond)
		got := s.CanonicalizeFloating(g, n)
		v, ok := got.AsInt()
		if !ok || int64(v) != tt.want {
			t.Errorf("CanonicalizeFloating(%v %s %v) = %v, want %d", tt.x, tt.cond, tt.y, got, tt.want)
		}
	}
}

func TestFoldBranch(t *testing.T) {
	g := ir.NewGraph("branch")
	s := New()

	newIf := func(cond *ir.Node) *ir.Node {
		return g.If(cond, g.Begin(), g.Begin(), 0.5)
	}
	newSwitch := func(v *ir.Node) *ir.Node {
		return g.Switch(v, []int64{1, 5, 9}, g.Begin(), g.Begin(), g.Begin(), g.Begin())
	}

	tests := []struct {
		name  string
		split *ir.Node
		want  int
	}{
		{"if true", newIf(g.IntConstant(1)), 0},
		{"if nonzero", newIf(g.IntConstant(-3)), 0},
		{"if false", newIf(g.IntConstant(0)), 1},
		{"if unknown", newIf(g.Parameter(0)), -1},
		{"switch hit", newSwitch(g.IntConstant(5)), 1},
		{"switch default", newSwitch(g.IntConstant(4)), 3},
		{"switch unknown", newSwitch(g.Parameter(1)), -1},
		{"not a split", g.Begin(), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.FoldBranch(tt.split); got != tt.want {
				t.Errorf("FoldBranch() = %d, want %d", got, tt.want)
			}
		})
	}
}
