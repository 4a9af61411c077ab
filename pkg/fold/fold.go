// Package fold implements constant folding for use while decoding.
//
// [Simplifier] satisfies the codec's simplify hook: arithmetic and compares
// over constants collapse to constants, trivial identities collapse to their
// operand, and branches on constants keep only the successor that is taken.
// Decoding with a Simplifier is what lets loop unrolling terminate: the exit
// condition of each iteration folds and the loop body stops being copied.
package fold

import (
	"github.com/matzehuels/irgraph/pkg/ir"
)

// Simplifier folds constant expressions and branches. The zero value is
// ready to use.
type Simplifier struct{}

// New returns a Simplifier.
func New() *Simplifier { return &Simplifier{} }

// CanonicalizeFloating returns the folded form of the detached node n, or n
// when nothing folds.
func (*Simplifier) CanonicalizeFloating(g *ir.Graph, n *ir.Node) *ir.Node {
	switch n.Kind() {
	case ir.KindArith:
		if r := foldArith(n); r != nil {
			return r
		}
	case ir.KindCompare:
		if r := foldCompare(n); r != nil {
			return r
		}
	}
	return n
}

// FoldBranch returns the taken successor of an If or Switch on a constant,
// or -1.
func (*Simplifier) FoldBranch(split *ir.Node) int {
	switch split.Kind() {
	case ir.KindIf:
		c := split.Condition()
		if !c.IsConstant() || c.ConstKind() == ir.ConstDouble {
			return -1
		}
		if c.ConstBits() != 0 {
			return 0
		}
		return 1
	case ir.KindSwitch:
		v := split.SwitchValue()
		if !v.IsConstant() || v.ConstKind() == ir.ConstDouble {
			return -1
		}
		keys := split.SwitchKeys()
		for i, k := range keys {
			if k == v.ConstBits() {
				return i
			}
		}
		return len(keys)
	}
	return -1
}

func foldArith(n *ir.Node) *ir.Node {
	x, y := n.Operands()
	op := n.Op()
	if x.IsConstant() && y.IsConstant() {
		if x.ConstKind() != y.ConstKind() || x.ConstKind() == ir.ConstDouble {
			return nil
		}
		v, ok := evalInt(op, x.ConstBits(), y.ConstBits())
		if !ok {
			return nil
		}
		if x.ConstKind() == ir.ConstInt {
			v = int64(int32(v))
		}
		return ir.NewConstant(x.ConstKind(), v)
	}
	if y.IsConstant() && y.ConstKind() != ir.ConstDouble {
		switch {
		case y.ConstBits() == 0 && (op == "+" || op == "-" || op == "|" || op == "^" || op == "<<" || op == ">>"):
			return x
		case y.ConstBits() == 1 && (op == "*" || op == "/"):
			return x
		}
	}
	if x.IsConstant() && x.ConstKind() != ir.ConstDouble {
		switch {
		case x.ConstBits() == 0 && (op == "+" || op == "|" || op == "^"):
			return y
		case x.ConstBits() == 1 && op == "*":
			return y
		}
	}
	return nil
}

func evalInt(op string, a, b int64) (int64, bool) {
	switch op {
	case "+":
		return a + b, true
	case "-":
		return a - b, true
	case "*":
		return a * b, true
	case "/":
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case "%":
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case "&":
		return a & b, true
	case "|":
		return a | b, true
	case "^":
		return a ^ b, true
	case "<<":
		return a << uint(b&63), true
	case ">>":
		return a >> uint(b&63), true
	}
	return 0, false
}

func foldCompare(n *ir.Node) *ir.Node {
	x, y := n.Operands()
	cond := n.Op()
	if x == y && x != nil {
		switch cond {
		case "==", "<=", ">=":
			return ir.NewConstant(ir.ConstInt, 1)
		case "!=", "<", ">":
			return ir.NewConstant(ir.ConstInt, 0)
		}
	}
	if !x.IsConstant() || !y.IsConstant() || x.ConstKind() != y.ConstKind() || x.ConstKind() == ir.ConstDouble {
		return nil
	}
	a, b := x.ConstBits(), y.ConstBits()
	var r bool
	switch cond {
	case "==":
		r = a == b
	case "!=":
		r = a != b
	case "<":
		r = a < b
	case "<=":
		r = a <= b
	case ">":
		r = a > b
	case ">=":
		r = a >= b
	default:
		return nil
	}
	if r {
		return ir.NewConstant(ir.ConstInt, 1)
	}
	return ir.NewConstant(ir.ConstInt, 0)
}
