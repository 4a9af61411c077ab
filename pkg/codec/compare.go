package codec

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// Compare walks a and b in lockstep from their start nodes and reports the
// first structural difference: node classes, property values, input and
// successor wiring, and the merge reached by each end. Nodes not reachable
// from start through inputs, successors or end-to-merge edges are ignored.
// It returns nil when the graphs are equal.
func Compare(a, b *ir.Graph) error {
	if a.Name != b.Name {
		return fmt.Errorf("graph name %q, want %q", b.Name, a.Name)
	}
	if !slices.Equal(a.Meta.StageFlags, b.Meta.StageFlags) ||
		!slices.Equal(a.Meta.Assumptions, b.Meta.Assumptions) ||
		!slices.Equal(a.Meta.InlinedMethods, b.Meta.InlinedMethods) {
		return fmt.Errorf("graph metadata %+v, want %+v", b.Meta, a.Meta)
	}

	fwd := make(map[*ir.Node]*ir.Node)
	rev := make(map[*ir.Node]*ir.Node)
	type pair struct{ x, y *ir.Node }
	work := []pair{{a.Start(), b.Start()}}
	// Merge ends may be listed in a different order. Phi values are paired
	// through the end they flow in from once every end has been matched.
	var phis []pair
	for len(work) > 0 || len(phis) > 0 {
		if len(work) == 0 {
			for _, p := range phis {
				for _, end := range p.x.PhiMerge().CFGPredecessors() {
					other, ok := fwd[end]
					if !ok {
						return fmt.Errorf("%v of %v is unreachable", end, p.x.PhiMerge())
					}
					work = append(work, pair{p.x.ValueAt(end), p.y.ValueAt(other)})
				}
			}
			phis = nil
			continue
		}
		p := work[len(work)-1]
		work = work[:len(work)-1]
		x, y := p.x, p.y
		if x == nil || y == nil {
			if x != y {
				return fmt.Errorf("%v corresponds to %v", x, y)
			}
			continue
		}
		if m, ok := fwd[x]; ok {
			if m != y {
				return fmt.Errorf("%v corresponds to both %v and %v", x, m, y)
			}
			continue
		}
		if m, ok := rev[y]; ok {
			return fmt.Errorf("%v corresponds to both %v and %v", y, m, x)
		}
		fwd[x], rev[y] = y, x

		if err := compareNode(x, y); err != nil {
			return err
		}
		c := x.Class()
		for i := range c.Inputs.Direct {
			work = append(work, pair{x.Input(i), y.Input(i)})
		}
		switch {
		case c.Kind == ir.KindPhi:
			phis = append(phis, pair{x, y})
		case c.Kind.IsMerge():
		default:
			for i := range c.Inputs.Lists {
				xs, _ := x.InputList(i)
				ys, _ := y.InputList(i)
				for j := range xs {
					work = append(work, pair{xs[j], ys[j]})
				}
			}
		}
		for i := range c.Successors.Direct {
			work = append(work, pair{x.Successor(i), y.Successor(i)})
		}
		for i := range c.Successors.Lists {
			xs, _ := x.SuccessorList(i)
			ys, _ := y.SuccessorList(i)
			for j := range xs {
				work = append(work, pair{xs[j], ys[j]})
			}
		}
		if c.Kind.IsEnd() {
			work = append(work, pair{x.EndMerge(), y.EndMerge()})
		}
	}
	return nil
}

// compareNode compares the class, properties and edge shape of one node pair.
func compareNode(x, y *ir.Node) error {
	cx, cy := x.Class(), y.Class()
	if cx.Name != cy.Name {
		return fmt.Errorf("%v has class %s, want %s", y, cy, cx)
	}
	for i, f := range cx.Fields {
		if f.Object {
			if !reflect.DeepEqual(x.Object(i), y.Object(i)) {
				return fmt.Errorf("%v field %s = %v, want %v", y, f.Name, y.Object(i), x.Object(i))
			}
		} else if x.Prim(i) != y.Prim(i) {
			return fmt.Errorf("%v field %s = %d, want %d", y, f.Name, y.Prim(i), x.Prim(i))
		}
	}
	for i, name := range cx.Inputs.Lists {
		xs, xp := x.InputList(i)
		ys, yp := y.InputList(i)
		if xp != yp || len(xs) != len(ys) {
			return fmt.Errorf("%v input list %s has %d entries, want %d", y, name, len(ys), len(xs))
		}
	}
	for i, name := range cx.Successors.Lists {
		xs, xp := x.SuccessorList(i)
		ys, yp := y.SuccessorList(i)
		if xp != yp || len(xs) != len(ys) {
			return fmt.Errorf("%v successor list %s has %d entries, want %d", y, name, len(ys), len(xs))
		}
	}
	return nil
}

// verify decodes eg without explosion or simplification and compares the
// result against g. Any difference is a defect of the format.
func (e *Encoder) verify(ctx context.Context, g *ir.Graph, eg *EncodedGraph) error {
	decoded, err := Decode(ctx, eg, Options{Policy: PolicyNone, SkipLoopDetection: true})
	if err != nil {
		if errors.Is(err, errors.ErrCodeCanceled) || errors.Is(err, errors.ErrCodeTimeout) {
			return err
		}
		return errors.Wrap(errors.ErrCodeInternal, err, "self-check of %q: decode", g.Name)
	}
	if err := Compare(g, decoded); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "self-check of %q", g.Name)
	}
	if e.Logger != nil {
		e.Logger.Debug("self-check passed", "graph", g.Name)
	}
	return nil
}
