package loops

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
	"github.com/matzehuels/irgraph/pkg/observability"
)

var tracer = otel.Tracer("github.com/matzehuels/irgraph/pkg/loops")

// Region is the part of a graph produced by one merge-explode decode.
type Region struct {
	// Head is the placeholder of the first top-level loop. It becomes the
	// outermost loop and hosts the dispatch of irreducible loops.
	Head *ir.Node

	// Placeholders are the merges that stand in for loop headers and exits.
	Placeholders map[*ir.Node]bool

	// Mark is the allocation mark taken before decoding started. Nodes older
	// than the mark lie outside the region.
	Mark ir.Mark
}

// Result summarizes a detection run.
type Result struct {
	// Loops counts the loops rebuilt, including irreducible ones.
	Loops int
	// Irreducible counts loops folded into the dispatch switch.
	Irreducible int
	// DispatchKeys are the states the dispatch switch selects between.
	DispatchKeys []int64
}

// Option configures [Detect].
type Option func(*detector)

// WithLogger enables debug logging of the rebuilt loops.
func WithLogger(l *log.Logger) Option { return func(d *detector) { d.logger = l } }

// loop is a cycle through a placeholder merge, before loop nodes exist.
type loop struct {
	header      *ir.Node
	ends        []*ir.Node // End nodes whose merge is header
	exits       []*ir.Node // End nodes that leave the loop into a placeholder
	irreducible bool
}

type detector struct {
	g      *ir.Graph
	region Region
	logger *log.Logger
	span   trace.Span

	handler  *loop
	dispatch *ir.Node
}

// Detect rebuilds the loops of region in g.
//
// Cycles are found with a depth-first walk from the head. Loops are handled
// inner first. For each loop the exits are computed, then either loop nodes
// are inserted or, when the loop has an entry other than its header, it is
// folded into a dispatch switch at the head.
//
// # Exits
//
// A walk backward from the loop ends marks the loop body. Successors of
// control splits in the body that are not in the body are exit candidates;
// walking forward from them, every End that reaches a placeholder merge is an
// exit. When several exits meet in one merge that has no other entries, the
// exits are moved down to the End leaving that merge into a placeholder, so
// that the shared code is not part of the loop.
//
// # Irreducible loops
//
// An irreducible loop is rewritten only when its header state differs from
// the head state in exactly one slot holding an int constant. The slot becomes
// a phi at the head and a switch on it dispatches to the original code or to
// the irreducible loop. Any other shape fails with [errors.ErrCodeBailout].
func Detect(ctx context.Context, g *ir.Graph, region Region, opts ...Option) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "loops.Detect", trace.WithAttributes(attribute.String("irgraph.graph", g.Name)))
	defer span.End()
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		observability.Loops().OnLoopsDetected(ctx, g.Name, res.Loops, res.Irreducible, time.Since(start), err)
	}()

	if region.Head == nil {
		return res, nil
	}
	d := &detector{g: g, region: region, span: span}
	for _, o := range opts {
		o(d)
	}

	ordered := d.findLoops()
	for _, l := range ordered {
		if err := errors.FromContext(ctx); err != nil {
			return res, err
		}
		if len(l.ends) == 0 {
			continue
		}
		d.findLoopExits(l)
		if l.irreducible {
			if err := d.handleIrreducible(l); err != nil {
				return res, err
			}
			res.Irreducible++
		} else {
			d.insertLoopNodes(l)
		}
		res.Loops++
		span.AddEvent("loop", trace.WithAttributes(
			attribute.Int("irgraph.header", l.header.ID()),
			attribute.Int("irgraph.ends", len(l.ends)),
			attribute.Int("irgraph.exits", len(l.exits)),
			attribute.Bool("irgraph.irreducible", l.irreducible),
		))
	}

	if d.dispatch != nil {
		res.DispatchKeys = d.dispatch.SwitchKeys()
		if d.logger != nil {
			keys := make([]string, len(res.DispatchKeys))
			for i, k := range res.DispatchKeys {
				keys[i] = fmt.Sprint(k)
			}
			d.logger.Debug("inserted state machine for irreducible loops", "graph", g.Name, "states", strings.Join(keys, ", "))
		}
	}
	if d.logger != nil {
		d.logger.Debug("loops detected", "graph", g.Name, "loops", res.Loops, "irreducible", res.Irreducible)
	}
	return res, nil
}

// findLoops returns the loops in post order: inner loops first, the loop at
// the head last.
func (d *detector) findLoops() []*loop {
	byHeader := make(map[*ir.Node]*loop)
	var ordered []*loop
	find := func(header *ir.Node) *loop {
		l := byHeader[header]
		if l == nil {
			l = &loop{header: header}
			byHeader[header] = l
		}
		return l
	}
	d.handler = find(d.region.Head)

	visited := map[*ir.Node]bool{d.region.Head: true}
	active := make(map[*ir.Node]bool)
	stack := []*ir.Node{d.region.Head}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		if active[current] {
			stack = stack[:len(stack)-1]
			delete(active, current)
			if l := byHeader[current]; l != nil {
				ordered = append(ordered, l)
			}
			continue
		}
		active[current] = true
		for _, succ := range current.CFGSuccessors() {
			switch {
			case active[succ]:
				// Backward branch. Loops kept by the decoder close through
				// a LoopEnd and are not rebuilt.
				if current.Kind() == ir.KindEnd && d.region.Placeholders[succ] {
					l := find(succ)
					l.ends = append(l.ends, current)
				}
			case visited[succ]:
			default:
				visited[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	return ordered
}

func (d *detector) findLoopExits(l *loop) {
	var possible []*ir.Node
	visited := make(map[*ir.Node]bool)
	var stack []*ir.Node
	for _, end := range l.ends {
		stack = append(stack, end)
		visited[end] = true
	}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == l.header {
			continue
		}
		if !d.g.IsNew(d.region.Mark, current) {
			// Reached code before the region without passing the header:
			// the loop has a second entry.
			l.irreducible = true
			return
		}
		for _, pred := range current.CFGPredecessors() {
			if pred.Kind() == ir.KindLoopExit {
				// Skip over an inner loop that is already rebuilt; its exits
				// may leave this loop too.
				inner := pred.LoopBegin()
				if !visited[inner] {
					stack = append(stack, inner)
					visited[inner] = true
					possible = append(possible, inner.LoopExits()...)
				}
				continue
			}
			if visited[pred] {
				continue
			}
			stack = append(stack, pred)
			visited[pred] = true
			if pred.Class().IsControlSplit() {
				possible = append(possible, pred.CFGSuccessors()...)
			}
		}
	}

	for _, succ := range possible {
		if !visited[succ] {
			stack = append(stack, succ)
			visited[succ] = true
		}
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range current.CFGSuccessors() {
			switch {
			case visited[succ]:
			case d.region.Placeholders[succ]:
				l.exits = append(l.exits, current)
			default:
				visited[succ] = true
				stack = append(stack, succ)
			}
		}
	}

	d.absorbSharedExits(l)
}

// absorbSharedExits moves exits that are the only ends of one placeholder
// past that placeholder, to the End entering the next one. Proxies for values
// of the shared code are then not needed.
func (d *detector) absorbSharedExits(l *loop) {
	seen := make(map[*ir.Node]bool)
	var shared []*ir.Node
	for _, exit := range l.exits {
		m := exit.EndMerge()
		if seen[m] && !slices.Contains(shared, m) {
			shared = append(shared, m)
		}
		seen[m] = true
	}

	for _, m := range shared {
		if m.Kind() != ir.KindMerge {
			continue
		}
		all := true
		for _, end := range m.ForwardEnds() {
			if !slices.Contains(l.exits, end) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		for current := m; current != nil; {
			if current.Class().HasNext() {
				current = current.Next()
				continue
			}
			if current.Kind() == ir.KindEnd && d.region.Placeholders[current.EndMerge()] {
				l.exits = slices.DeleteFunc(l.exits, func(x *ir.Node) bool { return x.EndMerge() == m })
				l.exits = append(l.exits, current)
			}
			// A control split or sink after the merge leaves the exits where
			// they are.
			break
		}
	}
}

func (d *detector) insertLoopNodes(l *loop) {
	g := d.g
	merge := l.header
	state := ir.DuplicateState(merge.StateAfter(), nil)
	after := merge.Next()
	merge.SetNext(nil)

	pre := g.End()
	lb := g.LoopBegin(state, pre)
	merge.SetNext(pre)
	lb.SetNext(after)

	mergePhis := merge.Phis()
	loopPhis := make([]*ir.Node, len(mergePhis))
	for i, phi := range mergePhis {
		lp := g.Phi(lb)
		phi.ReplaceAtUsages(lp)
		lp.AddPhiValue(phi)
		loopPhis[i] = lp
	}

	for _, end := range l.ends {
		for i, phi := range mergePhis {
			loopPhis[i].AddPhiValue(phi.ValueAt(end))
		}
		merge.RemoveEnd(end)
		end.ReplaceAndDelete(g.LoopEnd(lb))
	}

	for _, exit := range l.exits {
		placeholder := exit.EndMerge()
		le := g.LoopExit(lb, nil)
		exit.ReplaceAtPredecessor(le)
		le.SetNext(exit)
		if ps := placeholder.StateAfter(); ps != nil {
			le.SetStateAfter(ir.DuplicateState(ps, func(v *ir.Node) *ir.Node {
				if placeholder.IsPhiAtMerge(v) {
					return v.ValueAt(exit)
				}
				return v
			}))
		}
	}
	if d.logger != nil {
		d.logger.Debug("loop", "header", lb, "ends", len(l.ends), "exits", len(l.exits))
	}
}

func (d *detector) handleIrreducible(l *loop) error {
	g := d.g
	h := d.handler
	loopState := l.header.StateAfter()
	headState := h.header.StateAfter()
	loopValues, headValues := loopState.StateValues(), headState.StateValues()
	if len(loopValues) != len(headValues) || loopState.OuterState() != headState.OuterState() {
		return bailout("must have the same state shape at every loop header")
	}

	slot := -1
	var loopValue, headValue *ir.Node
	for i := range loopValues {
		if loopValues[i] == headValues[i] {
			continue
		}
		if slot >= 0 {
			return bailout("must have only one variable that is changed in loop. %v != %v and %v != %v",
				loopValue, headValue, loopValues[i], headValues[i])
		}
		slot, loopValue, headValue = i, loopValues[i], headValues[i]
	}
	if slot < 0 {
		return bailout("must have one variable that is changed in loop")
	}
	loopKey, err := asInt(loopValue)
	if err != nil {
		return err
	}

	table := make(map[int64]*ir.Node)
	var phi, unreachable *ir.Node
	if d.dispatch == nil {
		headKey, err := asInt(headValue)
		if err != nil {
			return err
		}
		phi = g.Phi(h.header)
		for i := 0; i < h.header.PhiPredecessorCount(); i++ {
			phi.AddPhiValue(headValue)
		}
		headState.ReplaceAtUsages(ir.DuplicateState(headState, nil))
		h.header.StateAfter().SetStateValue(slot, phi)
		ir.KillUnusedFloating(headState)

		next := h.header.Next()
		h.header.SetNext(nil)
		begin := g.Begin()
		begin.SetNext(next)
		table[int64(headKey)] = begin

		unreachable = g.Begin()
		unreachable.SetNext(g.Deoptimize("unreached dispatch state"))
	} else {
		phi = d.dispatch.SwitchValue()
		succs := d.dispatch.SwitchSuccessors()
		for i, k := range d.dispatch.SwitchKeys() {
			table[k] = succs[i]
		}
		unreachable = succs[len(succs)-1]
		h.header.SetNext(nil)
		d.dispatch.SafeDelete()
	}
	if _, dup := table[int64(loopKey)]; dup {
		return bailout("must have distinct loop variable values, %d is used twice", loopKey)
	}

	begin := g.Begin()
	entry := g.End()
	begin.SetNext(entry)
	l.header.AddForwardEnd(entry)
	table[int64(loopKey)] = begin

	for _, end := range l.ends {
		l.header.RemoveEnd(end)
		h.ends = append(h.ends, end)
		h.header.AddForwardEnd(end)
		phi.AddPhiValue(loopValue)
	}

	keys := make([]int64, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	succs := make([]*ir.Node, 0, len(keys)+1)
	for _, k := range keys {
		succs = append(succs, table[k])
	}
	succs = append(succs, unreachable)
	d.dispatch = g.Switch(phi, keys, succs...)
	h.header.SetNext(d.dispatch)
	return nil
}

func asInt(v *ir.Node) (int32, error) {
	i, ok := v.AsInt()
	if !ok {
		return 0, bailout("must have a loop variable of type int. %v", v)
	}
	return i, nil
}

func bailout(format string, args ...any) error {
	return errors.New(errors.ErrCodeBailout,
		"implementation restriction: method with merge-explode loop explosion "+format, args...)
}
