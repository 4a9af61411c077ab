package codec

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
	"github.com/matzehuels/irgraph/pkg/loops"
	"github.com/matzehuels/irgraph/pkg/observability"
)

// DefaultMaxExplosionIterations bounds the loop scopes created for one loop
// before decoding is abandoned.
const DefaultMaxExplosionIterations = 1000

// DefaultMaxInlineDepth bounds nested inlining during decoding.
const DefaultMaxInlineDepth = 16

// Simplifier canonicalizes nodes as they are decoded. Implementations must not
// add nodes to the graph themselves except through the returned node.
type Simplifier interface {
	// CanonicalizeFloating returns a replacement for the detached floating
	// node n, or n itself. A detached replacement is added by the decoder.
	CanonicalizeFloating(g *ir.Graph, n *ir.Node) *ir.Node

	// FoldBranch returns the index of the only reachable successor of a
	// control split, or -1 when the branch is not decided. For an If, 0 is
	// the true branch; for a Switch, the index is into its successor list.
	FoldBranch(split *ir.Node) int
}

// Inliner decides which calls are replaced by the body of their callee.
type Inliner interface {
	// InlineGraph returns the encoded callee of callTarget, or nil to keep
	// the call.
	InlineGraph(callTarget *ir.Node) *EncodedGraph
}

// InlinerFunc adapts a function to [Inliner].
type InlinerFunc func(callTarget *ir.Node) *EncodedGraph

func (f InlinerFunc) InlineGraph(callTarget *ir.Node) *EncodedGraph { return f(callTarget) }

// Tracker observes how order ids are bound to decoded nodes.
type Tracker interface {
	Bind(orderID int, n *ir.Node)
	Replace(old, n *ir.Node)
}

// Options configure a decode.
type Options struct {
	Policy     Policy
	Simplifier Simplifier
	Inliner    Inliner
	Tracker    Tracker

	// References are resolved to decoded nodes of the root method.
	References []*NodeReference

	// SkipLoopDetection leaves the loop placeholders of MergeExplode in place.
	SkipLoopDetection bool

	MaxExplosionIterations int
	MaxInlineDepth         int

	Logger *log.Logger
}

type decodeError struct{ err error }

type decoder struct {
	ctx    context.Context
	g      *ir.Graph
	opts   Options
	lazy   bool // phis are created only once two inputs differ
	logger *log.Logger
	span   trace.Span

	steps   int
	scopes  int
	invokes int
	loops   loops.Result
}

// Decode rebuilds the graph held by eg. Loops are exploded according to
// opts.Policy; calls accepted by opts.Inliner are replaced by their callee.
func Decode(ctx context.Context, eg *EncodedGraph, opts Options) (*ir.Graph, error) {
	ctx, span := tracer.Start(ctx, "codec.Decode", trace.WithAttributes(
		attribute.String("irgraph.graph", eg.Name()),
		attribute.String("irgraph.policy", opts.Policy.String()),
	))
	defer span.End()
	start := time.Now()
	observability.Codec().OnDecodeStart(ctx, eg.Name(), opts.Policy.String())

	g, d, err := decode(ctx, span, eg, opts)
	nodes := 0
	if g != nil {
		nodes = g.NodeCount()
	}
	observability.Codec().OnDecodeComplete(ctx, eg.Name(), nodes, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("irgraph.nodes", nodes),
		attribute.Int("irgraph.loop_scopes", d.scopes),
	)
	if d.logger != nil {
		d.logger.Debug("decoded graph", "graph", eg.Name(), "policy", opts.Policy, "nodes", nodes,
			"scopes", d.scopes, "inlined", d.invokes, "loops", d.loops.Loops)
	}
	return g, nil
}

func decode(ctx context.Context, span trace.Span, eg *EncodedGraph, opts Options) (g *ir.Graph, d *decoder, err error) {
	if !opts.Policy.Valid() {
		return nil, nil, errors.New(errors.ErrCodeInvalidPolicy, "unsupported loop explosion policy %v", opts.Policy)
	}
	for _, ref := range opts.References {
		if ref.state != refEncoded || ref.orderID >= eg.NodeCount() {
			return nil, nil, errors.New(errors.ErrCodeInvalidInput, "node reference %d is not encoded in %q", ref.orderID, eg.Name())
		}
	}
	if opts.MaxExplosionIterations <= 0 {
		opts.MaxExplosionIterations = DefaultMaxExplosionIterations
	}
	if opts.MaxInlineDepth <= 0 {
		opts.MaxInlineDepth = DefaultMaxInlineDepth
	}

	g = ir.NewGraph(eg.Name())
	g.Meta = ir.Meta{
		StageFlags:     append([]string(nil), eg.meta.StageFlags...),
		Assumptions:    append([]string(nil), eg.meta.Assumptions...),
		InlinedMethods: append([]string(nil), eg.meta.InlinedMethods...),
	}
	d = &decoder{
		ctx:    ctx,
		g:      g,
		opts:   opts,
		lazy:   opts.Policy.UseExplosion() || opts.Simplifier != nil,
		logger: opts.Logger,
		span:   span,
	}

	defer func() {
		if r := recover(); r != nil {
			de, ok := r.(decodeError)
			if !ok && !recoverDefects {
				panic(r)
			}
			g = nil
			if ok {
				err = de.err
				return
			}
			err = errors.New(errors.ErrCodeInternal, "decode %q: %v", eg.Name(), r)
		}
	}()

	m := newMethodScope(nil, nil, g, eg, opts.Policy)
	root := d.initialLoopScope(m, nil)
	d.run(root)
	d.cleanup()

	if verr := g.Verify(); verr != nil {
		return nil, d, errors.Wrap(errors.ErrCodeInternal, verr, "decoded graph %q", eg.Name())
	}
	for _, ref := range opts.References {
		n := root.node(ref.orderID)
		if n == nil || n.Deleted() {
			return nil, d, errors.New(errors.ErrCodeInternal, "node reference %d has no decoded node", ref.orderID)
		}
		ref.node, ref.state = n, refDecoded
	}
	return g, d, nil
}

func (d *decoder) fail(code errors.Code, format string, args ...any) {
	panic(decodeError{errors.New(code, format, args...)})
}

// check aborts when the reader hit corrupt data or ctx is done.
func (d *decoder) check(m *MethodScope) {
	if err := m.reader.Err(); err != nil {
		panic(decodeError{errors.Wrap(errors.ErrCodeInternal, err, "read %s", m.encoded)})
	}
	d.steps++
	if d.steps%64 == 0 {
		if err := errors.FromContext(d.ctx); err != nil {
			panic(decodeError{err})
		}
	}
}

// =============================================================================
// Driver
// =============================================================================

// initialLoopScope creates the root scope of a method. An inlined method
// replaces the invoke at, and its start is bound to the enclosing block.
func (d *decoder) initialLoopScope(m *MethodScope, at *ir.Node) *LoopScope {
	s := newRootLoopScope(m)
	if at == nil {
		d.register(s, StartOrderID, d.g.Start())
		s.pending.set(StartOrderID)
		return s
	}
	d.register(s, StartOrderID, ir.PrevBegin(at))
	at.ReplaceAtPredecessor(d.makeStub(m, s, FirstOrderID))
	return s
}

func (d *decoder) run(s *LoopScope) {
	for s != nil {
		m := s.method
		for s != nil {
			for !s.pending.empty() {
				s = d.processNextNode(m, s)
				m = s.method
			}
			if s.hasIterations() {
				s = s.nextIteration()
				continue
			}
			propagateCreatedNodes(s)
			s = s.outer
		}
		if m.policy.MergeLoops() && !d.opts.SkipLoopDetection {
			d.detectLoops(m)
		}
		if m.inlined() {
			d.finishInlining(m)
		}
		s = m.callerLoop
	}
}

// propagateCreatedNodes copies bindings of a finished scope that shares its
// arrays with the outer scope.
func propagateCreatedNodes(s *LoopScope) {
	outer := s.outer
	if outer == nil || !sameNodes(outer.created, s.created) {
		return
	}
	for i := range s.created {
		if outer.created[i] == nil {
			outer.created[i] = s.node(i)
		}
	}
}

func sameNodes(a, b []*ir.Node) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

func (d *decoder) detectLoops(m *MethodScope) {
	if m.head == nil {
		return
	}
	res, err := loops.Detect(d.ctx, d.g, loops.Region{
		Head:         m.head,
		Placeholders: m.placeholders,
		Mark:         m.mark,
	}, loops.WithLogger(d.logger))
	if err != nil {
		panic(decodeError{err})
	}
	d.loops.Loops += res.Loops
	d.loops.Irreducible += res.Irreducible
}

func (d *decoder) processNextNode(m *MethodScope, s *LoopScope) *LoopScope {
	id := s.pending.next(0)
	s.pending.clear(id)

	n := s.node(id)
	if n == nil || n.Deleted() {
		return s
	}
	d.check(m)
	c := n.Class()

	if d.lazy && (c.Kind == ir.KindMerge || (c.Kind == ir.KindLoopBegin && m.policy.UnrollLoops() && !m.policy.MergeLoops())) &&
		n.ForwardEndCount() == 1 && len(n.Phis()) == 0 {
		// A merge reached by one end only: splice its successor onto the end.
		end := n.ForwardEndAt(0)
		d.register(s, id, ir.PrevBegin(end))
		next := d.makeStub(m, s, id+beginNextOffset)
		end.ReplaceAtPredecessor(next)
		n.SafeDelete()
		end.SafeDelete()
		return s
	}

	addScope := s
	updatePreds := true
	if c.Kind == ir.KindLoopExit {
		addScope = d.loopExitScope(m, s)
		updatePreds = !m.policy.UseExplosion()
	}

	off, err := m.encoded.NodeOffset(id)
	if err != nil {
		panic(decodeError{err})
	}
	m.reader.SetPos(off)
	if rc := d.classOf(m, m.reader.UVInt()); rc != c {
		d.fail(errors.ErrCodeInternal, "node %d of %s: record has class %v, stub has %v", id, m.encoded, rc, c)
	}
	d.makeFixedNodeInputs(m, s, n)
	d.readProperties(m, n)

	if d.opts.Simplifier != nil && (c.Kind == ir.KindIf || c.Kind == ir.KindSwitch) && d.foldBranch(m, addScope, id, n) {
		return s
	}
	d.makeSuccessorStubs(m, addScope, n, updatePreds)

	result := s
	switch {
	case c.Kind == ir.KindLoopBegin:
		if m.policy.UseExplosion() {
			d.handleLoopExplosionBegin(m, s, n)
		}
	case c.Kind == ir.KindLoopExit:
		if m.policy.UseExplosion() {
			d.handleLoopExplosionProxies(m, s, addScope, n, id)
		} else {
			d.handleProxies(m, s, n)
		}
	case c.Kind.IsEnd():
		result = d.handleEnd(m, s, n)
	case c.Kind == ir.KindInvoke:
		result = d.handleInvoke(m, s, d.readInvokeData(m, id, n))
	case c.Kind == ir.KindReturn || c.Kind == ir.KindUnwind:
		m.returns = append(m.returns, n)
	}
	d.check(m)
	return result
}

// loopExitScope returns the scope that receives the successor of a loop exit
// decoded in s.
func (d *decoder) loopExitScope(m *MethodScope, s *LoopScope) *LoopScope {
	p := m.policy
	if !p.DuplicateLoopExits() && !(p.MergeLoops() && s.depth > 1) {
		return s.outer
	}
	outer := s.outer
	if s.initial == nil {
		d.fail(errors.ErrCodeInternal, "loop exit in scope %v without initial bindings", s)
	}
	next := outer.iteration + 1
	if !outer.exitDup.isEmpty() {
		next = outer.exitDup.last().iteration + 1
	}
	initial := outer.initial
	if initial != nil && p.MergeLoops() {
		initial = cloneNodes(initial)
	}
	dup := newSiblingScope(outer, next, triggerLoopExitDuplication, initial, cloneNodes(s.initial), false)
	d.checkIteration(m, dup)
	for i := outer.pending.next(0); i >= 0; i = outer.pending.next(i + 1) {
		dup.setNode(i, nil)
	}
	outer.exitDup.push(dup)
	return dup
}

func (d *decoder) checkIteration(m *MethodScope, s *LoopScope) {
	if s.iteration > d.opts.MaxExplosionIterations {
		d.fail(errors.ErrCodeBailout, "too many loop explosion iterations in %q: %d exceeds %d, does the explosion terminate?",
			m.encoded.Name(), s.iteration, d.opts.MaxExplosionIterations)
	}
	if s.trigger == triggerStart {
		return
	}
	d.scopes++
	observability.Codec().OnLoopIteration(d.ctx, m.encoded.Name(), s.trigger.String())
	if d.logger != nil {
		d.logger.Debug("loop scope", "graph", m.encoded.Name(), "scope", s)
	}
}

// =============================================================================
// Records
// =============================================================================

func (d *decoder) classOf(m *MethodScope, id int) *ir.Class {
	c, err := m.encoded.Class(id)
	if err != nil {
		panic(decodeError{err})
	}
	return c
}

func (d *decoder) readOrderID(m *MethodScope) int {
	var id int
	switch m.width {
	case 1:
		id = int(m.reader.U1())
	case 2:
		id = int(m.reader.U2())
	default:
		id = int(m.reader.S4())
	}
	if id < 0 || id >= m.encoded.NodeCount() {
		d.check(m)
		d.fail(errors.ErrCodeInternal, "order id %d out of range in %s", id, m.encoded)
	}
	return id
}

func (d *decoder) readObject(m *MethodScope) any {
	v, err := m.encoded.Object(m.reader.UVInt())
	if err != nil {
		panic(decodeError{err})
	}
	return v
}

func (d *decoder) register(s *LoopScope, id int, n *ir.Node) {
	s.setNode(id, n)
	if d.opts.Tracker != nil && n != nil {
		d.opts.Tracker.Bind(id, n)
	}
}

// makeStub returns the node bound to id in s, creating an empty fixed node of
// the record's class and queueing it for decoding when there is none.
func (d *decoder) makeStub(m *MethodScope, s *LoopScope, id int) *ir.Node {
	if id == NullOrderID {
		return nil
	}
	if n := s.node(id); n != nil {
		return n
	}
	if id > m.maxFixed {
		d.fail(errors.ErrCodeInternal, "control edge to floating node %d in %s", id, m.encoded)
	}
	off, err := m.encoded.NodeOffset(id)
	if err != nil {
		panic(decodeError{err})
	}
	pos := m.reader.Pos()
	m.reader.SetPos(off)
	c := d.classOf(m, m.reader.UVInt())
	m.reader.SetPos(pos)
	d.check(m)
	if !c.IsFixed() {
		d.fail(errors.ErrCodeInternal, "stub %d of %s has floating class %v", id, m.encoded, c)
	}
	n := d.g.NewNode(c)
	d.register(s, id, n)
	s.pending.set(id)
	return n
}

func (d *decoder) makeFixedNodeInputs(m *MethodScope, s *LoopScope, n *ir.Node) {
	c := n.Class()
	for i := range c.Inputs.Direct {
		if skipInput(c, i) {
			continue
		}
		n.SetInput(i, d.ensureNodeCreated(m, s, d.readOrderID(m)))
	}
	if skipInputLists(c) {
		return
	}
	for i := range c.Inputs.Lists {
		size := m.reader.SVInt()
		if size < 0 {
			continue
		}
		nodes := make([]*ir.Node, size)
		for j := range nodes {
			nodes[j] = d.ensureNodeCreated(m, s, d.readOrderID(m))
		}
		n.SetInputList(i, nodes)
	}
}

func (d *decoder) readProperties(m *MethodScope, n *ir.Node) {
	for i, f := range n.Class().Fields {
		if f.Object {
			n.SetObject(i, d.readObject(m))
		} else {
			n.SetPrim(i, m.reader.SV())
		}
	}
}

func (d *decoder) makeSuccessorStubs(m *MethodScope, s *LoopScope, n *ir.Node, updatePreds bool) {
	c := n.Class()
	if skipSuccessors(c) {
		return
	}
	for i := range c.Successors.Direct {
		succ := d.makeStub(m, s, d.readOrderID(m))
		if updatePreds {
			n.SetSuccessor(i, succ)
		} else {
			n.InitSuccessor(i, succ)
		}
	}
	for i := range c.Successors.Lists {
		size := m.reader.SVInt()
		if size < 0 {
			continue
		}
		nodes := make([]*ir.Node, size)
		for j := range nodes {
			nodes[j] = d.makeStub(m, s, d.readOrderID(m))
		}
		n.SetSuccessorList(i, nodes)
	}
}

// readSuccessorIDs returns the successor ids of the record under the cursor,
// direct slots first, then the lists in order.
func (d *decoder) readSuccessorIDs(m *MethodScope, c *ir.Class) []int {
	var ids []int
	for range c.Successors.Direct {
		ids = append(ids, d.readOrderID(m))
	}
	for range c.Successors.Lists {
		size := m.reader.SVInt()
		for j := 0; j < size; j++ {
			ids = append(ids, d.readOrderID(m))
		}
	}
	return ids
}

// foldBranch replaces a control split with a constant decision by the one
// successor that is taken. The other successors are never decoded.
func (d *decoder) foldBranch(m *MethodScope, s *LoopScope, id int, split *ir.Node) bool {
	idx := d.opts.Simplifier.FoldBranch(split)
	if idx < 0 {
		return false
	}
	ids := d.readSuccessorIDs(m, split.Class())
	if idx >= len(ids) {
		d.fail(errors.ErrCodeInternal, "folded %v to successor %d of %d", split, idx, len(ids))
	}
	survivor := d.makeStub(m, s, ids[idx])
	split.ReplaceAtPredecessor(survivor)
	d.register(s, id, survivor)
	split.SafeDelete()
	return true
}

// =============================================================================
// Floating nodes
// =============================================================================

// floatingFrame is a floating record whose inputs are being resolved.
type floatingFrame struct {
	id     int
	class  *ir.Class
	direct []int
	lists  [][]int // nil entry: absent list
	props  int     // offset of the properties
}

// ensureNodeCreated returns the node bound to id in s, decoding floating
// records on demand. Dependencies are resolved with an explicit stack so that
// long input chains do not grow the goroutine stack.
func (d *decoder) ensureNodeCreated(m *MethodScope, s *LoopScope, id int) *ir.Node {
	if id == NullOrderID {
		return nil
	}
	if n := s.node(id); n != nil {
		return n
	}
	pos := m.reader.Pos()
	defer m.reader.SetPos(pos)

	stack := []*floatingFrame{d.readFloating(m, id)}
	active := map[int]bool{id: true}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if dep := d.unresolved(s, f); dep != NullOrderID {
			if active[dep] {
				d.fail(errors.ErrCodeInternal, "floating node %d of %s depends on itself", dep, m.encoded)
			}
			active[dep] = true
			stack = append(stack, d.readFloating(m, dep))
			continue
		}
		stack = stack[:len(stack)-1]
		delete(active, f.id)
		d.createFloating(m, s, f)
	}
	return s.node(id)
}

func (d *decoder) readFloating(m *MethodScope, id int) *floatingFrame {
	if id <= m.maxFixed {
		d.fail(errors.ErrCodeInternal, "fixed node %d of %s is referenced before it is decoded", id, m.encoded)
	}
	off, err := m.encoded.NodeOffset(id)
	if err != nil {
		panic(decodeError{err})
	}
	m.reader.SetPos(off)
	f := &floatingFrame{id: id, class: d.classOf(m, m.reader.UVInt())}
	if f.class.IsFixed() {
		d.fail(errors.ErrCodeInternal, "node %d of %s is not floating: %v", id, m.encoded, f.class)
	}
	if f.class.Kind != ir.KindPhi {
		for range f.class.Inputs.Direct {
			f.direct = append(f.direct, d.readOrderID(m))
		}
		f.lists = make([][]int, len(f.class.Inputs.Lists))
		for i := range f.lists {
			size := m.reader.SVInt()
			if size < 0 {
				continue
			}
			f.lists[i] = make([]int, size)
			for j := range f.lists[i] {
				f.lists[i][j] = d.readOrderID(m)
			}
		}
	}
	f.props = m.reader.Pos()
	d.check(m)
	return f
}

func (d *decoder) unresolved(s *LoopScope, f *floatingFrame) int {
	for _, id := range f.direct {
		if id != NullOrderID && s.node(id) == nil {
			return id
		}
	}
	for _, l := range f.lists {
		for _, id := range l {
			if id != NullOrderID && s.node(id) == nil {
				return id
			}
		}
	}
	return NullOrderID
}

func (d *decoder) createFloating(m *MethodScope, s *LoopScope, f *floatingFrame) {
	n := ir.New(f.class)
	for i, id := range f.direct {
		if id != NullOrderID {
			n.SetInput(i, s.node(id))
		}
	}
	if f.class.Kind == ir.KindPhi {
		n.SetInputList(0, nil)
	}
	for i, l := range f.lists {
		if l == nil {
			continue
		}
		nodes := make([]*ir.Node, len(l))
		for j, id := range l {
			if id != NullOrderID {
				nodes[j] = s.node(id)
			}
		}
		n.SetInputList(i, nodes)
	}
	m.reader.SetPos(f.props)
	d.readProperties(m, n)
	d.check(m)

	switch {
	case f.class.Kind == ir.KindPhi || f.class.Kind == ir.KindProxy:
		d.g.Add(n)
	case d.opts.Simplifier != nil:
		c := d.opts.Simplifier.CanonicalizeFloating(d.g, n)
		if c.Graph() == nil {
			c = d.g.Unique(c)
		}
		n = c
	default:
		d.g.Add(n)
	}
	d.register(s, f.id, n)
}

// =============================================================================
// Cleanup
// =============================================================================

// cleanup removes what explosion and folding leave behind: merges with a
// single predecessor and floating nodes nothing uses.
func (d *decoder) cleanup() {
	if !d.lazy {
		return
	}
	for _, n := range d.g.Nodes() {
		if n.Deleted() || n.Kind() != ir.KindMerge {
			continue
		}
		if n.ForwardEndCount() == 1 {
			ir.ReduceTrivialMerge(n)
		}
	}
	for _, n := range d.g.Nodes() {
		if !n.Deleted() && !n.IsFixed() && n.Kind() != ir.KindParameter && !n.HasUsages() {
			ir.KillUnusedFloating(n)
		}
	}
}
