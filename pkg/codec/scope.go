package codec

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// bitset is a dense set of small non-negative integers.
type bitset struct {
	words []uint64
}

func newBitset(n int) bitset { return bitset{words: make([]uint64, (n+63)/64)} }

func (b *bitset) grow(i int) {
	if need := i/64 + 1; need > len(b.words) {
		b.words = append(b.words, make([]uint64, need-len(b.words))...)
	}
}

func (b *bitset) set(i int) {
	b.grow(i)
	b.words[i/64] |= 1 << (uint(i) % 64)
}

func (b *bitset) clear(i int) {
	if i/64 < len(b.words) {
		b.words[i/64] &^= 1 << (uint(i) % 64)
	}
}

func (b *bitset) test(i int) bool {
	return i/64 < len(b.words) && b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// next returns the smallest member >= from, or -1.
func (b *bitset) next(from int) int {
	if from < 0 {
		from = 0
	}
	w := from / 64
	if w >= len(b.words) {
		return -1
	}
	word := b.words[w] >> (uint(from) % 64)
	if word != 0 {
		return from + bits.TrailingZeros64(word)
	}
	for w++; w < len(b.words); w++ {
		if b.words[w] != 0 {
			return w*64 + bits.TrailingZeros64(b.words[w])
		}
	}
	return -1
}

func (b *bitset) empty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// trigger records why a loop scope was created.
type trigger uint8

const (
	triggerStart trigger = iota
	triggerUnrolling
	triggerLoopEndDuplication
	triggerLoopExitDuplication
)

func (t trigger) String() string {
	switch t {
	case triggerStart:
		return "start"
	case triggerUnrolling:
		return "unrolling"
	case triggerLoopEndDuplication:
		return "loop-end-duplication"
	case triggerLoopExitDuplication:
		return "loop-exit-duplication"
	}
	return fmt.Sprintf("trigger(%d)", uint8(t))
}

// scopeQueue is a FIFO of loop iterations waiting to be decoded. Sibling
// iterations of one loop share the same queue.
type scopeQueue struct {
	items []*LoopScope
}

func newScopeQueue() *scopeQueue { return &scopeQueue{} }

func (q *scopeQueue) isEmpty() bool { return q == nil || len(q.items) == 0 }

func (q *scopeQueue) push(s *LoopScope) { q.items = append(q.items, s) }

func (q *scopeQueue) last() *LoopScope { return q.items[len(q.items)-1] }

func (q *scopeQueue) pop() *LoopScope {
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return s
}

// LoopScope is the decode context of one loop iteration. Node bindings are
// held in two arrays indexed by order id: initial holds bindings inherited
// from the scope the iteration was created from, created holds local ones.
// When written is non-nil it marks which ids were bound locally; otherwise
// every lookup reads created.
type LoopScope struct {
	method    *MethodScope
	outer     *LoopScope
	depth     int
	iteration int
	beginID   int
	trigger   trigger

	pending bitset
	initial []*ir.Node
	created []*ir.Node
	written *bitset

	exitDup  *scopeQueue
	endDup   *scopeQueue
	unrolled *scopeQueue
	states   *explosionStates
}

func newRootLoopScope(m *MethodScope) *LoopScope {
	p := m.policy
	s := &LoopScope{
		method:  m,
		beginID: -1,
		trigger: triggerStart,
		pending: newBitset(m.maxFixed + 1),
		created: make([]*ir.Node, m.encoded.NodeCount()),
	}
	s.allocQueues(p)
	return s
}

func (s *LoopScope) allocQueues(p Policy) {
	if p.DuplicateLoopExits() || p.MergeLoops() {
		s.exitDup = newScopeQueue()
	}
	if p.DuplicateLoopEnds() {
		s.endDup = newScopeQueue()
	}
	if p.UnrollLoops() {
		s.unrolled = newScopeQueue()
	}
}

// newSiblingScope creates an iteration of the same loop as s. With
// reuseInitial the new scope reads through to initial until it writes an id.
func newSiblingScope(s *LoopScope, iteration int, t trigger, initial, created []*ir.Node, reuseInitial bool) *LoopScope {
	n := &LoopScope{
		method:    s.method,
		outer:     s.outer,
		depth:     s.depth,
		iteration: iteration,
		beginID:   s.beginID,
		trigger:   t,
		pending:   newBitset(s.method.maxFixed + 1),
		initial:   initial,
		created:   created,
		exitDup:   s.exitDup,
		endDup:    s.endDup,
		unrolled:  s.unrolled,
		states:    s.states,
	}
	if reuseInitial && initial != nil {
		w := newBitset(len(created))
		n.written = &w
	}
	return n
}

func (s *LoopScope) node(id int) *ir.Node {
	if s.written == nil || s.written.test(id) {
		return s.created[id]
	}
	return s.initial[id]
}

func (s *LoopScope) setNode(id int, n *ir.Node) {
	if s.written != nil {
		s.written.set(id)
	}
	s.created[id] = n
}

// materialize returns one array holding the visible binding of every id.
func (s *LoopScope) materialize() []*ir.Node {
	if s.initial == nil || s.written == nil {
		return s.created
	}
	nodes := make([]*ir.Node, len(s.created))
	copy(nodes, s.initial)
	for i := s.written.next(0); i >= 0; i = s.written.next(i + 1) {
		nodes[i] = s.created[i]
	}
	return nodes
}

func (s *LoopScope) hasIterations() bool {
	return !s.endDup.isEmpty() || !s.exitDup.isEmpty() || !s.unrolled.isEmpty()
}

func (s *LoopScope) nextIteration() *LoopScope {
	switch {
	case !s.endDup.isEmpty():
		return s.endDup.pop()
	case !s.exitDup.isEmpty():
		return s.exitDup.pop()
	case !s.unrolled.isEmpty():
		return s.unrolled.pop()
	}
	return nil
}

func (s *LoopScope) String() string {
	if s.beginID < 0 {
		return fmt.Sprintf("%d,%d triggered by %s", s.depth, s.iteration, s.trigger)
	}
	return fmt.Sprintf("%d,%d#%d triggered by %s", s.depth, s.iteration, s.beginID, s.trigger)
}

func cloneNodes(nodes []*ir.Node) []*ir.Node {
	if nodes == nil {
		return nil
	}
	return append([]*ir.Node(nil), nodes...)
}

// explosionState keys a convergence merge by the state that reaches it.
type explosionState struct {
	state *ir.Node
	merge *ir.Node
	hash  uint64
}

func newExplosionState(state, merge *ir.Node) *explosionState {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range state.StateValues() {
		id := uint64(1234)
		if v != nil {
			id = uint64(v.ID()) + 1<<32
		}
		binary.LittleEndian.PutUint64(buf[:], id)
		_, _ = d.Write(buf[:])
	}
	return &explosionState{state: state, merge: merge, hash: d.Sum64()}
}

func (e *explosionState) equal(o *explosionState) bool {
	return e.hash == o.hash && ir.SameStateValues(e.state, o.state)
}

// explosionStates is the convergence map of one exploded loop, shared by all
// of its iterations.
type explosionStates struct {
	buckets map[uint64][]*explosionState
	size    int
}

func newExplosionStates() *explosionStates {
	return &explosionStates{buckets: make(map[uint64][]*explosionState)}
}

func (m *explosionStates) get(q *explosionState) *explosionState {
	for _, e := range m.buckets[q.hash] {
		if e.equal(q) {
			return e
		}
	}
	return nil
}

func (m *explosionStates) put(e *explosionState) {
	m.buckets[e.hash] = append(m.buckets[e.hash], e)
	m.size++
}

// MethodScope is the decode context of one method: the root graph or a
// callee inlined during decoding.
type MethodScope struct {
	caller     *MethodScope
	callerLoop *LoopScope
	encoded    *EncodedGraph
	reader     *Reader
	width      int
	maxFixed   int
	policy     Policy
	mark       ir.Mark

	// returns collects Return and Unwind nodes of this method.
	returns []*ir.Node

	// placeholders are the merges created in place of loop headers and exits
	// under explosion; head is the first top-level one.
	placeholders map[*ir.Node]bool
	head         *ir.Node

	invoke *invokeData
}

func newMethodScope(caller *MethodScope, callerLoop *LoopScope, g *ir.Graph, eg *EncodedGraph, p Policy) *MethodScope {
	m := &MethodScope{
		caller:     caller,
		callerLoop: callerLoop,
		encoded:    eg,
		reader:     NewReader(eg.data),
		width:      eg.width,
		maxFixed:   eg.maxFixed,
		policy:     p,
		mark:       g.Mark(),
	}
	if p.UseExplosion() {
		m.placeholders = make(map[*ir.Node]bool)
	}
	return m
}

func (m *MethodScope) inlined() bool { return m.caller != nil }
