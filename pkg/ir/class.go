package ir

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies a node class. The codec and the loop detector dispatch on
// Kind and on the class layout only; they never inspect Go types.
type Kind uint8

const (
	KindStart Kind = iota
	KindBegin
	KindEnd
	KindMerge
	KindLoopBegin
	KindLoopEnd
	KindLoopExit
	KindIf
	KindSwitch
	KindInvoke
	KindExceptionObject
	KindReturn
	KindUnwind
	KindDeoptimize
	KindEffect

	KindParameter
	KindConstant
	KindArith
	KindCompare
	KindPhi
	KindProxy
	KindCallTarget
	KindFrameState
)

var kindNames = [...]string{
	KindStart:           "start",
	KindBegin:           "begin",
	KindEnd:             "end",
	KindMerge:           "merge",
	KindLoopBegin:       "loop-begin",
	KindLoopEnd:         "loop-end",
	KindLoopExit:        "loop-exit",
	KindIf:              "if",
	KindSwitch:          "switch",
	KindInvoke:          "invoke",
	KindExceptionObject: "exception-object",
	KindReturn:          "return",
	KindUnwind:          "unwind",
	KindDeoptimize:      "deoptimize",
	KindEffect:          "effect",
	KindParameter:       "parameter",
	KindConstant:        "constant",
	KindArith:           "arith",
	KindCompare:         "compare",
	KindPhi:             "phi",
	KindProxy:           "proxy",
	KindCallTarget:      "call-target",
	KindFrameState:      "frame-state",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Fixed reports whether nodes of this kind are pinned to a control-flow position.
func (k Kind) Fixed() bool { return k < KindParameter }

// IsMerge reports whether k is a join point (plain merge or loop header).
func (k Kind) IsMerge() bool { return k == KindMerge || k == KindLoopBegin }

// IsEnd reports whether k is an edge into a join.
func (k Kind) IsEnd() bool { return k == KindEnd || k == KindLoopEnd }

// IsBegin reports whether k starts a block and may be a control-split successor.
func (k Kind) IsBegin() bool {
	switch k {
	case KindStart, KindBegin, KindMerge, KindLoopBegin, KindLoopExit, KindExceptionObject:
		return true
	}
	return false
}

// Edges lists the named edge slots of one direction. Direct slots hold at most
// one node each; list slots hold a variable-length, possibly absent, node list.
type Edges struct {
	Direct []string
	Lists  []string
}

// Count returns the total number of slots.
func (e Edges) Count() int { return len(e.Direct) + len(e.Lists) }

// Field describes a non-edge property. Primitive fields are stored as raw
// int64 bit patterns; object fields hold arbitrary values.
type Field struct {
	Name   string
	Object bool
}

// Class is the per-type metadata consulted by the codec: field layout and
// edge cardinalities for inputs and successors.
type Class struct {
	Name       string
	Kind       Kind
	Inputs     Edges
	Successors Edges
	Fields     []Field

	state int
	next  int
	split bool
}

// NewClass builds a class and caches its well-known slot positions.
func NewClass(name string, kind Kind, inputs, successors Edges, fields ...Field) *Class {
	c := &Class{Name: name, Kind: kind, Inputs: inputs, Successors: successors, Fields: fields}
	c.state = c.InputIndex("stateAfter")
	c.next = c.SuccessorIndex("next")
	switch kind {
	case KindIf, KindSwitch:
		c.split = true
	case KindInvoke:
		c.split = c.SuccessorIndex("exceptionEdge") >= 0
	}
	return c
}

func (c *Class) String() string { return c.Name }

// IsFixed reports whether the class describes a fixed node.
func (c *Class) IsFixed() bool { return c.Kind.Fixed() }

// IsControlSplit reports whether the node has more than one control successor.
func (c *Class) IsControlSplit() bool { return c.split }

// HasNext reports whether the node has a single "next" control successor.
func (c *Class) HasNext() bool { return c.next >= 0 && !c.split }

// HasStateAfter reports whether the class carries a state snapshot input.
func (c *Class) HasStateAfter() bool { return c.state >= 0 }

// InputIndex returns the direct input slot with the given name, or -1.
func (c *Class) InputIndex(name string) int { return indexOf(c.Inputs.Direct, name) }

// InputListIndex returns the input list slot with the given name, or -1.
func (c *Class) InputListIndex(name string) int { return indexOf(c.Inputs.Lists, name) }

// SuccessorIndex returns the direct successor slot with the given name, or -1.
func (c *Class) SuccessorIndex(name string) int { return indexOf(c.Successors.Direct, name) }

// FieldIndex returns the field with the given name, or -1.
func (c *Class) FieldIndex(name string) int {
	for i, f := range c.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ValueNumberable reports whether equal nodes of this class may be shared.
func (c *Class) ValueNumberable() bool {
	switch c.Kind {
	case KindConstant, KindParameter, KindArith, KindCompare:
		return true
	}
	return false
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func direct(names ...string) Edges { return Edges{Direct: names} }

func prim(name string) Field { return Field{Name: name} }
func obj(name string) Field  { return Field{Name: name, Object: true} }

// Built-in node classes.
var (
	StartClass     = NewClass("Start", KindStart, direct("stateAfter"), direct("next"))
	BeginClass     = NewClass("Begin", KindBegin, Edges{}, direct("next"))
	EndClass       = NewClass("End", KindEnd, Edges{}, Edges{})
	MergeClass     = NewClass("Merge", KindMerge, Edges{Direct: []string{"stateAfter"}, Lists: []string{"ends"}}, direct("next"))
	LoopBeginClass = NewClass("LoopBegin", KindLoopBegin, Edges{Direct: []string{"stateAfter"}, Lists: []string{"ends"}}, direct("next"), prim("nextEndIndex"))
	LoopEndClass   = NewClass("LoopEnd", KindLoopEnd, direct("loopBegin"), Edges{}, prim("endIndex"))
	LoopExitClass  = NewClass("LoopExit", KindLoopExit, direct("loopBegin", "stateAfter"), direct("next"))
	IfClass        = NewClass("If", KindIf, direct("condition"), direct("trueSuccessor", "falseSuccessor"), prim("probability"))
	SwitchClass    = NewClass("Switch", KindSwitch, direct("value"), Edges{Lists: []string{"successors"}}, obj("keys"))

	InvokeClass              = NewClass("Invoke", KindInvoke, direct("callTarget", "stateAfter"), direct("next"), prim("bci"))
	InvokeWithExceptionClass = NewClass("InvokeWithException", KindInvoke, direct("callTarget", "stateAfter"), direct("next", "exceptionEdge"), prim("bci"))
	ExceptionObjectClass     = NewClass("ExceptionObject", KindExceptionObject, direct("stateAfter"), direct("next"))

	ReturnClass     = NewClass("Return", KindReturn, direct("value"), Edges{})
	UnwindClass     = NewClass("Unwind", KindUnwind, direct("exception"), Edges{})
	DeoptimizeClass = NewClass("Deoptimize", KindDeoptimize, Edges{}, Edges{}, obj("reason"))
	EffectClass     = NewClass("Effect", KindEffect, direct("value", "stateAfter"), direct("next"), obj("name"))

	ParameterClass  = NewClass("Parameter", KindParameter, Edges{}, Edges{}, prim("index"))
	ConstantClass   = NewClass("Constant", KindConstant, Edges{}, Edges{}, prim("kind"), prim("bits"))
	ArithClass      = NewClass("Arith", KindArith, direct("x", "y"), Edges{}, obj("op"))
	CompareClass    = NewClass("Compare", KindCompare, direct("x", "y"), Edges{}, obj("condition"))
	PhiClass        = NewClass("Phi", KindPhi, Edges{Direct: []string{"merge"}, Lists: []string{"values"}}, Edges{})
	ProxyClass      = NewClass("Proxy", KindProxy, direct("value", "loopExit"), Edges{})
	CallTargetClass = NewClass("CallTarget", KindCallTarget, Edges{Lists: []string{"arguments"}}, Edges{}, obj("target"), obj("declaringType"))
	FrameStateClass = NewClass("FrameState", KindFrameState, Edges{Direct: []string{"outer"}, Lists: []string{"values"}}, Edges{}, prim("bci"))
)

// Builtins returns the built-in classes in registration order.
func Builtins() []*Class {
	return []*Class{
		StartClass, BeginClass, EndClass, MergeClass, LoopBeginClass, LoopEndClass, LoopExitClass,
		IfClass, SwitchClass, InvokeClass, InvokeWithExceptionClass, ExceptionObjectClass,
		ReturnClass, UnwindClass, DeoptimizeClass, EffectClass,
		ParameterClass, ConstantClass, ArithClass, CompareClass, PhiClass, ProxyClass,
		CallTargetClass, FrameStateClass,
	}
}

var (
	// ErrUnknownClass is returned when a class name is not registered.
	ErrUnknownClass = errors.New("unknown node class")

	// ErrDuplicateClass is returned when registering a name twice.
	ErrDuplicateClass = errors.New("duplicate node class")
)

// Registry maps stable class names to classes. It is append-only and owned by
// the caller; there is no process-wide instance.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Class
	order  []*Class
}

// NewRegistry creates a registry holding the given classes.
func NewRegistry(classes ...*Class) *Registry {
	r := &Registry{byName: make(map[string]*Class, len(classes))}
	for _, c := range classes {
		_ = r.Register(c)
	}
	return r
}

// DefaultRegistry returns a new registry holding the built-in classes.
func DefaultRegistry() *Registry { return NewRegistry(Builtins()...) }

// Register adds c. Registering the same class twice is a no-op; registering a
// different class under an existing name fails.
func (r *Registry) Register(c *Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[c.Name]; ok {
		if prev == c {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.Name)
	}
	r.byName[c.Name] = c
	r.order = append(r.order, c)
	return nil
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, name)
	}
	return c, nil
}

// Classes returns all registered classes in registration order.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Class(nil), r.order...)
}
