package codec

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// ObjectTable assigns dense indices to non-primitive property values. Equal
// values share an index. Index 0 is always nil. A table may be shared by many
// encoded graphs; it only grows, so indices handed out earlier stay valid.
//
// ObjectTable is not safe for concurrent use.
type ObjectTable struct {
	values []any
	index  map[any]int
}

// NewObjectTable returns a table holding only the nil entry.
func NewObjectTable() *ObjectTable {
	return &ObjectTable{values: []any{nil}, index: make(map[any]int)}
}

// Add returns the index of v, appending it when unseen.
func (t *ObjectTable) Add(v any) int {
	if v == nil {
		return 0
	}
	key, ok := objectKey(v)
	if ok {
		if i, found := t.index[key]; found {
			return i
		}
	}
	t.values = append(t.values, v)
	i := len(t.values) - 1
	if ok {
		t.index[key] = i
	}
	return i
}

// Len returns the number of entries including the nil entry.
func (t *ObjectTable) Len() int { return len(t.values) }

// snapshot returns a read-only view of the current entries.
func (t *ObjectTable) snapshot() []any { return t.values[:len(t.values):len(t.values)] }

type sliceKey string

// objectKey derives a map key for v. Slices of strings and integers are keyed
// by their contents; other non-comparable values are never deduplicated.
func objectKey(v any) (any, bool) {
	switch x := v.(type) {
	case []int64:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return sliceKey("i64:" + strings.Join(parts, ",")), true
	case []string:
		return sliceKey("str:" + strconv.Itoa(len(x)) + ":" + strings.Join(x, "\x00")), true
	}
	if reflect.TypeOf(v).Comparable() {
		return v, true
	}
	return nil, false
}

// ClassTable assigns dense type ids to node classes.
type ClassTable struct {
	classes []*ir.Class
	index   map[*ir.Class]int
}

// NewClassTable returns an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{index: make(map[*ir.Class]int)}
}

// Add returns the type id of c, appending it when unseen.
func (t *ClassTable) Add(c *ir.Class) int {
	if i, ok := t.index[c]; ok {
		return i
	}
	t.classes = append(t.classes, c)
	t.index[c] = len(t.classes) - 1
	return len(t.classes) - 1
}

func (t *ClassTable) snapshot() []*ir.Class {
	return t.classes[:len(t.classes):len(t.classes)]
}

func classAt(classes []*ir.Class, id int) (*ir.Class, error) {
	if id < 0 || id >= len(classes) {
		return nil, fmt.Errorf("type id %d outside class table of %d", id, len(classes))
	}
	return classes[id], nil
}
