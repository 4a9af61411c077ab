package codec

import (
	"encoding/json"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// envelopeVersion is bumped whenever the record layout changes. Envelopes of
// another version are rejected rather than misread.
const envelopeVersion = 1

// envelope is the persisted form of an EncodedGraph. Node classes are stored
// by name and resolved against a registry on load; objects are limited to the
// value types the built-in classes use.
type envelope struct {
	Version int         `json:"version"`
	Name    string      `json:"name"`
	Data    []byte      `json:"data"`
	Footer  int         `json:"footer"`
	Classes []string    `json:"classes"`
	Objects []objectDoc `json:"objects"`
}

type objectDoc struct {
	String  *string  `json:"s,omitempty"`
	Strings []string `json:"ss,omitempty"`
	Ints    []int64  `json:"is,omitempty"`
	// Empty distinguishes an empty slice from nil.
	Empty string `json:"empty,omitempty"`
}

// Marshal serializes eg to JSON. It fails with ErrCodeUnsupported when the
// object table holds a value other than string, []string or []int64.
func Marshal(eg *EncodedGraph) ([]byte, error) {
	env := envelope{
		Version: envelopeVersion,
		Name:    eg.name,
		Data:    eg.data,
		Footer:  eg.footer,
		Classes: make([]string, len(eg.classes)),
		Objects: make([]objectDoc, len(eg.objects)),
	}
	for i, c := range eg.classes {
		env.Classes[i] = c.Name
	}
	for i, v := range eg.objects {
		switch x := v.(type) {
		case nil:
		case string:
			env.Objects[i].String = &x
		case []string:
			env.Objects[i].Strings = x
			if len(x) == 0 {
				env.Objects[i].Empty = "strings"
			}
		case []int64:
			env.Objects[i].Ints = x
			if len(x) == 0 {
				env.Objects[i].Empty = "ints"
			}
		default:
			return nil, errors.New(errors.ErrCodeUnsupported, "object %d of %s has type %T, which cannot be persisted", i, eg.name, v)
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "marshal %s", eg.name)
	}
	return data, nil
}

// Unmarshal restores an EncodedGraph written by Marshal. Class names are
// looked up in reg.
func Unmarshal(data []byte, reg *ir.Registry) (*EncodedGraph, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "parse encoded graph")
	}
	if env.Version != envelopeVersion {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "encoded graph version %d, want %d", env.Version, envelopeVersion)
	}
	if env.Footer < 0 || env.Footer > len(env.Data) {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "footer offset %d outside %d bytes", env.Footer, len(env.Data))
	}
	classes := make([]*ir.Class, len(env.Classes))
	for i, name := range env.Classes {
		c, err := reg.Lookup(name)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "resolve class %q", name)
		}
		classes[i] = c
	}
	objects := make([]any, len(env.Objects))
	for i, o := range env.Objects {
		switch {
		case o.String != nil:
			objects[i] = *o.String
		case o.Strings != nil || o.Empty == "strings":
			objects[i] = append([]string{}, o.Strings...)
		case o.Ints != nil || o.Empty == "ints":
			objects[i] = append([]int64{}, o.Ints...)
		}
	}
	eg, err := newEncodedGraph(env.Data, env.Footer, objects, classes)
	if err != nil {
		return nil, err
	}
	if eg.name != env.Name {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "envelope names %q but footer names %q", env.Name, eg.name)
	}
	return eg, nil
}
