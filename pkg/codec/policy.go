package codec

import (
	"strings"

	"github.com/matzehuels/irgraph/pkg/errors"
)

// Policy selects how loops are treated while decoding. It is a set of
// independent facets; the named presets are the supported combinations.
type Policy uint8

// Loop explosion facets.
const (
	// FacetUnroll decodes each loop iteration as a fresh copy.
	FacetUnroll Policy = 1 << iota
	// FacetDuplicateLoopEnds spawns a sibling iteration per backward edge.
	FacetDuplicateLoopEnds
	// FacetDuplicateLoopExits duplicates the enclosing scope once per exit.
	FacetDuplicateLoopExits
	// FacetMergeLoops coalesces iterations whose states are equal.
	FacetMergeLoops
)

// Supported policies.
const (
	PolicyNone                   Policy = 0
	PolicyUnroll                        = FacetUnroll
	PolicyDuplicateLoopEnds             = FacetUnroll | FacetDuplicateLoopEnds
	PolicyDuplicateLoopExits            = FacetUnroll | FacetDuplicateLoopExits
	PolicyFullExplodeUntilReturn        = FacetUnroll | FacetDuplicateLoopEnds | FacetDuplicateLoopExits
	PolicyMergeExplode                  = FacetUnroll | FacetMergeLoops
)

var policyNames = []struct {
	policy Policy
	name   string
}{
	{PolicyNone, "none"},
	{PolicyUnroll, "unroll"},
	{PolicyDuplicateLoopEnds, "duplicate-loop-ends"},
	{PolicyDuplicateLoopExits, "duplicate-loop-exits"},
	{PolicyFullExplodeUntilReturn, "full-explode-until-return"},
	{PolicyMergeExplode, "merge-explode"},
}

// Policies returns the names of the supported policies.
func Policies() []string {
	names := make([]string, len(policyNames))
	for i, p := range policyNames {
		names[i] = p.name
	}
	return names
}

// ParsePolicy resolves a policy name. Underscores and case are ignored.
func ParsePolicy(s string) (Policy, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if key == "" {
		return PolicyNone, nil
	}
	for _, p := range policyNames {
		if p.name == key {
			return p.policy, nil
		}
	}
	return 0, errors.New(errors.ErrCodeInvalidPolicy, "unknown loop explosion policy %q (valid: %s)",
		s, strings.Join(Policies(), ", "))
}

func (p Policy) String() string {
	for _, n := range policyNames {
		if n.policy == p {
			return n.name
		}
	}
	var facets []string
	for _, f := range []struct {
		facet Policy
		name  string
	}{
		{FacetUnroll, "unroll"},
		{FacetDuplicateLoopEnds, "ends"},
		{FacetDuplicateLoopExits, "exits"},
		{FacetMergeLoops, "merge"},
	} {
		if p&f.facet != 0 {
			facets = append(facets, f.name)
		}
	}
	return "facets(" + strings.Join(facets, "+") + ")"
}

// Valid reports whether p is one of the supported combinations.
func (p Policy) Valid() bool {
	for _, n := range policyNames {
		if n.policy == p {
			return true
		}
	}
	return false
}

func (p Policy) UseExplosion() bool       { return p != PolicyNone }
func (p Policy) UnrollLoops() bool        { return p&FacetUnroll != 0 }
func (p Policy) DuplicateLoopEnds() bool  { return p&FacetDuplicateLoopEnds != 0 }
func (p Policy) DuplicateLoopExits() bool { return p&FacetDuplicateLoopExits != 0 }
func (p Policy) MergeLoops() bool         { return p&FacetMergeLoops != 0 }
