package value

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// depMark is the mark type carrying a single upstream identifier (a resource
// URN or call ID) that a value's computation observed. One mark per upstream;
// the mark set on a value is therefore its dependency set, and cty's mark
// propagation keeps the set a monotone union through derived computations.
type depMark string

// DepSet is the plain-set view of a value's dependency metadata. The zero
// value is an empty set.
type DepSet map[string]struct{}

// NewDepSet builds a DepSet from the given upstream identifiers.
func NewDepSet(ids ...string) DepSet {
	s := make(DepSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Union returns the union of s and others as a new set. Union is associative,
// commutative, and idempotent; it never returns a subset of either operand.
func (s DepSet) Union(others ...DepSet) DepSet {
	out := make(DepSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	for _, o := range others {
		for id := range o {
			out[id] = struct{}{}
		}
	}
	return out
}

// Contains reports whether id is a member of s.
func (s DepSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Equal reports whether s and o hold the same identifiers.
func (s DepSet) Equal(o DepSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if _, ok := o[id]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the identifiers in lexical order, for deterministic output.
func (s DepSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithDeps returns v tagged with the given dependency set. Tagging with an
// empty set is a no-op; tagging unions with any dependencies already present
// and never alters the tri-state content of v.
func WithDeps(v cty.Value, deps DepSet) cty.Value {
	if len(deps) == 0 {
		return v
	}
	marks := make(cty.ValueMarks, len(deps))
	for id := range deps {
		marks[depMark(id)] = struct{}{}
	}
	return v.WithMarks(marks)
}

// DepsOf returns the dependency set of v's root node.
func DepsOf(v cty.Value) DepSet {
	out := DepSet{}
	for m := range v.Marks() {
		if d, ok := m.(depMark); ok {
			out[string(d)] = struct{}{}
		}
	}
	return out
}

// DeepDepsOf returns the union of the dependency sets of every node in v.
func DeepDepsOf(v cty.Value) DepSet {
	_, marks := v.UnmarkDeep()
	out := DepSet{}
	for m := range marks {
		if d, ok := m.(depMark); ok {
			out[string(d)] = struct{}{}
		}
	}
	return out
}

// MergeDeps returns the union of the root dependency sets of the given
// values. Used whenever a composite result is built from multiple inputs.
func MergeDeps(vals ...cty.Value) DepSet {
	out := DepSet{}
	for _, v := range vals {
		out = out.Union(DeepDepsOf(v))
	}
	return out
}

// BagDeps returns the union of the dependency sets of every value in a bag.
func BagDeps(bag map[string]cty.Value) DepSet {
	out := DepSet{}
	for _, v := range bag {
		out = out.Union(DeepDepsOf(v))
	}
	return out
}
