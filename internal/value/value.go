package value

import (
	"github.com/zclconf/go-cty/cty"
)

// secretMark is the mark type flagging a value for redaction. Marks form a
// set, so marking an already-secret value is a no-op: secrecy never nests.
type secretMark struct{}

// Secret is the mark attached to secret values.
var Secret = secretMark{}

// MarkSecret returns v carrying the secret mark. Marking is idempotent.
func MarkSecret(v cty.Value) cty.Value {
	if v.HasMark(Secret) {
		return v
	}
	return v.Mark(Secret)
}

// IsSecret reports whether v carries the secret mark on its root node.
func IsSecret(v cty.Value) bool {
	return v.HasMark(Secret)
}

// ContainsSecret reports whether v or any nested value carries the secret mark.
func ContainsSecret(v cty.Value) bool {
	ret := false
	cty.Walk(v, func(_ cty.Path, node cty.Value) (bool, error) {
		if node.HasMark(Secret) {
			ret = true
			return false, nil
		}
		return true, nil
	})
	return ret
}

// Reveal strips the secret mark from v's root node, leaving all other marks
// (including dependency marks) in place. The resolved content is unchanged.
func Reveal(v cty.Value) cty.Value {
	v, marks := v.Unmark()
	delete(marks, Secret)
	return v.WithMarks(marks)
}

// Unknown returns the unknown value of the given type. Unknown carries no
// payload and must not be conflated with null.
func Unknown(ty cty.Type) cty.Value {
	return cty.UnknownVal(ty)
}

// IsKnown reports whether v and everything nested inside it is known.
func IsKnown(v cty.Value) bool {
	return v.IsWhollyKnown()
}

// AnyUnknown reports whether any value in the bag is not wholly known.
func AnyUnknown(bag map[string]cty.Value) bool {
	for _, v := range bag {
		if !v.IsWhollyKnown() {
			return true
		}
	}
	return false
}
