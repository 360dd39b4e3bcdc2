// Package value defines the tri-state property value model used across the
// protocol core. A value is a cty.Value that is either known, unknown
// (cty.UnknownVal, "not yet determined", distinct from null), or carries a
// secret mark. Dependency tracking rides on cty value marks, so dependency
// sets propagate automatically through any computation derived from a value.
package value
