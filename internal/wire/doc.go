// Package wire implements the property value wire codec. Values are encoded
// as a recursive msgpack envelope covering the full value grammar: scalars,
// collections, the unknown marker, the secret flag, and per-node dependency
// sets. Encoding is deterministic for identical logical values: object keys
// and dependency lists are sorted, so byte-level golden comparisons are safe.
package wire
