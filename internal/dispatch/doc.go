// Package dispatch implements the construct and call dispatchers: the
// server-side path that validates typed inputs, invokes registered component
// logic, and captures tri-state, dependency-tagged output bags. Each
// dispatch is a single synchronous exchange; the handle store is the only
// mutable state and is internally synchronized.
package dispatch
