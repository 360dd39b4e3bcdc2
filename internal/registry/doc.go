// Package registry holds the binding between component manifests and the Go
// handlers that implement them. The registry is populated once at startup,
// validated for manifest/Go parity, and read-only thereafter, so dispatch
// lookups need no synchronization.
package registry
