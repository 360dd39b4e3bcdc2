// Package manifest loads component manifests from HCL files and translates
// them into the resolved model the registry and dispatchers consume: type
// expressions become cty types, and input/output/method blocks become
// name-keyed definition maps with duplicate detection.
package manifest
