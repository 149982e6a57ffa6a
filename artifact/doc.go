// Package artifact contains concrete implementations of core.ArtifactStore.
//
// The interface lives in core so callers depend on the contract only and
// can substitute another backend in tests.
package artifact
