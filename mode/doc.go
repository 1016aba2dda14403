// Package mode owns the system-wide authentication mode: the [AuthMode] value
// type, the transition table, and the Redis-backed [Registry] that holds the
// authoritative mode with compare-and-set mutation.
//
// # Architecture boundaries
//
// The registry is the only writer of the persisted mode slot. Every other
// component reads the mode through [Registry.Mode] (an in-memory atomic, no
// Redis round-trip) or reacts to changes via [Registry.Subscribe]. Transition
// policy, which moves require migration completeness or a snapshot, lives in
// the root package's orchestrator, not here.
//
// # What this package must NOT do
//
//   - Import the root goBridge package (no upward imports).
//   - Mutate the mode slot outside the CAS script.
//   - Block mode reads behind Redis or behind the transition lock.
package mode
