// Package goBridge runs two independent authentication systems side by side
// during a live cutover: legacy cookie sessions and JWT bearer tokens, both
// backed by Redis. It provides the system-wide auth-mode state machine
// (session-only, dual, token-only), a dual-guard resolver with fixed
// legacy-first precedence, a batched token-migration engine, and
// snapshot-based rollback, so an operator can move a running user base onto
// bearer tokens without logging anyone out, and can reverse the move.
//
// The package is designed for concurrent server workloads: Bridge methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goBridge is the public surface. It exposes [Bridge], [Builder], [Config],
// and value types (Principal, Credentials, MetricsSnapshot). Credential
// storage lives in session/ and token/, migration state in migrate/,
// rollback captures in snapshot/, and the mode registry in mode/. The root
// package owns policy: resolution order, transition validity, and the
// completeness gate on the token-only cutover.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals, or encoding details in its
//     public API.
//   - Interpret a store outage as "not logged in": infrastructure faults
//     surface as [ErrStoreUnavailable], never as [ErrUnauthenticated].
//   - Queue mode transitions: concurrent transition attempts fail fast.
package goBridge
