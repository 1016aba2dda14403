// Package session provides Redis-backed persistence for legacy cookie
// sessions, the credential system being migrated away from, with a compact
// versioned binary encoding.
//
// # Binary encoding
//
// Sessions are stored as a versioned binary blob. The encoder is append-only:
// new versions add fields but never reinterpret old ones, so blobs written by
// the legacy application remain readable throughout the cutover.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It performs lookups and mutations only; authentication policy, which mode
// consults which store, and in what order, belongs to the root resolver.
//
// # What this package must NOT do
//
//   - Import goBridge, token, or migrate (no upward imports).
//   - Issue or interpret bearer tokens.
//   - Decide fallback or precedence between credential systems.
package session
