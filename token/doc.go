// Package token implements the bearer-token side of the bridge: the
// credential system being migrated to.
//
// A bearer token is a signed JWT (ed25519 or hs256) whose `tid` claim
// references a Redis-backed token record. Resolution verifies the signature
// and expiry locally, then checks the record so revocation takes effect
// immediately. The [Store] also maintains a per-user token index so bulk
// revocation never scans the keyspace.
//
// # What this package must NOT do
//
//   - Read or write legacy sessions.
//   - Decide when a token may be consulted: mode policy lives in the root
//     resolver.
package token
