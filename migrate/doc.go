// Package migrate owns per-user migration state and the batch engine that
// converts legacy sessions into bearer tokens.
//
// # State
//
// Each user has one [CredentialRecord] (versioned binary blob in Redis,
// mutated only under WATCH transactions) tracking legacy-session presence,
// the issued token, the migration timestamp, and the last failure reason. A
// member set indexes all records so bulk runs never scan the keyspace.
//
// # Safety property
//
// A failed per-user migration must never leave the user logged out: the
// engine issues the token first and only then marks the record migrated; on
// any failure the issued token is revoked and the legacy session is left
// untouched. Re-running a migration for an already-migrated user is an
// explicit no-op outcome, not an error.
//
// # What this package must NOT do
//
//   - Change the system-wide auth mode.
//   - Delete or alter legacy sessions.
package migrate
