// Package snapshot captures and restores point-in-time copies of the
// bridge's migration state: the active auth mode, the full credential record
// set, and the configuration flags in force.
//
// Snapshots are immutable once written. Restore re-applies the captured mode
// through the registry's CAS, revokes tokens issued after the capture, and
// bulk-replaces the credential records: the snapshot is authoritative; a
// restore never merges. Snapshots live in Redis under a retention TTL and a
// restore against an expired snapshot fails closed.
package snapshot
