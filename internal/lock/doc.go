// Package lock provides a Redis-backed named mutual-exclusion primitive.
//
// Acquisition is a single SET NX PX with a random holder token; release is a
// Lua compare-and-delete so a holder can never release a lock that expired
// and was re-acquired by someone else. There is no queuing: contenders fail
// fast and the caller decides whether to retry.
package lock
