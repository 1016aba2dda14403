// Package internal contains helper utilities that are intentionally private
// to goBridge, including secure random identifier generation.
//
// # Sub-packages
//
//   - lock: Redis-backed named mutual exclusion used to serialize mode
//     transitions
//
// # What this package must NOT do
//
//   - Export types that appear in the public goBridge API.
//   - Be imported by any package outside the goBridge module.
package internal
