// Package middleware exposes HTTP adapters over the bridge's dual-guard
// resolver.
//
// # Guards
//
//   - [Guard] resolves the request under the active auth mode and injects
//     the principal into the request context.
//   - [RequireRole] layers a role check on top of [Guard].
//
// Each guard extracts the legacy session cookie and the Authorization
// bearer header, hands both to Bridge.Resolve, and maps the outcome onto
// HTTP status codes: 401 for no valid credential, 503 when the backing
// store cannot answer. A store outage is never presented as a failed login.
//
// # What this package must NOT do
//
//   - Inspect or parse credentials itself (the bridge decides).
//   - Pick a resolution path; precedence is fixed by the active mode.
package middleware
