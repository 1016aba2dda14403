package mode

import "fmt"

// AuthMode selects which credential paths the dual-guard resolver consults.
// Exactly one mode is active system-wide at any instant.
type AuthMode uint8

const (
	// SessionOnly resolves legacy cookie sessions exclusively.
	SessionOnly AuthMode = iota
	// Dual resolves legacy sessions first, then falls back to bearer tokens.
	Dual
	// TokenOnly resolves bearer tokens exclusively. Legacy sessions are a
	// hard boundary once this mode commits.
	TokenOnly
)

const (
	sessionOnlyLabel = "session_only"
	dualLabel        = "dual"
	tokenOnlyLabel   = "token_only"
)

// String returns the persisted wire label for the mode.
func (m AuthMode) String() string {
	switch m {
	case SessionOnly:
		return sessionOnlyLabel
	case Dual:
		return dualLabel
	case TokenOnly:
		return tokenOnlyLabel
	default:
		return fmt.Sprintf("authmode(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the three defined modes.
func (m AuthMode) Valid() bool {
	return m <= TokenOnly
}

// Parse converts a persisted label back into an [AuthMode].
func Parse(s string) (AuthMode, error) {
	switch s {
	case sessionOnlyLabel:
		return SessionOnly, nil
	case dualLabel:
		return Dual, nil
	case tokenOnlyLabel:
		return TokenOnly, nil
	default:
		return SessionOnly, fmt.Errorf("unknown auth mode %q", s)
	}
}

// IsForward reports whether from -> to is a forward cutover step the
// orchestrator may apply directly: SessionOnly -> Dual or Dual -> TokenOnly.
// Skipping Dual is never allowed.
func IsForward(from, to AuthMode) bool {
	return (from == SessionOnly && to == Dual) || (from == Dual && to == TokenOnly)
}

// IsRollback reports whether from -> to is a rollback step, which must go
// through snapshot restore: Dual -> SessionOnly or TokenOnly -> Dual.
func IsRollback(from, to AuthMode) bool {
	return (from == Dual && to == SessionOnly) || (from == TokenOnly && to == Dual)
}
