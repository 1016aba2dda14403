package session

// Session is a legacy cookie session record. The SessionID doubles as the
// cookie value presented by the browser.
type Session struct {
	SessionID string
	UserID    string

	// DisplayName and Role are the principal payload carried by the legacy
	// application inside the session. The migration engine translates them
	// onto bearer-token claims.
	DisplayName string
	Role        string

	CreatedAt int64
	ExpiresAt int64
}
