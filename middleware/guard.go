package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goBridge "github.com/MrEthical07/goBridge"
)

// DefaultSessionCookie is the cookie name used when none is configured.
const DefaultSessionCookie = "legacy_session"

type principalContextKey struct{}

// PrincipalFromContext returns the principal injected by [Guard].
func PrincipalFromContext(ctx context.Context) (*goBridge.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*goBridge.Principal)
	return p, ok
}

// Guard authenticates every request through the bridge under the auth mode
// active at that moment. cookieName selects the legacy session cookie; empty
// means [DefaultSessionCookie].
func Guard(bridge *goBridge.Bridge, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bridge == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := bridge.Resolve(r.Context(), requestCredentials(r, cookieName))
			if err != nil {
				if errors.Is(err, goBridge.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated principals whose role differs. Use after
// the identity question; this answers only the coarse authorization one.
func RequireRole(bridge *goBridge.Bridge, cookieName, role string) func(http.Handler) http.Handler {
	guard := Guard(bridge, cookieName)

	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok || principal.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func requestCredentials(r *http.Request, cookieName string) goBridge.Credentials {
	creds := goBridge.Credentials{}

	if cookie, err := r.Cookie(cookieName); err == nil {
		creds.SessionID = cookie.Value
	}
	if bearer, ok := bearerToken(r.Header.Get("Authorization")); ok {
		creds.BearerToken = bearer
	}

	return creds
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
