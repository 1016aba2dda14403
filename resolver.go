package goBridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goBridge/mode"
	"github.com/MrEthical07/goBridge/session"
	"github.com/MrEthical07/goBridge/token"
)

// Resolve authenticates one request under the auth mode in effect when the
// call starts. The mode is read exactly once per resolution; a concurrent
// transition affects the next request, never this one.
//
// Outcomes are strictly separated: a nil error with a principal means
// authenticated, [ErrUnauthenticated] means no presented credential was
// valid under the active mode, and [ErrStoreUnavailable] means the backing
// store could not answer. A store outage is never reported as a failed
// login.
func (b *Bridge) Resolve(ctx context.Context, creds Credentials) (*Principal, error) {
	if b == nil || b.registry == nil {
		return nil, ErrBridgeNotReady
	}

	start := time.Now()
	principal, err := b.resolve(ctx, creds, b.registry.Mode())
	if b.metrics.Enabled() {
		b.metrics.Observe(MetricResolveLatency, time.Since(start))
	}

	switch {
	case err != nil:
		b.metricInc(MetricResolveStoreUnavailable)
		return nil, b.storeFault(err)
	case principal == nil:
		b.metricInc(MetricResolveUnauthenticated)
		return nil, ErrUnauthenticated
	case principal.Via == ViaBearerToken:
		b.metricInc(MetricResolveTokenHit)
	default:
		b.metricInc(MetricResolveLegacyHit)
	}

	return principal, nil
}

func (b *Bridge) resolve(ctx context.Context, creds Credentials, m mode.AuthMode) (*Principal, error) {
	switch m {
	case mode.SessionOnly:
		// Bearer tokens are invisible in this mode, even valid ones.
		return b.resolveSession(ctx, creds.SessionID)

	case mode.TokenOnly:
		// Legacy sessions are invisible in this mode, even live ones.
		return b.resolveToken(ctx, creds.BearerToken)

	case mode.Dual:
		principal, err := b.resolveSession(ctx, creds.SessionID)
		if err != nil {
			// Cannot prove the legacy credential invalid, so the token path
			// must not be consulted: precedence would become load-dependent.
			return nil, err
		}
		if principal != nil {
			b.materialize(ctx, principal)
			return principal, nil
		}
		return b.resolveToken(ctx, creds.BearerToken)

	default:
		return nil, fmt.Errorf("%w: mode %d", mode.ErrModeCorrupt, m)
	}
}

// resolveSession returns (nil, nil) on a miss: absent, unknown, or expired
// cookies all read the same to the caller.
func (b *Bridge) resolveSession(ctx context.Context, sessionID string) (*Principal, error) {
	if sessionID == "" {
		return nil, nil
	}

	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			return nil, nil
		}
		return nil, err
	}

	return &Principal{
		UserID:       sess.UserID,
		DisplayName:  sess.DisplayName,
		Role:         sess.Role,
		Via:          ViaLegacySession,
		CredentialID: sess.SessionID,
	}, nil
}

// resolveToken returns (nil, nil) on a miss: malformed, revoked, and expired
// tokens are indistinguishable to the caller.
func (b *Bridge) resolveToken(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, nil
	}

	rec, err := b.tokens.Resolve(ctx, bearer)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) ||
			errors.Is(err, token.ErrExpired) ||
			errors.Is(err, token.ErrInvalid) {
			return nil, nil
		}
		return nil, err
	}

	return &Principal{
		UserID:       rec.UserID,
		DisplayName:  rec.DisplayName,
		Role:         rec.Role,
		Via:          ViaBearerToken,
		CredentialID: rec.TokenID,
	}, nil
}

// materialize stashes the session payload onto the user's credential record
// so a later migration can carry it into the token. Best effort: the
// resolution already succeeded and is never failed retroactively.
func (b *Bridge) materialize(ctx context.Context, principal *Principal) {
	stashed, err := b.records.Materialize(
		ctx,
		principal.UserID,
		principal.DisplayName,
		principal.Role,
		time.Now().Unix(),
	)
	if err != nil {
		b.metricInc(MetricMaterializeFailed)
		return
	}
	if stashed {
		b.metricInc(MetricSessionMaterialized)
	}
}
