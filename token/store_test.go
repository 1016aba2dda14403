package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return pub, priv
}

func newTokenStoreTest(t *testing.T, ttl time.Duration) (*Store, *Manager, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	pub, priv := testKeys(t)
	manager, err := NewManager(ManagerConfig{
		TTL:           ttl,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		mr.Close()
		t.Fatalf("manager: %v", err)
	}

	store := NewStore(rdb, manager, "ab")
	return store, manager, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIssueAndResolve(t *testing.T) {
	store, _, _, done := newTokenStoreTest(t, time.Hour)
	defer done()
	ctx := context.Background()

	handle, err := store.Issue(ctx, "u-1", "Alice", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if handle.TokenID == "" || handle.Bearer == "" {
		t.Fatalf("incomplete handle: %+v", handle)
	}

	rec, err := store.Resolve(ctx, handle.Bearer)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.UserID != "u-1" || rec.DisplayName != "Alice" || rec.Role != "admin" {
		t.Fatalf("payload mismatch: %+v", rec)
	}
	if rec.TokenID != handle.TokenID {
		t.Fatalf("token id mismatch: %s vs %s", rec.TokenID, handle.TokenID)
	}
}

func TestResolveGarbageBearer(t *testing.T) {
	store, _, _, done := newTokenStoreTest(t, time.Hour)
	defer done()

	_, err := store.Resolve(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestResolveExpiredToken(t *testing.T) {
	store, _, _, done := newTokenStoreTest(t, time.Nanosecond)
	defer done()
	ctx := context.Background()

	handle, err := store.Issue(ctx, "u-1", "Alice", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = store.Resolve(ctx, handle.Bearer)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevokedTokenStopsResolving(t *testing.T) {
	store, _, _, done := newTokenStoreTest(t, time.Hour)
	defer done()
	ctx := context.Background()

	handle, err := store.Issue(ctx, "u-1", "Alice", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := store.Revoke(ctx, "u-1", handle.TokenID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// The JWT still verifies; the missing record is what revokes it.
	_, err = store.Resolve(ctx, handle.Bearer)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Revoke(ctx, "u-1", handle.TokenID); err != nil {
		t.Fatalf("repeat revoke must be a no-op: %v", err)
	}
}

func TestRevokeAllCountsLiveTokens(t *testing.T) {
	store, _, _, done := newTokenStoreTest(t, time.Hour)
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Issue(ctx, "u-1", "Alice", "admin"); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	n, err := store.RevokeAll(ctx, "u-1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}

	n, err = store.RevokeAll(ctx, "u-1")
	if err != nil {
		t.Fatalf("repeat revoke all: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on repeat, got %d", n)
	}
}

func TestResolveRejectsUserMismatch(t *testing.T) {
	store, manager, _, done := newTokenStoreTest(t, time.Hour)
	defer done()
	ctx := context.Background()

	handle, err := store.Issue(ctx, "u-1", "Alice", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// A validly signed token whose uid claim disagrees with the stored
	// record must not resolve.
	forged, err := manager.Sign("u-2", handle.TokenID, "Mallory", "admin", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = store.Resolve(ctx, forged)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestRedisDownIsNotMissingToken(t *testing.T) {
	store, _, mr, done := newTokenStoreTest(t, time.Hour)
	defer done()
	ctx := context.Background()

	handle, err := store.Issue(ctx, "u-1", "Alice", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	mr.Close()

	_, err = store.Resolve(ctx, handle.Bearer)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("store outage must not read as a revoked token")
	}
}
