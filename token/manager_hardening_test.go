package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newEd25519Manager(t *testing.T) *Manager {
	t.Helper()
	pub, priv := testKeys(t)
	m, err := NewManager(ManagerConfig{
		TTL:           time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "bridge-test",
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestManagerConfigValidation(t *testing.T) {
	pub, priv := testKeys(t)

	cases := []struct {
		name string
		cfg  ManagerConfig
	}{
		{"zero ttl", ManagerConfig{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub}},
		{"excessive leeway", ManagerConfig{TTL: time.Hour, Leeway: 3 * time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub}},
		{"hs256 without key", ManagerConfig{TTL: time.Hour, SigningMethod: MethodHS256}},
		{"truncated ed25519 key", ManagerConfig{TTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv[:16], PublicKey: pub}},
		{"unknown method", ManagerConfig{TTL: time.Hour, SigningMethod: "rs256", PrivateKey: priv, PublicKey: pub}},
	}

	for _, tc := range cases {
		if _, err := NewManager(tc.cfg); err == nil {
			t.Errorf("%s: expected config rejection", tc.name)
		}
	}
}

func TestParseRejectsAlgorithmSubstitution(t *testing.T) {
	edManager := newEd25519Manager(t)

	hsManager, err := NewManager(ManagerConfig{
		TTL:           time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("shared-secret"),
		Issuer:        "bridge-test",
	})
	if err != nil {
		t.Fatalf("hs manager: %v", err)
	}

	bearer, err := hsManager.Sign("u-1", "tid-1", "Alice", "admin", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := edManager.Parse(bearer); err == nil {
		t.Fatal("expected hs256 token rejected by ed25519 manager")
	}
}

func TestParseRejectsEmptyIdentityClaims(t *testing.T) {
	m := newEd25519Manager(t)

	for _, tc := range []struct {
		name     string
		uid, tid string
	}{
		{"empty uid", "", "tid-1"},
		{"empty tid", "u-1", ""},
	} {
		bearer, err := m.Sign(tc.uid, tc.tid, "Alice", "admin", time.Now())
		if err != nil {
			t.Fatalf("%s sign: %v", tc.name, err)
		}
		if _, err := m.Parse(bearer); err == nil {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	m := newEd25519Manager(t)

	// Same key material, wrong issuer claim.
	sameKey, err := NewManager(ManagerConfig{
		TTL:           time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    m.config.PrivateKey,
		PublicKey:     m.config.PublicKey,
		Issuer:        "someone-else",
	})
	if err != nil {
		t.Fatalf("same-key manager: %v", err)
	}

	bearer, err := sameKey.Sign("u-1", "tid-1", "Alice", "admin", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = m.Parse(bearer)
	if !errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		t.Fatalf("expected invalid issuer, got %v", err)
	}
}
