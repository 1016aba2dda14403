package goBridge

import (
	"errors"
	"time"

	"github.com/MrEthical07/goBridge/mode"
	"github.com/MrEthical07/goBridge/token"
)

// Config is the single configuration surface for the bridge, loaded once and
// passed into [Builder.Build]. It is immutable after build; the only live
// reload point is [Bridge.ReloadMode], which re-reads the persisted mode
// slot.
type Config struct {
	Mode       ModeConfig
	Session    SessionConfig
	Token      TokenConfig
	Migration  MigrationConfig
	Snapshot   SnapshotConfig
	Transition TransitionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// ModeConfig locates the durable mode slot.
type ModeConfig struct {
	// Key is the Redis key holding the persisted mode value.
	Key string
	// Default is the mode assumed on first boot when the slot is empty.
	Default mode.AuthMode
}

// SessionConfig controls the legacy cookie-session store.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

// TokenConfig controls the bearer-token system.
type TokenConfig struct {
	RedisPrefix   string
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// MigrationConfig bounds bulk migration runs.
type MigrationConfig struct {
	BatchSize    int
	Concurrency  int
	JobRetention time.Duration
}

// SnapshotConfig controls rollback captures.
type SnapshotConfig struct {
	RedisPrefix string
	// Retention bounds how long a snapshot stays restorable. Restores
	// against an aged-out snapshot fail closed.
	Retention time.Duration
}

// TransitionConfig controls the orchestrator's mutual exclusion.
type TransitionConfig struct {
	LockKey string
	// LockTTL bounds how long a crashed transition can hold the lock.
	LockTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking emitters; drops are
	// counted and visible via [Bridge.AuditDropped].
	DropIfFull bool
}

// MetricsConfig controls the lock-free counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Mode: ModeConfig{
			Key:     "ab:mode",
			Default: mode.SessionOnly,
		},
		Session: SessionConfig{
			RedisPrefix: "ab",
			TTL:         24 * time.Hour,
		},
		Token: TokenConfig{
			RedisPrefix:   "ab",
			TTL:           time.Hour,
			SigningMethod: string(token.MethodEd25519),
		},
		Migration: MigrationConfig{
			BatchSize:    100,
			Concurrency:  8,
			JobRetention: 24 * time.Hour,
		},
		Snapshot: SnapshotConfig{
			RedisPrefix: "ab",
			Retention:   24 * time.Hour,
		},
		Transition: TransitionConfig{
			LockKey: "ab:transition",
			LockTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = append([]byte(nil), cfg.Token.PrivateKey...)
	out.Token.PublicKey = append([]byte(nil), cfg.Token.PublicKey...)
	return out
}

func validateConfig(cfg *Config) error {
	if !cfg.Mode.Default.Valid() {
		return errors.New("invalid default auth mode")
	}
	if cfg.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if cfg.Token.TTL <= 0 {
		return errors.New("token TTL must be positive")
	}
	switch token.SigningMethod(cfg.Token.SigningMethod) {
	case token.MethodEd25519, token.MethodHS256:
	default:
		return errors.New("unsupported token signing method")
	}
	if cfg.Migration.BatchSize < 0 || cfg.Migration.Concurrency < 0 {
		return errors.New("migration bounds must be non-negative")
	}
	if cfg.Snapshot.Retention < 0 {
		return errors.New("snapshot retention must be non-negative")
	}
	if cfg.Transition.LockTTL < 0 {
		return errors.New("transition lock TTL must be non-negative")
	}
	return nil
}
