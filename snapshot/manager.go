package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBridge/migrate"
	"github.com/MrEthical07/goBridge/mode"
)

// ErrExpiredOrMissing is returned when a restore targets a snapshot that
// never existed, was discarded, or aged out of the retention window. Restore
// never reconstructs a best-effort state.
var ErrExpiredOrMissing = errors.New("snapshot expired or missing")

// ErrRedisUnavailable wraps Redis faults on snapshot blobs.
var ErrRedisUnavailable = errors.New("snapshot redis unavailable")

// Snapshot is an immutable point-in-time capture.
type Snapshot struct {
	SnapshotID string                      `json:"snapshot_id"`
	CreatedAt  int64                       `json:"created_at"`
	Mode       string                      `json:"mode"`
	Records    []*migrate.CredentialRecord `json:"records"`
	Flags      map[string]string           `json:"flags,omitempty"`
}

// TokenRevoker is the slice of the token store restore needs to clean up
// tokens issued after the capture.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// Manager creates and restores snapshots.
type Manager struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	registry  *mode.Registry
	records   *migrate.RecordStore
	tokens    TokenRevoker
}

// NewManager wires a snapshot manager. retention bounds how long a snapshot
// stays restorable.
func NewManager(
	redisClient redis.UniversalClient,
	prefix string,
	retention time.Duration,
	registry *mode.Registry,
	records *migrate.RecordStore,
	tokens TokenRevoker,
) *Manager {
	if prefix == "" {
		prefix = "ab"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Manager{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
		registry:  registry,
		records:   records,
		tokens:    tokens,
	}
}

func (m *Manager) key(snapshotID string) string {
	return m.prefix + ":snap:" + snapshotID
}

func (m *Manager) latestKey() string {
	return m.prefix + ":snap:latest"
}

// Create captures the current mode, every credential record, and the given
// configuration flags, and persists the capture under the retention TTL.
func (m *Manager) Create(ctx context.Context, flags map[string]string) (*Snapshot, error) {
	recs, err := m.records.All(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		SnapshotID: uuid.NewString(),
		CreatedAt:  time.Now().Unix(),
		Mode:       m.registry.Mode().String(),
		Records:    recs,
		Flags:      flags,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.key(snap.SnapshotID), data, m.retention)
		pipe.Set(ctx, m.latestKey(), snap.SnapshotID, m.retention)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return snap, nil
}

// Get returns a snapshot by ID, or [ErrExpiredOrMissing].
func (m *Manager) Get(ctx context.Context, snapshotID string) (*Snapshot, error) {
	data, err := m.redis.Get(ctx, m.key(snapshotID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExpiredOrMissing
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("snapshot corrupt: %w", err)
	}
	return snap, nil
}

// Latest returns the most recently created snapshot still inside the
// retention window.
func (m *Manager) Latest(ctx context.Context) (*Snapshot, error) {
	snapshotID, err := m.redis.Get(ctx, m.latestKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExpiredOrMissing
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return m.Get(ctx, snapshotID)
}

// Available reports whether a rollback point currently exists.
func (m *Manager) Available(ctx context.Context) bool {
	_, err := m.Latest(ctx)
	return err == nil
}

// Discard removes a snapshot explicitly, typically after the migration is
// finalized.
func (m *Manager) Discard(ctx context.Context, snapshotID string) error {
	if err := m.redis.Del(ctx, m.key(snapshotID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Restore re-applies a snapshot: mode first (via registry CAS), then token
// cleanup for users migrated after the capture, then a bulk record replace.
// The snapshot is authoritative: users who migrated after the capture
// revert to unmigrated and their bearer tokens are revoked. On a partial
// failure the error is surfaced and the caller is responsible for flagging
// the system for manual intervention.
func (m *Manager) Restore(ctx context.Context, snapshotID string) error {
	snap, err := m.Get(ctx, snapshotID)
	if err != nil {
		return err
	}

	target, err := mode.Parse(snap.Mode)
	if err != nil {
		return fmt.Errorf("snapshot corrupt: %w", err)
	}

	current := m.registry.Mode()
	if current != target {
		if err := m.registry.Set(ctx, target, current); err != nil {
			return err
		}
	}

	migratedInSnap := make(map[string]bool, len(snap.Records))
	for _, rec := range snap.Records {
		if rec.Migrated() {
			migratedInSnap[rec.UserID] = true
		}
	}

	live, err := m.records.All(ctx)
	if err != nil {
		return err
	}
	for _, rec := range live {
		if rec.Migrated() && !migratedInSnap[rec.UserID] {
			if _, err := m.tokens.RevokeAll(ctx, rec.UserID); err != nil {
				return err
			}
		}
	}

	return m.records.ReplaceAll(ctx, snap.Records)
}
