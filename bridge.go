package goBridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBridge/internal/lock"
	"github.com/MrEthical07/goBridge/migrate"
	"github.com/MrEthical07/goBridge/mode"
	"github.com/MrEthical07/goBridge/session"
	"github.com/MrEthical07/goBridge/snapshot"
	"github.com/MrEthical07/goBridge/token"
)

// ResolutionPath marks which credential system produced a [Principal].
type ResolutionPath uint8

const (
	// ViaLegacySession marks a principal resolved from a cookie session.
	ViaLegacySession ResolutionPath = iota
	// ViaBearerToken marks a principal resolved from a bearer token.
	ViaBearerToken
)

func (p ResolutionPath) String() string {
	if p == ViaBearerToken {
		return "bearer_token"
	}
	return "legacy_session"
}

// Principal is a resolved request identity. Immutable once constructed,
// never persisted.
type Principal struct {
	UserID      string
	DisplayName string
	Role        string

	// Via records the resolution path, fixed and deterministic per mode:
	// in dual mode a valid legacy session always wins.
	Via ResolutionPath

	// CredentialID is the session ID or token record ID that produced the
	// principal.
	CredentialID string
}

// Credentials is the raw per-request material handed in by the host
// framework: the legacy cookie value and/or the bearer string. Either may be
// empty.
type Credentials struct {
	SessionID   string
	BearerToken string
}

// DirectoryUser is the account directory's view of a user.
type DirectoryUser = migrate.User

// UserDirectory is the host application's read-only account lookup. The
// bridge consults it before issuing any credential; implementations return
// [ErrUserNotFound] for missing accounts.
type UserDirectory = migrate.Directory

// Bridge is the root engine. Configure through [Builder], then treat as
// immutable; all methods are safe for concurrent use.
type Bridge struct {
	config     Config
	redis      redis.UniversalClient
	registry   *mode.Registry
	sessions   *session.Store
	tokens     *token.Store
	records    *migrate.RecordStore
	migrator   *migrate.Engine
	snapshots  *snapshot.Manager
	transition *lock.Lock
	directory  UserDirectory
	audit      *auditDispatcher
	metrics    *Metrics

	orch orchestratorState
}

// Close drains the audit dispatcher. Call once on shutdown.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	if b.audit != nil {
		b.audit.Close()
	}
}

// Mode returns the cached system-wide auth mode. Never blocks.
func (b *Bridge) Mode() mode.AuthMode {
	if b == nil || b.registry == nil {
		return mode.SessionOnly
	}
	return b.registry.Mode()
}

// ReloadMode re-reads the persisted mode slot, the explicit replacement for
// ad hoc mid-request configuration reads.
func (b *Bridge) ReloadMode(ctx context.Context) (mode.AuthMode, error) {
	if b == nil || b.registry == nil {
		return mode.SessionOnly, ErrBridgeNotReady
	}
	m, err := b.registry.Reload(ctx)
	if err != nil {
		return m, b.storeFault(err)
	}
	return m, nil
}

// Health pings the backing store and reports reachability plus round-trip
// latency.
func (b *Bridge) Health(ctx context.Context) (bool, time.Duration) {
	if b == nil || b.redis == nil {
		return false, 0
	}
	start := time.Now()
	err := b.redis.Ping(ctx).Err()
	return err == nil, time.Since(start)
}

// AuditDropped reports how many audit events were shed under backpressure.
func (b *Bridge) AuditDropped() uint64 {
	if b == nil {
		return 0
	}
	return b.audit.Dropped()
}

// MetricsSnapshot copies all bridge counters.
func (b *Bridge) MetricsSnapshot() MetricsSnapshot {
	if b == nil || b.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return b.metrics.Snapshot()
}

func (b *Bridge) metricInc(id MetricID) {
	if b == nil || b.metrics == nil {
		return
	}
	b.metrics.Inc(id)
}

func (b *Bridge) auditEmit(ctx context.Context, event AuditEvent) {
	if b == nil || b.audit == nil {
		return
	}
	event.Timestamp = time.Now()
	b.audit.Emit(ctx, event)
}

// storeFault maps subsystem infrastructure errors onto the public
// [ErrStoreUnavailable] taxonomy; expected outcomes pass through untouched.
func (b *Bridge) storeFault(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrRedisUnavailable) ||
		errors.Is(err, token.ErrRedisUnavailable) ||
		errors.Is(err, migrate.ErrRecordRedisUnavailable) ||
		errors.Is(err, migrate.ErrJobRedisUnavailable) ||
		errors.Is(err, snapshot.ErrRedisUnavailable) ||
		errors.Is(err, mode.ErrRegistryUnavailable) ||
		errors.Is(err, lock.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

/*
====================================
CREDENTIAL STORE ADAPTER OPERATIONS
====================================
*/

// CreateLegacySession validates the user against the directory, mints a
// cookie session, and marks legacy-session presence on the user's
// credential record.
func (b *Bridge) CreateLegacySession(ctx context.Context, userID string) (*session.Session, error) {
	if b == nil || b.sessions == nil {
		return nil, ErrBridgeNotReady
	}

	user, err := b.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	sess, err := b.sessions.Create(ctx, user.UserID, user.DisplayName, user.Role, b.config.Session.TTL)
	if err != nil {
		return nil, b.storeFault(err)
	}

	err = b.records.Update(ctx, userID, func(rec *migrate.CredentialRecord) error {
		rec.HasLegacySession = true
		return nil
	})
	if err != nil {
		return nil, b.storeFault(err)
	}

	return sess, nil
}

// DeleteLegacySession removes a cookie session. Idempotent.
func (b *Bridge) DeleteLegacySession(ctx context.Context, sessionID string) error {
	if b == nil || b.sessions == nil {
		return ErrBridgeNotReady
	}
	return b.storeFault(b.sessions.Delete(ctx, sessionID))
}

// IssueToken validates the user against the directory and mints a bearer
// token outside of any migration flow.
func (b *Bridge) IssueToken(ctx context.Context, userID string) (*token.Handle, error) {
	if b == nil || b.tokens == nil {
		return nil, ErrBridgeNotReady
	}

	user, err := b.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	handle, err := b.tokens.Issue(ctx, user.UserID, user.DisplayName, user.Role)
	if err != nil {
		return nil, b.storeFault(err)
	}
	return handle, nil
}

// RevokeAllTokens removes every live bearer token for a user and returns
// how many were revoked.
func (b *Bridge) RevokeAllTokens(ctx context.Context, userID string) (int, error) {
	if b == nil || b.tokens == nil {
		return 0, ErrBridgeNotReady
	}
	n, err := b.tokens.RevokeAll(ctx, userID)
	return n, b.storeFault(err)
}

/*
====================================
MIGRATION OPERATIONS
====================================
*/

// MigrateUser converts one user's legacy session into a bearer token. Safe
// to re-run; see [migrate.Engine.MigrateUser] for the safety contract.
func (b *Bridge) MigrateUser(ctx context.Context, userID string) (migrate.Result, error) {
	if b == nil || b.migrator == nil {
		return migrate.Result{}, ErrBridgeNotReady
	}

	res, err := b.migrator.MigrateUser(ctx, userID)
	if err != nil {
		return migrate.Result{}, b.storeFault(err)
	}

	switch res.Outcome {
	case migrate.OutcomeSuccess:
		b.metricInc(MetricMigrateSuccess)
	case migrate.OutcomeAlreadyMigrated:
		b.metricInc(MetricMigrateAlreadyMigrated)
	case migrate.OutcomeFailed:
		b.metricInc(MetricMigrateFailure)
	}
	return res, nil
}

// MigrateAll starts an asynchronous bulk migration and returns the job
// handle immediately. Progress is persisted at batch boundaries.
func (b *Bridge) MigrateAll(ctx context.Context, batchSize int) (migrate.Job, error) {
	if b == nil || b.migrator == nil {
		return migrate.Job{}, ErrBridgeNotReady
	}
	job, err := b.migrator.MigrateAll(ctx, batchSize)
	return job, b.storeFault(err)
}

// CancelMigration requests cooperative cancellation of a run started in
// this process.
func (b *Bridge) CancelMigration(jobID string) bool {
	if b == nil || b.migrator == nil {
		return false
	}
	return b.migrator.Cancel(jobID)
}

// MigrationProgress reads a job's persisted state.
func (b *Bridge) MigrationProgress(ctx context.Context, jobID string) (migrate.Job, error) {
	if b == nil || b.migrator == nil {
		return migrate.Job{}, ErrBridgeNotReady
	}
	job, err := b.migrator.Progress(ctx, jobID)
	return job, b.storeFault(err)
}

// LatestMigration reads the most recent run within the job retention
// window.
func (b *Bridge) LatestMigration(ctx context.Context) (migrate.Job, error) {
	if b == nil || b.migrator == nil {
		return migrate.Job{}, ErrBridgeNotReady
	}
	job, err := b.migrator.LatestJob(ctx)
	return job, b.storeFault(err)
}

// RollbackUser reverts one user's migration: tokens revoked, record
// cleared, legacy session untouched.
func (b *Bridge) RollbackUser(ctx context.Context, userID string) error {
	if b == nil || b.migrator == nil {
		return ErrBridgeNotReady
	}
	return b.storeFault(b.migrator.RollbackUser(ctx, userID))
}

/*
====================================
SNAPSHOT OPERATIONS
====================================
*/

// CreateSnapshot captures mode, credential records, and configuration flags
// as a rollback point.
func (b *Bridge) CreateSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if b == nil || b.snapshots == nil {
		return nil, ErrBridgeNotReady
	}

	snap, err := b.snapshots.Create(ctx, b.snapshotFlags())
	if err != nil {
		return nil, b.storeFault(err)
	}

	b.metricInc(MetricSnapshotCreated)
	b.auditEmit(ctx, AuditEvent{
		EventType:  AuditSnapshotCreated,
		Mode:       snap.Mode,
		SnapshotID: snap.SnapshotID,
		Success:    true,
	})
	return snap, nil
}

// RollbackAvailable reports whether an unexpired snapshot exists.
func (b *Bridge) RollbackAvailable(ctx context.Context) bool {
	if b == nil || b.snapshots == nil {
		return false
	}
	return b.snapshots.Available(ctx)
}

// DiscardSnapshot removes a snapshot explicitly once the migration is
// finalized.
func (b *Bridge) DiscardSnapshot(ctx context.Context, snapshotID string) error {
	if b == nil || b.snapshots == nil {
		return ErrBridgeNotReady
	}
	return b.storeFault(b.snapshots.Discard(ctx, snapshotID))
}

func (b *Bridge) snapshotFlags() map[string]string {
	return map[string]string{
		"default_mode":   b.config.Mode.Default.String(),
		"signing_method": b.config.Token.SigningMethod,
		"batch_size":     fmt.Sprintf("%d", b.config.Migration.BatchSize),
	}
}
