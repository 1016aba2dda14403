package goBridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/goBridge/migrate"
	"github.com/MrEthical07/goBridge/mode"
	"github.com/MrEthical07/goBridge/snapshot"
)

// OrchestratorState is the lifecycle phase of the transition orchestrator.
type OrchestratorState uint8

const (
	// OrchIdle means no transition is in flight in this process.
	OrchIdle OrchestratorState = iota
	// OrchTransitioning means a forward transition holds the lock.
	OrchTransitioning
	// OrchRollingBack means a rollback is in flight, or a rollback failed
	// partway and the system needs manual intervention.
	OrchRollingBack
)

func (s OrchestratorState) String() string {
	switch s {
	case OrchTransitioning:
		return "transitioning"
	case OrchRollingBack:
		return "rolling_back"
	default:
		return "idle"
	}
}

// orchestratorState is the bridge-local transition bookkeeping. The mutex
// guards only these fields; cross-process mutual exclusion is the named
// Redis lock's job.
type orchestratorState struct {
	mu                sync.Mutex
	state             OrchestratorState
	needsIntervention bool
}

func (o *orchestratorState) set(s OrchestratorState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *orchestratorState) flagIntervention() {
	o.mu.Lock()
	o.state = OrchRollingBack
	o.needsIntervention = true
	o.mu.Unlock()
}

func (o *orchestratorState) settle() {
	o.mu.Lock()
	o.state = OrchIdle
	o.needsIntervention = false
	o.mu.Unlock()
}

// OrchestratorStatus is a point-in-time view of the transition machinery.
type OrchestratorStatus struct {
	State OrchestratorState
	// NeedsIntervention is set when a rollback failed partway; the system
	// stays flagged until a later rollback completes.
	NeedsIntervention bool
	Mode              mode.AuthMode
}

// TransitionStatus reports the orchestrator phase and the cached mode.
func (b *Bridge) TransitionStatus() OrchestratorStatus {
	if b == nil {
		return OrchestratorStatus{}
	}
	b.orch.mu.Lock()
	status := OrchestratorStatus{
		State:             b.orch.state,
		NeedsIntervention: b.orch.needsIntervention,
	}
	b.orch.mu.Unlock()
	status.Mode = b.Mode()
	return status
}

// TransitionOptions tune one TransitionTo call.
type TransitionOptions struct {
	// Override commits Dual to TokenOnly even when the latest migration run
	// is incomplete or has failures. The override is recorded in the audit
	// trail.
	Override bool
}

// TransitionTo moves the system-wide auth mode one step along the cutover
// path. Forward moves capture a snapshot first; Dual to TokenOnly is also
// gated on a clean completed migration run unless overridden. Backward moves
// restore the latest snapshot, which must match the requested target.
//
// Exactly one transition runs at a time across all processes. A concurrent
// attempt fails fast with [ErrTransitionInProgress]; nothing queues.
// Requesting the current mode is a no-op. Skipping a stage fails with
// [ErrInvalidTransition].
func (b *Bridge) TransitionTo(ctx context.Context, target mode.AuthMode, opts TransitionOptions) error {
	if b == nil || b.transition == nil {
		return ErrBridgeNotReady
	}
	if !target.Valid() {
		return fmt.Errorf("%w: unknown target mode", ErrInvalidTransition)
	}

	release, acquired, err := b.transition.Acquire(ctx)
	if err != nil {
		return b.storeFault(err)
	}
	if !acquired {
		b.metricInc(MetricTransitionContended)
		return ErrTransitionInProgress
	}
	defer func() {
		_ = release(context.WithoutCancel(ctx))
	}()

	// Fresh read under the lock; the cache may trail another process.
	current, err := b.registry.Reload(ctx)
	if err != nil {
		return b.storeFault(err)
	}

	if current == target {
		return nil
	}

	switch {
	case mode.IsForward(current, target):
		return b.transitionForward(ctx, current, target, opts)
	case mode.IsRollback(current, target):
		return b.rollbackTo(ctx, current, target)
	default:
		b.metricInc(MetricTransitionRejected)
		b.auditEmit(ctx, AuditEvent{
			EventType:  AuditTransitionRejected,
			Mode:       current.String(),
			TargetMode: target.String(),
			Error:      "transition skips a stage",
		})
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, target)
	}
}

func (b *Bridge) transitionForward(ctx context.Context, current, target mode.AuthMode, opts TransitionOptions) error {
	b.orch.set(OrchTransitioning)
	defer b.orch.settle()

	if current == mode.Dual && target == mode.TokenOnly && !opts.Override {
		if err := b.migrationCompleteGate(ctx); err != nil {
			b.metricInc(MetricTransitionRejected)
			b.auditEmit(ctx, AuditEvent{
				EventType:  AuditTransitionRejected,
				Mode:       current.String(),
				TargetMode: target.String(),
				Error:      err.Error(),
			})
			return err
		}
	}

	snap, err := b.CreateSnapshot(ctx)
	if err != nil {
		return err
	}

	if err := b.registry.Set(ctx, target, current); err != nil {
		if errors.Is(err, mode.ErrModeConflict) {
			b.metricInc(MetricModeConflict)
			b.auditEmit(ctx, AuditEvent{
				EventType:  AuditModeConflict,
				Mode:       current.String(),
				TargetMode: target.String(),
				Error:      err.Error(),
			})
			return err
		}
		return b.storeFault(err)
	}

	b.metricInc(MetricModeTransition)
	event := AuditEvent{
		EventType:  AuditModeTransition,
		Mode:       current.String(),
		TargetMode: target.String(),
		SnapshotID: snap.SnapshotID,
		Success:    true,
	}
	if opts.Override {
		event.Metadata = map[string]string{"override": "true"}
	}
	b.auditEmit(ctx, event)
	return nil
}

// migrationCompleteGate enforces the Dual to TokenOnly precondition: the
// latest run finished, covered every user, and recorded zero failures.
func (b *Bridge) migrationCompleteGate(ctx context.Context) error {
	job, err := b.migrator.LatestJob(ctx)
	if err != nil {
		if errors.Is(err, migrate.ErrJobNotFound) {
			return fmt.Errorf("%w: no migration run on record", ErrMigrationIncomplete)
		}
		return b.storeFault(err)
	}

	if job.State != migrate.JobCompleted {
		return fmt.Errorf("%w: job %s is %s", ErrMigrationIncomplete, job.JobID, job.State)
	}
	if job.Failed > 0 {
		return fmt.Errorf("%w: job %s recorded %d failures", ErrMigrationIncomplete, job.JobID, job.Failed)
	}
	if job.Migrated < job.Total {
		return fmt.Errorf("%w: job %s migrated %d of %d users", ErrMigrationIncomplete, job.JobID, job.Migrated, job.Total)
	}
	return nil
}

func (b *Bridge) rollbackTo(ctx context.Context, current, target mode.AuthMode) error {
	snap, err := b.snapshots.Latest(ctx)
	if err != nil {
		if errors.Is(err, snapshot.ErrExpiredOrMissing) {
			b.metricInc(MetricTransitionRejected)
			return fmt.Errorf("%w: %v", ErrRollbackSnapshotMismatch, err)
		}
		return b.storeFault(err)
	}
	if snap.Mode != target.String() {
		b.metricInc(MetricTransitionRejected)
		return fmt.Errorf("%w: latest snapshot captured mode %s, want %s",
			ErrRollbackSnapshotMismatch, snap.Mode, target)
	}

	return b.restore(ctx, current, snap)
}

// Rollback restores the latest snapshot whatever mode it captured. The
// snapshot is authoritative for mode and credential records both.
func (b *Bridge) Rollback(ctx context.Context) error {
	if b == nil || b.transition == nil {
		return ErrBridgeNotReady
	}

	release, acquired, err := b.transition.Acquire(ctx)
	if err != nil {
		return b.storeFault(err)
	}
	if !acquired {
		b.metricInc(MetricTransitionContended)
		return ErrTransitionInProgress
	}
	defer func() {
		_ = release(context.WithoutCancel(ctx))
	}()

	snap, err := b.snapshots.Latest(ctx)
	if err != nil {
		return b.storeFault(err)
	}

	current, err := b.registry.Reload(ctx)
	if err != nil {
		return b.storeFault(err)
	}

	return b.restore(ctx, current, snap)
}

// restore applies a snapshot and owns the orchestrator bookkeeping around
// it: a partial failure leaves the system flagged for manual intervention
// rather than pretending the rollback completed.
func (b *Bridge) restore(ctx context.Context, current mode.AuthMode, snap *snapshot.Snapshot) error {
	b.orch.set(OrchRollingBack)

	if err := b.snapshots.Restore(ctx, snap.SnapshotID); err != nil {
		b.orch.flagIntervention()
		b.metricInc(MetricRollbackFailed)
		b.auditEmit(ctx, AuditEvent{
			EventType:  AuditRollback,
			Mode:       current.String(),
			TargetMode: snap.Mode,
			SnapshotID: snap.SnapshotID,
			Error:      err.Error(),
		})
		return b.storeFault(err)
	}

	b.orch.settle()
	b.metricInc(MetricSnapshotRestored)
	b.auditEmit(ctx, AuditEvent{
		EventType:  AuditSnapshotRestored,
		Mode:       current.String(),
		TargetMode: snap.Mode,
		SnapshotID: snap.SnapshotID,
		Success:    true,
	})
	return nil
}
