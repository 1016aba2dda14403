package goBridge

import (
	"errors"

	"github.com/MrEthical07/goBridge/migrate"
	"github.com/MrEthical07/goBridge/mode"
	"github.com/MrEthical07/goBridge/snapshot"
)

var (
	// ErrUnauthenticated is the expected outcome when no presented
	// credential resolves under the active mode. It is data, not a fault.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrStoreUnavailable marks an infrastructure fault on a credential
	// store. Callers must treat it as a 503-equivalent, never as a missing
	// credential.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrTransitionInProgress is returned when another mode transition holds
	// the transition lock. Transitions never queue; the operator retries.
	ErrTransitionInProgress = errors.New("mode transition already in progress")
	// ErrInvalidTransition is returned for moves the state machine forbids,
	// such as skipping dual mode.
	ErrInvalidTransition = errors.New("invalid mode transition")
	// ErrMigrationIncomplete rejects the token-only cutover while users
	// remain unmigrated or failed, absent an explicit operator override.
	ErrMigrationIncomplete = errors.New("migration incomplete")
	// ErrRollbackSnapshotMismatch is returned when the latest snapshot does
	// not capture the requested rollback target mode.
	ErrRollbackSnapshotMismatch = errors.New("latest snapshot does not match rollback target")
	// ErrBridgeNotReady is returned when a Bridge method is called before
	// [Builder.Build] completed.
	ErrBridgeNotReady = errors.New("bridge not initialized")

	// ErrModeConflict re-exports the registry's CAS failure: the mode
	// changed concurrently and the caller must re-read.
	ErrModeConflict = mode.ErrModeConflict
	// ErrSnapshotExpiredOrMissing re-exports the snapshot store's
	// fail-closed restore error.
	ErrSnapshotExpiredOrMissing = snapshot.ErrExpiredOrMissing
	// ErrUserNotFound re-exports the directory's missing-user error.
	ErrUserNotFound = migrate.ErrUserNotFound
	// ErrJobNotFound re-exports the migration job store's missing-job error.
	ErrJobNotFound = migrate.ErrJobNotFound
)
