package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/goBridge/session"
	"github.com/MrEthical07/goBridge/token"
)

// ErrUserNotFound is returned by [Directory] implementations when the user
// no longer exists in the account directory.
var ErrUserNotFound = errors.New("user not found")

// Outcome classifies one per-user migration attempt.
type Outcome uint8

const (
	// OutcomeSuccess means a token was issued and the record marked migrated.
	OutcomeSuccess Outcome = iota
	// OutcomeAlreadyMigrated means the record was already migrated; re-runs
	// are safe no-ops.
	OutcomeAlreadyMigrated
	// OutcomeFailed means the attempt failed and was recorded; the user's
	// legacy session is untouched.
	OutcomeFailed
)

// Result is the outcome of MigrateUser. FailureReason is set only for
// [OutcomeFailed].
type Result struct {
	Outcome       Outcome
	FailureReason string
}

// User is the directory's view of an account: the payload a migrated token
// carries when no legacy session payload is available.
type User struct {
	UserID      string
	DisplayName string
	Role        string
}

// Directory validates that a user still exists before a token is issued.
// Read-only; owned by the host application.
type Directory interface {
	Lookup(ctx context.Context, userID string) (User, error)
}

// TokenIssuer is the slice of the token store the engine needs. Narrow so
// tests can inject faults at the issue step.
type TokenIssuer interface {
	Issue(ctx context.Context, userID, displayName, role string) (*token.Handle, error)
	Revoke(ctx context.Context, userID, tokenID string) error
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// SessionReader is the read-only slice of the legacy session store used to
// translate a live session payload during migration.
type SessionReader interface {
	ActiveSessionIDs(ctx context.Context, userID string) ([]string, error)
	Get(ctx context.Context, sessionID string) (*session.Session, error)
}

// Config bounds batch processing.
type Config struct {
	// BatchSize is the default number of users per batch.
	BatchSize int
	// Concurrency caps per-user migrations in flight within one batch.
	Concurrency int
}

// Hooks are optional observer callbacks; the root engine wires audit and
// metrics through them. All hooks may be nil.
type Hooks struct {
	JobUpdated func(Job)
	UserFailed func(userID, reason string)
}

// Engine converts legacy sessions to bearer tokens, per user or in batches.
type Engine struct {
	records   *RecordStore
	jobs      *JobStore
	tokens    TokenIssuer
	sessions  SessionReader
	directory Directory
	cfg       Config
	hooks     Hooks

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewEngine wires the migration engine. All dependencies are required except
// hooks.
func NewEngine(
	records *RecordStore,
	jobs *JobStore,
	tokens TokenIssuer,
	sessions SessionReader,
	directory Directory,
	cfg Config,
	hooks Hooks,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Engine{
		records:   records,
		jobs:      jobs,
		tokens:    tokens,
		sessions:  sessions,
		directory: directory,
		cfg:       cfg,
		hooks:     hooks,
		active:    map[string]context.CancelFunc{},
	}
}

// MigrateUser migrates a single user. Idempotent: a second call reports
// [OutcomeAlreadyMigrated]. The legacy session is never touched, so a failed
// attempt leaves the user exactly as logged in as before. The returned error
// is non-nil only for unrecoverable store faults.
func (e *Engine) MigrateUser(ctx context.Context, userID string) (Result, error) {
	rec, err := e.records.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Result{}, err
	}
	if rec != nil && rec.Migrated() {
		return Result{Outcome: OutcomeAlreadyMigrated}, nil
	}

	user, err := e.directory.Lookup(ctx, userID)
	if err != nil {
		return e.fail(ctx, userID, fmt.Sprintf("directory lookup: %v", err))
	}

	displayName, role, hasLegacy, err := e.principalPayload(ctx, rec, user)
	if err != nil {
		return Result{}, err
	}

	handle, err := e.tokens.Issue(ctx, userID, displayName, role)
	if err != nil {
		if errors.Is(err, token.ErrRedisUnavailable) {
			return Result{}, err
		}
		return e.fail(ctx, userID, fmt.Sprintf("token issue: %v", err))
	}

	now := time.Now().Unix()
	var lostRace bool
	err = e.records.Update(ctx, userID, func(r *CredentialRecord) error {
		if r.Migrated() {
			lostRace = true
			return nil
		}
		r.HasLegacySession = hasLegacy || r.HasLegacySession
		r.TokenID = handle.TokenID
		r.MigratedAt = now
		r.FailureReason = ""
		return nil
	})
	if err != nil {
		// The token was issued but the record write failed: revoke it so a
		// retry starts clean, then surface the fault.
		_ = e.tokens.Revoke(ctx, userID, handle.TokenID)
		if errors.Is(err, ErrRecordRedisUnavailable) {
			return Result{}, err
		}
		return e.fail(ctx, userID, fmt.Sprintf("record write: %v", err))
	}
	if lostRace {
		// A concurrent migration won; discard the duplicate token.
		_ = e.tokens.Revoke(ctx, userID, handle.TokenID)
		return Result{Outcome: OutcomeAlreadyMigrated}, nil
	}

	return Result{Outcome: OutcomeSuccess}, nil
}

// principalPayload picks the payload a migrated token carries: the
// materialized session payload when present, else a live legacy session,
// else the directory record.
func (e *Engine) principalPayload(ctx context.Context, rec *CredentialRecord, user User) (string, string, bool, error) {
	if rec != nil && rec.MaterializedAt != 0 {
		return rec.SessionDisplayName, rec.SessionRole, rec.HasLegacySession, nil
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, user.UserID)
	if err != nil {
		return "", "", false, err
	}
	for _, id := range ids {
		sess, err := e.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
				continue
			}
			return "", "", false, err
		}
		return sess.DisplayName, sess.Role, true, nil
	}

	return user.DisplayName, user.Role, false, nil
}

func (e *Engine) fail(ctx context.Context, userID, reason string) (Result, error) {
	err := e.records.Update(ctx, userID, func(r *CredentialRecord) error {
		if r.Migrated() {
			return nil
		}
		r.FailureReason = reason
		return nil
	})
	if err != nil && errors.Is(err, ErrRecordRedisUnavailable) {
		return Result{}, err
	}

	if e.hooks.UserFailed != nil {
		e.hooks.UserFailed(userID, reason)
	}
	return Result{Outcome: OutcomeFailed, FailureReason: reason}, nil
}

// RollbackUser revokes the user's bearer tokens and clears the migration
// marker. The legacy session, if any, keeps working throughout.
func (e *Engine) RollbackUser(ctx context.Context, userID string) error {
	if _, err := e.tokens.RevokeAll(ctx, userID); err != nil {
		return err
	}

	return e.records.Update(ctx, userID, func(r *CredentialRecord) error {
		r.TokenID = ""
		r.MigratedAt = 0
		r.FailureReason = ""
		return nil
	})
}

// MigrateAll starts an asynchronous bulk run over every indexed user and
// returns the job handle immediately. batchSize <= 0 uses the configured
// default.
func (e *Engine) MigrateAll(ctx context.Context, batchSize int) (Job, error) {
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}

	users, err := e.records.AllUserIDs(ctx)
	if err != nil {
		return Job{}, err
	}

	now := time.Now()
	job := &Job{
		JobID:     uuid.NewString(),
		State:     JobRunning,
		Total:     len(users),
		BatchSize: batchSize,
		StartedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}

	if err := e.jobs.Save(ctx, job); err != nil {
		return Job{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.active[job.JobID] = cancel
	e.mu.Unlock()

	go e.run(runCtx, job, users)

	return job.Clone(), nil
}

// Cancel requests cooperative cancellation of a running job: in-flight
// per-user migrations complete, no new ones start. Returns false when the
// job is not running in this process.
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[jobID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Progress returns the persisted state of a job.
func (e *Engine) Progress(ctx context.Context, jobID string) (Job, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	return job.Clone(), nil
}

// LatestJob returns the most recent run within the retention window.
func (e *Engine) LatestJob(ctx context.Context) (Job, error) {
	job, err := e.jobs.Latest(ctx)
	if err != nil {
		return Job{}, err
	}
	return job.Clone(), nil
}

func (e *Engine) run(ctx context.Context, job *Job, users []string) {
	defer func() {
		e.mu.Lock()
		delete(e.active, job.JobID)
		e.mu.Unlock()
	}()

	start := time.Now()
	var mu sync.Mutex
	processed := 0

	// Cancellation is cooperative: it stops new users from starting but must
	// not poison store calls of migrations already in flight.
	workCtx := context.WithoutCancel(ctx)

	persist := func() {
		job.UpdatedAt = time.Now().Unix()
		// Persistence uses a fresh context: job bookkeeping must survive
		// cancellation of the run itself.
		if err := e.jobs.Save(context.Background(), job); err == nil && e.hooks.JobUpdated != nil {
			e.hooks.JobUpdated(job.Clone())
		}
	}

	for batchStart := 0; batchStart < len(users); batchStart += job.BatchSize {
		if ctx.Err() != nil {
			job.State = JobCancelled
			persist()
			return
		}

		batchEnd := batchStart + job.BatchSize
		if batchEnd > len(users) {
			batchEnd = len(users)
		}
		batch := users[batchStart:batchEnd]

		g := &errgroup.Group{}
		g.SetLimit(e.cfg.Concurrency)

		for _, userID := range batch {
			userID := userID
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}

				res, err := e.MigrateUser(workCtx, userID)
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()
				switch res.Outcome {
				case OutcomeSuccess, OutcomeAlreadyMigrated:
					job.Migrated++
				case OutcomeFailed:
					job.Failed++
					job.Failures = append(job.Failures, Failure{
						UserID: userID,
						Reason: res.FailureReason,
					})
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			job.State = JobHalted
			job.LastError = err.Error()
			persist()
			return
		}

		if ctx.Err() != nil {
			job.State = JobCancelled
			persist()
			return
		}

		processed = batchEnd
		if processed > 0 {
			perUser := time.Since(start) / time.Duration(processed)
			remaining := time.Duration(job.Total-processed) * perUser
			job.EstimatedDoneAt = time.Now().Add(remaining).Unix()
		}
		persist()
	}

	job.State = JobCompleted
	persist()
}
