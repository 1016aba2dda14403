package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobState is the lifecycle state of a bulk migration run.
type JobState string

const (
	// JobRunning marks a run with batches still in flight.
	JobRunning JobState = "running"
	// JobCompleted marks a run that processed every user.
	JobCompleted JobState = "completed"
	// JobCancelled marks a cooperatively cancelled run; already-migrated
	// users stay migrated.
	JobCancelled JobState = "cancelled"
	// JobHalted marks a run stopped by an unrecoverable store fault.
	JobHalted JobState = "halted"
)

// ErrJobNotFound is returned when no job exists under the given ID.
var ErrJobNotFound = errors.New("migration job not found")

// ErrJobRedisUnavailable wraps Redis faults on job state.
var ErrJobRedisUnavailable = errors.New("migration job redis unavailable")

// Failure is one user's recorded migration failure within a run.
type Failure struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Job is the aggregate state of one bulk migration run. Counters are
// monotonically non-decreasing and Migrated+Failed never exceeds Total.
type Job struct {
	JobID     string    `json:"job_id"`
	State     JobState  `json:"state"`
	Total     int       `json:"total"`
	Migrated  int       `json:"migrated"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	BatchSize int       `json:"batch_size"`
	StartedAt int64     `json:"started_at"`
	UpdatedAt int64     `json:"updated_at"`

	// EstimatedDoneAt is derived from observed per-user throughput; zero
	// until the first batch completes.
	EstimatedDoneAt int64 `json:"estimated_done_at,omitempty"`

	// LastError is set when the job halts on a store fault.
	LastError string `json:"last_error,omitempty"`
}

// Clone returns a deep copy safe to hand to callers while the run mutates
// the original.
func (j *Job) Clone() Job {
	out := *j
	if len(j.Failures) > 0 {
		out.Failures = make([]Failure, len(j.Failures))
		copy(out.Failures, j.Failures)
	}
	return out
}

// JobStore persists job progress to Redis as JSON. Progress is written at
// batch boundaries, so a crash loses at most one batch of bookkeeping, never
// the migrations themselves.
type JobStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewJobStore creates a job store. retention bounds how long finished jobs
// stay readable.
func NewJobStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *JobStore {
	if prefix == "" {
		prefix = "ab"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &JobStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *JobStore) key(jobID string) string {
	return s.prefix + ":job:" + jobID
}

func (s *JobStore) latestKey() string {
	return s.prefix + ":job:latest"
}

// Save persists the job and moves the latest-run pointer to it.
func (s *JobStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(job.JobID), data, s.retention)
		pipe.Set(ctx, s.latestKey(), job.JobID, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJobRedisUnavailable, err)
	}
	return nil
}

// Get returns a persisted job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := s.redis.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrJobRedisUnavailable, err)
	}

	job := &Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("migration job corrupt: %w", err)
	}
	return job, nil
}

// Latest returns the most recently saved job, or [ErrJobNotFound] when no
// run has been recorded within the retention window.
func (s *JobStore) Latest(ctx context.Context) (*Job, error) {
	jobID, err := s.redis.Get(ctx, s.latestKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrJobRedisUnavailable, err)
	}
	return s.Get(ctx, jobID)
}
