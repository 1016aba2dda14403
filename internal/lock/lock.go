package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis faults on the lock key.
var ErrUnavailable = errors.New("lock backend unavailable")

// ErrNotHeld is returned by release when the lock was lost before release,
// typically because the TTL elapsed.
var ErrNotHeld = errors.New("lock not held")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Lock is a named, non-reentrant, non-queuing mutex on a single Redis key.
type Lock struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// New creates a lock on the given key. ttl bounds how long a crashed holder
// can wedge the lock.
func New(redisClient redis.UniversalClient, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Lock{
		redis: redisClient,
		key:   key,
		ttl:   ttl,
	}
}

// Acquire attempts to take the lock. On success it returns a release
// function and true. When the lock is held elsewhere it returns (nil, false,
// nil); contenders do not queue.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	holder := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, l.key, holder, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseLua.Run(ctx, l.redis, []string{l.key}, holder).Int64()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}

	return release, true, nil
}
