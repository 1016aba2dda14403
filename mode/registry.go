package mode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// ErrModeConflict is returned by [Registry.Set] when the persisted mode no
// longer matches the caller's expected value. The caller must re-read and
// retry or abort; the registry never overwrites silently.
var ErrModeConflict = errors.New("auth mode conflict")

// ErrModeCorrupt is returned when the persisted mode slot holds an
// unparseable value.
var ErrModeCorrupt = errors.New("auth mode slot corrupt")

// ErrRegistryUnavailable wraps Redis faults on the mode slot.
var ErrRegistryUnavailable = errors.New("mode registry unavailable")

const (
	casStatusConflict int64 = 0
	casStatusApplied  int64 = 1
)

// The slot may be empty on first boot; an empty slot reads as the configured
// default so the CAS compares against what Mode() reported.
const casModeScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  cur = ARGV[3]
end
if cur ~= ARGV[1] then
  return {0, cur}
end
redis.call("SET", KEYS[1], ARGV[2])
return {1, ARGV[2]}
`

var casModeLua = redis.NewScript(casModeScript)

// Registry holds the authoritative system-wide [AuthMode]. Reads are served
// from an in-memory atomic; writes go through a Lua compare-and-set against
// the durable Redis slot and then update the cache and notify subscribers.
type Registry struct {
	redis       redis.UniversalClient
	key         string
	defaultMode AuthMode

	current atomic.Uint32

	mu   sync.Mutex
	subs []func(old, next AuthMode)
}

// NewRegistry creates a registry over the given durable slot key. Call
// [Registry.Load] once before serving requests.
func NewRegistry(redisClient redis.UniversalClient, key string, defaultMode AuthMode) *Registry {
	if key == "" {
		key = "ab:mode"
	}
	r := &Registry{
		redis:       redisClient,
		key:         key,
		defaultMode: defaultMode,
	}
	r.current.Store(uint32(defaultMode))
	return r
}

// Load reads the persisted mode into the in-memory cache. An empty slot is
// seeded with the default mode so later CAS calls observe a stable value.
func (r *Registry) Load(ctx context.Context) (AuthMode, error) {
	val, err := r.redis.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			if err := r.redis.SetNX(ctx, r.key, r.defaultMode.String(), 0).Err(); err != nil {
				return r.defaultMode, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
			}
			r.current.Store(uint32(r.defaultMode))
			return r.defaultMode, nil
		}
		return r.defaultMode, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	m, err := Parse(val)
	if err != nil {
		return r.defaultMode, fmt.Errorf("%w: %v", ErrModeCorrupt, err)
	}

	r.current.Store(uint32(m))
	return m, nil
}

// Reload re-reads the durable slot, replacing the cached value. Intended for
// operator-driven refresh; per-request reads never touch Redis.
func (r *Registry) Reload(ctx context.Context) (AuthMode, error) {
	return r.Load(ctx)
}

// Mode returns the cached authoritative mode. Never fails, never blocks.
func (r *Registry) Mode() AuthMode {
	return AuthMode(r.current.Load())
}

// Set applies a compare-and-set transition from expected to next. On a
// concurrent change it returns [ErrModeConflict] wrapped with the observed
// persisted value. On success the cache is updated and subscribers are
// notified with (expected, next).
func (r *Registry) Set(ctx context.Context, next, expected AuthMode) error {
	if !next.Valid() || !expected.Valid() {
		return fmt.Errorf("%w: invalid mode", ErrModeConflict)
	}

	res, err := casModeLua.Run(ctx, r.redis,
		[]string{r.key},
		expected.String(), next.String(), r.defaultMode.String(),
	).Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if len(res) < 1 {
		return fmt.Errorf("%w: malformed cas reply", ErrRegistryUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return fmt.Errorf("%w: malformed cas status", ErrRegistryUnavailable)
	}

	if status == casStatusConflict {
		observed := "unknown"
		if len(res) > 1 {
			if s, ok := res[1].(string); ok {
				observed = s
			}
		}
		return fmt.Errorf("%w: persisted mode is %s, expected %s", ErrModeConflict, observed, expected)
	}

	r.current.Store(uint32(next))
	r.notify(expected, next)
	return nil
}

// Subscribe registers a callback invoked after every successful Set on this
// registry instance. Callbacks run synchronously on the mutating goroutine
// and must not call back into Set.
func (r *Registry) Subscribe(fn func(old, next AuthMode)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *Registry) notify(old, next AuthMode) {
	r.mu.Lock()
	subs := make([]func(AuthMode, AuthMode), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(old, next)
	}
}
