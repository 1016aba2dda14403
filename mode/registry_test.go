package mode

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRegistryTest(t *testing.T) (*Registry, *miniredis.Miniredis, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := NewRegistry(rdb, "ab:mode", SessionOnly)
	return reg, mr, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestLoadSeedsEmptySlotWithDefault(t *testing.T) {
	reg, mr, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	m, err := reg.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m != SessionOnly {
		t.Fatalf("expected session_only, got %s", m)
	}

	stored, err := mr.Get("ab:mode")
	if err != nil {
		t.Fatalf("slot not seeded: %v", err)
	}
	if stored != "session_only" {
		t.Fatalf("expected seeded slot session_only, got %q", stored)
	}
}

func TestSetAppliesAndNotifies(t *testing.T) {
	reg, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if _, err := reg.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	var gotOld, gotNext AuthMode
	reg.Subscribe(func(old, next AuthMode) {
		gotOld, gotNext = old, next
	})

	if err := reg.Set(ctx, Dual, SessionOnly); err != nil {
		t.Fatalf("set: %v", err)
	}
	if reg.Mode() != Dual {
		t.Fatalf("expected cached dual, got %s", reg.Mode())
	}
	if gotOld != SessionOnly || gotNext != Dual {
		t.Fatalf("expected notify (session_only, dual), got (%s, %s)", gotOld, gotNext)
	}
}

func TestSetConflictWhenExpectedStale(t *testing.T) {
	reg, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if _, err := reg.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := reg.Set(ctx, Dual, SessionOnly); err != nil {
		t.Fatalf("first set: %v", err)
	}

	err := reg.Set(ctx, TokenOnly, SessionOnly)
	if !errors.Is(err, ErrModeConflict) {
		t.Fatalf("expected ErrModeConflict, got %v", err)
	}
	if reg.Mode() != Dual {
		t.Fatalf("conflict must not move the cache, got %s", reg.Mode())
	}
}

func TestSetConcurrentExactlyOneWins(t *testing.T) {
	reg, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if _, err := reg.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = reg.Set(ctx, Dual, SessionOnly)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrModeConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning CAS, got %d", wins)
	}
	if reg.Mode() != Dual {
		t.Fatalf("expected dual after race, got %s", reg.Mode())
	}
}

func TestModePersistsAcrossInstances(t *testing.T) {
	reg, _, rdb, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if _, err := reg.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := reg.Set(ctx, Dual, SessionOnly); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A fresh instance simulates a process restart: the durable slot, not
	// the default, decides the mode.
	restarted := NewRegistry(rdb, "ab:mode", SessionOnly)
	m, err := restarted.Load(ctx)
	if err != nil {
		t.Fatalf("load after restart: %v", err)
	}
	if m != Dual {
		t.Fatalf("expected dual after restart, got %s", m)
	}
}

func TestLoadRejectsCorruptSlot(t *testing.T) {
	reg, mr, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	mr.Set("ab:mode", "garbage")

	_, err := reg.Load(ctx)
	if !errors.Is(err, ErrModeCorrupt) {
		t.Fatalf("expected ErrModeCorrupt, got %v", err)
	}
}

func TestSetAgainstEmptySlotUsesDefault(t *testing.T) {
	reg, _, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	// No Load: the Lua script treats the empty slot as the default, so the
	// transition out of the default mode still applies.
	if err := reg.Set(ctx, Dual, SessionOnly); err != nil {
		t.Fatalf("set on empty slot: %v", err)
	}
	if reg.Mode() != Dual {
		t.Fatalf("expected dual, got %s", reg.Mode())
	}
}
