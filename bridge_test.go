package goBridge

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBridge/migrate"
	"github.com/MrEthical07/goBridge/mode"
)

type testDirectory struct {
	mu    sync.RWMutex
	users map[string]DirectoryUser
}

func newTestDirectory() *testDirectory {
	return &testDirectory{users: map[string]DirectoryUser{}}
}

func (d *testDirectory) Put(u DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.UserID] = u
}

func (d *testDirectory) Remove(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, userID)
}

func (d *testDirectory) Lookup(_ context.Context, userID string) (DirectoryUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return DirectoryUser{}, ErrUserNotFound
	}
	return u, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	cfg := defaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *testDirectory, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	directory := newTestDirectory()
	directory.Put(DirectoryUser{UserID: "u-1", DisplayName: "Alice", Role: "admin"})
	directory.Put(DirectoryUser{UserID: "u-2", DisplayName: "Bob", Role: "user"})

	bridge, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(directory).
		Build(context.Background())
	if err != nil {
		mr.Close()
		t.Fatalf("bridge build: %v", err)
	}

	return bridge, directory, mr, func() {
		bridge.Close()
		rdb.Close()
		mr.Close()
	}
}

// enterMode walks the bridge's registry along the legal path to the target.
func enterMode(t *testing.T, b *Bridge, target mode.AuthMode) {
	t.Helper()
	ctx := context.Background()

	path := map[mode.AuthMode][]mode.AuthMode{
		mode.SessionOnly: {},
		mode.Dual:        {mode.Dual},
		mode.TokenOnly:   {mode.Dual, mode.TokenOnly},
	}[target]

	current := b.registry.Mode()
	for _, next := range path {
		if current == next {
			continue
		}
		if err := b.registry.Set(ctx, next, current); err != nil {
			t.Fatalf("enter %s: %v", next, err)
		}
		current = next
	}
}

func waitForMigration(t *testing.T, b *Bridge, jobID string) migrate.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := b.MigrationProgress(context.Background(), jobID)
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		if job.State != migrate.JobRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("migration did not settle in time")
	return migrate.Job{}
}

func TestBuildRequiresDependencies(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New().WithConfig(cfg).WithDirectory(newTestDirectory()).Build(context.Background()); err == nil {
		t.Fatal("expected build rejection without redis")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(context.Background()); err == nil {
		t.Fatal("expected build rejection without directory")
	}

	bad := cfg
	bad.Token.SigningMethod = "none"
	if _, err := New().WithConfig(bad).WithRedis(rdb).WithDirectory(newTestDirectory()).Build(context.Background()); err == nil {
		t.Fatal("expected build rejection for bad signing method")
	}

	builder := New().WithConfig(cfg).WithRedis(rdb).WithDirectory(newTestDirectory())
	bridge, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer bridge.Close()

	if _, err := builder.Build(context.Background()); err == nil {
		t.Fatal("expected single-use builder")
	}
}

func TestCredentialAdapterOperations(t *testing.T) {
	bridge, directory, _, done := newTestBridge(t, testConfig(t))
	defer done()
	ctx := context.Background()

	sess, err := bridge.CreateLegacySession(ctx, "u-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.DisplayName != "Alice" || sess.Role != "admin" {
		t.Fatalf("directory payload not carried: %+v", sess)
	}

	rec, err := bridge.records.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !rec.HasLegacySession {
		t.Fatal("expected legacy-session marker on record")
	}

	if err := bridge.DeleteLegacySession(ctx, sess.SessionID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := bridge.DeleteLegacySession(ctx, sess.SessionID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	handle, err := bridge.IssueToken(ctx, "u-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if handle.Bearer == "" {
		t.Fatal("expected signed bearer")
	}

	n, err := bridge.RevokeAllTokens(ctx, "u-1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revoked, got %d", n)
	}

	directory.Remove("u-1")
	if _, err := bridge.IssueToken(ctx, "u-1"); err == nil {
		t.Fatal("expected issue rejection for unknown user")
	}
}

func TestHealthReflectsStore(t *testing.T) {
	bridge, _, mr, done := newTestBridge(t, testConfig(t))
	defer done()
	ctx := context.Background()

	healthy, latency := bridge.Health(ctx)
	if !healthy {
		t.Fatal("expected healthy store")
	}
	if latency < 0 {
		t.Fatalf("negative latency: %v", latency)
	}

	mr.Close()
	if healthy, _ := bridge.Health(ctx); healthy {
		t.Fatal("expected unhealthy after store loss")
	}
}
