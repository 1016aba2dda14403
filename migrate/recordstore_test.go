package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRecordStoreTest(t *testing.T) (*RecordStore, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRecordStore(rdb, "ab"), func() {
		rdb.Close()
		mr.Close()
	}
}

func TestUpdateCreatesMissingRecord(t *testing.T) {
	store, done := newRecordStoreTest(t)
	defer done()
	ctx := context.Background()

	_, err := store.Get(ctx, "u-1")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	err = store.Update(ctx, "u-1", func(rec *CredentialRecord) error {
		rec.HasLegacySession = true
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := store.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.HasLegacySession || rec.Migrated() {
		t.Fatalf("unexpected record state: %+v", rec)
	}

	ids, err := store.AllUserIDs(ctx)
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u-1" {
		t.Fatalf("expected indexed user, got %v", ids)
	}
}

func TestUpdateAbortsWithoutWriting(t *testing.T) {
	store, done := newRecordStoreTest(t)
	defer done()
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Update(ctx, "u-1", func(*CredentialRecord) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error surfaced, got %v", err)
	}

	_, err = store.Get(ctx, "u-1")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("aborted update must not write, got %v", err)
	}
}

func TestMaterializeFirstWriterWins(t *testing.T) {
	store, done := newRecordStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now().Unix()

	stashed, err := store.Materialize(ctx, "u-1", "Alice", "admin", now)
	if err != nil {
		t.Fatalf("first materialize: %v", err)
	}
	if !stashed {
		t.Fatal("expected first materialize to stash")
	}

	stashed, err = store.Materialize(ctx, "u-1", "Changed", "user", now+10)
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}
	if stashed {
		t.Fatal("expected repeat materialize to be a no-op")
	}

	rec, err := store.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.SessionDisplayName != "Alice" || rec.SessionRole != "admin" || rec.MaterializedAt != now {
		t.Fatalf("expected first payload kept, got %+v", rec)
	}
}

func TestAllUserIDsStableOrder(t *testing.T) {
	store, done := newRecordStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"u-3", "u-1", "u-2"} {
		if err := store.Put(ctx, &CredentialRecord{UserID: id}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	ids, err := store.AllUserIDs(ctx)
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	want := []string{"u-1", "u-2", "u-3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestReplaceAllSwapsRecordSet(t *testing.T) {
	store, done := newRecordStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, &CredentialRecord{UserID: "u-old", TokenID: "t-1", MigratedAt: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := store.ReplaceAll(ctx, []*CredentialRecord{
		{UserID: "u-new", HasLegacySession: true},
	})
	if err != nil {
		t.Fatalf("replace all: %v", err)
	}

	if _, err := store.Get(ctx, "u-old"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected old record gone, got %v", err)
	}

	rec, err := store.Get(ctx, "u-new")
	if err != nil {
		t.Fatalf("get new: %v", err)
	}
	if !rec.HasLegacySession || rec.Migrated() {
		t.Fatalf("unexpected restored state: %+v", rec)
	}

	ids, err := store.AllUserIDs(ctx)
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u-new" {
		t.Fatalf("expected index rebuilt, got %v", ids)
	}
}

func TestRecordCodecRoundTrip(t *testing.T) {
	in := &CredentialRecord{
		UserID:             "u-1",
		HasLegacySession:   true,
		TokenID:            "tok-1",
		MigratedAt:         1700000000,
		FailureReason:      "",
		SessionDisplayName: "Alice",
		SessionRole:        "admin",
		MaterializedAt:     1699990000,
	}

	data, err := encodeCredentialRecord(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := decodeCredentialRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}

	if _, err := decodeCredentialRecord([]byte{0xFF, 0x01}); err == nil {
		t.Fatal("expected unknown version rejected")
	}
}
