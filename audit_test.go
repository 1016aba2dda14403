package goBridge

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBridge/mode"
)

// blockingSink stalls inside Emit until released, to force backpressure.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	events  []AuditEvent
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Emit(_ context.Context, event AuditEvent) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherShedsUnderBackpressure(t *testing.T) {
	sink := newBlockingSink()
	d := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)

	ctx := context.Background()

	d.Emit(ctx, AuditEvent{EventType: "first"})
	<-sink.entered // worker holds the first event inside the sink

	d.Emit(ctx, AuditEvent{EventType: "second"}) // fills the buffer
	d.Emit(ctx, AuditEvent{EventType: "third"})  // shed

	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", d.Dropped())
	}

	close(sink.release)
	d.Close()

	// Close drains what was queued; only the shed event is missing.
	if sink.count() != 2 {
		t.Fatalf("expected 2 delivered after drain, got %d", sink.count())
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, NoOpSink{})
	d.Close()
	d.Close()
	d.Emit(context.Background(), AuditEvent{EventType: "late"})
}

func TestTransitionEmitsAuditTrail(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewChannelSink(16)
	bridge, err := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithDirectory(newTestDirectory()).
		WithAuditSink(sink).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer bridge.Close()

	if err := bridge.TransitionTo(context.Background(), mode.Dual, TransitionOptions{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	got := map[string]AuditEvent{}
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case event := <-sink.Events():
			got[event.EventType] = event
		case <-deadline:
			t.Fatalf("timed out waiting for audit events, have %v", got)
		}
	}

	snapEvent, ok := got[AuditSnapshotCreated]
	if !ok || snapEvent.SnapshotID == "" {
		t.Fatalf("missing snapshot event: %+v", got)
	}
	transEvent, ok := got[AuditModeTransition]
	if !ok || transEvent.Mode != "session_only" || transEvent.TargetMode != "dual" || !transEvent.Success {
		t.Fatalf("missing or malformed transition event: %+v", got)
	}
}

func TestJSONWriterSinkOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: "mode.transition", Mode: "dual", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "snapshot.created"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.EventType != "mode.transition" || decoded.Mode != "dual" || !decoded.Success {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}
