package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	logx "alertbot/pkg/logx"
)

func TestRecorderRetentionAndCap(t *testing.T) {
	cfg := Config{AuditRetention: time.Hour, AuditMaxEntries: 5}.WithDefaults()
	r := NewRecorder(cfg, testStore(t), logx.Nop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		r.Record(ctx, fmt.Sprintf("topic-%d", i), ResultSent, "", 3, false, 1)
		now = now.Add(time.Minute)
	}

	events := r.Recent(ctx)
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5 (cap)", len(events))
	}
	if events[0].Topic != "topic-3" || events[4].Topic != "topic-7" {
		t.Fatalf("unexpected window: first=%s last=%s", events[0].Topic, events[4].Topic)
	}

	// Old entries age out on the next write.
	now = now.Add(2 * time.Hour)
	r.Record(ctx, "fresh", ResultSkipped, "duplicate", 2, false, 0)
	events = r.Recent(ctx)
	if len(events) != 1 || events[0].Topic != "fresh" {
		t.Fatalf("retention failed: %+v", events)
	}
}

func TestRecorderPrune(t *testing.T) {
	cfg := Config{AuditRetention: time.Hour}.WithDefaults()
	r := NewRecorder(cfg, testStore(t), logx.Nop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	r.Record(ctx, "a", ResultSent, "", 3, false, 2)
	now = now.Add(30 * time.Minute)
	r.Record(ctx, "b", ResultDeferred, "", 3, false, 1)

	now = now.Add(45 * time.Minute)
	r.Prune(ctx)

	events := r.Recent(ctx)
	if len(events) != 1 || events[0].Topic != "b" {
		t.Fatalf("prune result: %+v", events)
	}
}
