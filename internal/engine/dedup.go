package engine

import (
	"context"
	"sync"
	"time"

	"alertbot/internal/state"
	logx "alertbot/pkg/logx"
)

// DedupeRecord marks one fingerprint as recently seen.
type DedupeRecord struct {
	Topic string    `json:"topic"`
	TS    time.Time `json:"ts"`
}

// DedupStore suppresses repeats of the same fingerprint within the
// per-topic window.
type DedupStore struct {
	cfg   Config
	store state.Store
	log   logx.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewDedupStore(cfg Config, st state.Store, log logx.Logger) *DedupStore {
	return &DedupStore{cfg: cfg, store: st, log: log, now: time.Now}
}

// ShouldSkip reports whether an event with this fingerprint was already
// seen inside window(topic), and how long the suppression still holds.
// The current sighting is recorded either way, so a steady stream of
// duplicates keeps the window sliding forward.
func (d *DedupStore) ShouldSkip(ctx context.Context, topic, fingerprint string) (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	records := map[string]DedupeRecord{}
	loadBlob(ctx, d.store, d.log, state.KindDedupe, &records)

	// Drop stale records first so the blob stays bounded.
	for k, r := range records {
		if now.Sub(r.TS) > d.cfg.windowFor(r.Topic) {
			delete(records, k)
		}
	}

	prev, hit := records[fingerprint]
	records[fingerprint] = DedupeRecord{Topic: topic, TS: now}
	saveBlob(ctx, d.store, d.log, state.KindDedupe, records)

	if !hit {
		return false, 0
	}
	remaining := d.cfg.windowFor(topic) - now.Sub(prev.TS)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}
