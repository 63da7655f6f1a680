package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"alertbot/internal/registry"
	"alertbot/internal/state"
	"alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

// DigestItem is one deferred alert waiting for quiet hours to end.
type DigestItem struct {
	TS         time.Time `json:"ts"`
	Topic      string    `json:"topic"`
	Category   string    `json:"category"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Priority   int       `json:"priority"`
	IncidentID string    `json:"incident_id"`
}

// DigestQueue accumulates deferred items per recipient and flushes them
// as one compacted message once quiet hours end.
type DigestQueue struct {
	cfg      Config
	store    state.Store
	executor *Executor
	log      logx.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewDigestQueue(cfg Config, st state.Store, ex *Executor, log logx.Logger) *DigestQueue {
	return &DigestQueue{cfg: cfg, store: st, executor: ex, log: log, now: time.Now}
}

func (q *DigestQueue) load(ctx context.Context) map[string][]DigestItem {
	m := map[string][]DigestItem{}
	loadBlob(ctx, q.store, q.log, state.KindDigestQueue, &m)
	return m
}

func (q *DigestQueue) save(ctx context.Context, m map[string][]DigestItem) {
	saveBlob(ctx, q.store, q.log, state.KindDigestQueue, m)
}

// Enqueue appends an item to the recipient's queue, dropping the oldest
// entries beyond the cap.
func (q *DigestQueue) Enqueue(ctx context.Context, recipient string, item DigestItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.load(ctx)
	items := append(m[recipient], item)
	if over := len(items) - q.cfg.DigestMaxItems; over > 0 {
		items = items[over:]
	}
	m[recipient] = items
	q.save(ctx, m)
}

// Pending returns the queued item count for a recipient.
func (q *DigestQueue) Pending(ctx context.Context, recipient string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load(ctx)[recipient])
}

// digestSend is one rendered digest pending delivery, with the queue
// snapshot it was built from.
type digestSend struct {
	id        string
	user      registry.User
	text      string
	kept      []DigestItem
	taken     int
	sent      int
	condensed int
	hidden    int
}

// Flush delivers ready digests. Per active admin recipient: items whose
// quiet window is still active stay queued; the rest are de-noised and
// de-duplicated, then sent as one message. The queue entry is only
// trimmed on send success; a failure leaves it untouched for the next
// cycle, and one recipient's failure never blocks another's flush.
//
// Rendering happens under the lock, delivery does not: a slow send
// (retry backoff included) must never stall Enqueue and with it the
// ingestion path. Items enqueued while a send is in flight stay queued.
func (q *DigestQueue) Flush(ctx context.Context, snap registry.Snapshot) {
	now := q.now()

	q.mu.Lock()
	m := q.load(ctx)
	changed := false

	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sends []digestSend
	for _, id := range ids {
		items := m[id]
		if len(items) == 0 {
			delete(m, id)
			changed = true
			continue
		}
		user, ok := snap.Users[id]
		if !ok || !user.Active() || !user.Admin() {
			continue
		}

		var kept, ready []DigestItem
		for _, it := range items {
			if InQuietHours(user, it.Category, false, now) {
				kept = append(kept, it)
			} else {
				ready = append(ready, it)
			}
		}
		if len(ready) == 0 {
			continue
		}

		ready, hidden := q.dropNoise(ready)
		ready, condensed := dedupeItems(ready)

		if len(ready) == 0 {
			// Everything ready was noise or duplicate; keep only the
			// still-quiet subset queued.
			m[id] = kept
			changed = true
			continue
		}

		sends = append(sends, digestSend{
			id:        id,
			user:      user,
			text:      Sanitize(RenderDigest(ready, condensed, hidden, q.cfg.DigestMaxPreview), q.cfg.MaxMessageRunes),
			kept:      kept,
			taken:     len(items),
			sent:      len(ready),
			condensed: condensed,
			hidden:    hidden,
		})
	}
	if changed {
		q.save(ctx, m)
	}
	q.mu.Unlock()

	for _, s := range sends {
		to := transport.ChatTarget{ChatID: s.user.ChatID, ThreadID: s.user.ThreadID}
		res := q.executor.Deliver(ctx, s.id, to, s.text, nil)
		if !res.Sent {
			// Leave the whole entry for the next flush cycle.
			q.log.Warn("digest send failed; keeping queue",
				logx.String("recipient", s.id),
				logx.String("reason", res.Reason),
				logx.Int("items", s.taken))
			continue
		}
		q.trim(ctx, s)
	}
}

// trim removes the items a successful send covered, preserving anything
// enqueued after the snapshot was taken.
func (q *DigestQueue) trim(ctx context.Context, s digestSend) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.load(ctx)
	items := m[s.id]
	remain := s.kept
	if len(items) > s.taken {
		remain = append(remain, items[s.taken:]...)
	}
	m[s.id] = remain
	q.save(ctx, m)

	q.log.Info("digest flushed",
		logx.String("recipient", s.id),
		logx.Int("sent", s.sent),
		logx.Int("condensed", s.condensed),
		logx.Int("hidden", s.hidden),
		logx.Int("kept", len(remain)))
}

// dropNoise removes gated-category items matching a noise marker.
func (q *DigestQueue) dropNoise(items []DigestItem) ([]DigestItem, int) {
	if len(q.cfg.NoiseMarkers) == 0 || q.cfg.GatedCategory == "" {
		return items, 0
	}
	out := items[:0]
	hidden := 0
	for _, it := range items {
		if strings.EqualFold(it.Category, q.cfg.GatedCategory) && q.isNoise(it) {
			hidden++
			continue
		}
		out = append(out, it)
	}
	return out, hidden
}

func (q *DigestQueue) isNoise(it DigestItem) bool {
	text := strings.ToLower(it.Title + " " + it.Message)
	for _, marker := range q.cfg.NoiseMarkers {
		marker = strings.ToLower(strings.TrimSpace(marker))
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// dedupeItems collapses items with the same normalized content key,
// keeping the first occurrence.
func dedupeItems(items []DigestItem) ([]DigestItem, int) {
	seen := map[string]bool{}
	out := items[:0]
	condensed := 0
	for _, it := range items {
		key := strings.ToLower(collapseSpace(it.Topic + "|" + it.Title + "|" + it.Message))
		if seen[key] {
			condensed++
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out, condensed
}
