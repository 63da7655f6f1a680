package engine

import (
	"context"
	"sync"
	"time"

	"alertbot/internal/state"
	logx "alertbot/pkg/logx"
)

// Fan-out outcomes recorded per inbound event.
const (
	ResultSent        = "sent"
	ResultSentPartial = "sent_partial"
	ResultSkipped     = "skipped"
	ResultDeferred    = "deferred"
	ResultFailed      = "failed"
	ResultRateLimited = "rate_limited"
)

// NotifyAuditEvent is one append-only audit record of a fan-out decision.
type NotifyAuditEvent struct {
	TS         time.Time `json:"ts"`
	Topic      string    `json:"topic"`
	Result     string    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
	Priority   int       `json:"priority"`
	Critical   bool      `json:"critical"`
	Recipients int       `json:"recipients"`
}

// Recorder appends audit records with time-bounded retention. It never
// blocks or fails delivery: every error here is log-only.
type Recorder struct {
	cfg   Config
	store state.Store
	log   logx.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewRecorder(cfg Config, st state.Store, log logx.Logger) *Recorder {
	return &Recorder{cfg: cfg, store: st, log: log, now: time.Now}
}

// Record appends one audit event, prunes by retention age, then caps the
// total count (oldest dropped first).
func (r *Recorder) Record(ctx context.Context, topic, result, reason string, priority int, critical bool, recipients int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var events []NotifyAuditEvent
	loadBlob(ctx, r.store, r.log, state.KindNotifyStats, &events)

	events = append(events, NotifyAuditEvent{
		TS:         now,
		Topic:      topic,
		Result:     result,
		Reason:     reason,
		Priority:   priority,
		Critical:   critical,
		Recipients: recipients,
	})
	events = r.prune(events, now)
	saveBlob(ctx, r.store, r.log, state.KindNotifyStats, events)
}

// Prune drops aged-out records without appending; wired to a timer.
func (r *Recorder) Prune(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var events []NotifyAuditEvent
	loadBlob(ctx, r.store, r.log, state.KindNotifyStats, &events)
	pruned := r.prune(events, now)
	if len(pruned) != len(events) {
		saveBlob(ctx, r.store, r.log, state.KindNotifyStats, pruned)
	}
}

// Recent returns a copy of the retained audit trail, newest last.
func (r *Recorder) Recent(ctx context.Context) []NotifyAuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []NotifyAuditEvent
	loadBlob(ctx, r.store, r.log, state.KindNotifyStats, &events)
	return events
}

func (r *Recorder) prune(events []NotifyAuditEvent, now time.Time) []NotifyAuditEvent {
	cutoff := now.Add(-r.cfg.AuditRetention)
	out := events[:0]
	for _, e := range events {
		if e.TS.After(cutoff) {
			out = append(out, e)
		}
	}
	if over := len(out) - r.cfg.AuditMaxEntries; over > 0 {
		out = out[over:]
	}
	return out
}
