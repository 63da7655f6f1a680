package engine

import (
	"context"
	"sync"
	"time"

	"alertbot/internal/state"
	logx "alertbot/pkg/logx"
)

// MessageTarget remembers the chat message posted for an incident to one
// recipient so repeats inside the collapse window can edit it in place.
type MessageTarget struct {
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	MessageID int       `json:"message_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IncidentRecord is the durable correlation record for one logical
// recurring alert.
type IncidentRecord struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
	Critical bool   `json:"critical"`

	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	EventCount int       `json:"event_count"`

	MessageTargets map[string]MessageTarget `json:"message_targets,omitempty"`

	AckedAt        time.Time `json:"acked_at,omitempty"`
	SnoozedUntil   time.Time `json:"snoozed_until,omitempty"`
	LastNotifiedAt time.Time `json:"last_notified_at,omitempty"`
}

// Incidents correlates events into incident records.
type Incidents struct {
	cfg   Config
	store state.Store
	log   logx.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewIncidents(cfg Config, st state.Store, log logx.Logger) *Incidents {
	return &Incidents{cfg: cfg, store: st, log: log, now: time.Now}
}

func (s *Incidents) load(ctx context.Context) map[string]*IncidentRecord {
	m := map[string]*IncidentRecord{}
	loadBlob(ctx, s.store, s.log, state.KindIncidents, &m)

	// Retention is enforced at load: anything past it is never carried
	// forward, so the blob cannot grow without bound.
	now := s.now()
	for id, inc := range m {
		if inc == nil || now.Sub(inc.LastSeen) > s.cfg.IncidentRetention {
			delete(m, id)
		}
	}
	return m
}

func (s *Incidents) save(ctx context.Context, m map[string]*IncidentRecord) {
	saveBlob(ctx, s.store, s.log, state.KindIncidents, m)
}

// Upsert creates or bumps the incident for an event identity. Mutable
// fields track the latest event; first_seen and message_targets persist.
func (s *Incidents) Upsert(ctx context.Context, id string, ev Event) IncidentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := s.load(ctx)

	inc := m[id]
	if inc == nil {
		inc = &IncidentRecord{
			ID:        id,
			FirstSeen: now,
		}
		m[id] = inc
	}
	inc.Topic = ev.Topic
	inc.Category = ev.Category
	inc.Title = ev.Title
	inc.Message = ev.Message
	inc.Priority = ev.Priority
	inc.Critical = ev.Critical
	inc.LastSeen = now
	inc.EventCount++

	s.save(ctx, m)
	return *inc
}

// SuppressionReason returns a non-empty reason when the incident must not
// be delivered right now. The event count is still bumped by Upsert.
func (s *Incidents) SuppressionReason(inc IncidentRecord, now time.Time) string {
	if !inc.SnoozedUntil.IsZero() && inc.SnoozedUntil.After(now) {
		return "snoozed"
	}
	if !inc.AckedAt.IsZero() && now.Sub(inc.AckedAt) <= s.cfg.AckTTL {
		return "acked"
	}
	return ""
}

// ShouldCollapse reports whether delivery to this recipient should edit
// the previous message instead of sending a fresh one.
func (s *Incidents) ShouldCollapse(inc IncidentRecord, recipient string, now time.Time) (MessageTarget, bool) {
	if inc.EventCount <= 1 {
		return MessageTarget{}, false
	}
	if inc.LastNotifiedAt.IsZero() || now.Sub(inc.LastNotifiedAt) > s.cfg.CollapseWindow {
		return MessageTarget{}, false
	}
	mt, ok := inc.MessageTargets[recipient]
	return mt, ok
}

// NoteDelivered records a successful delivery: refreshes last_notified_at
// and the recipient's message handle, evicting the oldest handles beyond
// the cap.
func (s *Incidents) NoteDelivered(ctx context.Context, id, recipient string, mt MessageTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := s.load(ctx)
	inc := m[id]
	if inc == nil {
		return
	}
	inc.LastNotifiedAt = now
	if inc.MessageTargets == nil {
		inc.MessageTargets = map[string]MessageTarget{}
	}
	mt.UpdatedAt = now
	inc.MessageTargets[recipient] = mt

	for len(inc.MessageTargets) > s.cfg.MessageTargetsMax {
		oldest := ""
		var oldestAt time.Time
		for r, t := range inc.MessageTargets {
			if oldest == "" || t.UpdatedAt.Before(oldestAt) {
				oldest, oldestAt = r, t.UpdatedAt
			}
		}
		delete(inc.MessageTargets, oldest)
	}

	s.save(ctx, m)
}

// Ack suppresses delivery for the incident for the configured ack TTL.
// This is the admin-command write path; the pipeline only reads it.
func (s *Incidents) Ack(ctx context.Context, id string, at time.Time) bool {
	return s.mutate(ctx, id, func(inc *IncidentRecord) { inc.AckedAt = at })
}

// Snooze suppresses delivery for the incident until the given time.
func (s *Incidents) Snooze(ctx context.Context, id string, until time.Time) bool {
	return s.mutate(ctx, id, func(inc *IncidentRecord) { inc.SnoozedUntil = until })
}

func (s *Incidents) mutate(ctx context.Context, id string, fn func(*IncidentRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load(ctx)
	inc := m[id]
	if inc == nil {
		return false
	}
	fn(inc)
	s.save(ctx, m)
	return true
}

// Get returns the incident record if present within retention.
func (s *Incidents) Get(ctx context.Context, id string) (IncidentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.load(ctx)
	inc := m[id]
	if inc == nil {
		return IncidentRecord{}, false
	}
	return *inc, true
}
