package engine

import (
	"context"
	"strings"
	"time"

	"alertbot/internal/registry"
	"alertbot/internal/state"
	"alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

// Outcome is the terminal result of processing one inbound event.
type Outcome struct {
	Result string
	Reason string
	// Recipients is the selected fan-out audience, before the
	// quiet-hours split. Zero when a stage skipped the event.
	Recipients int
	Delivered  int
	Deferred   int
	Failed     int
}

// Engine runs the per-event decision pipeline:
// gates -> dedup -> incident upsert -> suppression -> priority floor ->
// selection -> quiet-hours split -> deliver or enqueue -> record.
type Engine struct {
	cfg      Config
	dedup    *DedupStore
	incident *Incidents
	selector *Selector
	digest   *DigestQueue
	executor *Executor
	recorder *Recorder
	gates    []Gate
	snapshot func() registry.Snapshot
	log      logx.Logger

	now func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store    state.Store
	Adapter  transport.Adapter
	Snapshot func() registry.Snapshot
	Gates    []Gate
	Log      logx.Logger
}

// New wires the full pipeline on top of one state store and one chat
// adapter. The snapshot func must return the current registry view.
func New(cfg Config, d Deps) *Engine {
	cfg = cfg.WithDefaults()
	ds := NewDeliveryState(cfg, d.Store, d.Log)
	ex := NewExecutor(cfg, d.Adapter, ds, d.Log)
	return &Engine{
		cfg:      cfg,
		dedup:    NewDedupStore(cfg, d.Store, d.Log),
		incident: NewIncidents(cfg, d.Store, d.Log),
		selector: NewSelector(cfg, ds, d.Log),
		digest:   NewDigestQueue(cfg, d.Store, ex, d.Log),
		executor: ex,
		recorder: NewRecorder(cfg, d.Store, d.Log),
		gates:    d.Gates,
		snapshot: d.Snapshot,
		log:      d.Log,
		now:      time.Now,
	}
}

// Incidents exposes the correlation store for the admin command surface
// (ack/snooze) and inspection.
func (e *Engine) Incidents() *Incidents { return e.incident }

// Delivery exposes the recipient health state for the admin surface
// (bypass markers, status listing).
func (e *Engine) Delivery() *DeliveryState { return e.executor.state }

// Recorder exposes the audit trail.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// FlushDigests delivers any ready deferred digests; wired to a schedule.
func (e *Engine) FlushDigests(ctx context.Context) {
	e.digest.Flush(ctx, e.snapshot())
}

// Process runs one inbound event to a terminal outcome. Every stage may
// terminate early with a skipped result and a specific reason; the
// outcome is always recorded.
func (e *Engine) Process(ctx context.Context, ev Event) Outcome {
	now := e.now()
	if ev.Time.IsZero() {
		ev.Time = now
	}

	// The in-band targeting directive is stripped before anything hashes
	// or stores the body.
	var explicit []string
	ev.Message, explicit = ExtractTargets(ev.Message)
	e.cfg.Classify(&ev)

	out := e.process(ctx, ev, explicit, now)
	e.recorder.Record(ctx, ev.Topic, out.Result, out.Reason, ev.Priority, ev.Critical, out.Recipients)
	e.log.Info("event processed",
		logx.String("topic", ev.Topic),
		logx.String("result", out.Result),
		logx.String("reason", out.Reason),
		logx.Int("delivered", out.Delivered),
		logx.Int("deferred", out.Deferred),
		logx.Int("failed", out.Failed))
	return out
}

func (e *Engine) process(ctx context.Context, ev Event, explicit []string, now time.Time) Outcome {
	for _, g := range e.gates {
		ok, reason := g.Allow(ctx, ev)
		if !ok {
			return Outcome{Result: ResultSkipped, Reason: reason}
		}
	}

	if skip, remaining := e.dedup.ShouldSkip(ctx, ev.Topic, Fingerprint(ev)); skip {
		e.log.Debug("duplicate suppressed",
			logx.String("topic", ev.Topic), logx.Duration("remaining", remaining))
		return Outcome{Result: ResultSkipped, Reason: "duplicate"}
	}

	inc := e.incident.Upsert(ctx, IncidentID(ev), ev)
	if reason := e.incident.SuppressionReason(inc, now); reason != "" {
		return Outcome{Result: ResultSkipped, Reason: reason}
	}

	if !ev.Critical && ev.Priority < e.cfg.MinPriority && !e.priorityExempt(ev) {
		return Outcome{Result: ResultSkipped, Reason: "below_priority_floor"}
	}

	sel := e.selector.Select(ctx, e.snapshot(), ev.Category, ev.Critical, explicit)
	if len(sel.Recipients) == 0 {
		reason := "no_recipients"
		if sel.Quarantined > 0 {
			reason = "all_quarantined"
		}
		return Outcome{Result: ResultSkipped, Reason: reason}
	}

	out := Outcome{Recipients: len(sel.Recipients)}
	lastReason := ""
	for _, r := range sel.Recipients {
		if InQuietHours(r.User, ev.Category, ev.Critical, now) {
			e.digest.Enqueue(ctx, r.ID, DigestItem{
				TS:         ev.Time,
				Topic:      ev.Topic,
				Category:   ev.Category,
				Title:      ev.Title,
				Message:    ev.Message,
				Priority:   ev.Priority,
				IncidentID: inc.ID,
			})
			out.Deferred++
			continue
		}

		res := e.deliverOne(ctx, r, ev, inc, now)
		if res.Sent {
			out.Delivered++
		} else {
			out.Failed++
			lastReason = res.Reason
		}
	}

	switch {
	case out.Delivered > 0 && out.Failed > 0:
		out.Result, out.Reason = ResultSentPartial, lastReason
	case out.Delivered > 0:
		out.Result = ResultSent
	case out.Failed > 0:
		out.Result, out.Reason = ResultFailed, lastReason
		if lastReason == transport.ReasonRateLimited {
			out.Result = ResultRateLimited
		}
	default:
		out.Result = ResultDeferred
	}
	return out
}

// deliverOne sends to one recipient, editing the previous incident
// message when the repeat lands inside the collapse window.
func (e *Engine) deliverOne(ctx context.Context, r Recipient, ev Event, inc IncidentRecord, now time.Time) DeliveryResult {
	to := transport.ChatTarget{ChatID: r.User.ChatID, ThreadID: r.User.ThreadID}

	var edit *transport.MessageRef
	text := Sanitize(RenderAlert(ev, inc), e.cfg.MaxMessageRunes)
	if mt, ok := e.incident.ShouldCollapse(inc, r.ID, now); ok {
		edit = &transport.MessageRef{ChatID: mt.ChatID, ThreadID: mt.ThreadID, MessageID: mt.MessageID}
		text = Sanitize(RenderUpdate(ev, inc), e.cfg.MaxMessageRunes)
	}

	res := e.executor.Deliver(ctx, r.ID, to, text, edit)
	if res.Sent {
		e.incident.NoteDelivered(ctx, inc.ID, r.ID, MessageTarget{
			ChatID:    res.Ref.ChatID,
			ThreadID:  res.Ref.ThreadID,
			MessageID: res.Ref.MessageID,
		})
	}
	return res
}

// priorityExempt reports whether the category skips the minimum-priority
// floor. The always-deliver category is never filtered by priority.
func (e *Engine) priorityExempt(ev Event) bool {
	return strings.EqualFold(ev.Category, e.cfg.AlwaysCategory)
}
