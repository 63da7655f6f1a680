package source

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"alertbot/internal/state"
	logx "alertbot/pkg/logx"
)

// Topic is one polled source topic and the alert category it maps to.
type Topic struct {
	Name     string
	Category string
}

// Handler consumes one decoded message from a topic poll.
type Handler func(ctx context.Context, topic, category string, msg Message)

// Poller drives the per-topic poll loop. Cursors are persisted so a
// restart resumes behind the last consumed entry. A failing topic is
// logged and retried on the next cycle; it never stops the loop.
type Poller struct {
	client   *Client
	topics   []Topic
	interval time.Duration
	store    state.Store
	handler  Handler
	log      logx.Logger

	mu      sync.Mutex
	cursors map[string]Cursor
}

func NewPoller(client *Client, topics []Topic, interval time.Duration, st state.Store, h Handler, log logx.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		client:   client,
		topics:   topics,
		interval: interval,
		store:    st,
		handler:  h,
		log:      log,
	}
}

type cursorBlob struct {
	Payload   map[string]Cursor `json:"payload"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (p *Poller) loadCursors(ctx context.Context) {
	p.cursors = map[string]Cursor{}
	raw, err := p.store.Load(ctx, state.KindCursors)
	if err != nil || len(raw) == 0 {
		if err != nil {
			p.log.Warn("cursor state unreadable; starting fresh", logx.Err(err))
		}
		return
	}
	var blob cursorBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		p.log.Warn("cursor state corrupt; starting fresh", logx.Err(err))
		return
	}
	if blob.Payload != nil {
		p.cursors = blob.Payload
	}
}

func (p *Poller) saveCursors(ctx context.Context) {
	raw, err := json.Marshal(cursorBlob{Payload: p.cursors, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := p.store.Save(ctx, state.KindCursors, raw); err != nil {
		p.log.Warn("cursor state write failed", logx.Err(err))
	}
}

// Run polls all topics once per interval until the context ends. The
// first cycle runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	p.loadCursors(ctx)
	p.mu.Unlock()

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.cycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// cycle polls every topic once. Cursor advances persist even when a later
// topic fails.
func (p *Poller) cycle(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	for _, tp := range p.topics {
		if ctx.Err() != nil {
			break
		}
		msgs, cur, err := p.client.Poll(ctx, tp.Name, p.cursors[tp.Name])
		if err != nil {
			p.log.Warn("topic poll failed", logx.String("topic", tp.Name), logx.Err(err))
			continue
		}
		if cur != p.cursors[tp.Name] {
			p.cursors[tp.Name] = cur
			changed = true
		}
		for _, m := range msgs {
			p.handler(ctx, tp.Name, tp.Category, m)
		}
	}
	if changed {
		p.saveCursors(ctx)
	}
}
