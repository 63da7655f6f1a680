package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alertbot/internal/state"
	"alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

// DeliveryRecord tracks one recipient's delivery health.
type DeliveryRecord struct {
	FailStreak   int       `json:"fail_streak"`
	LastReason   string    `json:"last_reason,omitempty"`
	LastFailedAt time.Time `json:"last_failed_at,omitempty"`
	LastSentAt   time.Time `json:"last_sent_at,omitempty"`

	QuarantineUntil  time.Time `json:"quarantine_until,omitempty"`
	QuarantineReason string    `json:"quarantine_reason,omitempty"`
	QuarantineCount  int       `json:"quarantine_count"`
}

// deliveryBlob is the persisted shape of the delivery state kind.
type deliveryBlob struct {
	Recipients map[string]*DeliveryRecord `json:"recipients"`
	// Bypass holds one-shot per-category quarantine bypass markers
	// (category -> expiry). Consumed or expired markers are cleared.
	Bypass map[string]time.Time `json:"bypass,omitempty"`
}

// DeliveryState owns the delivery blob: recipient health records and the
// one-shot bypass markers. All mutations are single load-mutate-save
// round-trips under one lock.
type DeliveryState struct {
	cfg   Config
	store state.Store
	log   logx.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewDeliveryState(cfg Config, st state.Store, log logx.Logger) *DeliveryState {
	return &DeliveryState{cfg: cfg, store: st, log: log, now: time.Now}
}

func (d *DeliveryState) load(ctx context.Context) deliveryBlob {
	blob := deliveryBlob{}
	loadBlob(ctx, d.store, d.log, state.KindDelivery, &blob)
	if blob.Recipients == nil {
		blob.Recipients = map[string]*DeliveryRecord{}
	}
	return blob
}

func (d *DeliveryState) save(ctx context.Context, blob deliveryBlob) {
	saveBlob(ctx, d.store, d.log, state.KindDelivery, blob)
}

// update runs fn against the blob and persists it when fn reports a change.
func (d *DeliveryState) update(ctx context.Context, fn func(*deliveryBlob) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	blob := d.load(ctx)
	if fn(&blob) {
		d.save(ctx, blob)
	}
}

// Record returns a copy of one recipient's record.
func (d *DeliveryState) Record(ctx context.Context, recipient string) DeliveryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	blob := d.load(ctx)
	if r := blob.Recipients[recipient]; r != nil {
		return *r
	}
	return DeliveryRecord{}
}

// SetBypass arms the one-shot quarantine bypass for a category. Intended
// for the external admin path ("next selection for this category ignores
// quarantine once").
func (d *DeliveryState) SetBypass(ctx context.Context, category string, until time.Time) {
	d.update(ctx, func(b *deliveryBlob) bool {
		if b.Bypass == nil {
			b.Bypass = map[string]time.Time{}
		}
		b.Bypass[category] = until
		return true
	})
}

// reasonThreshold returns the fail-streak level at which the reason
// triggers quarantine. Permanent recipient errors quarantine immediately.
func (d *DeliveryState) reasonThreshold(reason string) int {
	if transport.Permanent(reason) {
		return 1
	}
	return d.cfg.TransientFailThreshold
}

// noteSuccess resets the streak and clears an expired quarantine.
func noteSuccess(r *DeliveryRecord, now time.Time) {
	r.FailStreak = 0
	r.LastSentAt = now
	if !r.QuarantineUntil.IsZero() && !r.QuarantineUntil.After(now) {
		r.QuarantineUntil = time.Time{}
		r.QuarantineReason = ""
	}
}

// noteFailure bumps the streak and applies quarantine once the streak
// crosses the reason-specific threshold. Quarantine is a forward-looking
// deadline only.
func (d *DeliveryState) noteFailure(r *DeliveryRecord, reason string, now time.Time) bool {
	r.FailStreak++
	r.LastReason = reason
	r.LastFailedAt = now
	if r.FailStreak >= d.reasonThreshold(reason) {
		r.QuarantineUntil = now.Add(d.cfg.QuarantineDuration)
		r.QuarantineReason = reason
		r.QuarantineCount++
		return true
	}
	return false
}

// DeliveryResult is the terminal outcome of one Deliver call.
type DeliveryResult struct {
	Sent        bool
	Reason      string
	Ref         transport.MessageRef
	UsedEdit    bool
	Quarantined bool
}

// Executor sends or edits chat messages with retry/backoff and updates
// per-recipient delivery health.
type Executor struct {
	cfg     Config
	adapter transport.Adapter
	state   *DeliveryState
	limiter *rate.Limiter
	log     logx.Logger

	// sleep is swappable in tests; production uses a context-aware timer.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewExecutor(cfg Config, adapter transport.Adapter, st *DeliveryState, log logx.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		adapter: adapter,
		state:   st,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay computes base * 2^(attempt-1), capped.
func (e *Executor) backoffDelay(attempt int) time.Duration {
	d := e.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.RetryMaxDelay {
			return e.cfg.RetryMaxDelay
		}
	}
	if d > e.cfg.RetryMaxDelay {
		d = e.cfg.RetryMaxDelay
	}
	return d
}

// Deliver sends text to one recipient. When edit is non-nil the existing
// message is edited in place; an edit-specific bad request falls through
// to a fresh send instead of being retried as an edit. Fresh sends retry
// retryable reasons with exponential backoff. The terminal outcome always
// updates the recipient's delivery record.
func (e *Executor) Deliver(ctx context.Context, recipient string, to transport.ChatTarget, text string, edit *transport.MessageRef) DeliveryResult {
	if edit != nil {
		err := e.editOnce(ctx, *edit, text)
		if err == nil {
			e.markSuccess(ctx, recipient)
			return DeliveryResult{Sent: true, Reason: "", Ref: *edit, UsedEdit: true}
		}
		reason := transport.ReasonOf(err)
		if reason != transport.ReasonBadRequest {
			q := e.markFailure(ctx, recipient, reason)
			e.log.Warn("edit failed", logx.String("recipient", recipient), logx.String("reason", reason), logx.Err(err))
			return DeliveryResult{Reason: reason, Quarantined: q}
		}
		// Stale/deleted message: fall through to a fresh send.
		e.log.Debug("edit rejected; sending fresh", logx.String("recipient", recipient), logx.Err(err))
	}

	var lastReason string
	maxAttempts := 1 + e.cfg.RetryMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return DeliveryResult{Reason: transport.ReasonTimeout}
			}
		}

		ref, err := e.sendOnce(ctx, to, text)
		if err == nil {
			e.markSuccess(ctx, recipient)
			return DeliveryResult{Sent: true, Ref: ref}
		}
		lastReason = transport.ReasonOf(err)
		e.log.Debug("send failed",
			logx.String("recipient", recipient),
			logx.String("reason", lastReason),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err))

		if !transport.Retryable(lastReason) || attempt >= maxAttempts {
			break
		}
		if err := e.sleep(ctx, e.backoffDelay(attempt)); err != nil {
			break
		}
	}

	q := e.markFailure(ctx, recipient, lastReason)
	return DeliveryResult{Reason: lastReason, Quarantined: q}
}

func (e *Executor) sendOnce(ctx context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	return e.adapter.SendText(cctx, to, text, &transport.SendOptions{DisablePreview: true})
}

func (e *Executor) editOnce(ctx context.Context, ref transport.MessageRef, text string) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	return e.adapter.EditText(cctx, ref, text, &transport.SendOptions{DisablePreview: true})
}

func (e *Executor) markSuccess(ctx context.Context, recipient string) {
	now := e.now()
	e.state.update(ctx, func(b *deliveryBlob) bool {
		r := b.Recipients[recipient]
		if r == nil {
			r = &DeliveryRecord{}
			b.Recipients[recipient] = r
		}
		noteSuccess(r, now)
		return true
	})
}

func (e *Executor) markFailure(ctx context.Context, recipient, reason string) bool {
	now := e.now()
	quarantined := false
	e.state.update(ctx, func(b *deliveryBlob) bool {
		r := b.Recipients[recipient]
		if r == nil {
			r = &DeliveryRecord{}
			b.Recipients[recipient] = r
		}
		quarantined = e.state.noteFailure(r, reason, now)
		return true
	})
	if quarantined {
		e.log.Warn("recipient quarantined",
			logx.String("recipient", recipient),
			logx.String("reason", reason),
			logx.Duration("for", e.cfg.QuarantineDuration))
	}
	return quarantined
}
