package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"alertbot/internal/registry"
	"alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

// Recipient is one selected delivery target.
type Recipient struct {
	ID   string
	User registry.User
}

// SelectionResult reports who gets the event and what quarantine state
// changed while deciding.
type SelectionResult struct {
	Recipients []Recipient
	// Quarantined counts users excluded because they are (or were just
	// pre-emptively) quarantined.
	Quarantined int
	// Cleared reports whether any expired quarantine was lazily cleared
	// or a bypass marker was consumed during this call.
	Cleared bool
}

// Selector filters the registry by subscription, criticality and live
// quarantine status.
type Selector struct {
	cfg   Config
	state *DeliveryState
	log   logx.Logger
}

func NewSelector(cfg Config, st *DeliveryState, log logx.Logger) *Selector {
	return &Selector{cfg: cfg, state: st, log: log}
}

// Select applies the selection rules in order: explicit targeting,
// quarantine (with lazy expiry clearing and pre-emptive re-quarantine),
// topic/category subscription, and critical fan-out to emergency
// contacts. A one-shot bypass marker for the category disables the
// quarantine checks for this single call and is consumed either way.
func (s *Selector) Select(ctx context.Context, snap registry.Snapshot, category string, critical bool, explicit []string) SelectionResult {
	res := SelectionResult{}
	now := s.state.now()

	explicitSet := map[string]bool{}
	for _, id := range explicit {
		explicitSet[id] = true
	}

	ids := make([]string, 0, len(snap.Users))
	for id := range snap.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.state.update(ctx, func(b *deliveryBlob) bool {
		changed := false

		// Consume the one-shot bypass marker. Clearing an expired marker
		// is still a state change worth persisting.
		bypass := false
		if until, ok := b.Bypass[category]; ok {
			bypass = until.After(now)
			delete(b.Bypass, category)
			changed = true
			res.Cleared = true
		}

		for _, id := range ids {
			user := snap.Users[id]
			if !user.Active() {
				continue
			}

			if len(explicitSet) > 0 {
				if !explicitSet[id] {
					continue
				}
			} else if !s.matches(user, category, critical) {
				continue
			}

			if !bypass {
				rec := b.Recipients[id]
				if rec != nil {
					if rec.QuarantineUntil.After(now) {
						res.Quarantined++
						continue
					}
					if !rec.QuarantineUntil.IsZero() {
						// Expired: clear it the first time it is observed.
						rec.QuarantineUntil = time.Time{}
						rec.QuarantineReason = ""
						res.Cleared = true
						changed = true
					}
					// Pre-emptive quarantine: a permanent recipient error
					// (blocked, chat gone) doesn't get another chance until
					// a delivery succeeds. Transient streaks do: they earn
					// one post-expiry attempt, and a failure there
					// re-quarantines through the normal delivery path.
					if transport.Permanent(rec.LastReason) && rec.FailStreak >= s.state.reasonThreshold(rec.LastReason) {
						rec.QuarantineUntil = now.Add(s.cfg.QuarantineDuration)
						rec.QuarantineReason = rec.LastReason
						rec.QuarantineCount++
						res.Quarantined++
						changed = true
						s.log.Debug("recipient pre-emptively quarantined",
							logx.String("recipient", id), logx.String("reason", rec.LastReason))
						continue
					}
				}
			}

			res.Recipients = append(res.Recipients, Recipient{ID: id, User: user})
		}
		return changed
	})

	return res
}

// matches implements the subscription rules for one user.
func (s *Selector) matches(user registry.User, category string, critical bool) bool {
	if user.Subscribed(category) || user.Subscribed("all") {
		return true
	}
	if strings.EqualFold(category, s.cfg.AlwaysCategory) {
		return true
	}
	if critical && user.Subscribed("critical") {
		return true
	}
	if critical && user.EmergencyContact {
		return true
	}
	return false
}
