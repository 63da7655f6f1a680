package engine

import (
	"context"
	"testing"
	"time"

	"alertbot/internal/registry"
	logx "alertbot/pkg/logx"
)

func snapOf(users map[string]registry.User) registry.Snapshot {
	return registry.Snapshot{Users: users}
}

func activeUser(topics ...string) registry.User {
	return registry.User{Status: "active", Role: "member", NotifyTopics: topics}
}

func testSelector(t *testing.T, cfg Config) (*Selector, *DeliveryState) {
	t.Helper()
	cfg = cfg.WithDefaults()
	ds := NewDeliveryState(cfg, testStore(t), logx.Nop())
	return NewSelector(cfg, ds, logx.Nop()), ds
}

func TestSelectSubscriptionRules(t *testing.T) {
	sel, _ := testSelector(t, Config{AlwaysCategory: "system"})
	ctx := context.Background()

	snap := snapOf(map[string]registry.User{
		"subscribed": activeUser("db"),
		"all":        activeUser("all"),
		"critonly":   activeUser("critical"),
		"emergency":  {Status: "active", EmergencyContact: true},
		"unrelated":  activeUser("web"),
		"inactive":   {Status: "disabled", NotifyTopics: []string{"db"}},
	})

	res := sel.Select(ctx, snap, "db", false, nil)
	if got := ids(res); !equal(got, []string{"all", "subscribed"}) {
		t.Fatalf("non-critical db recipients = %v", got)
	}

	res = sel.Select(ctx, snap, "db", true, nil)
	if got := ids(res); !equal(got, []string{"all", "critonly", "emergency", "subscribed"}) {
		t.Fatalf("critical db recipients = %v", got)
	}

	// The always-deliver category reaches everyone active.
	res = sel.Select(ctx, snap, "system", false, nil)
	if got := ids(res); !equal(got, []string{"all", "critonly", "emergency", "subscribed", "unrelated"}) {
		t.Fatalf("system recipients = %v", got)
	}
}

func TestSelectExplicitTargets(t *testing.T) {
	sel, ds := testSelector(t, Config{})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return now }

	snap := snapOf(map[string]registry.User{
		"alice": activeUser("web"),
		"bob":   activeUser("db"),
	})

	// Explicit targeting overrides subscriptions.
	res := sel.Select(ctx, snap, "db", false, []string{"alice"})
	if got := ids(res); !equal(got, []string{"alice"}) {
		t.Fatalf("explicit recipients = %v", got)
	}

	// But not quarantine.
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["alice"] = &DeliveryRecord{QuarantineUntil: now.Add(time.Hour)}
		return true
	})
	res = sel.Select(ctx, snap, "db", false, []string{"alice"})
	if len(res.Recipients) != 0 || res.Quarantined != 1 {
		t.Fatalf("quarantined explicit target slipped through: %+v", res)
	}
}

func TestSelectLazyQuarantineClear(t *testing.T) {
	sel, ds := testSelector(t, Config{})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return now }

	snap := snapOf(map[string]registry.User{"alice": activeUser("db")})
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["alice"] = &DeliveryRecord{
			QuarantineUntil:  now.Add(-time.Minute),
			QuarantineReason: "timeout",
			FailStreak:       1,
			LastReason:       "timeout",
		}
		return true
	})

	res := sel.Select(ctx, snap, "db", false, nil)
	if !res.Cleared {
		t.Fatal("expired quarantine should report Cleared")
	}
	if got := ids(res); !equal(got, []string{"alice"}) {
		t.Fatalf("recipients = %v", got)
	}

	// Second pass finds nothing left to clear.
	res = sel.Select(ctx, snap, "db", false, nil)
	if res.Cleared {
		t.Fatal("clear must be one-shot")
	}
	if rec := ds.Record(ctx, "alice"); !rec.QuarantineUntil.IsZero() {
		t.Fatalf("quarantine deadline not cleared: %+v", rec)
	}
}

func TestSelectPreemptiveQuarantine(t *testing.T) {
	sel, ds := testSelector(t, Config{TransientFailThreshold: 3, QuarantineDuration: time.Hour})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return now }

	snap := snapOf(map[string]registry.User{"alice": activeUser("db")})

	// Permanent failure with no active deadline (e.g. it expired and was
	// cleared without an intervening success): re-quarantined on sight.
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["alice"] = &DeliveryRecord{FailStreak: 1, LastReason: "blocked"}
		return true
	})

	res := sel.Select(ctx, snap, "db", false, nil)
	if len(res.Recipients) != 0 || res.Quarantined != 1 {
		t.Fatalf("expected pre-emptive quarantine, got %+v", res)
	}
	rec := ds.Record(ctx, "alice")
	if !rec.QuarantineUntil.After(now) || rec.QuarantineCount != 1 {
		t.Fatalf("record = %+v", rec)
	}

	// A transient streak at the threshold is not pre-empted: it gets a
	// real post-expiry attempt.
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["bob"] = &DeliveryRecord{FailStreak: 3, LastReason: "timeout"}
		return true
	})
	res = sel.Select(ctx, snapOf(map[string]registry.User{"bob": activeUser("db")}), "db", false, nil)
	if got := ids(res); !equal(got, []string{"bob"}) {
		t.Fatalf("transient streak excluded without a retry: %+v", res)
	}
}

func TestSelectTransientQuarantineEnds(t *testing.T) {
	sel, ds := testSelector(t, Config{TransientFailThreshold: 3, QuarantineDuration: time.Hour})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return now }

	snap := snapOf(map[string]registry.User{"alice": activeUser("db")})
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["alice"] = &DeliveryRecord{
			FailStreak:       3,
			LastReason:       "timeout",
			QuarantineUntil:  now.Add(-time.Minute),
			QuarantineReason: "timeout",
			QuarantineCount:  1,
		}
		return true
	})

	// Repeated selection cycles after expiry, with no delivery attempts in
	// between, must not re-quarantine a transient streak. The first cycle
	// clears the deadline, every cycle selects the recipient.
	for i := 0; i < 5; i++ {
		res := sel.Select(ctx, snap, "db", false, nil)
		if got := ids(res); !equal(got, []string{"alice"}) {
			t.Fatalf("cycle %d: recipients = %v", i, got)
		}
		if res.Cleared != (i == 0) {
			t.Fatalf("cycle %d: Cleared = %v", i, res.Cleared)
		}
		now = now.Add(2 * time.Hour)
	}

	rec := ds.Record(ctx, "alice")
	if !rec.QuarantineUntil.IsZero() || rec.QuarantineCount != 1 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestSelectBypassMarker(t *testing.T) {
	sel, ds := testSelector(t, Config{})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return now }

	snap := snapOf(map[string]registry.User{"alice": activeUser("db")})
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["alice"] = &DeliveryRecord{QuarantineUntil: now.Add(time.Hour)}
		return true
	})

	ds.SetBypass(ctx, "db", now.Add(10*time.Minute))

	res := sel.Select(ctx, snap, "db", false, nil)
	if got := ids(res); !equal(got, []string{"alice"}) {
		t.Fatalf("bypass should admit quarantined recipient, got %v", got)
	}
	if !res.Cleared {
		t.Fatal("consuming the marker is a state change")
	}

	// One-shot: the next selection enforces quarantine again.
	res = sel.Select(ctx, snap, "db", false, nil)
	if len(res.Recipients) != 0 || res.Quarantined != 1 {
		t.Fatalf("marker should be consumed, got %+v", res)
	}
}

func TestSelectExpiredBypassStillConsumed(t *testing.T) {
	sel, ds := testSelector(t, Config{})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ds.now = func() time.Time { return now }

	snap := snapOf(map[string]registry.User{"alice": activeUser("db")})
	ds.update(ctx, func(b *deliveryBlob) bool {
		b.Recipients["alice"] = &DeliveryRecord{QuarantineUntil: now.Add(time.Hour)}
		return true
	})
	ds.SetBypass(ctx, "db", now.Add(-time.Minute))

	res := sel.Select(ctx, snap, "db", false, nil)
	if len(res.Recipients) != 0 {
		t.Fatal("expired marker must not bypass quarantine")
	}
	if !res.Cleared {
		t.Fatal("clearing an expired marker is still a recorded change")
	}
}

func ids(res SelectionResult) []string {
	out := make([]string, 0, len(res.Recipients))
	for _, r := range res.Recipients {
		out = append(out, r.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
