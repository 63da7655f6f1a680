package engine

import (
	"context"
	"testing"
	"time"

	"alertbot/internal/transport"
)

func TestDeliverRetriesRetryable(t *testing.T) {
	fa := &fakeAdapter{sendErrs: []error{
		reasonErr(transport.ReasonTimeout),
		reasonErr(transport.ReasonNetwork),
	}}
	ex, ds := testExecutor(t, Config{RetryMax: 3}, fa)
	ctx := context.Background()

	res := ex.Deliver(ctx, "alice", transport.ChatTarget{ChatID: 1}, "hi", nil)
	if !res.Sent {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if fa.sends != 3 {
		t.Fatalf("sends = %d, want 3", fa.sends)
	}
	if rec := ds.Record(ctx, "alice"); rec.FailStreak != 0 || rec.LastSentAt.IsZero() {
		t.Fatalf("success should reset the record: %+v", rec)
	}
}

func TestDeliverPermanentFailsImmediately(t *testing.T) {
	fa := &fakeAdapter{sendErrs: []error{reasonErr(transport.ReasonBlocked)}}
	ex, ds := testExecutor(t, Config{RetryMax: 3, QuarantineDuration: time.Hour}, fa)
	ctx := context.Background()

	res := ex.Deliver(ctx, "alice", transport.ChatTarget{ChatID: 1}, "hi", nil)
	if res.Sent || res.Reason != transport.ReasonBlocked {
		t.Fatalf("result = %+v", res)
	}
	if fa.sends != 1 {
		t.Fatalf("permanent failure must not retry, sends = %d", fa.sends)
	}
	// Permanent recipient errors quarantine on the first strike.
	if !res.Quarantined {
		t.Fatal("expected immediate quarantine")
	}
	rec := ds.Record(ctx, "alice")
	if rec.QuarantineUntil.IsZero() || rec.QuarantineReason != transport.ReasonBlocked {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDeliverTransientThreshold(t *testing.T) {
	fa := &fakeAdapter{}
	ex, ds := testExecutor(t, Config{RetryMax: 0, TransientFailThreshold: 3, QuarantineDuration: time.Hour}, fa)
	ex.cfg.RetryMax = 0
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		fa.sendErrs = []error{
			reasonErr(transport.ReasonTimeout),
			reasonErr(transport.ReasonTimeout),
			reasonErr(transport.ReasonTimeout),
			reasonErr(transport.ReasonTimeout),
		}
		res := ex.Deliver(ctx, "alice", transport.ChatTarget{ChatID: 1}, "hi", nil)
		if res.Sent {
			t.Fatalf("attempt %d unexpectedly sent", i)
		}
		if i < 3 && res.Quarantined {
			t.Fatalf("quarantined before the threshold at streak %d", i)
		}
		if i == 3 && !res.Quarantined {
			t.Fatal("threshold crossing should quarantine")
		}
	}
	if rec := ds.Record(ctx, "alice"); rec.FailStreak != 3 {
		t.Fatalf("streak = %d, want 3", rec.FailStreak)
	}
}

func TestDeliverEditBadRequestFallsThrough(t *testing.T) {
	fa := &fakeAdapter{editErrs: []error{reasonErr(transport.ReasonBadRequest)}}
	ex, _ := testExecutor(t, Config{}, fa)
	ctx := context.Background()

	ref := transport.MessageRef{ChatID: 1, MessageID: 7}
	res := ex.Deliver(ctx, "alice", transport.ChatTarget{ChatID: 1}, "hi", &ref)
	if !res.Sent || res.UsedEdit {
		t.Fatalf("expected fresh send after edit bad request, got %+v", res)
	}
	if fa.edits != 1 || fa.sends != 1 {
		t.Fatalf("edits=%d sends=%d", fa.edits, fa.sends)
	}
}

func TestDeliverEditOtherFailureIsTerminal(t *testing.T) {
	fa := &fakeAdapter{editErrs: []error{reasonErr(transport.ReasonTimeout)}}
	ex, ds := testExecutor(t, Config{}, fa)
	ctx := context.Background()

	ref := transport.MessageRef{ChatID: 1, MessageID: 7}
	res := ex.Deliver(ctx, "alice", transport.ChatTarget{ChatID: 1}, "hi", &ref)
	if res.Sent || res.Reason != transport.ReasonTimeout {
		t.Fatalf("result = %+v", res)
	}
	if fa.sends != 0 {
		t.Fatal("non-bad-request edit failure must not fall through")
	}
	if rec := ds.Record(ctx, "alice"); rec.FailStreak != 1 {
		t.Fatalf("streak = %d, want 1", rec.FailStreak)
	}
}

func TestDeliverEditSuccess(t *testing.T) {
	fa := &fakeAdapter{}
	ex, _ := testExecutor(t, Config{}, fa)

	ref := transport.MessageRef{ChatID: 1, MessageID: 7}
	res := ex.Deliver(context.Background(), "alice", transport.ChatTarget{ChatID: 1}, "hi", &ref)
	if !res.Sent || !res.UsedEdit || res.Ref.MessageID != 7 {
		t.Fatalf("result = %+v", res)
	}
	if fa.sends != 0 || fa.edits != 1 {
		t.Fatalf("edits=%d sends=%d", fa.edits, fa.sends)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	ex := &Executor{cfg: Config{RetryBase: 500 * time.Millisecond, RetryMaxDelay: 3 * time.Second}}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 3 * time.Second},
		{10, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := ex.backoffDelay(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
