package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"alertbot/internal/state"
	logx "alertbot/pkg/logx"
)

func pollStore(t *testing.T) state.Store {
	t.Helper()
	st, err := state.Open(state.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "state.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPollerPersistsCursor(t *testing.T) {
	var since atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since.Store(r.URL.Query().Get("since"))
		w.Write([]byte(`{"event":"message","id":"m1","time":500,"title":"t"}`))
	}))
	defer srv.Close()

	st := pollStore(t)
	var handled int
	handler := func(ctx context.Context, topic, category string, msg Message) {
		handled++
		if topic != "alerts" || category != "db" {
			t.Errorf("topic=%s category=%s", topic, category)
		}
	}

	p := NewPoller(NewClient(srv.URL, time.Second),
		[]Topic{{Name: "alerts", Category: "db"}},
		time.Hour, st, handler, logx.Nop())

	ctx := context.Background()
	p.loadCursors(ctx)
	p.cycle(ctx)
	if handled != 1 {
		t.Fatalf("handled = %d, want 1", handled)
	}

	// A fresh poller over the same store resumes behind the cursor.
	p2 := NewPoller(NewClient(srv.URL, time.Second),
		[]Topic{{Name: "alerts", Category: "db"}},
		time.Hour, st, handler, logx.Nop())
	p2.loadCursors(ctx)
	p2.cycle(ctx)

	if got := since.Load(); got != "500" {
		t.Fatalf("since = %v, want 500 after restart", got)
	}
	if handled != 1 {
		t.Fatalf("handled = %d, want 1 (no re-delivery of the cursor entry)", handled)
	}
}

func TestPollerSwallowsSourceErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/bad/json" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"event":"message","id":"m1","time":10,"title":"t"}`))
	}))
	defer srv.Close()

	var handled int
	handler := func(ctx context.Context, topic, category string, msg Message) { handled++ }

	p := NewPoller(NewClient(srv.URL, time.Second),
		[]Topic{{Name: "bad", Category: "bad"}, {Name: "good", Category: "good"}},
		time.Hour, pollStore(t), handler, logx.Nop())

	ctx := context.Background()
	p.loadCursors(ctx)
	p.cycle(ctx)

	if calls != 2 {
		t.Fatalf("calls = %d, want both topics polled", calls)
	}
	if handled != 1 {
		t.Fatalf("handled = %d, want 1 (failing topic skipped, not fatal)", handled)
	}
}
