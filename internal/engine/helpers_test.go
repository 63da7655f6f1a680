package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"alertbot/internal/state"
	"alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

func testStore(t *testing.T) state.Store {
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

// fakeAdapter scripts transport outcomes: errors are consumed in order,
// then every call succeeds.
type fakeAdapter struct {
	mu       sync.Mutex
	sendErrs []error
	editErrs []error

	sends  int
	edits  int
	nextID int

	lastText string

	// onSend, when set, runs at the start of every SendText call.
	onSend func()
}

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.lastText = text
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.nextID++
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	f.lastText = text
	if len(f.editErrs) > 0 {
		err := f.editErrs[0]
		f.editErrs = f.editErrs[1:]
		return err
	}
	return nil
}

func reasonErr(reason string) error {
	return &transport.DeliveryError{Reason: reason}
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testExecutor(t *testing.T, cfg Config, adapter *fakeAdapter) (*Executor, *DeliveryState) {
	t.Helper()
	cfg = cfg.WithDefaults()
	ds := NewDeliveryState(cfg, testStore(t), logx.Nop())
	ex := NewExecutor(cfg, adapter, ds, logx.Nop())
	ex.sleep = noSleep
	ex.limiter = nil
	return ex, ds
}
