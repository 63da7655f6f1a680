//go:build sqlite
// +build sqlite

package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "alertbot/pkg/logx"
)

func TestSQLiteRoundTrip(t *testing.T) {
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "state.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	if b, err := st.Load(ctx, KindIncidents); err != nil || b != nil {
		t.Fatalf("missing kind: %v %v", b, err)
	}

	if err := st.Save(ctx, KindIncidents, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save(ctx, KindIncidents, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	b, err := st.Load(ctx, KindIncidents)
	if err != nil || string(b) != `{"v":2}` {
		t.Fatalf("load: %s %v", b, err)
	}
}
