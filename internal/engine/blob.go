package engine

import (
	"context"
	"encoding/json"
	"time"

	"alertbot/internal/state"
	logx "alertbot/pkg/logx"
)

// envelope is the persisted shape of every state kind.
type envelope[T any] struct {
	Payload   T         `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// loadBlob reads one state kind into out. Missing or unreadable state
// degrades to the zero value: the pipeline must keep running on a fresh
// or corrupted store.
func loadBlob[T any](ctx context.Context, st state.Store, log logx.Logger, kind string, out *T) {
	b, err := st.Load(ctx, kind)
	if err != nil {
		log.Warn("state load failed; starting empty", logx.String("kind", kind), logx.Err(err))
		return
	}
	if len(b) == 0 {
		return
	}
	var env envelope[T]
	if err := json.Unmarshal(b, &env); err != nil {
		log.Warn("state decode failed; starting empty", logx.String("kind", kind), logx.Err(err))
		return
	}
	*out = env.Payload
}

// saveBlob writes one state kind. A write failure is logged and accepted
// as data loss for this mutation only; persistence is best-effort.
func saveBlob[T any](ctx context.Context, st state.Store, log logx.Logger, kind string, v T) {
	env := envelope[T]{Payload: v, UpdatedAt: time.Now()}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error("state encode failed", logx.String("kind", kind), logx.Err(err))
		return
	}
	if err := st.Save(ctx, kind, b); err != nil {
		log.Warn("state save failed; mutation lost", logx.String("kind", kind), logx.Err(err))
	}
}
