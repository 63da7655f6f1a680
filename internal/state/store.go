package state

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "alertbot/pkg/logx"
)

// State kinds. One JSON blob per kind.
const (
	KindDelivery    = "delivery"
	KindDedupe      = "dedupe"
	KindNotifyStats = "notify_stats"
	KindDigestQueue = "digest_queue"
	KindIncidents   = "incidents"
	KindCursors     = "cursors"
)

var ErrDisabled = errors.New("state store disabled")

// Config configures the state backend.
//
// Driver values:
//   - "file": one JSON file per kind (atomic tmp+rename writes)
//   - "sqlite": single SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the pluggable kind -> JSON blob persistence API.
//
// Load returns (nil, nil) when the kind has never been saved; callers
// default to an empty structure. Save replaces the whole blob.
type Store interface {
	Load(ctx context.Context, kind string) ([]byte, error)
	Save(ctx context.Context, kind string, blob []byte) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown state driver: " + driver)
	}
}
