package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"alertbot/internal/config"
	logx "alertbot/pkg/logx"
)

// Registry is the externally-owned recipient read model. The engine only
// reads it; the file is edited out-of-band and hot-reloaded here.
type Registry struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// Snapshot is an immutable view of the registry file.
type Snapshot struct {
	Users map[string]User `json:"users"`
}

type User struct {
	Status           string   `json:"status"`
	Role             string   `json:"role"`
	ChatID           int64    `json:"chat_id"`
	ThreadID         int      `json:"thread_id,omitempty"`
	NotifyTopics     []string `json:"notify_topics"`
	EmergencyContact bool     `json:"emergency_contact"`

	QuietHoursEnabled   bool   `json:"quiet_hours_enabled"`
	QuietHoursStartHour int    `json:"quiet_hours_start_hour"`
	QuietHoursEndHour   int    `json:"quiet_hours_end_hour"`
	Timezone            string `json:"timezone,omitempty"`

	// QuietHoursTopics overrides the default window per category.
	QuietHoursTopics map[string]QuietOverride `json:"quiet_hours_topics,omitempty"`
}

// QuietOverride is a category-specific quiet-hours window. Pointer fields
// distinguish "not set" from an explicit zero.
type QuietOverride struct {
	Enabled   *bool `json:"enabled,omitempty"`
	StartHour *int  `json:"start_hour,omitempty"`
	EndHour   *int  `json:"end_hour,omitempty"`
}

func (u User) Active() bool { return strings.EqualFold(u.Status, "active") }
func (u User) Admin() bool  { return strings.EqualFold(u.Role, "admin") }

// Subscribed reports whether the user's notify_topics include the topic.
func (u User) Subscribed(topic string) bool {
	for _, t := range u.NotifyTopics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Location resolves the user's timezone, falling back to local time.
func (u User) Location() *time.Location {
	tz := strings.TrimSpace(u.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func New(path string, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{path: path, log: log, snap: Snapshot{Users: map[string]User{}}}
}

// Load parses the registry file and swaps the snapshot. A parse failure
// keeps the previous snapshot and returns the error.
func (r *Registry) Load() error {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	jb, _, err := config.CoerceToJSONBytes(r.path, b)
	if err != nil {
		return fmt.Errorf("registry parse: %w", err)
	}

	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(jb))
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("registry decode: %w", err)
	}
	if snap.Users == nil {
		snap.Users = map[string]User{}
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	r.log.Debug("registry loaded", logx.Int("users", len(snap.Users)))
	return nil
}

// Get returns the current snapshot.
func (r *Registry) Get() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Watch reloads the registry file on change with a short debounce.
func (r *Registry) Watch(ctx context.Context) error {
	dir := filepath.Dir(r.path)
	file := filepath.Base(r.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := r.Load(); err != nil {
				r.log.Warn("registry reload failed; keeping previous", logx.String("path", r.path), logx.Err(err))
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if werr != nil {
				r.log.Warn("registry watch error", logx.Err(werr))
			}
		}
	}
}
