package engine

import (
	"context"
	"time"
)

// Config carries every knob of the decision pipeline. It is built once at
// startup and passed by value; no component reads ambient globals.
type Config struct {
	// Dedup.
	DedupWindow       time.Duration
	TopicDedupWindows map[string]time.Duration

	// Incidents.
	IncidentRetention time.Duration
	AckTTL            time.Duration
	CollapseWindow    time.Duration
	MessageTargetsMax int

	// Filtering.
	MinPriority    int
	AlwaysCategory string
	GatedCategory  string

	CriticalKeywords  []string
	CriticalNegations []string

	// Delivery.
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	RatePerSec      int
	MaxMessageRunes int

	// Quarantine.
	TransientFailThreshold int
	QuarantineDuration     time.Duration

	// Digest.
	DigestMaxItems   int
	DigestMaxPreview int
	NoiseMarkers     []string

	// Audit.
	AuditRetention  time.Duration
	AuditMaxEntries int
}

// WithDefaults fills zero fields with operational defaults.
func (c Config) WithDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Minute
	}
	if c.IncidentRetention <= 0 {
		c.IncidentRetention = 72 * time.Hour
	}
	if c.AckTTL <= 0 {
		c.AckTTL = 4 * time.Hour
	}
	if c.CollapseWindow <= 0 {
		c.CollapseWindow = 15 * time.Minute
	}
	if c.MessageTargetsMax <= 0 {
		c.MessageTargetsMax = 50
	}
	if c.AlwaysCategory == "" {
		c.AlwaysCategory = "system"
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.MaxMessageRunes <= 0 {
		c.MaxMessageRunes = 3500
	}
	if c.TransientFailThreshold <= 0 {
		c.TransientFailThreshold = 5
	}
	if c.QuarantineDuration <= 0 {
		c.QuarantineDuration = time.Hour
	}
	if c.DigestMaxItems <= 0 {
		c.DigestMaxItems = 40
	}
	if c.DigestMaxPreview <= 0 {
		c.DigestMaxPreview = 8
	}
	if c.AuditRetention <= 0 {
		c.AuditRetention = 7 * 24 * time.Hour
	}
	if c.AuditMaxEntries <= 0 {
		c.AuditMaxEntries = 500
	}
	return c
}

// windowFor resolves the per-topic dedup window.
func (c Config) windowFor(topic string) time.Duration {
	if d, ok := c.TopicDedupWindows[topic]; ok && d > 0 {
		return d
	}
	return c.DedupWindow
}

// Gate is an external predicate consulted before the pipeline proper
// (availability/novelty checks for the gated category). The engine never
// looks inside; a false verdict skips the event with the given reason.
type Gate interface {
	Allow(ctx context.Context, ev Event) (ok bool, reason string)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, ev Event) (bool, string)

func (f GateFunc) Allow(ctx context.Context, ev Event) (bool, string) { return f(ctx, ev) }
