package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	Source   SourceConfig   `json:"source"`
	Registry RegistryConfig `json:"registry"`
	State    StateConfig    `json:"state"`
	Engine   EngineConfig   `json:"engine"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig describes the upstream pub/sub event source.
//
// Each topic is polled independently with its own since-cursor. Category
// defaults to the topic name when omitted.
type SourceConfig struct {
	BaseURL string `json:"base_url"`
	// PollInterval is a Go duration string between poll cycles.
	PollInterval string `json:"poll_interval,omitempty"`
	// Timeout bounds a single poll HTTP request.
	Timeout string        `json:"timeout,omitempty"`
	Topics  []TopicConfig `json:"topics"`
}

type TopicConfig struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	// DedupWindow overrides engine.dedup_window for this topic.
	DedupWindow string `json:"dedup_window,omitempty"`
}

// RegistryConfig points at the externally-owned recipient registry file.
type RegistryConfig struct {
	Path string `json:"path"`
}

// StateConfig controls the persisted state backend.
//
// Driver values:
//   - "file": one JSON blob file per state kind
//   - "sqlite": single SQLite database (optional build tag)
type StateConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls the fan-out decision pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type EngineConfig struct {
	// DedupWindow is the default per-topic duplicate suppression window.
	DedupWindow string `json:"dedup_window,omitempty"`
	// IncidentRetention drops incidents whose last_seen is older than this.
	IncidentRetention string `json:"incident_retention,omitempty"`
	// AckTTL is how long an ack suppresses delivery for an incident.
	AckTTL string `json:"ack_ttl,omitempty"`
	// CollapseWindow is the span during which repeats edit the prior message.
	CollapseWindow string `json:"collapse_window,omitempty"`
	// MessageTargetsMax caps per-incident message handles (oldest evicted).
	MessageTargetsMax int `json:"message_targets_max,omitempty"`

	// MinPriority skips non-critical events below this priority.
	MinPriority int `json:"min_priority,omitempty"`
	// AlwaysCategory is delivered regardless of subscriptions.
	AlwaysCategory string `json:"always_category,omitempty"`
	// GatedCategory is the category subject to noise markers and external gates.
	GatedCategory string `json:"gated_category,omitempty"`
	// GateUnit suppresses gated-category events while this systemd unit
	// is inactive (intentional downtime should not page anyone).
	GateUnit string `json:"gate_unit,omitempty"`

	CriticalKeywords  []string `json:"critical_keywords,omitempty"`
	CriticalNegations []string `json:"critical_negations,omitempty"`

	// Delivery retry/backoff.
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	// MaxMessageRunes hard-truncates outgoing text.
	MaxMessageRunes int `json:"max_message_runes,omitempty"`

	// Quarantine policy.
	TransientFailThreshold int    `json:"transient_fail_threshold,omitempty"`
	QuarantineDuration     string `json:"quarantine_duration,omitempty"`

	Digest DigestConfig `json:"digest"`
	Audit  AuditConfig  `json:"audit"`
}

type DigestConfig struct {
	// MaxItems caps the per-recipient deferred queue (oldest dropped).
	MaxItems int `json:"max_items,omitempty"`
	// MaxPreview caps preview lines in a flushed digest message.
	MaxPreview int `json:"max_preview,omitempty"`
	// NoiseMarkers drops matching gated-category items at flush time.
	NoiseMarkers []string `json:"noise_markers,omitempty"`
	// FlushSpec is a cron spec (or @every) for the periodic flush.
	FlushSpec string `json:"flush_spec,omitempty"`
}

type AuditConfig struct {
	// Retention prunes audit events older than this.
	Retention string `json:"retention,omitempty"`
	// MaxEntries caps total audit events (oldest dropped).
	MaxEntries int `json:"max_entries,omitempty"`
	// PruneSpec is a cron spec for the periodic prune pass.
	PruneSpec string `json:"prune_spec,omitempty"`
}
