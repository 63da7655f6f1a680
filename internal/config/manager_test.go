package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

const yamlConfig = `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
source:
  base_url: "https://ntfy.example.com"
  poll_interval: "15s"
  topics:
    - name: alerts
      category: db
      dedup_window: "90s"
registry:
  path: ./registry.yaml
state:
  driver: file
  path: ./state/alertbot.db
engine:
  min_priority: 2
  digest:
    flush_spec: "@every 5m"
  audit: {}
`

func TestManagerLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Source.Topics) != 1 || cfg.Source.Topics[0].Category != "db" {
		t.Fatalf("topics = %+v", cfg.Source.Topics)
	}
	if cfg.Engine.MinPriority != 2 {
		t.Fatalf("min_priority = %d", cfg.Engine.MinPriority)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "telegram:\n  token: x\n  typo_field: y\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{"telegram":{"token":"x"}}{"extra":1}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("trailing JSON must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "90s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero, got %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage must be rejected")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default not applied: %v", d)
	}
}
