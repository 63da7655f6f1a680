package registry

import (
	"os"
	"path/filepath"
	"testing"

	logx "alertbot/pkg/logx"
)

const registryYAML = `
users:
  alice:
    status: active
    role: admin
    chat_id: 100
    notify_topics: [db, web]
    emergency_contact: true
    quiet_hours_enabled: true
    quiet_hours_start_hour: 22
    quiet_hours_end_hour: 7
    timezone: Asia/Jakarta
    quiet_hours_topics:
      web:
        enabled: false
  bob:
    status: disabled
    role: member
    chat_id: 200
    notify_topics: [all]
`

func writeRegistry(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	r := New(writeRegistry(t, "registry.yaml", registryYAML), logx.Nop())
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := r.Get()
	if len(snap.Users) != 2 {
		t.Fatalf("users = %d", len(snap.Users))
	}

	alice := snap.Users["alice"]
	if !alice.Active() || !alice.Admin() || !alice.EmergencyContact {
		t.Fatalf("alice = %+v", alice)
	}
	if !alice.Subscribed("db") || !alice.Subscribed("DB") || alice.Subscribed("mail") {
		t.Fatal("subscription matching broken")
	}
	if alice.Location().String() != "Asia/Jakarta" {
		t.Fatalf("location = %s", alice.Location())
	}
	ov, ok := alice.QuietHoursTopics["web"]
	if !ok || ov.Enabled == nil || *ov.Enabled {
		t.Fatalf("override = %+v", ov)
	}

	if snap.Users["bob"].Active() {
		t.Fatal("bob should be inactive")
	}
}

func TestLoadJSON(t *testing.T) {
	body := `{"users":{"carol":{"status":"active","role":"member","chat_id":7,"notify_topics":["db"]}}}`
	r := New(writeRegistry(t, "registry.json", body), logx.Nop())
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if u := r.Get().Users["carol"]; !u.Active() || u.ChatID != 7 {
		t.Fatalf("carol = %+v", u)
	}
}

func TestLoadFailureKeepsSnapshot(t *testing.T) {
	path := writeRegistry(t, "registry.yaml", registryYAML)
	r := New(path, logx.Nop())
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte(":::: not yaml {"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Load(); err == nil {
		t.Fatal("expected parse error")
	}
	if len(r.Get().Users) != 2 {
		t.Fatal("previous snapshot must survive a bad reload")
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	u := User{Timezone: "Not/AZone"}
	if u.Location() == nil {
		t.Fatal("nil location")
	}
}
