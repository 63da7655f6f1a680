package engine

import (
	"testing"
	"time"

	"alertbot/internal/registry"
)

func boolp(v bool) *bool { return &v }
func intp(v int) *int    { return &v }

func TestQuietHoursWraparound(t *testing.T) {
	t.Parallel()
	user := registry.User{
		QuietHoursEnabled:   true,
		QuietHoursStartHour: 22,
		QuietHoursEndHour:   7,
		Timezone:            "UTC",
	}

	at := func(hour int) time.Time {
		return time.Date(2026, 8, 1, hour, 30, 0, 0, time.UTC)
	}

	tests := []struct {
		hour  int
		quiet bool
	}{
		{21, false},
		{22, true},
		{23, true},
		{0, true},
		{6, true},
		{7, false},
		{12, false},
	}
	for _, tt := range tests {
		if got := InQuietHours(user, "db", false, at(tt.hour)); got != tt.quiet {
			t.Fatalf("hour %d: quiet = %v, want %v", tt.hour, got, tt.quiet)
		}
	}
}

func TestQuietHoursDisabledWindow(t *testing.T) {
	t.Parallel()
	user := registry.User{
		QuietHoursEnabled:   true,
		QuietHoursStartHour: 9,
		QuietHoursEndHour:   9,
		Timezone:            "UTC",
	}
	if InQuietHours(user, "db", false, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatal("start == end means the window is disabled")
	}
}

func TestQuietHoursCriticalNeverDeferred(t *testing.T) {
	t.Parallel()
	user := registry.User{
		QuietHoursEnabled:   true,
		QuietHoursStartHour: 0,
		QuietHoursEndHour:   23,
		Timezone:            "UTC",
	}
	if InQuietHours(user, "db", true, time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("critical events must never be deferred")
	}
}

func TestQuietHoursCategoryOverride(t *testing.T) {
	t.Parallel()
	user := registry.User{
		QuietHoursEnabled:   false,
		QuietHoursStartHour: 22,
		QuietHoursEndHour:   7,
		Timezone:            "UTC",
		QuietHoursTopics: map[string]registry.QuietOverride{
			"backups": {Enabled: boolp(true), StartHour: intp(1), EndHour: intp(5)},
		},
	}

	night := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	if InQuietHours(user, "db", false, night) {
		t.Fatal("default window is disabled")
	}
	if !InQuietHours(user, "backups", false, night) {
		t.Fatal("category override should apply")
	}
	if InQuietHours(user, "backups", false, time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)) {
		t.Fatal("outside the override window")
	}
}

func TestQuietHoursRecipientLocalTime(t *testing.T) {
	t.Parallel()
	user := registry.User{
		QuietHoursEnabled:   true,
		QuietHoursStartHour: 22,
		QuietHoursEndHour:   7,
		Timezone:            "Asia/Jakarta", // UTC+7
	}
	// 16:30 UTC is 23:30 in Jakarta.
	if !InQuietHours(user, "db", false, time.Date(2026, 8, 1, 16, 30, 0, 0, time.UTC)) {
		t.Fatal("window must be evaluated in the recipient's timezone")
	}
}
