package engine

import (
	"time"

	"alertbot/internal/registry"
)

// quietWindow is a resolved [start,end) hour window in recipient-local
// time. start == end means the window is disabled.
type quietWindow struct {
	enabled bool
	start   int
	end     int
}

// resolveQuietWindow applies the category-specific override, when set, on
// top of the recipient's default window.
func resolveQuietWindow(user registry.User, category string) quietWindow {
	w := quietWindow{
		enabled: user.QuietHoursEnabled,
		start:   user.QuietHoursStartHour,
		end:     user.QuietHoursEndHour,
	}
	if ov, ok := user.QuietHoursTopics[category]; ok {
		if ov.Enabled != nil {
			w.enabled = *ov.Enabled
		}
		if ov.StartHour != nil {
			w.start = *ov.StartHour
		}
		if ov.EndHour != nil {
			w.end = *ov.EndHour
		}
	}
	return w
}

// contains reports whether the hour falls inside the window, supporting
// wraparound windows like [22,7).
func (w quietWindow) contains(hour int) bool {
	if !w.enabled || w.start == w.end {
		return false
	}
	if w.start < w.end {
		return hour >= w.start && hour < w.end
	}
	return hour >= w.start || hour < w.end
}

// InQuietHours reports whether a non-critical event for this category
// should be deferred for the recipient right now. Critical events are
// never deferred.
func InQuietHours(user registry.User, category string, critical bool, now time.Time) bool {
	if critical {
		return false
	}
	w := resolveQuietWindow(user, category)
	local := now.In(user.Location())
	return w.contains(local.Hour())
}
