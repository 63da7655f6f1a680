package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// RenderAlert builds the full notification body for a fresh incident
// message.
func RenderAlert(ev Event, inc IncidentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", severityMarker(ev), strings.TrimSpace(ev.Title))
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		b.WriteString(msg)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\ntopic: %s", ev.Topic)
	if ev.Category != "" && !strings.EqualFold(ev.Category, ev.Topic) {
		fmt.Fprintf(&b, " (%s)", ev.Category)
	}
	fmt.Fprintf(&b, "\npriority: %d", ev.Priority)
	if inc.ID != "" {
		fmt.Fprintf(&b, "\nincident: %s", inc.ID)
	}
	return b.String()
}

// RenderUpdate builds the short in-place edit body used when a repeat of
// an active incident lands inside the collapse window.
func RenderUpdate(ev Event, inc IncidentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (x%d)\n", severityMarker(ev), strings.TrimSpace(ev.Title), inc.EventCount)
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		b.WriteString(firstLine(msg))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nlast seen: %s\nincident: %s", inc.LastSeen.Format("15:04:05"), inc.ID)
	return b.String()
}

// RenderDigest composes one deferred-alerts digest: up to maxPreview item
// lines plus summary counts for anything condensed or hidden.
func RenderDigest(items []DigestItem, condensed, hidden, maxPreview int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest: %d deferred alert", len(items))
	if len(items) != 1 {
		b.WriteString("s")
	}
	b.WriteString("\n")

	shown := len(items)
	if maxPreview > 0 && shown > maxPreview {
		shown = maxPreview
	}
	for _, it := range items[:shown] {
		fmt.Fprintf(&b, "• %s [%s] %s\n", it.TS.Format("15:04"), it.Topic, firstLine(strings.TrimSpace(it.Title)))
	}
	if rest := len(items) - shown; rest > 0 {
		fmt.Fprintf(&b, "… and %d more\n", rest)
	}
	if condensed > 0 {
		fmt.Fprintf(&b, "\n%d duplicate(s) condensed", condensed)
	}
	if hidden > 0 {
		fmt.Fprintf(&b, "\n%d noisy item(s) hidden", hidden)
	}
	return b.String()
}

func severityMarker(ev Event) string {
	if ev.Critical {
		return "🚨"
	}
	if ev.Priority >= 4 {
		return "⚠️"
	}
	return "ℹ️"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// Sanitize normalizes an outgoing message: trailing whitespace is trimmed
// per line, decorative separator lines collapse to a short rule, runs of
// three or more blank lines collapse to two, and the result is truncated
// to max runes with an ellipsis.
func Sanitize(text string, maxRunes int) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if isSeparatorLine(line) {
			line = "———"
		}
		if line == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return truncRunes(strings.TrimSpace(strings.Join(out, "\n")), maxRunes)
}

// isSeparatorLine matches lines made of four or more repeated decoration
// characters, like "-----" or "=====".
func isSeparatorLine(line string) bool {
	s := strings.TrimSpace(line)
	if len(s) < 4 {
		return false
	}
	for _, r := range s {
		switch r {
		case '-', '=', '_', '*', '~', '—':
		default:
			return false
		}
	}
	return true
}

func truncRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
