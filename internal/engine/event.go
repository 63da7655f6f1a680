package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Event is one inbound alert after topic/category resolution.
// It is ephemeral; only derived records (dedupe, incident) persist.
type Event struct {
	Topic    string
	Category string
	Title    string
	Message  string
	Priority int
	Time     time.Time
	Critical bool
}

// criticalPriorityFloor marks events critical regardless of keywords.
const criticalPriorityFloor = 5

// Classify sets Critical from priority and keyword rules: priority >= 5,
// or any configured keyword present in the lowercased title+message after
// negation patterns are removed.
func (c Config) Classify(ev *Event) {
	if ev.Priority >= criticalPriorityFloor {
		ev.Critical = true
		return
	}
	text := strings.ToLower(ev.Title + " " + ev.Message)
	for _, neg := range c.CriticalNegations {
		neg = strings.ToLower(strings.TrimSpace(neg))
		if neg == "" {
			continue
		}
		text = strings.ReplaceAll(text, neg, "")
	}
	for _, kw := range c.CriticalKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			ev.Critical = true
			return
		}
	}
}

// collapseSpace folds runs of whitespace into single spaces so trivial
// formatting differences don't produce distinct identities.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint returns the stable dedup hash of a normalized event.
func Fingerprint(ev Event) string {
	h := fnv.New64a()
	for _, part := range []string{
		ev.Topic,
		ev.Category,
		collapseSpace(ev.Title),
		collapseSpace(ev.Message),
		strconv.Itoa(ev.Priority),
		strconv.FormatBool(ev.Critical),
	} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{'|'})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// IncidentID derives the durable correlation id for an event identity.
// Unlike the fingerprint it ignores priority/criticality so a flapping
// alert maps to one incident across severity changes.
func IncidentID(ev Event) string {
	sum := sha1.Sum([]byte(ev.Topic + "|" + ev.Category + "|" +
		strings.ToLower(collapseSpace(ev.Title)) + "|" +
		strings.ToLower(collapseSpace(ev.Message))))
	return "inc-" + hex.EncodeToString(sum[:])[:10]
}

const targetsDirective = "notify_targets="

// ExtractTargets parses an in-band "notify_targets=a,b,c" line out of the
// message body. The directive line is stripped from the returned body.
func ExtractTargets(body string) (clean string, targets []string) {
	if !strings.Contains(body, targetsDirective) {
		return body, nil
	}
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, targetsDirective) {
			raw := strings.TrimPrefix(t, targetsDirective)
			for _, id := range strings.Split(raw, ",") {
				id = strings.TrimSpace(id)
				if id != "" {
					targets = append(targets, id)
				}
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), targets
}
