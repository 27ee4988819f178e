package snapshot

import (
	"time"

	"github.com/testimonials-cache/testimonials-cache/internal/clock"
)

// DefaultStaleAfter is the age past which a snapshot counts as stale.
const DefaultStaleAfter = 120 * time.Minute

// FreshnessPolicy judges snapshot staleness against an injected clock.
type FreshnessPolicy struct {
	Clock     clock.Clock
	Threshold time.Duration
}

// NewFreshnessPolicy returns a policy with the given threshold. A
// non-positive threshold selects DefaultStaleAfter.
func NewFreshnessPolicy(c clock.Clock, threshold time.Duration) FreshnessPolicy {
	if threshold <= 0 {
		threshold = DefaultStaleAfter
	}
	return FreshnessPolicy{Clock: c, Threshold: threshold}
}

// IsStale reports whether updatedAt is missing, unparseable, or strictly
// older than the threshold.
func (p FreshnessPolicy) IsStale(updatedAt string) bool {
	t, ok := ParseTimestamp(updatedAt)
	if !ok {
		return true
	}
	return p.Clock.Now().Sub(t) > p.Threshold
}

// Age returns how long ago updatedAt was. ok is false when it cannot be parsed.
func (p FreshnessPolicy) Age(updatedAt string) (time.Duration, bool) {
	t, ok := ParseTimestamp(updatedAt)
	if !ok {
		return 0, false
	}
	return p.Clock.Now().Sub(t), true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.DateOnly,
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTimestamp parses the ISO-8601 forms written by the feed and by this
// service. Timestamps without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
