package parser

import (
	"strings"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Display formats tried in order. Date-only layouts yield midnight.
var dateLayouts = []string{
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"Jan 2, 2006 15:04",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate normalizes a displayed timestamp such as
// "December 9, 2025 at 10:02 PM" to 2006-01-02T15:04:05. It reports false
// when no known format matches.
func ParseDate(raw string) (string, bool) {
	normalized := strings.TrimSpace(strings.ReplaceAll(raw, " at ", " "))
	normalized = strings.Join(strings.Fields(normalized), " ")
	if normalized == "" {
		return "", false
	}
	if n := len(normalized); n > 3 {
		switch strings.ToLower(normalized[n-3:]) {
		case " am", " pm":
			normalized = normalized[:n-2] + strings.ToUpper(normalized[n-2:])
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.Format(types.TimestampLayout), true
		}
	}
	return "", false
}

// NormalizeTimestamp accepts API timestamps (RFC 3339, with or without
// fractional seconds) as well as display formats, and returns the wall clock
// time in the canonical layout.
func NormalizeTimestamp(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, layout := range []string{time.RFC3339Nano, types.TimestampLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(types.TimestampLayout), true
		}
	}
	return ParseDate(raw)
}

// FromUnix formats epoch seconds in UTC.
func FromUnix(sec float64) string {
	return time.Unix(int64(sec), 0).UTC().Format(types.TimestampLayout)
}
