package helpers

import (
	"net/mail"
	"strings"
	"time"
)

// MillisThreshold separates epoch-second from epoch-millisecond values in
// stored timestamps. Anything above it is taken to already be milliseconds.
// Historical rows were written under both conventions, so every read site
// must coerce through CoerceMillis rather than trusting the stored unit.
const MillisThreshold = 1_000_000_000_000

// dateLayouts are tried after the RFC 5322 parser gives up. Mail in the
// wild carries dates from decades of broken clients.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
}

// ParseDateMillis converts a Date header value to epoch milliseconds.
// It never fails: an empty or unparseable value falls back to the current
// wall-clock time.
func ParseDateMillis(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UnixMilli()
	}

	if t, err := mail.ParseDate(raw); err == nil {
		return t.UnixMilli()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli()
		}
	}

	return time.Now().UnixMilli()
}

// CoerceMillis normalizes a stored integer timestamp of unknown unit to
// epoch milliseconds. Idempotent: a value already above MillisThreshold is
// returned unchanged.
func CoerceMillis(ts int64) int64 {
	if ts > MillisThreshold {
		return ts
	}
	return ts * 1000
}
