package safety

import (
	"fmt"
	"time"
)

// timestampLayouts are the accepted wire formats, tried in order. The first
// two cover ISO-8601 with an explicit offset or Z; the rest cover rows that
// arrive without a zone (interpreted as UTC) or with a space separator.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp string into a UTC instant.
// Callers are expected to skip the event on error rather than abort the
// window they are processing.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
