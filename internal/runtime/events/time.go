package events

import "time"

// TimeFormat is the layout the publisher writes timestamps in.
const TimeFormat = time.RFC3339Nano

// acceptedTimeFormats lists every layout ParseTime understands, in order.
// Zone-less forms, which some publishers emit, are read as UTC.
var acceptedTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp as written by any publisher on the bus.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range acceptedTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{
		Layout:  TimeFormat,
		Value:   s,
		Message: ": cannot parse as ISO-8601 event timestamp",
	}
}

// FormatTime renders t in UTC. The zero time renders as an empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}
