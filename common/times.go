package common

import (
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// TimestampFormat is the format used for every timestamp that leaves the service.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var millisPattern = regexp.MustCompile(`^\d+$`)

// FormatTimestamp formats a timestamp in UTC with millisecond precision.
func FormatTimestamp(timestamp time.Time) string {
	return timestamp.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses either an RFC 3339 timestamp or a count of milliseconds since the epoch.
func ParseTimestamp(timestamp string) (time.Time, error) {
	if timestamp == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	// Milliseconds since the epoch.
	if millisPattern.MatchString(timestamp) {
		millis, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid timestamp: %s", timestamp)
		}
		return time.UnixMilli(millis).UTC(), nil
	}

	// Fractional seconds are optional in this layout.
	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp: %s", timestamp)
	}
	return parsed.UTC(), nil
}
