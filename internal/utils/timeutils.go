package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// TimeBucket returns the hour-of-day and weekday bucket for t. Weekdays are
// Monday-indexed: Monday=0 through Sunday=6.
func TimeBucket(t time.Time) (hour, weekday int) {
	return t.Hour(), (int(t.Weekday()) + 6) % 7
}

// TruncateHour rounds t down to the start of its hour.
func TruncateHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
