package utils

import "time"

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatISO8601Ptr formats an optional time, returning nil when unset.
func FormatISO8601Ptr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := FormatISO8601(*t)
	return &s
}
