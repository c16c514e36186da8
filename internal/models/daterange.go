package models

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	BucketLayout,
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
}

// ParseDate accepts a calendar date as YYYYMMDD, YYYY-MM-DD or a full
// timestamp and truncates it to the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// BucketRange turns an inclusive [from, to] day range into the half-open
// bucket range [fromBucket, toBucketExclusive).
func BucketRange(from, to string) (fromBucket, toBucketExclusive string, err error) {
	f, err := ParseDate(from)
	if err != nil {
		return "", "", fmt.Errorf("from: %w", err)
	}
	t, err := ParseDate(to)
	if err != nil {
		return "", "", fmt.Errorf("to: %w", err)
	}
	return BucketKey(f), BucketKey(t.AddDate(0, 0, 1)), nil
}
