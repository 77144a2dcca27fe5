// Package timeutil computes local-time windows as UTC instants and owns the
// kernel's timestamp formatting discipline: everything persisted is ISO-8601
// UTC with a numeric offset.
package timeutil

import (
	"fmt"
	"time"

	"github.com/untoldecay/kira/internal/types"
)

// ISOFormat is the canonical persisted timestamp layout.
const ISOFormat = "2006-01-02T15:04:05+00:00"

// NowUTCISO returns the current instant in canonical form.
func NowUTCISO() string {
	return FormatUTC(time.Now())
}

// FormatUTC renders t in canonical form.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}

// ParseISO parses a persisted timestamp. It accepts +00:00 and Z offsets
// plus fractional seconds; everything is returned in UTC.
func ParseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", types.ErrValidation, s)
}

// IsUTCISO reports whether s is a UTC ISO-8601 timestamp (ends in +00:00 or Z).
func IsUTCISO(s string) bool {
	if _, err := ParseISO(s); err != nil {
		return false
	}
	// The string itself must carry a UTC marker, not just parse cleanly.
	return s[len(s)-1] == 'Z' || (len(s) >= 6 && s[len(s)-6:] == "+00:00")
}

// DayBoundsUTC returns the UTC instants bounding the local calendar day
// containing t. Across DST transitions a local day may span 23 or 25 hours
// in UTC.
func DayBoundsUTC(t time.Time, tz *time.Location) (time.Time, time.Time) {
	if tz == nil {
		tz = time.UTC
	}
	local := t.In(tz)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}

// WeekBoundsUTC returns the UTC instants bounding the local week containing
// t, where weekStart names the first day of the week.
func WeekBoundsUTC(t time.Time, tz *time.Location, weekStart time.Weekday) (time.Time, time.Time) {
	if tz == nil {
		tz = time.UTC
	}
	local := t.In(tz)
	daysBack := (int(local.Weekday()) - int(weekStart) + 7) % 7
	startDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz).AddDate(0, 0, -daysBack)
	// Construct midnight explicitly so DST days keep wall-clock boundaries.
	start := time.Date(startDay.Year(), startDay.Month(), startDay.Day(), 0, 0, 0, 0, tz)
	endDay := start.AddDate(0, 0, 7)
	end := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), 0, 0, 0, 0, tz)
	return start.UTC(), end.UTC()
}

// MonthBoundsUTC returns the UTC instants bounding the local month
// containing t.
func MonthBoundsUTC(t time.Time, tz *time.Location) (time.Time, time.Time) {
	if tz == nil {
		tz = time.UTC
	}
	local := t.In(tz)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, tz)
	next := start.AddDate(0, 1, 0)
	end := time.Date(next.Year(), next.Month(), 1, 0, 0, 0, 0, tz)
	return start.UTC(), end.UTC()
}
