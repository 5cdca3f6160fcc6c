// Package timeutil is the engine's civil-time kernel: day boundaries,
// calendar-aware arithmetic, half-open interval overlap and the friendly
// formats used by the brief renderer. All day-boundary math happens in the
// location carried by the input instant; there is no UTC day math.
package timeutil

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidTime is returned when an operation receives a zero or
// otherwise unusable instant. Inputs are never silently coerced.
var ErrInvalidTime = errors.New("invalid time")

// DateFormat is the local calendar date key format (YYYY-MM-DD).
const DateFormat = "2006-01-02"

// StartOfDay returns midnight of t's local calendar day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable millisecond of t's local
// calendar day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999_000_000, t.Location())
}

// AddDays adds n civil days, preserving wall-clock time across DST
// transitions.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// AddMonths adds n calendar months, clamping the day-of-month to the
// target month's length: one month after Jan 31 is the last day of
// February, not March 2/3.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	shifted := first.AddDate(0, n, 0)
	if last := DaysInMonth(shifted.Year(), shifted.Month()); day > last {
		day = last
	}
	return time.Date(shifted.Year(), shifted.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// AddYears adds n calendar years, clamping Feb 29 to Feb 28 on non-leap
// targets.
func AddYears(t time.Time, n int) time.Time {
	return AddMonths(t, n*12)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ISODate renders t's local calendar date as YYYY-MM-DD.
func ISODate(t time.Time) string {
	return t.Format(DateFormat)
}

// ParseISODate parses a YYYY-MM-DD date key at midnight in loc.
func ParseISODate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidTime, s)
	}
	return t, nil
}

// SameDay reports whether a and b fall on the same local calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DurationMinutes returns the whole minutes from start to end.
func DurationMinutes(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}

// FormatTime12 renders the wall-clock time in 12-hour form, e.g. "9:05 AM".
func FormatTime12(t time.Time) string {
	return t.Format("3:04 PM")
}

// DayName returns the full weekday name of t's local date.
func DayName(t time.Time) string {
	return t.Weekday().String()
}

// FriendlyDate renders t's date relative to now: Today, Tomorrow,
// Yesterday, a bare weekday name within the next six days, otherwise a
// long date.
func FriendlyDate(t, now time.Time) string {
	target := StartOfDay(t)
	today := StartOfDay(now)
	// Round rather than truncate so a 23h/25h DST day still counts as one.
	days := int(math.Round(target.Sub(today).Hours() / 24))
	switch {
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days == -1:
		return "Yesterday"
	case days > 1 && days <= 6:
		return target.Weekday().String()
	default:
		return target.Format("Monday, January 2, 2006")
	}
}

// Validate returns ErrInvalidTime when t is the zero instant.
func Validate(t time.Time) error {
	if t.IsZero() {
		return ErrInvalidTime
	}
	return nil
}
