// Package recurrence expands a recurring event template into concrete
// occurrences within a query window. Rules here are the engine's own
// closed pattern set, not RFC 5545: monthly recurrence clamps the
// day-of-month to the target month's length, and day-set rules gate day by
// day instead of BYDAY enumeration.
package recurrence

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// SafetyCap bounds the number of cursor matches per expansion so a
// malformed rule can never spin the store. Hitting it is an internal
// invariant violation: it is logged and the partial result returned.
const SafetyCap = 400

// ErrInvalidRecurrence is returned by Validate for rules the engine
// cannot evaluate. Validation runs at event-insert time; Expand itself
// never fails.
var ErrInvalidRecurrence = errors.New("invalid recurrence rule")

// Validate checks a rule at write time.
func Validate(rule *models.RecurrenceRule) error {
	if rule == nil {
		return nil
	}
	if !rule.Pattern.Valid() {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidRecurrence, rule.Pattern)
	}
	if rule.Pattern == models.PatternCustom && len(rule.DaysOfWeek) == 0 {
		return fmt.Errorf("%w: custom pattern requires days_of_week", ErrInvalidRecurrence)
	}
	for _, d := range rule.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: weekday index %d out of range", ErrInvalidRecurrence, d)
		}
	}
	if rule.DayOfMonth != 0 && (rule.DayOfMonth < 1 || rule.DayOfMonth > 31) {
		return fmt.Errorf("%w: day_of_month %d out of range", ErrInvalidRecurrence, rule.DayOfMonth)
	}
	if rule.Interval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidRecurrence)
	}
	if rule.EndAfter < 0 {
		return fmt.Errorf("%w: negative end_after", ErrInvalidRecurrence)
	}
	return nil
}

// Expand materializes the template's occurrences whose start falls inside
// [windowStart, windowEnd]. Exceptions suppress a date without counting
// toward EndAfter; overrides replace fields of the computed occurrence on
// their date but cannot move it to another calendar date.
func Expand(event *models.Event, windowStart, windowEnd time.Time, logger *slog.Logger) []*models.Event {
	if logger == nil {
		logger = slog.Default()
	}
	rule := event.Recurrence
	if rule == nil {
		return nil
	}

	var out []*models.Event
	duration := event.End.Sub(event.Start)
	cursor := event.Start
	count := 0

	for !cursor.After(windowEnd) && count < SafetyCap {
		if !cursor.Before(windowStart) {
			key := timeutil.ISODate(cursor)
			if !event.HasException(key) && matches(cursor, event.Start, rule) {
				out = append(out, buildOccurrence(event, cursor, duration, key))
				count++
			}
		}

		if rule.EndAfter > 0 && count >= rule.EndAfter {
			break
		}
		cursor = advance(cursor, event.Start, rule)
		if rule.EndDate != nil && cursor.After(*rule.EndDate) {
			break
		}
	}

	if count >= SafetyCap {
		logger.Error("recurrence expansion hit safety cap, returning partial result",
			"event_id", event.ID,
			"pattern", rule.Pattern,
			"cap", SafetyCap)
	}

	return out
}

// matches reports whether the rule produces an occurrence on cursor's day.
func matches(cursor, anchor time.Time, rule *models.RecurrenceRule) bool {
	switch rule.Pattern {
	case models.PatternDaily:
		return true
	case models.PatternWeekdays:
		wd := cursor.Weekday()
		return wd >= time.Monday && wd <= time.Friday
	case models.PatternWeekly:
		return weekdayMatches(cursor, anchor, rule)
	case models.PatternBiweekly:
		// Day gate as weekly, plus a week-parity filter relative to the
		// anchor so the off week yields nothing even under day-by-day
		// advancement.
		if !weekdayMatches(cursor, anchor, rule) {
			return false
		}
		// Rounded civil days, not elapsed hours: a DST-shortened week is
		// still seven days.
		days := int(math.Round(timeutil.StartOfDay(cursor).Sub(timeutil.StartOfDay(anchor)).Hours() / 24))
		return (days/7)%2 == 0
	case models.PatternMonthly:
		want := rule.DayOfMonth
		if want == 0 {
			want = anchor.Day()
		}
		// Clamp to month length so a day-31 rule still fires in February.
		if last := timeutil.DaysInMonth(cursor.Year(), cursor.Month()); want > last {
			want = last
		}
		return cursor.Day() == want
	case models.PatternYearly:
		return cursor.Month() == anchor.Month() && cursor.Day() == anchor.Day()
	case models.PatternCustom:
		return weekdaySetContains(rule.DaysOfWeek, cursor.Weekday())
	}
	return false
}

func weekdayMatches(cursor, anchor time.Time, rule *models.RecurrenceRule) bool {
	if len(rule.DaysOfWeek) > 0 {
		return weekdaySetContains(rule.DaysOfWeek, cursor.Weekday())
	}
	return cursor.Weekday() == anchor.Weekday()
}

func weekdaySetContains(set []int, wd time.Weekday) bool {
	for _, d := range set {
		if time.Weekday(d) == wd {
			return true
		}
	}
	return false
}

// advance moves the cursor to the next candidate day. Day-set rules walk
// one day at a time and let matches do the gating; fixed-cadence rules
// jump by their step.
func advance(cursor, anchor time.Time, rule *models.RecurrenceRule) time.Time {
	switch rule.Pattern {
	case models.PatternDaily, models.PatternWeekdays, models.PatternCustom:
		return timeutil.AddDays(cursor, 1)
	case models.PatternWeekly:
		if len(rule.DaysOfWeek) > 0 {
			return timeutil.AddDays(cursor, 1)
		}
		return timeutil.AddDays(cursor, 7*rule.Step())
	case models.PatternBiweekly:
		if len(rule.DaysOfWeek) > 0 {
			return timeutil.AddDays(cursor, 1)
		}
		return timeutil.AddDays(cursor, 14)
	case models.PatternMonthly:
		// Step from the anchor, not the cursor: a clamped Feb 29 must not
		// drag later months down to day 29.
		next := timeutil.AddMonths(anchor, monthsBetween(anchor, cursor)+rule.Step())
		if want := rule.DayOfMonth; want > 0 {
			if last := timeutil.DaysInMonth(next.Year(), next.Month()); want > last {
				want = last
			}
			next = time.Date(next.Year(), next.Month(), want,
				next.Hour(), next.Minute(), next.Second(), 0, next.Location())
		}
		return next
	case models.PatternYearly:
		elapsed := monthsBetween(anchor, cursor) / 12
		return timeutil.AddYears(anchor, elapsed+rule.Step())
	}
	return timeutil.AddDays(cursor, 1)
}

func monthsBetween(anchor, cursor time.Time) int {
	return (cursor.Year()-anchor.Year())*12 + int(cursor.Month()) - int(anchor.Month())
}

// buildOccurrence projects the template onto a concrete date, keeping the
// anchor's wall-clock time and duration, then applies any override for
// that date.
func buildOccurrence(event *models.Event, cursor time.Time, duration time.Duration, key string) *models.Event {
	start := time.Date(cursor.Year(), cursor.Month(), cursor.Day(),
		event.Start.Hour(), event.Start.Minute(), event.Start.Second(), 0, cursor.Location())
	occ := *event
	occ.Start = start
	occ.End = start.Add(duration)
	occ.IsRecurringInstance = true
	occ.ParentID = event.ID
	occ.Date = key
	occ.Recurrence = event.Recurrence

	if ov, ok := event.Overrides[key]; ok {
		if ov.Title != nil {
			occ.Title = *ov.Title
		}
		if ov.Description != nil {
			occ.Description = *ov.Description
		}
		if ov.Location != nil {
			occ.Location = *ov.Location
		}
		if ov.Start != nil {
			occ.Start = *ov.Start
			// A start-only override slides the interval; the template
			// duration holds until an end is given too.
			occ.End = occ.Start.Add(duration)
		}
		if ov.End != nil {
			occ.End = *ov.End
		}
	}
	return &occ
}
