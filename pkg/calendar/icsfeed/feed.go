// Package icsfeed converts already-fetched ICS payloads into the external
// event records the calendar store merges. Recurring entries are expanded
// with their RRULE within the requested window; the engine itself opens no
// network connection.
package icsfeed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// maxOccurrencesPerEvent caps RRULE expansion per ICS entry.
const maxOccurrencesPerEvent = 400

// Options tune feed parsing.
type Options struct {
	// Calendar labels the resulting records' bucket.
	Calendar string
	// Location is the civil timezone for all-day dates; nil means local.
	Location *time.Location
	Logger   *slog.Logger
}

// ParseFile reads an ICS file and returns the external records inside
// [from, to).
func ParseFile(path string, from, to time.Time, opts Options) ([]models.ExternalEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ICS file: %w", err)
	}
	return Parse(string(data), from, to, opts)
}

// Parse converts ICS data into external event records inside [from, to).
// Entries that fail to convert are skipped with a warning.
func Parse(icsData string, from, to time.Time, opts Options) ([]models.ExternalEvent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	cal, err := ics.ParseCalendar(strings.NewReader(icsData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ICS data: %w", err)
	}

	var out []models.ExternalEvent
	for _, event := range cal.Events() {
		records, err := convertEvent(event, from, to, opts.Calendar, loc, logger)
		if err != nil {
			logger.Warn("skipping ICS event", "error", err, "uid", event.Id())
			continue
		}
		out = append(out, records...)
	}
	return out, nil
}

func convertEvent(event *ics.VEvent, from, to time.Time, calendarName string, loc *time.Location, logger *slog.Logger) ([]models.ExternalEvent, error) {
	uid := event.Id()
	if uid == "" {
		return nil, fmt.Errorf("event missing UID")
	}

	start, err := event.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %w", err)
	}
	end, err := event.GetEndAt()
	if err != nil {
		end = start.Add(time.Hour)
	}

	base := models.ExternalEvent{
		ID:       uid,
		Calendar: calendarName,
	}
	if summary := event.GetProperty(ics.ComponentPropertySummary); summary != nil {
		base.Summary = summary.Value
	}
	if description := event.GetProperty(ics.ComponentPropertyDescription); description != nil {
		base.Description = description.Value
	}
	if location := event.GetProperty(ics.ComponentPropertyLocation); location != nil {
		base.Location = location.Value
	}
	for _, att := range event.GetProperties(ics.ComponentPropertyAttendee) {
		email := strings.TrimPrefix(strings.ToLower(att.Value), "mailto:")
		if email != "" {
			base.Attendees = append(base.Attendees, models.Attendee{Email: email})
		}
	}
	allDay := isDateOnly(event)

	rruleProp := event.GetProperty(ics.ComponentPropertyRrule)
	if rruleProp == nil {
		if !start.Before(to) || !end.After(from) {
			return nil, nil
		}
		return []models.ExternalEvent{withTimes(base, start, end, allDay, loc, "")}, nil
	}

	// Recurring entry: expand the RRULE over the window, honoring
	// EXDATEs, and emit one record per occurrence.
	r, err := rrule.StrToRRule(rruleProp.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", rruleProp.Value, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, exdate := range event.GetProperties(ics.ComponentPropertyExdate) {
		ex, err := time.ParseInLocation("20060102T150405", exdate.Value, start.Location())
		if err != nil {
			if d, derr := time.ParseInLocation("20060102", exdate.Value, start.Location()); derr == nil {
				ex = d
			} else {
				logger.Warn("ignoring unparseable EXDATE", "uid", uid, "value", exdate.Value)
				continue
			}
		}
		set.ExDate(ex)
	}

	duration := end.Sub(start)
	occTimes := set.Between(from.In(start.Location()), to.In(start.Location()), true)
	if len(occTimes) > maxOccurrencesPerEvent {
		logger.Warn("truncating ICS recurrence expansion",
			"uid", uid, "cap", maxOccurrencesPerEvent, "count", len(occTimes))
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	records := make([]models.ExternalEvent, 0, len(occTimes))
	for _, occStart := range occTimes {
		rec := withTimes(base, occStart, occStart.Add(duration), allDay, loc, uid)
		rec.ID = fmt.Sprintf("%s:%s", uid, occStart.In(loc).Format(time.RFC3339))
		records = append(records, rec)
	}
	return records, nil
}

// withTimes stamps the record's endpoints in the shape the store's
// normalizer accepts: date-only values for all-day entries, RFC 3339
// instants otherwise.
func withTimes(base models.ExternalEvent, start, end time.Time, allDay bool, loc *time.Location, recurringID string) models.ExternalEvent {
	rec := base
	rec.RecurringEventID = recurringID
	if allDay {
		rec.Start = &models.ExternalEventTime{Date: timeutil.ISODate(start.In(loc))}
		rec.End = &models.ExternalEventTime{Date: timeutil.ISODate(end.In(loc))}
		return rec
	}
	rec.StartTime = start.In(loc).Format(time.RFC3339)
	rec.EndTime = end.In(loc).Format(time.RFC3339)
	return rec
}

// isDateOnly reports whether DTSTART carries a date-only value.
func isDateOnly(event *ics.VEvent) bool {
	prop := event.GetProperty(ics.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if v, ok := prop.ICalParameters["VALUE"]; ok {
		for _, p := range v {
			if p == "DATE" {
				return true
			}
		}
	}
	return len(prop.Value) == 8
}
