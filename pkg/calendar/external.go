package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// NormalizeExternal converts a loosely shaped external record into the
// canonical event shape. The record is accepted with either nested
// date/dateTime endpoints or flat ISO strings; a date-only start marks the
// event all-day.
func NormalizeExternal(raw models.ExternalEvent, loc *time.Location) (*models.Event, error) {
	id := raw.ID
	if id == "" {
		id = raw.EventID
	}
	title := raw.Summary
	if title == "" {
		title = raw.Title
	}

	start, allDay, err := parseEndpoint(raw.Start, raw.StartTime, loc)
	if err != nil {
		return nil, fmt.Errorf("external event %q: start: %w", id, err)
	}
	if start.IsZero() {
		return nil, fmt.Errorf("external event %q: %w: missing start", id, timeutil.ErrInvalidTime)
	}
	end, _, err := parseEndpoint(raw.End, raw.EndTime, loc)
	if err != nil || end.IsZero() {
		// External feeds routinely omit the end; fall back to one hour.
		end = start.Add(time.Hour)
	}

	e := &models.Event{
		ID:          id,
		Title:       title,
		Description: raw.Description,
		Location:    raw.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Exceptions:  []string{},
		Attendees:   append([]models.Attendee(nil), raw.Attendees...),
		Calendar:    raw.Calendar,
		Source:      models.SourceExternal,
		ParentID:    raw.RecurringEventID,
	}
	if raw.RecurringEventID != "" {
		e.IsRecurringInstance = true
		e.Date = timeutil.ISODate(start)
	}
	return e, nil
}

// parseEndpoint resolves one endpoint from the nested or flat form. The
// bool result reports whether the value was date-only.
func parseEndpoint(nested *models.ExternalEventTime, flat string, loc *time.Location) (time.Time, bool, error) {
	value := flat
	dateOnly := false
	if nested != nil {
		if nested.DateTime != "" {
			value = nested.DateTime
		} else if nested.Date != "" {
			value = nested.Date
			dateOnly = true
		}
	}
	if value == "" {
		return time.Time{}, false, nil
	}
	if dateOnly || len(value) == len(timeutil.DateFormat) {
		t, err := timeutil.ParseISODate(value, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q", timeutil.ErrInvalidTime, value)
	}
	return t.In(loc), false, nil
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
