package models

import (
	"time"
)

// RecurrencePattern identifies how a recurring event repeats.
type RecurrencePattern string

const (
	PatternDaily    RecurrencePattern = "daily"
	PatternWeekdays RecurrencePattern = "weekdays"
	PatternWeekly   RecurrencePattern = "weekly"
	PatternBiweekly RecurrencePattern = "biweekly"
	PatternMonthly  RecurrencePattern = "monthly"
	PatternYearly   RecurrencePattern = "yearly"
	PatternCustom   RecurrencePattern = "custom"
)

// Valid reports whether the pattern is one of the known recurrence kinds.
func (p RecurrencePattern) Valid() bool {
	switch p {
	case PatternDaily, PatternWeekdays, PatternWeekly, PatternBiweekly,
		PatternMonthly, PatternYearly, PatternCustom:
		return true
	}
	return false
}

// RecurrenceRule describes how an event template repeats.
// DaysOfWeek uses 0=Sunday..6=Saturday and is only meaningful for the
// weekly, biweekly and custom patterns. DayOfMonth is only meaningful for
// the monthly pattern.
type RecurrenceRule struct {
	Pattern    RecurrencePattern `json:"pattern"`
	DaysOfWeek []int             `json:"days_of_week,omitempty"`
	DayOfMonth int               `json:"day_of_month,omitempty"`
	Interval   int               `json:"interval,omitempty"`
	EndDate    *time.Time        `json:"end_date,omitempty"`
	EndAfter   int               `json:"end_after,omitempty"`
}

// Step returns the interval with the default of 1 applied.
func (r *RecurrenceRule) Step() int {
	if r == nil || r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Attendee is a single invitee on an event.
type Attendee struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EventSource tags where an event record originated.
type EventSource string

const (
	SourceLocal    EventSource = "local"
	SourceExternal EventSource = "external"
)

// EventOverride is a partial replacement applied to a single occurrence of
// a recurring event. Nil fields leave the computed occurrence untouched.
type EventOverride struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
}

// Event is the canonical calendar event record. A recurring event acts as a
// template: concrete occurrences are derived per query window and never
// persisted.
type Event struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	AllDay      bool            `json:"all_day"`
	Recurrence  *RecurrenceRule `json:"recurring"`
	// Exceptions holds local calendar dates (YYYY-MM-DD) on which the
	// rule produces no occurrence.
	Exceptions []string                 `json:"exceptions"`
	Overrides  map[string]EventOverride `json:"overrides"`
	Reminders  []int                    `json:"reminders"`
	Attendees  []Attendee               `json:"attendees"`
	Calendar   string                   `json:"calendar,omitempty"`
	Source     EventSource              `json:"source"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`

	// Occurrence-only fields, never set on stored templates.
	IsRecurringInstance bool   `json:"is_recurring_instance,omitempty"`
	ParentID            string `json:"parent_id,omitempty"`
	Date                string `json:"date,omitempty"`
}

// IsRecurring reports whether the event is a recurring template.
func (e *Event) IsRecurring() bool {
	return e.Recurrence != nil
}

// HasException reports whether the given local date (YYYY-MM-DD) is
// suppressed for this event.
func (e *Event) HasException(isoDate string) bool {
	for _, d := range e.Exceptions {
		if d == isoDate {
			return true
		}
	}
	return false
}

// Duration returns the event's span. All-day events report 24h.
func (e *Event) Duration() time.Duration {
	if e.AllDay {
		return 24 * time.Hour
	}
	return e.End.Sub(e.Start)
}

// OverlapsRange reports whether the event intersects the half-open window
// [from, to).
func (e *Event) OverlapsRange(from, to time.Time) bool {
	return e.Start.Before(to) && e.End.After(from)
}

// ExternalEvent is the loosely shaped record accepted from external
// calendar feeds. Field pairs mirror the formats emitted by the feeds the
// host app syncs (Google-style nested times, flat ISO strings, date-only
// all-day markers).
type ExternalEvent struct {
	ID               string             `json:"id,omitempty"`
	EventID          string             `json:"eventId,omitempty"`
	Summary          string             `json:"summary,omitempty"`
	Title            string             `json:"title,omitempty"`
	Description      string             `json:"description,omitempty"`
	Location         string             `json:"location,omitempty"`
	Start            *ExternalEventTime `json:"start,omitempty"`
	End              *ExternalEventTime `json:"end,omitempty"`
	StartTime        string             `json:"startTime,omitempty"`
	EndTime          string             `json:"endTime,omitempty"`
	Attendees        []Attendee         `json:"attendees,omitempty"`
	RecurringEventID string             `json:"recurringEventId,omitempty"`
	Calendar         string             `json:"calendar,omitempty"`
}

// ExternalEventTime is one endpoint of an external event: either a full
// instant (DateTime) or a date-only value marking an all-day event.
type ExternalEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}
