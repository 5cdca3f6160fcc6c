// Package brief builds the time-aware daily brief: a structured record of
// the day's meetings, conflicts, transitions and free time, a speech-ready
// prose rendering, and the once-per-day scheduler that emits it.
package brief

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/calendar"
	"github.com/niva-app/agenda-engine/pkg/clock"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// freeSlotMinimumMinutes is the slot floor used when surveying free time
// for the brief.
const freeSlotMinimumMinutes = 30

// Calendar is the slice of the calendar store the synthesizer consumes.
type Calendar interface {
	EventsForDay(date time.Time, external []models.ExternalEvent) ([]*models.Event, error)
	FindDayConflicts(date time.Time, external []models.ExternalEvent) ([]calendar.ConflictPair, error)
	FreeSlots(date time.Time, minDurationMinutes int, external []models.ExternalEvent) ([]calendar.FreeSlot, error)
	Settings() (models.Settings, error)
}

// Status tags a timeline item relative to the brief's reference instant.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in-progress"
	StatusUpcoming   Status = "upcoming"
)

// TimelineItem is one event on the brief's timeline.
type TimelineItem struct {
	Event  *models.Event `json:"event"`
	Status Status        `json:"status"`
}

// Transition is a back-to-back pair: the gap between Current's end and
// Next's start is below the configured minimum.
type Transition struct {
	Current    *models.Event `json:"current"`
	Next       *models.Event `json:"next"`
	GapMinutes int           `json:"gap_minutes"`
}

// Summary holds the brief's headline counts.
type Summary struct {
	TotalEvents     int `json:"total_events"`
	TimedCount      int `json:"timed_count"`
	AllDayCount     int `json:"all_day_count"`
	PastCount       int `json:"past_count"`
	InProgressCount int `json:"in_progress_count"`
	UpcomingCount   int `json:"upcoming_count"`
	// Recurring/one-off split of the upcoming meetings.
	UpcomingRecurring int `json:"upcoming_recurring"`
	UpcomingOneOff    int `json:"upcoming_one_off"`
}

// FreeTime summarizes the day's free slots after now-trimming.
type FreeTime struct {
	Slots []calendar.FreeSlot `json:"slots"`
	// TotalHours sums the surviving slots; on today the portion already
	// behind now is excluded.
	TotalHours float64            `json:"total_hours"`
	Longest    *calendar.FreeSlot `json:"longest,omitempty"`
}

// TomorrowPreview carries the next day's headline.
type TomorrowPreview struct {
	EventCount int           `json:"event_count"`
	FirstEvent *models.Event `json:"first_event,omitempty"`
}

// Brief is the structured daily brief.
type Brief struct {
	Date     string          `json:"date"`
	IsToday  bool            `json:"is_today"`
	Summary  Summary         `json:"summary"`
	Timeline []TimelineItem  `json:"timeline"`
	AllDay   []*models.Event `json:"all_day,omitempty"`

	Conflicts  []calendar.ConflictPair `json:"conflicts,omitempty"`
	BackToBack []Transition            `json:"back_to_back,omitempty"`
	FreeTime   FreeTime                `json:"free_time"`

	CurrentMeeting   *models.Event `json:"current_meeting,omitempty"`
	MinutesRemaining int           `json:"minutes_remaining,omitempty"`
	NextMeeting      *models.Event `json:"next_meeting,omitempty"`
	MinutesUntil     int           `json:"minutes_until,omitempty"`
	FirstMeeting     *models.Event `json:"first_meeting,omitempty"`
	LastMeeting      *models.Event `json:"last_meeting,omitempty"`

	Tomorrow TomorrowPreview `json:"tomorrow"`

	// GeneratedAt is the reference instant the brief was computed
	// against.
	GeneratedAt time.Time `json:"generated_at"`
}

// Synthesizer builds briefs from calendar queries.
type Synthesizer struct {
	cal    Calendar
	clock  clock.Clock
	logger *slog.Logger
}

// NewSynthesizer creates a brief synthesizer. A nil clock uses the system
// clock; a nil logger uses slog.Default.
func NewSynthesizer(cal Calendar, clk clock.Clock, logger *slog.Logger) *Synthesizer {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{cal: cal, clock: clk, logger: logger}
}

// Synthesize builds the brief for date. A zero now uses the injected
// clock.
func (s *Synthesizer) Synthesize(date time.Time, now time.Time, external []models.ExternalEvent) (*Brief, error) {
	if now.IsZero() {
		now = s.clock.Now()
	}

	settings, err := s.cal.Settings()
	if err != nil {
		return nil, fmt.Errorf("brief: load settings: %w", err)
	}
	events, err := s.cal.EventsForDay(date, external)
	if err != nil {
		return nil, fmt.Errorf("brief: events for day: %w", err)
	}

	isToday := timeutil.SameDay(date, now)
	b := &Brief{
		Date:        timeutil.ISODate(date),
		IsToday:     isToday,
		GeneratedAt: now,
	}

	var timed, past, inProgress, upcoming []*models.Event
	for _, e := range events {
		if e.AllDay {
			b.AllDay = append(b.AllDay, e)
			continue
		}
		timed = append(timed, e)
		if !isToday {
			upcoming = append(upcoming, e)
			continue
		}
		switch {
		case !e.End.After(now):
			past = append(past, e)
		case !e.Start.After(now):
			inProgress = append(inProgress, e)
		default:
			upcoming = append(upcoming, e)
		}
	}

	b.Summary = Summary{
		TotalEvents:     len(events),
		TimedCount:      len(timed),
		AllDayCount:     len(b.AllDay),
		PastCount:       len(past),
		InProgressCount: len(inProgress),
		UpcomingCount:   len(upcoming),
	}
	for _, e := range upcoming {
		if e.IsRecurringInstance || e.IsRecurring() {
			b.Summary.UpcomingRecurring++
		} else {
			b.Summary.UpcomingOneOff++
		}
	}

	for _, e := range timed {
		item := TimelineItem{Event: e, Status: StatusUpcoming}
		if isToday {
			switch {
			case !e.End.After(now):
				item.Status = StatusCompleted
			case !e.Start.After(now):
				item.Status = StatusInProgress
			}
		}
		b.Timeline = append(b.Timeline, item)
	}

	pairs, err := s.cal.FindDayConflicts(date, external)
	if err != nil {
		return nil, fmt.Errorf("brief: day conflicts: %w", err)
	}
	for _, p := range pairs {
		if isToday && !p.A.End.After(now) && !p.B.End.After(now) {
			continue // both already behind us
		}
		b.Conflicts = append(b.Conflicts, p)
	}

	b.BackToBack = findTransitions(isToday, inProgress, upcoming, timed, settings.MinGapMinutes)

	slots, err := s.cal.FreeSlots(date, freeSlotMinimumMinutes, external)
	if err != nil {
		return nil, fmt.Errorf("brief: free slots: %w", err)
	}
	b.FreeTime = summarizeFreeTime(slots, now, isToday)

	if len(inProgress) > 0 {
		b.CurrentMeeting = inProgress[0]
		b.MinutesRemaining = timeutil.DurationMinutes(now, inProgress[0].End)
	}
	if len(upcoming) > 0 {
		b.NextMeeting = upcoming[0]
		if isToday {
			b.MinutesUntil = timeutil.DurationMinutes(now, upcoming[0].Start)
		}
	}
	if len(timed) > 0 {
		b.FirstMeeting = timed[0]
		b.LastMeeting = timed[len(timed)-1]
	}

	tomorrow := timeutil.AddDays(timeutil.StartOfDay(date), 1)
	tomorrowEvents, err := s.cal.EventsForDay(tomorrow, nil)
	if err != nil {
		s.logger.Warn("brief: tomorrow preview unavailable", "error", err)
	} else {
		b.Tomorrow.EventCount = len(tomorrowEvents)
		for _, e := range tomorrowEvents {
			if !e.AllDay {
				b.Tomorrow.FirstEvent = e
				break
			}
		}
	}

	return b, nil
}

// findTransitions walks the relevant timed events in start order and
// emits each adjacent pair closer than the configured minimum gap.
func findTransitions(isToday bool, inProgress, upcoming, timed []*models.Event, minGapMinutes int) []Transition {
	var walk []*models.Event
	if isToday {
		walk = append(walk, inProgress...)
		walk = append(walk, upcoming...)
	} else {
		walk = timed
	}

	var out []Transition
	for i := 0; i+1 < len(walk); i++ {
		gap := timeutil.DurationMinutes(walk[i].End, walk[i+1].Start)
		if gap < minGapMinutes {
			out = append(out, Transition{Current: walk[i], Next: walk[i+1], GapMinutes: gap})
		}
	}
	return out
}

// summarizeFreeTime drops slots already over, trims the active slot to
// now, and picks the longest block.
func summarizeFreeTime(slots []calendar.FreeSlot, now time.Time, isToday bool) FreeTime {
	ft := FreeTime{}
	totalMinutes := 0
	for _, slot := range slots {
		if isToday {
			if !slot.End.After(now) {
				continue
			}
			if slot.Start.Before(now) {
				slot.Start = now
				slot.DurationMinutes = timeutil.DurationMinutes(slot.Start, slot.End)
			}
		}
		ft.Slots = append(ft.Slots, slot)
		totalMinutes += slot.DurationMinutes
	}
	ft.TotalHours = float64(totalMinutes) / 60
	for i := range ft.Slots {
		if ft.Longest == nil || ft.Slots[i].DurationMinutes > ft.Longest.DurationMinutes {
			ft.Longest = &ft.Slots[i]
		}
	}
	return ft
}
