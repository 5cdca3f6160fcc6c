package calendar

import (
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/recurrence"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// dedupeWindow is how close two externally sourced events with the same
// title must start to be considered duplicates of a stored event.
const dedupeWindow = 5 * time.Minute

// EventsInRange returns every occurrence in the half-open window
// [from, to): recurring templates are expanded, one-offs included when
// their interval overlaps, and external records merged in after
// deduplication. Output is sorted by start, ties broken by id.
func (s *Store) EventsInRange(from, to time.Time, external []models.ExternalEvent) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.eventsInRangeLocked(from, to, external), nil
}

func (s *Store) eventsInRangeLocked(from, to time.Time, external []models.ExternalEvent) []*models.Event {
	var out []*models.Event
	for _, e := range s.events {
		if e.IsRecurring() {
			out = append(out, recurrence.Expand(e, from, to, s.logger)...)
		} else if e.OverlapsRange(from, to) {
			out = append(out, s.snapshot(e))
		}
	}
	out = s.mergeExternal(out, external, from, to)
	sortEvents(out)
	return out
}

// mergeExternal normalizes raw external records and appends the ones that
// are not duplicates of an already included event. Duplicates match first
// by id, then by equal lowercased title with starts within five minutes.
func (s *Store) mergeExternal(events []*models.Event, external []models.ExternalEvent, from, to time.Time) []*models.Event {
	for _, raw := range external {
		ev, err := NormalizeExternal(raw, s.clock.Location())
		if err != nil {
			s.logger.Warn("skipping malformed external event", "error", err, "id", raw.ID)
			continue
		}
		if !ev.OverlapsRange(from, to) {
			continue
		}
		if isDuplicate(events, ev) {
			continue
		}
		events = append(events, ev)
	}
	return events
}

func isDuplicate(events []*models.Event, candidate *models.Event) bool {
	title := normalizeTitle(candidate.Title)
	for _, e := range events {
		if candidate.ID != "" && (e.ID == candidate.ID || e.ParentID == candidate.ID) {
			return true
		}
		if title != "" && normalizeTitle(e.Title) == title {
			delta := e.Start.Sub(candidate.Start)
			if delta < 0 {
				delta = -delta
			}
			if delta < dedupeWindow {
				return true
			}
		}
	}
	return false
}

// EventsForDay returns the day's events, local midnight through the last
// millisecond of the day.
func (s *Store) EventsForDay(date time.Time, external []models.ExternalEvent) ([]*models.Event, error) {
	return s.EventsInRange(timeutil.StartOfDay(date), timeutil.EndOfDay(date), external)
}

// EventsToday returns today's events by the store clock.
func (s *Store) EventsToday(external []models.ExternalEvent) ([]*models.Event, error) {
	return s.EventsForDay(s.clock.Now(), external)
}

// EventsThisWeek returns the current local week, Monday 00:00 through
// Sunday 23:59:59.999.
func (s *Store) EventsThisWeek(external []models.ExternalEvent) ([]*models.Event, error) {
	now := s.clock.Now()
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week that started the previous Monday
	}
	monday := timeutil.StartOfDay(timeutil.AddDays(now, -(weekday - 1)))
	sunday := timeutil.EndOfDay(timeutil.AddDays(monday, 6))
	return s.EventsInRange(monday, sunday, external)
}

// FindConflicts returns non-all-day events overlapping [start, end),
// excluding excludeID and occurrences derived from it. The expansion
// window is padded one day each side so recurrences anchored on adjacent
// days are caught.
func (s *Store) FindConflicts(start, end time.Time, excludeID string) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.findConflictsLocked(start, end, excludeID), nil
}

func (s *Store) findConflictsLocked(start, end time.Time, excludeID string) []*models.Event {
	windowStart := timeutil.AddDays(timeutil.StartOfDay(start), -1)
	windowEnd := timeutil.AddDays(timeutil.EndOfDay(end), 1)

	var conflicts []*models.Event
	for _, e := range s.eventsInRangeLocked(windowStart, windowEnd, nil) {
		if e.AllDay {
			continue
		}
		if excludeID != "" && (e.ID == excludeID || e.ParentID == excludeID) {
			continue
		}
		if timeutil.Overlaps(e.Start, e.End, start, end) {
			conflicts = append(conflicts, e)
		}
	}
	return conflicts
}

// IsAvailable reports whether [start, end) is free of conflicts.
func (s *Store) IsAvailable(start, end time.Time) (bool, error) {
	conflicts, err := s.FindConflicts(start, end, "")
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

// ConflictPair is one overlapping pair reported by FindDayConflicts, with
// A starting no later than B.
type ConflictPair struct {
	A              *models.Event `json:"a"`
	B              *models.Event `json:"b"`
	OverlapMinutes int           `json:"overlap_minutes"`
}

// FindDayConflicts reports every overlapping pair of non-all-day events on
// the given day.
func (s *Store) FindDayConflicts(date time.Time, external []models.ExternalEvent) ([]ConflictPair, error) {
	events, err := s.EventsForDay(date, external)
	if err != nil {
		return nil, err
	}

	var timed []*models.Event
	for _, e := range events {
		if !e.AllDay {
			timed = append(timed, e)
		}
	}

	var pairs []ConflictPair
	for i := 0; i < len(timed); i++ {
		for j := i + 1; j < len(timed); j++ {
			a, b := timed[i], timed[j]
			if !timeutil.Overlaps(a.Start, a.End, b.Start, b.End) {
				continue
			}
			overlapEnd := a.End
			if b.End.Before(overlapEnd) {
				overlapEnd = b.End
			}
			overlapStart := a.Start
			if b.Start.After(overlapStart) {
				overlapStart = b.Start
			}
			pairs = append(pairs, ConflictPair{
				A:              a,
				B:              b,
				OverlapMinutes: timeutil.DurationMinutes(overlapStart, overlapEnd),
			})
		}
	}
	return pairs, nil
}

// FreeSlot is a gap inside the working-hours window.
type FreeSlot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// FreeSlots walks the day's non-all-day events and returns the gaps of at
// least minDuration minutes inside working hours. A meeting running past
// the working-hours end clips the search.
func (s *Store) FreeSlots(date time.Time, minDurationMinutes int, external []models.ExternalEvent) ([]FreeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.freeSlotsLocked(date, minDurationMinutes, external), nil
}

func (s *Store) freeSlotsLocked(date time.Time, minDurationMinutes int, external []models.ExternalEvent) []FreeSlot {
	day := timeutil.StartOfDay(date)
	windowStart := day.Add(time.Duration(s.settings.WorkingHours.Start) * time.Hour)
	windowEnd := day.Add(time.Duration(s.settings.WorkingHours.End) * time.Hour)

	events := s.eventsInRangeLocked(day, timeutil.EndOfDay(date), external)

	var slots []FreeSlot
	cursor := windowStart
	for _, e := range events {
		if e.AllDay || !e.End.After(windowStart) || !e.Start.Before(windowEnd) {
			continue
		}
		if e.Start.After(cursor) {
			gapEnd := e.Start
			if gapEnd.After(windowEnd) {
				gapEnd = windowEnd
			}
			if timeutil.DurationMinutes(cursor, gapEnd) >= minDurationMinutes {
				slots = append(slots, FreeSlot{
					Start:           cursor,
					End:             gapEnd,
					DurationMinutes: timeutil.DurationMinutes(cursor, gapEnd),
				})
			}
		}
		if e.End.After(cursor) {
			cursor = e.End
		}
		if !cursor.Before(windowEnd) {
			return slots
		}
	}
	if timeutil.DurationMinutes(cursor, windowEnd) >= minDurationMinutes {
		slots = append(slots, FreeSlot{
			Start:           cursor,
			End:             windowEnd,
			DurationMinutes: timeutil.DurationMinutes(cursor, windowEnd),
		})
	}
	return slots
}

// SuggestAlternatives scans up to five days from preferredDate and returns
// free slot starts that fit the requested duration, capped at maxCount.
func (s *Store) SuggestAlternatives(durationMinutes int, preferredDate time.Time, maxCount int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		maxCount = 3
	}
	var out []time.Time
	for day := 0; day < 5 && len(out) < maxCount; day++ {
		date := timeutil.AddDays(preferredDate, day)
		for _, slot := range s.freeSlotsLocked(date, durationMinutes, nil) {
			out = append(out, slot.Start)
			if len(out) == maxCount {
				break
			}
		}
	}
	return out, nil
}

// DayBalance summarizes how busy the working-hours window is on a day.
type DayBalance struct {
	TotalWorkHours float64 `json:"total_work_hours"`
	BusyHours      float64 `json:"busy_hours"`
	FreeHours      float64 `json:"free_hours"`
	BusyPercent    int     `json:"busy_percent"`
	EventCount     int     `json:"event_count"`
}

// Balance computes the day's busy/free split. Busy time is clipped to the
// working-hours window.
func (s *Store) Balance(date time.Time, external []models.ExternalEvent) (*DayBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	day := timeutil.StartOfDay(date)
	windowStart := day.Add(time.Duration(s.settings.WorkingHours.Start) * time.Hour)
	windowEnd := day.Add(time.Duration(s.settings.WorkingHours.End) * time.Hour)
	total := windowEnd.Sub(windowStart).Hours()

	events := s.eventsInRangeLocked(day, timeutil.EndOfDay(date), external)

	busy := 0.0
	count := 0
	cursor := windowStart
	for _, e := range events {
		if e.AllDay {
			continue
		}
		count++
		start := e.Start
		end := e.End
		if start.Before(cursor) {
			start = cursor // overlapping meetings must not double-count
		}
		if end.After(windowEnd) {
			end = windowEnd
		}
		if end.After(start) {
			busy += end.Sub(start).Hours()
			cursor = end
		}
	}
	if busy > total {
		busy = total
	}

	balance := &DayBalance{
		TotalWorkHours: total,
		BusyHours:      busy,
		FreeHours:      total - busy,
		EventCount:     count,
	}
	if total > 0 {
		balance.BusyPercent = int(busy/total*100 + 0.5)
	}
	return balance, nil
}
