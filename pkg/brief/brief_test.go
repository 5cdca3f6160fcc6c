package brief

import (
	"errors"
	"testing"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/calendar"
	"github.com/niva-app/agenda-engine/pkg/clock"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// fakeCalendar implements Calendar and SettingsSource with canned data.
type fakeCalendar struct {
	eventsByDate map[string][]*models.Event
	conflicts    []calendar.ConflictPair
	slots        []calendar.FreeSlot
	settings     models.Settings

	eventsErr   error
	settingsErr error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		eventsByDate: make(map[string][]*models.Event),
		settings:     models.DefaultSettings(),
	}
}

func (f *fakeCalendar) EventsForDay(date time.Time, external []models.ExternalEvent) ([]*models.Event, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.eventsByDate[timeutil.ISODate(date)], nil
}

func (f *fakeCalendar) FindDayConflicts(date time.Time, external []models.ExternalEvent) ([]calendar.ConflictPair, error) {
	return f.conflicts, nil
}

func (f *fakeCalendar) FreeSlots(date time.Time, minDurationMinutes int, external []models.ExternalEvent) ([]calendar.FreeSlot, error) {
	return f.slots, nil
}

func (f *fakeCalendar) Settings() (models.Settings, error) {
	if f.settingsErr != nil {
		return models.Settings{}, f.settingsErr
	}
	return f.settings, nil
}

func ts(d, hh, mm int) time.Time {
	return time.Date(2024, time.March, d, hh, mm, 0, 0, time.UTC)
}

func timedEvent(id, title string, start, end time.Time) *models.Event {
	return &models.Event{ID: id, Title: title, Start: start, End: end}
}

func (f *fakeCalendar) addEvent(e *models.Event) {
	key := timeutil.ISODate(e.Start)
	f.eventsByDate[key] = append(f.eventsByDate[key], e)
}

func TestSynthesizePartitionsToday(t *testing.T) {
	cal := newFakeCalendar()
	cal.addEvent(timedEvent("e1", "Done", ts(13, 8, 0), ts(13, 9, 0)))
	cal.addEvent(timedEvent("e2", "Running", ts(13, 9, 30), ts(13, 10, 30)))
	cal.addEvent(timedEvent("e3", "Later", ts(13, 14, 0), ts(13, 15, 0)))
	cal.addEvent(&models.Event{ID: "e4", Title: "Holiday", Start: ts(13, 0, 0), End: ts(13, 23, 59), AllDay: true})

	now := ts(13, 10, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(13, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if !b.IsToday || b.Date != "2024-03-13" {
		t.Errorf("date fields wrong: %+v", b)
	}
	sum := b.Summary
	if sum.TotalEvents != 4 || sum.TimedCount != 3 || sum.AllDayCount != 1 {
		t.Errorf("counts wrong: %+v", sum)
	}
	if sum.PastCount != 1 || sum.InProgressCount != 1 || sum.UpcomingCount != 1 {
		t.Errorf("partition wrong: %+v", sum)
	}

	if b.CurrentMeeting == nil || b.CurrentMeeting.ID != "e2" {
		t.Fatal("current meeting not detected")
	}
	if b.MinutesRemaining != 30 {
		t.Errorf("minutes remaining = %d, want 30", b.MinutesRemaining)
	}
	if b.NextMeeting == nil || b.NextMeeting.ID != "e3" {
		t.Fatal("next meeting not detected")
	}
	if b.MinutesUntil != 240 {
		t.Errorf("minutes until = %d, want 240", b.MinutesUntil)
	}
	if b.FirstMeeting.ID != "e1" || b.LastMeeting.ID != "e3" {
		t.Errorf("first/last wrong: %s / %s", b.FirstMeeting.ID, b.LastMeeting.ID)
	}

	wantStatus := map[string]Status{"e1": StatusCompleted, "e2": StatusInProgress, "e3": StatusUpcoming}
	for _, item := range b.Timeline {
		if item.Status != wantStatus[item.Event.ID] {
			t.Errorf("timeline status for %s = %s, want %s", item.Event.ID, item.Status, wantStatus[item.Event.ID])
		}
	}
}

func TestSynthesizeFutureDayIsAllUpcoming(t *testing.T) {
	cal := newFakeCalendar()
	cal.addEvent(timedEvent("e1", "Morning", ts(15, 9, 0), ts(15, 10, 0)))
	cal.addEvent(timedEvent("e2", "Afternoon", ts(15, 14, 0), ts(15, 15, 0)))

	now := ts(13, 10, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(15, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if b.IsToday {
		t.Error("a future date must not be marked today")
	}
	if b.Summary.UpcomingCount != 2 || b.Summary.PastCount != 0 {
		t.Errorf("future day partition wrong: %+v", b.Summary)
	}
	if b.MinutesUntil != 0 {
		t.Error("minutes-until only applies to today")
	}
	for _, item := range b.Timeline {
		if item.Status != StatusUpcoming {
			t.Errorf("future day item %s has status %s", item.Event.ID, item.Status)
		}
	}
}

func TestSynthesizeFiltersSettledConflicts(t *testing.T) {
	cal := newFakeCalendar()
	past := calendar.ConflictPair{
		A:              timedEvent("a", "Old A", ts(13, 8, 0), ts(13, 9, 0)),
		B:              timedEvent("b", "Old B", ts(13, 8, 30), ts(13, 9, 30)),
		OverlapMinutes: 30,
	}
	ahead := calendar.ConflictPair{
		A:              timedEvent("c", "New A", ts(13, 14, 0), ts(13, 15, 0)),
		B:              timedEvent("d", "New B", ts(13, 14, 30), ts(13, 15, 30)),
		OverlapMinutes: 30,
	}
	cal.conflicts = []calendar.ConflictPair{past, ahead}
	cal.addEvent(timedEvent("c", "New A", ts(13, 14, 0), ts(13, 15, 0)))

	now := ts(13, 12, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(13, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(b.Conflicts) != 1 || b.Conflicts[0].A.ID != "c" {
		t.Errorf("settled conflict not filtered: %+v", b.Conflicts)
	}
}

func TestSynthesizeBackToBack(t *testing.T) {
	cal := newFakeCalendar()
	cal.settings.MinGapMinutes = 10
	cal.addEvent(timedEvent("e1", "First", ts(13, 13, 0), ts(13, 14, 0)))
	cal.addEvent(timedEvent("e2", "Second", ts(13, 14, 5), ts(13, 15, 0)))
	cal.addEvent(timedEvent("e3", "Third", ts(13, 16, 0), ts(13, 17, 0)))

	now := ts(13, 9, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(13, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(b.BackToBack) != 1 {
		t.Fatalf("back-to-back pairs = %d, want 1", len(b.BackToBack))
	}
	tr := b.BackToBack[0]
	if tr.Current.ID != "e1" || tr.Next.ID != "e2" || tr.GapMinutes != 5 {
		t.Errorf("transition wrong: %+v", tr)
	}
}

func TestSynthesizeFreeTimeTrimsToNow(t *testing.T) {
	cal := newFakeCalendar()
	cal.addEvent(timedEvent("e1", "Anchor", ts(13, 12, 0), ts(13, 13, 0)))
	cal.slots = []calendar.FreeSlot{
		{Start: ts(13, 9, 0), End: ts(13, 10, 0), DurationMinutes: 60},   // fully behind now
		{Start: ts(13, 10, 0), End: ts(13, 12, 0), DurationMinutes: 120}, // active, gets trimmed
		{Start: ts(13, 13, 0), End: ts(13, 17, 0), DurationMinutes: 240}, // ahead
	}

	now := ts(13, 11, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(13, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	ft := b.FreeTime
	if len(ft.Slots) != 2 {
		t.Fatalf("slots = %d, want 2 after dropping the finished one", len(ft.Slots))
	}
	if !ft.Slots[0].Start.Equal(now) || ft.Slots[0].DurationMinutes != 60 {
		t.Errorf("active slot not trimmed to now: %+v", ft.Slots[0])
	}
	if ft.TotalHours != 5 {
		t.Errorf("total hours = %v, want 5", ft.TotalHours)
	}
	if ft.Longest == nil || ft.Longest.DurationMinutes != 240 {
		t.Errorf("longest block wrong: %+v", ft.Longest)
	}
}

func TestSynthesizeTomorrowPreview(t *testing.T) {
	cal := newFakeCalendar()
	cal.addEvent(&models.Event{ID: "t0", Title: "Holiday", Start: ts(14, 0, 0), End: ts(14, 23, 59), AllDay: true})
	cal.addEvent(timedEvent("t1", "Kickoff", ts(14, 9, 0), ts(14, 10, 0)))

	now := ts(13, 10, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(13, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if b.Tomorrow.EventCount != 2 {
		t.Errorf("tomorrow count = %d, want 2", b.Tomorrow.EventCount)
	}
	if b.Tomorrow.FirstEvent == nil || b.Tomorrow.FirstEvent.ID != "t1" {
		t.Error("tomorrow's first event should skip all-day entries")
	}
}

func TestSynthesizeRecurringSplit(t *testing.T) {
	cal := newFakeCalendar()
	standup := timedEvent("s1", "Standup", ts(13, 14, 0), ts(13, 14, 15))
	standup.IsRecurringInstance = true
	standup.ParentID = "tmpl"
	cal.addEvent(standup)
	cal.addEvent(timedEvent("o1", "Interview", ts(13, 15, 0), ts(13, 16, 0)))

	now := ts(13, 9, 0)
	s := NewSynthesizer(cal, clock.NewFake(now), nil)
	b, err := s.Synthesize(ts(13, 0, 0), now, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if b.Summary.UpcomingRecurring != 1 || b.Summary.UpcomingOneOff != 1 {
		t.Errorf("recurring split wrong: %+v", b.Summary)
	}
}

func TestSynthesizePropagatesErrors(t *testing.T) {
	cal := newFakeCalendar()
	cal.settingsErr = errors.New("settings unavailable")

	s := NewSynthesizer(cal, clock.NewFake(ts(13, 9, 0)), nil)
	if _, err := s.Synthesize(ts(13, 0, 0), ts(13, 9, 0), nil); err == nil {
		t.Error("settings failure should surface")
	}

	cal.settingsErr = nil
	cal.eventsErr = errors.New("store unavailable")
	if _, err := s.Synthesize(ts(13, 0, 0), ts(13, 9, 0), nil); err == nil {
		t.Error("events failure should surface")
	}
}
