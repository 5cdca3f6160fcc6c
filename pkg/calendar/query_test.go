package calendar

import (
	"testing"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/clock"
)

func TestEventsInRangeExpandsAndSorts(t *testing.T) {
	store := newTestStore(t)
	store.Add(AddParams{
		Title:      "Standup",
		Start:      at(11, 9, 0),
		End:        at(11, 9, 15),
		Recurrence: &models.RecurrenceRule{Pattern: models.PatternDaily},
	})
	store.Add(AddParams{Title: "Lunch", Start: at(14, 12, 0), End: at(14, 13, 0)})
	store.Add(AddParams{Title: "Last week", Start: at(4, 10, 0), End: at(4, 11, 0)})

	events, err := store.EventsInRange(at(14, 0, 0), at(15, 23, 59), nil)
	if err != nil {
		t.Fatalf("EventsInRange: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 2 standups and a lunch, got %v", titles(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Start.Before(events[i-1].Start) {
			t.Error("events out of order")
		}
	}
	if events[0].Title != "Standup" || events[1].Title != "Lunch" {
		t.Errorf("unexpected order: %v", titles(events))
	}
}

func TestMergeExternalDedupes(t *testing.T) {
	store := newTestStore(t)
	res, _ := store.Add(AddParams{Title: "Design Review", Start: at(14, 10, 0), End: at(14, 11, 0)})

	external := []models.ExternalEvent{
		// Same id as the stored event.
		{ID: res.Event.ID, Summary: "Design Review", StartTime: "2024-03-14T10:00:00Z", EndTime: "2024-03-14T11:00:00Z"},
		// Same title, start within the five-minute window.
		{ID: "ext-1", Summary: "design review", StartTime: "2024-03-14T10:03:00Z", EndTime: "2024-03-14T11:00:00Z"},
		// Same title but a genuinely different meeting.
		{ID: "ext-2", Summary: "Design Review", StartTime: "2024-03-14T15:00:00Z", EndTime: "2024-03-14T16:00:00Z"},
		// Unrelated.
		{ID: "ext-3", Summary: "External Sync", StartTime: "2024-03-14T12:00:00Z", EndTime: "2024-03-14T12:30:00Z"},
	}

	events, err := store.EventsForDay(at(14, 0, 0), external)
	if err != nil {
		t.Fatalf("EventsForDay: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected stored event plus two externals, got %v", titles(events))
	}
	seen := make(map[string]bool)
	for _, e := range events {
		seen[e.ID] = true
	}
	if seen["ext-1"] {
		t.Error("near-identical external event not deduplicated")
	}
	if !seen["ext-2"] || !seen["ext-3"] {
		t.Error("distinct external events were dropped")
	}
}

func TestEventsThisWeekBoundaries(t *testing.T) {
	// testNow is Wednesday 2024-03-13; the week runs Mon Mar 11 through
	// Sun Mar 17.
	store := newTestStore(t)
	store.Add(AddParams{Title: "Monday", Start: at(11, 0, 30), End: at(11, 1, 0)})
	store.Add(AddParams{Title: "Sunday night", Start: at(17, 23, 0), End: at(17, 23, 30)})
	store.Add(AddParams{Title: "Previous Sunday", Start: at(10, 12, 0), End: at(10, 13, 0)})
	store.Add(AddParams{Title: "Next Monday", Start: at(18, 9, 0), End: at(18, 10, 0)})

	events, err := store.EventsThisWeek(nil)
	if err != nil {
		t.Fatalf("EventsThisWeek: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected only Monday and Sunday night, got %v", titles(events))
	}

	// A Sunday clock keeps the same week.
	sundayStore := newTestStore(t, WithClock(clock.NewFake(at(17, 12, 0))))
	sundayStore.Add(AddParams{Title: "Monday", Start: at(11, 0, 30), End: at(11, 1, 0)})
	events, _ = sundayStore.EventsThisWeek(nil)
	if len(events) != 1 {
		t.Error("Sunday should still belong to the week that started the previous Monday")
	}
}

func TestFindConflictsCatchesAdjacentDayRecurrences(t *testing.T) {
	store := newTestStore(t)
	// Recurrence anchored days before the probe window.
	store.Add(AddParams{
		Title:      "Standup",
		Start:      at(4, 9, 0),
		End:        at(4, 9, 30),
		Recurrence: &models.RecurrenceRule{Pattern: models.PatternDaily},
	})

	conflicts, err := store.FindConflicts(at(14, 9, 15), at(14, 10, 0), "")
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Title != "Standup" {
		t.Errorf("recurring occurrence not detected as conflict: %v", titles(conflicts))
	}
}

func TestFindConflictsExcludesSelfAndOccurrences(t *testing.T) {
	store := newTestStore(t)
	res, _ := store.Add(AddParams{
		Title:      "Standup",
		Start:      at(11, 9, 0),
		End:        at(11, 9, 30),
		Recurrence: &models.RecurrenceRule{Pattern: models.PatternDaily},
	})

	conflicts, err := store.FindConflicts(at(14, 9, 0), at(14, 9, 30), res.Event.ID)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("event conflicts with its own occurrences: %v", titles(conflicts))
	}
}

func TestIsAvailable(t *testing.T) {
	store := newTestStore(t)
	store.Add(AddParams{Title: "Busy", Start: at(14, 10, 0), End: at(14, 11, 0)})

	free, err := store.IsAvailable(at(14, 11, 0), at(14, 12, 0))
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !free {
		t.Error("the slot after a meeting should be available")
	}

	busy, _ := store.IsAvailable(at(14, 10, 30), at(14, 11, 30))
	if busy {
		t.Error("an overlapping slot should not be available")
	}
}

func TestFindDayConflictsReportsOverlapMinutes(t *testing.T) {
	store := newTestStore(t)
	store.Add(AddParams{Title: "A", Start: at(14, 10, 0), End: at(14, 11, 0)})
	store.Add(AddParams{Title: "B", Start: at(14, 10, 30), End: at(14, 11, 30)})
	store.Add(AddParams{Title: "C", Start: at(14, 13, 0), End: at(14, 14, 0)})
	store.Add(AddParams{Title: "Holiday", Start: at(14, 0, 0), AllDay: true})

	pairs, err := store.FindDayConflicts(at(14, 0, 0), nil)
	if err != nil {
		t.Fatalf("FindDayConflicts: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected a single conflicting pair, got %d", len(pairs))
	}
	p := pairs[0]
	if p.OverlapMinutes != 30 {
		t.Errorf("overlap = %d minutes, want 30", p.OverlapMinutes)
	}
	if p.A.Title != "A" || p.B.Title != "B" {
		t.Errorf("pair order wrong: %s / %s", p.A.Title, p.B.Title)
	}
}

func TestFreeSlots(t *testing.T) {
	store := newTestStore(t)
	store.Add(AddParams{Title: "Mid-morning", Start: at(14, 10, 0), End: at(14, 11, 0)})
	store.Add(AddParams{Title: "Afternoon", Start: at(14, 14, 0), End: at(14, 15, 0)})

	slots, err := store.FreeSlots(at(14, 0, 0), 30, nil)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	// Working hours 9-17: gaps are 9-10, 11-14, 15-17.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d: %+v", len(slots), slots)
	}
	wantStarts := []time.Time{at(14, 9, 0), at(14, 11, 0), at(14, 15, 0)}
	wantMinutes := []int{60, 180, 120}
	for i, slot := range slots {
		if !slot.Start.Equal(wantStarts[i]) {
			t.Errorf("slot %d starts %v, want %v", i, slot.Start, wantStarts[i])
		}
		if slot.DurationMinutes != wantMinutes[i] {
			t.Errorf("slot %d duration = %d, want %d", i, slot.DurationMinutes, wantMinutes[i])
		}
	}

	// A higher floor filters the short gap.
	long, _ := store.FreeSlots(at(14, 0, 0), 90, nil)
	if len(long) != 2 {
		t.Errorf("expected 2 slots of at least 90 minutes, got %d", len(long))
	}
}

func TestFreeSlotsMeetingPastWindowEnd(t *testing.T) {
	store := newTestStore(t)
	store.Add(AddParams{Title: "Late", Start: at(14, 16, 0), End: at(14, 19, 0)})

	slots, _ := store.FreeSlots(at(14, 0, 0), 30, nil)
	if len(slots) != 1 {
		t.Fatalf("expected a single morning slot, got %+v", slots)
	}
	if !slots[0].End.Equal(at(14, 16, 0)) {
		t.Errorf("slot should end when the late meeting starts, got %v", slots[0].End)
	}
}

func TestSuggestAlternatives(t *testing.T) {
	store := newTestStore(t)
	// Fill Thursday's working hours completely.
	store.Add(AddParams{Title: "Offsite", Start: at(14, 9, 0), End: at(14, 17, 0)})

	suggestions, err := store.SuggestAlternatives(60, at(14, 0, 0), 3)
	if err != nil {
		t.Fatalf("SuggestAlternatives: %v", err)
	}
	if len(suggestions) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(suggestions))
	}
	if suggestions[0].Day() == 14 {
		t.Error("fully booked day should yield no suggestion")
	}
	if !suggestions[0].Equal(at(15, 9, 0)) {
		t.Errorf("first suggestion = %v, want Friday 09:00", suggestions[0])
	}
}

func TestBalance(t *testing.T) {
	store := newTestStore(t)
	store.Add(AddParams{Title: "A", Start: at(14, 10, 0), End: at(14, 12, 0)})
	// Overlapping meeting must not double-count.
	store.Add(AddParams{Title: "B", Start: at(14, 11, 0), End: at(14, 13, 0)})
	// Runs past working hours; only the in-window part counts.
	store.Add(AddParams{Title: "C", Start: at(14, 16, 0), End: at(14, 18, 0)})

	balance, err := store.Balance(at(14, 0, 0), nil)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.TotalWorkHours != 8 {
		t.Errorf("total = %v, want 8", balance.TotalWorkHours)
	}
	if balance.BusyHours != 4 {
		t.Errorf("busy = %v, want 4 (10-13 plus 16-17)", balance.BusyHours)
	}
	if balance.FreeHours != 4 {
		t.Errorf("free = %v, want 4", balance.FreeHours)
	}
	if balance.BusyPercent != 50 {
		t.Errorf("busy percent = %d, want 50", balance.BusyPercent)
	}
	if balance.EventCount != 3 {
		t.Errorf("event count = %d, want 3", balance.EventCount)
	}
}
