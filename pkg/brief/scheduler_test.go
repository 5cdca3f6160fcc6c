package brief

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/clock"
)

type capturedEmit struct {
	payloads []*Payload
}

func (c *capturedEmit) emit(ctx context.Context, payload *Payload) {
	c.payloads = append(c.payloads, payload)
}

func newTestScheduler(t *testing.T, cal *fakeCalendar, config *SchedulerConfig) (*Scheduler, *capturedEmit, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(ts(13, 7, 59))
	captured := &capturedEmit{}
	synth := NewSynthesizer(cal, fake, nil)
	sched := NewScheduler(config, synth, cal, captured.emit, fake, nil)
	return sched, captured, fake
}

func TestTickFiresAtConfiguredMinute(t *testing.T) {
	cal := newFakeCalendar()
	cal.addEvent(timedEvent("e1", "Standup", ts(13, 9, 0), ts(13, 9, 15)))
	sched, captured, _ := newTestScheduler(t, cal, nil)

	ctx := context.Background()
	sched.tick(ctx, ts(13, 7, 59))
	if len(captured.payloads) != 0 {
		t.Fatal("fired before the configured minute")
	}

	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 1 {
		t.Fatalf("expected one payload at 08:00, got %d", len(captured.payloads))
	}
	p := captured.payloads[0]
	if p.Slot != SlotMorning {
		t.Errorf("slot = %s, want morning", p.Slot)
	}
	if p.Brief == nil || p.Brief.Date != "2024-03-13" {
		t.Errorf("payload brief wrong: %+v", p.Brief)
	}
	if p.Speech == "" {
		t.Error("payload should carry rendered speech")
	}
}

func TestTickFiresOncePerDay(t *testing.T) {
	cal := newFakeCalendar()
	sched, captured, _ := newTestScheduler(t, cal, nil)

	ctx := context.Background()
	sched.tick(ctx, ts(13, 8, 0))
	sched.tick(ctx, ts(13, 8, 0))
	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 1 {
		t.Fatalf("same-minute ticks fired %d times, want 1", len(captured.payloads))
	}

	// The next day fires again.
	sched.tick(ctx, ts(14, 8, 0))
	if len(captured.payloads) != 2 {
		t.Fatalf("next day did not fire, payloads = %d", len(captured.payloads))
	}
}

func TestTickSkipsDisabledSlots(t *testing.T) {
	cal := newFakeCalendar()
	cal.settings.MorningBriefEnabled = false
	sched, captured, _ := newTestScheduler(t, cal, nil)

	sched.tick(context.Background(), ts(13, 8, 0))
	if len(captured.payloads) != 0 {
		t.Error("disabled morning slot fired")
	}
}

func TestTickEveningSlot(t *testing.T) {
	cal := newFakeCalendar()
	cal.settings.EveningSummaryEnabled = true

	sched, captured, _ := newTestScheduler(t, cal, nil)
	ctx := context.Background()

	sched.tick(ctx, ts(13, 8, 0))
	sched.tick(ctx, ts(13, 18, 0))
	if len(captured.payloads) != 2 {
		t.Fatalf("expected morning and evening payloads, got %d", len(captured.payloads))
	}
	if captured.payloads[1].Slot != SlotEvening {
		t.Errorf("second slot = %s, want evening", captured.payloads[1].Slot)
	}
}

func TestTickMarksDayOnFailureByDefault(t *testing.T) {
	cal := newFakeCalendar()
	cal.eventsErr = errors.New("store offline")
	sched, captured, _ := newTestScheduler(t, cal, nil)

	ctx := context.Background()
	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 0 {
		t.Fatal("failed synthesis must not emit")
	}

	// The store recovers, but the default policy already spent the day.
	cal.eventsErr = nil
	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 0 {
		t.Error("default policy should not retry within the day")
	}
}

func TestTickRetriesWhenConfigured(t *testing.T) {
	cal := newFakeCalendar()
	cal.eventsErr = errors.New("store offline")
	sched, captured, _ := newTestScheduler(t, cal, &SchedulerConfig{RetryOnError: true})

	ctx := context.Background()
	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 0 {
		t.Fatal("failed synthesis must not emit")
	}

	cal.eventsErr = nil
	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 1 {
		t.Fatalf("retry policy should fire after recovery, payloads = %d", len(captured.payloads))
	}

	// Once delivered, the day is spent even under the retry policy.
	sched.tick(ctx, ts(13, 8, 0))
	if len(captured.payloads) != 1 {
		t.Error("retry policy double-delivered")
	}
}

func TestTickRejectsMalformedBriefTime(t *testing.T) {
	cal := newFakeCalendar()
	cal.settings.MorningBriefTime = "eight sharp"
	sched, captured, _ := newTestScheduler(t, cal, nil)

	sched.tick(context.Background(), ts(13, 8, 0))
	if len(captured.payloads) != 0 {
		t.Error("malformed wall-clock value should not fire")
	}
}

func TestTickPassesExternalEvents(t *testing.T) {
	cal := newFakeCalendar()
	var sawExternal bool
	sched, _, _ := newTestScheduler(t, cal, nil)
	sched.SetExternalSource(func() []models.ExternalEvent {
		sawExternal = true
		return nil
	})

	sched.tick(context.Background(), ts(13, 8, 0))
	if !sawExternal {
		t.Error("scheduler did not consult the external source")
	}
}

func TestStartStop(t *testing.T) {
	cal := newFakeCalendar()
	sched, _, _ := newTestScheduler(t, cal, &SchedulerConfig{TickInterval: 10 * time.Millisecond})

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Start(); err == nil {
		t.Error("second Start should fail while running")
	}
	sched.Stop()
	// Stop is idempotent.
	sched.Stop()

	if err := sched.Start(); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	sched.Stop()
}

func TestParseWallClock(t *testing.T) {
	h, m, err := parseWallClock("08:05")
	if err != nil || h != 8 || m != 5 {
		t.Errorf("parseWallClock(08:05) = %d:%d, %v", h, m, err)
	}
	if _, _, err := parseWallClock("25:00"); err == nil {
		t.Error("out-of-range hour should fail")
	}
	if _, _, err := parseWallClock("8am"); err == nil {
		t.Error("non HH:MM should fail")
	}
}
