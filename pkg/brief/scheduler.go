package brief

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/clock"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

// Slot identifies one of the two daily delivery slots.
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotEvening Slot = "evening"
)

// Payload is what the scheduler emits when a slot fires.
type Payload struct {
	Slot   Slot   `json:"slot"`
	Speech string `json:"speech"`
	Brief  *Brief `json:"brief"`
}

// EmitFunc is the caller-supplied sink the scheduler hands payloads to.
type EmitFunc func(ctx context.Context, payload *Payload)

// SettingsSource supplies the current brief settings per tick so edits
// take effect without a restart.
type SettingsSource interface {
	Settings() (models.Settings, error)
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	// TickInterval defaults to one minute.
	TickInterval time.Duration
	// RetryOnError leaves the day unmarked when synthesis fails so the
	// next tick retries. The default marks the day fired regardless, to
	// avoid a per-minute failure storm.
	RetryOnError bool
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{TickInterval: time.Minute}
}

// Scheduler fires the synthesizer at most once per local day per slot, at
// the configured wall-clock minute.
type Scheduler struct {
	config      *SchedulerConfig
	synthesizer *Synthesizer
	settings    SettingsSource
	emit        EmitFunc
	clock       clock.Clock
	logger      *slog.Logger

	mu        sync.Mutex
	lastFired map[Slot]string // slot -> local date already delivered
	running   bool
	external  func() []models.ExternalEvent

	cancel       context.CancelFunc
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// NewScheduler creates a brief scheduler. Nil config, clock and logger
// take defaults.
func NewScheduler(config *SchedulerConfig, synthesizer *Synthesizer, settings SettingsSource, emit EmitFunc, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config:      config,
		synthesizer: synthesizer,
		settings:    settings,
		emit:        emit,
		clock:       clk,
		logger:      logger,
		lastFired:   make(map[Slot]string),
	}
}

// SetExternalSource supplies already-fetched external events to each
// synthesis. Call before Start.
func (s *Scheduler) SetExternalSource(fn func() []models.ExternalEvent) {
	s.external = fn
}

// Start begins the minute tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("brief scheduler is already running")
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.shutdownChan = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("brief scheduler started", "tick_interval", s.config.TickInterval)
	return nil
}

// Stop clears the tick and releases resources.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	close(s.shutdownChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("brief scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			s.tick(ctx, s.clock.Now())
		}
	}
}

// tick checks both slots against now and fires any that are due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	settings, err := s.settings.Settings()
	if err != nil {
		s.logger.Error("brief scheduler could not load settings", "error", err)
		return
	}

	s.checkSlot(ctx, SlotMorning, settings.MorningBriefEnabled, settings.MorningBriefTime, now)
	s.checkSlot(ctx, SlotEvening, settings.EveningSummaryEnabled, settings.EveningSummaryTime, now)
}

func (s *Scheduler) checkSlot(ctx context.Context, slot Slot, enabled bool, wallClock string, now time.Time) {
	if !enabled {
		return
	}
	today := timeutil.ISODate(now)

	s.mu.Lock()
	alreadyFired := s.lastFired[slot] == today
	s.mu.Unlock()
	if alreadyFired {
		return
	}

	hour, minute, err := parseWallClock(wallClock)
	if err != nil {
		s.logger.Error("invalid brief time in settings", "slot", slot, "value", wallClock, "error", err)
		return
	}
	if now.Hour() != hour || now.Minute() != minute {
		return
	}

	// Mark before synthesizing: a failing synthesizer must not retry
	// every minute unless explicitly asked to.
	if !s.config.RetryOnError {
		s.markFired(slot, today)
	}

	var external []models.ExternalEvent
	if s.external != nil {
		external = s.external()
	}
	b, err := s.synthesizer.Synthesize(timeutil.StartOfDay(now), now, external)
	if err != nil {
		s.logger.Error("brief synthesis failed", "slot", slot, "date", today, "error", err)
		return
	}
	if s.config.RetryOnError {
		s.markFired(slot, today)
	}

	payload := &Payload{Slot: slot, Speech: RenderForSpeech(b), Brief: b}
	s.logger.Info("brief delivered", "slot", slot, "date", today,
		"events", b.Summary.TotalEvents, "conflicts", len(b.Conflicts))
	if s.emit != nil {
		s.emit(ctx, payload)
	}
}

func (s *Scheduler) markFired(slot Slot, date string) {
	s.mu.Lock()
	s.lastFired[slot] = date
	s.mu.Unlock()
}

// parseWallClock parses "HH:MM".
func parseWallClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q is not HH:MM", timeutil.ErrInvalidTime, value)
	}
	return t.Hour(), t.Minute(), nil
}
