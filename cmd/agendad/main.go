package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/analytics"
	"github.com/niva-app/agenda-engine/pkg/brief"
	"github.com/niva-app/agenda-engine/pkg/calendar"
	"github.com/niva-app/agenda-engine/pkg/calendar/icsfeed"
	"github.com/niva-app/agenda-engine/pkg/clock"
	"github.com/niva-app/agenda-engine/pkg/config"
	"github.com/niva-app/agenda-engine/pkg/contacts"
)

const defaultConfigPath = "agendad.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	app, err := NewApp(*configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize agendad: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.logger.Error("Failed to start agendad", "error", err)
		os.Exit(1)
	}
	app.logger.Info("agendad started")

	sig := <-sigChan
	app.logger.Info("Received shutdown signal", "signal", sig)
	app.Stop()
	app.logger.Info("agendad stopped")
}

// App wires the engine's components for the host daemon.
type App struct {
	config    *config.Config
	logger    *slog.Logger
	contacts  *contacts.Store
	calendar  *calendar.Store
	publisher *analytics.Publisher
	scheduler *brief.Scheduler
	cron      *cron.Cron

	mu       sync.Mutex
	external []models.ExternalEvent
}

// NewApp loads configuration and constructs the component graph.
func NewApp(configPath string, debugMode bool) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging, debugMode)
	app := &App{config: cfg, logger: logger}

	if cfg.Analytics.Enabled {
		pubCfg := analytics.DefaultConfig()
		pubCfg.URL = cfg.Analytics.URL
		if cfg.Analytics.SubjectPrefix != "" {
			pubCfg.SubjectPrefix = cfg.Analytics.SubjectPrefix
		}
		if cfg.Analytics.QueueSize > 0 {
			pubCfg.QueueSize = cfg.Analytics.QueueSize
		}
		app.publisher, err = analytics.NewPublisher(pubCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("analytics sink: %w", err)
		}
	}

	contactOpts := []contacts.Option{contacts.WithLogger(logger)}
	if app.publisher != nil {
		contactOpts = append(contactOpts, contacts.WithSink(app.publisher))
	}
	app.contacts = contacts.NewStore(cfg.ContactsDir, contactOpts...)

	calendarOpts := []calendar.Option{
		calendar.WithLogger(logger),
		calendar.WithGuestResolver(app.contacts),
	}
	if app.publisher != nil {
		calendarOpts = append(calendarOpts, calendar.WithSink(app.publisher))
	}
	app.calendar = calendar.NewStore(cfg.CalendarDir, calendarOpts...)

	synthesizer := brief.NewSynthesizer(app.calendar, clock.System{}, logger)
	app.scheduler = brief.NewScheduler(
		&brief.SchedulerConfig{
			TickInterval: time.Minute,
			RetryOnError: cfg.Brief.RetryOnError,
		},
		synthesizer, app.calendar, app.emitBrief, clock.System{}, logger)
	app.scheduler.SetExternalSource(app.externalEvents)

	app.cron = cron.New()
	return app, nil
}

// Start refreshes the feeds once, registers the refresh schedule, and
// starts the brief scheduler.
func (a *App) Start() error {
	a.refreshFeeds()
	if len(a.config.Feeds) > 0 {
		if _, err := a.cron.AddFunc(a.config.FeedRefresh, a.refreshFeeds); err != nil {
			return fmt.Errorf("feed refresh schedule: %w", err)
		}
	}
	a.cron.Start()
	return a.scheduler.Start()
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop() {
	a.scheduler.Stop()
	<-a.cron.Stop().Done()
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
}

// refreshFeeds re-reads the configured ICS files for a rolling window
// around today and teaches the contact book any new attendees.
func (a *App) refreshFeeds() {
	if len(a.config.Feeds) == 0 {
		return
	}
	now := time.Now()
	from := now.AddDate(0, 0, -1)
	to := now.AddDate(0, 0, 14)

	var merged []models.ExternalEvent
	for _, feed := range a.config.Feeds {
		records, err := icsfeed.ParseFile(feed.Path, from, to, icsfeed.Options{
			Calendar: feed.Calendar,
			Logger:   a.logger,
		})
		if err != nil {
			a.logger.Error("feed refresh failed", "feed", feed.Name, "error", err)
			continue
		}
		a.logger.Debug("feed refreshed", "feed", feed.Name, "events", len(records))
		merged = append(merged, records...)
	}

	a.mu.Lock()
	a.external = merged
	a.mu.Unlock()

	var learned []*models.Event
	for _, raw := range merged {
		if ev, err := calendar.NormalizeExternal(raw, time.Local); err == nil {
			learned = append(learned, ev)
		}
	}
	if err := a.contacts.LearnFromEvents(learned); err != nil {
		a.logger.Warn("contact learning from feeds failed", "error", err)
	}
}

func (a *App) externalEvents() []models.ExternalEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ExternalEvent(nil), a.external...)
}

// emitBrief publishes the scheduler's payload to the analytics transport
// when available, otherwise logs it.
func (a *App) emitBrief(ctx context.Context, payload *brief.Payload) {
	a.logger.Info("brief ready",
		"slot", payload.Slot,
		"date", payload.Brief.Date,
		"speech_len", len(payload.Speech))
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, a.config.Brief.Subject, payload); err != nil {
		// The payload still went to the log.
		a.logger.Warn("brief publish failed", "error", err)
	}
}

func setupLogger(cfg config.LoggingConfig, debugMode bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debugMode {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
