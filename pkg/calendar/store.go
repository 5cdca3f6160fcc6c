// Package calendar is the single mutable authority over events: CRUD,
// recurrence expansion orchestration, external-event merge, and the
// conflict / free-slot / day-balance analysis built on top of the query
// layer.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/clock"
	"github.com/niva-app/agenda-engine/pkg/contacts"
	"github.com/niva-app/agenda-engine/pkg/recurrence"
	"github.com/niva-app/agenda-engine/pkg/timeutil"
)

var (
	// ErrNotFound is returned for operations on unknown event ids.
	ErrNotFound = errors.New("event not found")

	// ErrNotRecurring is returned when an exception or override is
	// applied to a one-off event.
	ErrNotRecurring = errors.New("event is not recurring")

	// ErrInvalidEvent is returned for malformed event input.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrOverrideMovesDate is returned when an override's start falls on
	// a different local date than the occurrence it targets. Moving an
	// occurrence requires an exception plus a separate event.
	ErrOverrideMovesDate = errors.New("override must not move the occurrence to another date")
)

// AnalyticsSink receives event ingests as fire-and-forget write-through.
type AnalyticsSink interface {
	IngestEvent(ctx context.Context, e *models.Event) error
}

// GuestResolver is the slice of the contact store consulted by the
// attendee ingest path.
type GuestResolver interface {
	ResolveGuests(guests []string) (*contacts.GuestResolution, error)
	RecordUsage(emailOrID string) error
}

// Store owns events.json and settings.json in its directory. Files are
// loaded lazily on first access and flushed synchronously per mutation;
// write failures are logged and in-memory state stays authoritative.
type Store struct {
	dir      string
	logger   *slog.Logger
	clock    clock.Clock
	sink     AnalyticsSink
	resolver GuestResolver

	mu       sync.Mutex
	loaded   bool
	events   map[string]*models.Event
	settings models.Settings
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used for timestamps and day boundaries.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithSink enables analytics write-through.
func WithSink(sink AnalyticsSink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithGuestResolver enables guest-string resolution on Add.
func WithGuestResolver(r GuestResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// NewStore creates a calendar store persisting under dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		logger: slog.Default(),
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) eventsPath() string   { return filepath.Join(s.dir, "events.json") }
func (s *Store) settingsPath() string { return filepath.Join(s.dir, "settings.json") }

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.events = make(map[string]*models.Event)
	s.settings = models.DefaultSettings()

	data, err := os.ReadFile(s.eventsPath())
	if err == nil {
		var list []*models.Event
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("failed to parse event store: %w", err)
		}
		for _, e := range list {
			s.events[e.ID] = e
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read event store: %w", err)
	}

	data, err = os.ReadFile(s.settingsPath())
	if err == nil {
		var settings models.Settings
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("failed to parse settings: %w", err)
		}
		// Stored settings pass the same working-hours check as
		// UpdateSettings; a hand-edited file cannot smuggle in an empty
		// window.
		if settings.WorkingHours.End <= settings.WorkingHours.Start {
			s.logger.Warn("stored settings have an invalid working-hours window, using defaults",
				"start", settings.WorkingHours.Start,
				"end", settings.WorkingHours.End,
				"path", s.settingsPath())
		} else {
			s.settings = settings
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	s.loaded = true
	return nil
}

func (s *Store) saveEvents() {
	list := make([]*models.Event, 0, len(s.events))
	for _, e := range s.events {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		s.logger.Error("failed to serialize event store", "error", err)
		return
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.logger.Error("failed to create calendar directory", "error", err)
		return
	}
	if err := os.WriteFile(s.eventsPath(), data, 0o600); err != nil {
		s.logger.Error("failed to write event store", "error", err, "path", s.eventsPath())
	}
}

func (s *Store) saveSettings() {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		s.logger.Error("failed to serialize settings", "error", err)
		return
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.logger.Error("failed to create calendar directory", "error", err)
		return
	}
	if err := os.WriteFile(s.settingsPath(), data, 0o600); err != nil {
		s.logger.Error("failed to write settings", "error", err, "path", s.settingsPath())
	}
}

func (s *Store) writeThrough(e *models.Event) {
	if s.sink == nil {
		return
	}
	cp := *e
	if err := s.sink.IngestEvent(context.Background(), &cp); err != nil {
		s.logger.Warn("analytics write-through failed", "error", err, "event_id", e.ID)
	}
}

// Settings returns the current settings.
func (s *Store) Settings() (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return models.Settings{}, err
	}
	return s.settings, nil
}

// UpdateSettings replaces the settings after validating the working-hours
// window.
func (s *Store) UpdateSettings(settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if settings.WorkingHours.End <= settings.WorkingHours.Start {
		return fmt.Errorf("%w: working hours end must be after start", ErrInvalidEvent)
	}
	s.settings = settings
	s.saveSettings()
	return nil
}

// AddParams are the caller-supplied fields for Add. A zero End is
// normalized to Start plus the default duration.
type AddParams struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Recurrence  *models.RecurrenceRule
	Reminders   []int
	Attendees   []models.Attendee
	// Guests is a free-text attendee list resolved through the contact
	// store when a resolver is configured.
	Guests   []string
	Calendar string
}

// AddResult pairs the stored event with the conflicts it creates.
type AddResult struct {
	Event     *models.Event
	Conflicts []*models.Event
}

// Add validates and stores a new event, returning it together with any
// conflicts against existing non-all-day events in the same interval.
func (s *Store) Add(params AddParams) (*AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	if err := timeutil.Validate(params.Start); err != nil {
		return nil, fmt.Errorf("%w: missing start", ErrInvalidEvent)
	}
	end := params.End
	if end.IsZero() {
		end = params.Start.Add(time.Duration(s.settings.DefaultDurationMinutes) * time.Minute)
	}
	if !params.AllDay && !end.After(params.Start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidEvent)
	}
	if err := recurrence.Validate(params.Recurrence); err != nil {
		return nil, err
	}

	attendees := append([]models.Attendee(nil), params.Attendees...)
	attendees = append(attendees, s.resolveAttendees(params.Guests)...)

	reminders := params.Reminders
	if reminders == nil {
		reminders = append([]int(nil), s.settings.DefaultReminders...)
	}
	calendarName := params.Calendar
	if calendarName == "" {
		calendarName = s.settings.DefaultCalendar
	}

	now := s.clock.Now()
	e := &models.Event{
		ID:          uuid.NewString(),
		Title:       params.Title,
		Description: params.Description,
		Location:    params.Location,
		Start:       params.Start,
		End:         end,
		AllDay:      params.AllDay,
		Recurrence:  params.Recurrence,
		Exceptions:  []string{},
		Overrides:   map[string]models.EventOverride{},
		Reminders:   reminders,
		Attendees:   attendees,
		Calendar:    calendarName,
		Source:      models.SourceLocal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var conflicts []*models.Event
	if !e.AllDay {
		conflicts = s.findConflictsLocked(e.Start, e.End, "")
	}

	s.events[e.ID] = e
	s.saveEvents()
	s.writeThrough(e)

	return &AddResult{Event: s.snapshot(e), Conflicts: conflicts}, nil
}

// resolveAttendees maps guest tokens through the contact resolver,
// recording usage for each resolved email. Without a resolver, tokens that
// are valid emails are taken as-is.
func (s *Store) resolveAttendees(guests []string) []models.Attendee {
	if len(guests) == 0 {
		return nil
	}
	var out []models.Attendee
	if s.resolver == nil {
		for _, g := range guests {
			if contacts.ValidEmail(g) {
				out = append(out, models.Attendee{Email: contacts.NormalizeEmail(g)})
			}
		}
		return out
	}
	resolution, err := s.resolver.ResolveGuests(guests)
	if err != nil {
		s.logger.Warn("guest resolution failed", "error", err)
		return nil
	}
	for _, r := range resolution.Resolved {
		att := models.Attendee{Email: r.Email}
		if r.Contact != nil {
			att.Name = r.Contact.Name
		}
		out = append(out, att)
		if err := s.resolver.RecordUsage(r.Email); err != nil {
			s.logger.Debug("usage recording skipped", "error", err, "email", r.Email)
		}
	}
	return out
}

// UpdateParams holds the mutable fields for Update; nil fields are left
// unchanged.
type UpdateParams struct {
	Title       *string
	Description *string
	Location    *string
	Start       *time.Time
	End         *time.Time
	AllDay      *bool
	Recurrence  **models.RecurrenceRule
	Reminders   []int
	Attendees   []models.Attendee
	Calendar    *string
}

// Update applies the non-nil fields of params to the event.
func (s *Store) Update(id string, params UpdateParams) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if params.Recurrence != nil {
		if err := recurrence.Validate(*params.Recurrence); err != nil {
			return nil, err
		}
		e.Recurrence = *params.Recurrence
	}
	if params.Title != nil {
		e.Title = *params.Title
	}
	if params.Description != nil {
		e.Description = *params.Description
	}
	if params.Location != nil {
		e.Location = *params.Location
	}
	if params.Start != nil {
		e.Start = *params.Start
	}
	if params.End != nil {
		e.End = *params.End
	}
	if params.AllDay != nil {
		e.AllDay = *params.AllDay
	}
	if params.Reminders != nil {
		e.Reminders = append([]int(nil), params.Reminders...)
	}
	if params.Attendees != nil {
		e.Attendees = append([]models.Attendee(nil), params.Attendees...)
	}
	if params.Calendar != nil {
		e.Calendar = *params.Calendar
	}
	if !e.AllDay && !e.End.After(e.Start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidEvent)
	}
	e.UpdatedAt = s.clock.Now()
	s.saveEvents()
	s.writeThrough(e)
	return s.snapshot(e), nil
}

// Delete removes an event. For recurring events this removes every past
// and future occurrence.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.events, id)
	s.saveEvents()
	return nil
}

// Get returns the event with the given id.
func (s *Store) Get(id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.snapshot(e), nil
}

// Search returns stored events whose title, description or location
// contains the query, optionally restricted to a date range.
func (s *Store) Search(query string, from, to *time.Time) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*models.Event
	for _, e := range s.events {
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Title), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) &&
			!strings.Contains(strings.ToLower(e.Location), q) {
			continue
		}
		if from != nil && e.End.Before(*from) {
			continue
		}
		if to != nil && e.Start.After(*to) {
			continue
		}
		out = append(out, s.snapshot(e))
	}
	sortEvents(out)
	return out, nil
}

// AddException suppresses the recurring event's occurrence on the given
// local date (YYYY-MM-DD).
func (s *Store) AddException(id, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.IsRecurring() {
		return fmt.Errorf("%w: %s", ErrNotRecurring, id)
	}
	if _, err := timeutil.ParseISODate(date, s.clock.Location()); err != nil {
		return err
	}
	if !e.HasException(date) {
		e.Exceptions = append(e.Exceptions, date)
		sort.Strings(e.Exceptions)
	}
	e.UpdatedAt = s.clock.Now()
	s.saveEvents()
	return nil
}

// OverrideOccurrence replaces fields of the occurrence on the given date.
// An override whose start falls on a different local date is rejected; it
// can only take effect on dates where the rule produces an occurrence.
func (s *Store) OverrideOccurrence(id, date string, override models.EventOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.IsRecurring() {
		return fmt.Errorf("%w: %s", ErrNotRecurring, id)
	}
	if _, err := timeutil.ParseISODate(date, s.clock.Location()); err != nil {
		return err
	}
	if override.Start != nil && timeutil.ISODate(*override.Start) != date {
		return fmt.Errorf("%w: override start %s targets date %s",
			ErrOverrideMovesDate, timeutil.ISODate(*override.Start), date)
	}
	if override.Start != nil && override.End != nil && !override.End.After(*override.Start) {
		return fmt.Errorf("%w: override end must be after start", ErrInvalidEvent)
	}
	if override.End != nil && override.Start == nil {
		// Without a start override the occurrence keeps the template's
		// wall-clock start on that date; the new end must stay after it.
		d, err := timeutil.ParseISODate(date, e.Start.Location())
		if err != nil {
			return err
		}
		occStart := time.Date(d.Year(), d.Month(), d.Day(),
			e.Start.Hour(), e.Start.Minute(), e.Start.Second(), 0, e.Start.Location())
		if !override.End.After(occStart) {
			return fmt.Errorf("%w: override end must be after the occurrence start", ErrInvalidEvent)
		}
	}
	if e.Overrides == nil {
		e.Overrides = map[string]models.EventOverride{}
	}
	e.Overrides[date] = override
	e.UpdatedAt = s.clock.Now()
	s.saveEvents()
	return nil
}

// snapshot copies an event so callers never alias store-owned state.
func (s *Store) snapshot(e *models.Event) *models.Event {
	cp := *e
	if e.Recurrence != nil {
		r := *e.Recurrence
		if e.Recurrence.DaysOfWeek != nil {
			r.DaysOfWeek = append([]int(nil), e.Recurrence.DaysOfWeek...)
		}
		cp.Recurrence = &r
	}
	cp.Exceptions = append([]string(nil), e.Exceptions...)
	if e.Overrides != nil {
		cp.Overrides = make(map[string]models.EventOverride, len(e.Overrides))
		for k, v := range e.Overrides {
			cp.Overrides[k] = v
		}
	}
	cp.Reminders = append([]int(nil), e.Reminders...)
	cp.Attendees = append([]models.Attendee(nil), e.Attendees...)
	return &cp
}

// sortEvents orders by start ascending with id as the deterministic
// tie-break.
func sortEvents(list []*models.Event) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Start.Equal(list[j].Start) {
			return list[i].Start.Before(list[j].Start)
		}
		return list[i].ID < list[j].ID
	})
}
