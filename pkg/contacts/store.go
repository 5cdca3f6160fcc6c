// Package contacts implements the persistent contact book: CRUD with
// merge-on-email semantics, fuzzy search, and guest-string resolution used
// by the calendar's attendee ingest.
package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niva-app/agenda-engine/internal/models"
	"github.com/niva-app/agenda-engine/pkg/clock"
)

var (
	// ErrInvalidEmail is returned when an email fails the pragmatic
	// grammar check (local@domain.tld, tld of at least two letters).
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrNotFound is returned for lookups and mutations on unknown ids.
	ErrNotFound = errors.New("contact not found")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[A-Za-z]{2,}$`)

// AnalyticsSink receives contact upserts as a fire-and-forget
// write-through. Errors are the sink's problem; the store never blocks on
// or propagates them.
type AnalyticsSink interface {
	UpsertContact(ctx context.Context, c *models.Contact) error
}

// SortBy selects the ordering of All.
type SortBy string

const (
	SortByName     SortBy = "name"
	SortByRecent   SortBy = "recent"
	SortByFrequent SortBy = "frequent"
)

// AddParams are the caller-supplied fields for Add.
type AddParams struct {
	Name        string
	Email       string
	Aliases     []string
	CalendarURL string
	Company     string
	Notes       string
	Source      models.ContactSource
}

// UpdateParams holds the mutable fields for Update; nil fields are left
// unchanged.
type UpdateParams struct {
	Name        *string
	Email       *string
	Aliases     []string
	CalendarURL *string
	Company     *string
	Notes       *string
}

// Store is the single owner of the contact book. It loads contacts.json
// lazily on first access and flushes synchronously after each mutation;
// write failures are logged and the in-memory state stays authoritative.
type Store struct {
	path   string
	logger *slog.Logger
	clock  clock.Clock
	sink   AnalyticsSink

	mu      sync.Mutex
	loaded  bool
	byID    map[string]*models.Contact
	byEmail map[string]*models.Contact
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithSink enables analytics write-through.
func WithSink(sink AnalyticsSink) Option {
	return func(s *Store) { s.sink = sink }
}

// NewStore creates a contact store persisting to dir/contacts.json.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		path:   filepath.Join(dir, "contacts.json"),
		logger: slog.Default(),
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// contactsFile is the versioned object form of contacts.json. The current
// format (v1) is a bare array; this wrapper is the migration hook for
// future incompatible layouts.
type contactsFile struct {
	FormatVersion int               `json:"formatVersion"`
	Contacts      []*models.Contact `json:"contacts"`
}

// ensureLoaded reads the file on first access. A missing file is an empty
// store; a corrupt file surfaces the parse error.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.byID = make(map[string]*models.Contact)
	s.byEmail = make(map[string]*models.Contact)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read contact store: %w", err)
	}

	var list []*models.Contact
	if err := json.Unmarshal(data, &list); err != nil {
		// Not a bare array: try the versioned object form.
		var file contactsFile
		if err2 := json.Unmarshal(data, &file); err2 != nil {
			return fmt.Errorf("failed to parse contact store: %w", err)
		}
		list = file.Contacts
	}
	for _, c := range list {
		s.byID[c.ID] = c
		s.byEmail[c.Email] = c
	}
	s.loaded = true
	return nil
}

// save flushes the book, deterministically ordered by id. Failures are
// logged, not returned: the in-memory state remains authoritative.
func (s *Store) save() {
	list := make([]*models.Contact, 0, len(s.byID))
	for _, c := range s.byID {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		s.logger.Error("failed to serialize contact store", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.logger.Error("failed to create contact store directory", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Error("failed to write contact store", "error", err, "path", s.path)
	}
}

func (s *Store) writeThrough(c *models.Contact) {
	if s.sink == nil {
		return
	}
	cp := *c
	if err := s.sink.UpsertContact(context.Background(), &cp); err != nil {
		s.logger.Warn("analytics write-through failed", "error", err, "email", c.Email)
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the address passes the store's pragmatic
// grammar.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}

// Add inserts a contact, or merges into the existing contact with the same
// email: the longer name wins, aliases union, empty fields fill in. The
// canonical contact is returned.
func (s *Store) Add(params AddParams) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	email := NormalizeEmail(params.Email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, params.Email)
	}
	now := s.clock.Now()

	if existing, ok := s.byEmail[email]; ok {
		merged := s.merge(existing, params, now)
		s.save()
		s.writeThrough(merged)
		return s.snapshot(merged), nil
	}

	source := params.Source
	if source == "" {
		source = models.ContactManual
	}
	c := &models.Contact{
		ID:          uuid.NewString(),
		Email:       email,
		Name:        strings.TrimSpace(params.Name),
		Aliases:     dedupeAliases(nil, params.Aliases),
		CalendarURL: params.CalendarURL,
		Company:     params.Company,
		Notes:       params.Notes,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byID[c.ID] = c
	s.byEmail[c.Email] = c
	s.save()
	s.writeThrough(c)
	return s.snapshot(c), nil
}

func (s *Store) merge(existing *models.Contact, params AddParams, now time.Time) *models.Contact {
	name := strings.TrimSpace(params.Name)
	if len(name) > len(existing.Name) {
		existing.Name = name
	}
	existing.Aliases = dedupeAliases(existing.Aliases, params.Aliases)
	if existing.CalendarURL == "" {
		existing.CalendarURL = params.CalendarURL
	}
	if existing.Company == "" {
		existing.Company = params.Company
	}
	if existing.Notes == "" {
		existing.Notes = params.Notes
	}
	existing.UpdatedAt = now
	return existing
}

// dedupeAliases unions alias lists, preserving first-seen order and
// comparing case-insensitively.
func dedupeAliases(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, a := range list {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			key := strings.ToLower(a)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, a)
		}
	}
	return out
}

// Get returns the contact with the given id.
func (s *Store) Get(id string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.snapshot(c), nil
}

// GetByEmail returns the contact with the given email, nil if unknown.
func (s *Store) GetByEmail(email string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	c, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return s.snapshot(c), nil
}

// Update applies the non-nil fields of params to the contact.
func (s *Store) Update(id string, params UpdateParams) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if params.Email != nil {
		email := NormalizeEmail(*params.Email)
		if !ValidEmail(email) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, *params.Email)
		}
		if other, exists := s.byEmail[email]; exists && other.ID != c.ID {
			return nil, fmt.Errorf("%w: %q already belongs to another contact", ErrInvalidEmail, email)
		}
		delete(s.byEmail, c.Email)
		c.Email = email
		s.byEmail[email] = c
	}
	if params.Name != nil {
		c.Name = strings.TrimSpace(*params.Name)
	}
	if params.Aliases != nil {
		c.Aliases = dedupeAliases(nil, params.Aliases)
	}
	if params.CalendarURL != nil {
		c.CalendarURL = *params.CalendarURL
	}
	if params.Company != nil {
		c.Company = *params.Company
	}
	if params.Notes != nil {
		c.Notes = *params.Notes
	}
	c.UpdatedAt = s.clock.Now()
	s.save()
	s.writeThrough(c)
	return s.snapshot(c), nil
}

// Delete removes a contact.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.byID, id)
	delete(s.byEmail, c.Email)
	s.save()
	return nil
}

// All returns every contact in the requested order.
func (s *Store) All(by SortBy) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	list := make([]*models.Contact, 0, len(s.byID))
	for _, c := range s.byID {
		list = append(list, s.snapshot(c))
	}
	switch by {
	case SortByRecent:
		sort.Slice(list, func(i, j int) bool {
			li, lj := list[i].LastUsedAt, list[j].LastUsedAt
			switch {
			case li == nil && lj == nil:
				return list[i].ID < list[j].ID
			case li == nil:
				return false
			case lj == nil:
				return true
			default:
				return li.After(*lj)
			}
		})
	case SortByFrequent:
		sort.Slice(list, func(i, j int) bool {
			if list[i].UsageCount != list[j].UsageCount {
				return list[i].UsageCount > list[j].UsageCount
			}
			return list[i].ID < list[j].ID
		})
	default:
		sort.Slice(list, func(i, j int) bool {
			ni := strings.ToLower(list[i].Name)
			nj := strings.ToLower(list[j].Name)
			if ni != nj {
				return ni < nj
			}
			return list[i].ID < list[j].ID
		})
	}
	return list, nil
}

// RecordUsage bumps the usage counter for a contact identified by email or
// id.
func (s *Store) RecordUsage(emailOrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	c, ok := s.byEmail[NormalizeEmail(emailOrID)]
	if !ok {
		c, ok = s.byID[emailOrID]
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, emailOrID)
	}
	now := s.clock.Now()
	c.UsageCount++
	c.LastUsedAt = &now
	c.UpdatedAt = now
	s.save()
	s.writeThrough(c)
	return nil
}

// LearnFromEvents adds a contact for every attendee email not yet in the
// book, deriving a display name from the address local part.
func (s *Store) LearnFromEvents(events []*models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	now := s.clock.Now()
	added := 0
	for _, e := range events {
		for _, att := range e.Attendees {
			email := NormalizeEmail(att.Email)
			if email == "" || !ValidEmail(email) {
				continue
			}
			if _, known := s.byEmail[email]; known {
				continue
			}
			name := att.Name
			if name == "" {
				name = nameFromEmail(email)
			}
			c := &models.Contact{
				ID:        uuid.NewString(),
				Email:     email,
				Name:      name,
				Source:    models.ContactFromCalendar,
				CreatedAt: now,
				UpdatedAt: now,
			}
			s.byID[c.ID] = c
			s.byEmail[c.Email] = c
			s.writeThrough(c)
			added++
		}
	}
	if added > 0 {
		s.save()
		s.logger.Debug("learned contacts from events", "count", added)
	}
	return nil
}

// nameFromEmail turns "jane.doe" into "Jane Doe".
func nameFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}

// snapshot copies a contact so callers never alias store-owned state.
func (s *Store) snapshot(c *models.Contact) *models.Contact {
	cp := *c
	if c.Aliases != nil {
		cp.Aliases = append([]string(nil), c.Aliases...)
	}
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}
