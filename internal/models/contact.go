package models

import (
	"time"
)

// ContactSource tags how a contact entered the book.
type ContactSource string

const (
	ContactManual       ContactSource = "manual"
	ContactFromCalendar ContactSource = "calendar"
	ContactFromEmail    ContactSource = "email"
	ContactFromVoice    ContactSource = "voice"
	ContactLegacyImport ContactSource = "legacy-import"
)

// Contact is a single entry in the contact book. Email is unique across
// the store and always stored lowercased.
type Contact struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	Name        string        `json:"name,omitempty"`
	Aliases     []string      `json:"aliases,omitempty"`
	CalendarURL string        `json:"calendar_url,omitempty"`
	Company     string        `json:"company,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Source      ContactSource `json:"source,omitempty"`
	UsageCount  int           `json:"usage_count"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
