package models

// WorkingHours is the daily civil-time window used for free/busy analysis,
// expressed as hours of the day. End must be strictly greater than Start.
type WorkingHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Settings holds the engine's persisted preferences (settings.json).
type Settings struct {
	FormatVersion          int          `json:"formatVersion,omitempty"`
	WorkingHours           WorkingHours `json:"workingHours"`
	MinGapMinutes          int          `json:"minGapMinutes"`
	DefaultDurationMinutes int          `json:"defaultDurationMinutes"`
	MorningBriefTime       string       `json:"morningBriefTime"`
	MorningBriefEnabled    bool         `json:"morningBriefEnabled"`
	EveningSummaryTime     string       `json:"eveningSummaryTime"`
	EveningSummaryEnabled  bool         `json:"eveningSummaryEnabled"`
	DefaultReminders       []int        `json:"defaultReminders"`
	DefaultCalendar        string       `json:"defaultCalendar"`
}

// DefaultSettings returns the settings used when settings.json does not
// exist yet.
func DefaultSettings() Settings {
	return Settings{
		WorkingHours:           WorkingHours{Start: 9, End: 17},
		MinGapMinutes:          10,
		DefaultDurationMinutes: 60,
		MorningBriefTime:       "08:00",
		MorningBriefEnabled:    true,
		EveningSummaryTime:     "18:00",
		EveningSummaryEnabled:  false,
		DefaultReminders:       []int{10},
		DefaultCalendar:        "personal",
	}
}
