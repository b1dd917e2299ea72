package calendar

import (
	"errors"

	"dailybrief/internal/briefing"
)

// ErrInvalidSettings wraps validation failures of a calendar settings update.
var ErrInvalidSettings = errors.New("invalid calendar settings")

// MaxDaysInAdvance bounds the briefing lookahead.
const MaxDaysInAdvance = 14

// Settings is the 'user_calendar_settings' row.
type Settings struct {
	UserID                string              `db:"user_id" json:"-"`
	SelectedCalendars     briefing.StringList `db:"selected_calendars" json:"selected_calendars"`
	SelectedCalendarNames briefing.StringList `db:"selected_calendar_names" json:"selected_calendar_names"`
	DaysInAdvance         int                 `db:"days_in_advance" json:"days_in_advance"`
}

// SettingsRequest is the body of a settings update.
type SettingsRequest struct {
	SelectedCalendars []string `json:"selected_calendars"`
	DaysInAdvance     int      `json:"days_in_advance"`
}

// SettingsView is the settings together with the calendars a user can pick from.
type SettingsView struct {
	Settings
	Available []Calendar `json:"available_calendars"`
}
