package briefing

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one calendar entry. Timed events set Start/End; all-day events set
// StartDate/EndDate (YYYY-MM-DD, EndDate exclusive).
type Event struct {
	ID        string
	Title     string
	Calendar  string
	Start     time.Time
	End       time.Time
	StartDate string
	EndDate   string
}

// AllDay reports whether e is an all-day event.
func (e Event) AllDay() bool {
	return e.StartDate != ""
}

// Email is a forwarded email prepared for the prompt.
type Email struct {
	From    string
	Subject string
	Content string
	Date    time.Time
}

// Input is everything the generator sees for one briefing.
type Input struct {
	Events        []Event
	Notes         []string
	Emails        []Email
	Timezone      string
	LookaheadDays int
	Now           time.Time
}

// Briefing is a composed, ready-to-send briefing.
type Briefing struct {
	Content string
	Subject string
	ReplyTo string
}

// Selection is what to read from an EventSource.
type Selection struct {
	Calendars []string
	Days      int
	Timezone  string
	Now       time.Time
}

// EventSource returns upcoming calendar events for a user.
type EventSource interface {
	Events(ctx context.Context, userID string, sel Selection) ([]Event, error)
}

// CalendarSettings is the 'user_calendar_settings' row.
type CalendarSettings struct {
	UserID            string     `db:"user_id"`
	SelectedCalendars StringList `db:"selected_calendars"`
	DaysInAdvance     int        `db:"days_in_advance"`
}

// DefaultDaysInAdvance is the lookahead used when a user has no calendar settings.
const DefaultDaysInAdvance = 7

// emailRow is the raw 'emails' row; normalized into Email.
type emailRow struct {
	FromEmail         sql.NullString `db:"from_email"`
	Subject           sql.NullString `db:"subject"`
	TextBody          sql.NullString `db:"text_body"`
	StrippedTextReply sql.NullString `db:"stripped_text_reply"`
	CreatedAt         time.Time      `db:"created_at"`
}

// StringList is a JSON array column of strings.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	}
	return fmt.Errorf("string list: unsupported type %T", src)
}
