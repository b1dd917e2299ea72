package schedule

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the UTC calendar date format of the last-sent marker.
const DateLayout = "2006-01-02"

// Record is the scheduling part of the 'user_settings' table.
// DeliveryTimeUTC is NULL for legacy rows saved before UTC conversion existed.
type Record struct {
	UserID               string         `db:"user_id"`
	Weekdays             Weekdays       `db:"weekdays"`
	DeliveryTime         string         `db:"delivery_time"`
	DeliveryTimeUTC      sql.NullString `db:"delivery_time_utc"`
	Timezone             string         `db:"timezone"`
	DeliveryEmail        string         `db:"delivery_email"`
	LastBriefingSentDate sql.NullString `db:"last_briefing_sent_date"`
	InboundEmailHash     sql.NullString `db:"inbound_email_hash"`
}

// Recipients splits the comma-joined delivery address list.
func (r Record) Recipients() []string {
	var out []string
	for _, part := range strings.Split(r.DeliveryEmail, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// SentDate returns the last-sent UTC date or "" when none is recorded.
func (r Record) SentDate() string {
	if !r.LastBriefingSentDate.Valid {
		return ""
	}
	return strings.TrimSpace(r.LastBriefingSentDate.String)
}

// UTCTime returns the canonical delivery time, or "" for legacy rows.
func (r Record) UTCTime() string {
	if !r.DeliveryTimeUTC.Valid {
		return ""
	}
	return strings.TrimSpace(r.DeliveryTimeUTC.String)
}

// Location resolves the user's zone, falling back to UTC.
func (r Record) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Weekdays is a set of weekday numbers (0=Sunday..6=Saturday) stored as a JSON array.
type Weekdays []int

// Contains reports whether d is in the set.
func (w Weekdays) Contains(d time.Weekday) bool {
	for _, v := range w {
		if v == int(d) {
			return true
		}
	}
	return false
}

// Normalize returns a sorted copy without duplicates.
func (w Weekdays) Normalize() Weekdays {
	seen := make(map[int]bool, len(w))
	out := make(Weekdays, 0, len(w))
	for _, v := range w {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Shift moves every weekday by offset days, wrapping around the week.
func (w Weekdays) Shift(offset int) Weekdays {
	out := make(Weekdays, 0, len(w))
	for _, v := range w {
		out = append(out, ((v+offset)%7+7)%7)
	}
	return out.Normalize()
}

// Value implements driver.Valuer.
func (w Weekdays) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	b, err := json.Marshal([]int(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *Weekdays) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("weekdays: unsupported type %T", src)
	}
	if strings.TrimSpace(string(raw)) == "" {
		*w = nil
		return nil
	}
	var days []int
	if err := json.Unmarshal(raw, &days); err != nil {
		return fmt.Errorf("weekdays: %w", err)
	}
	*w = days
	return nil
}

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock accepts "H:MM", "HH:MM" and the "HH:MM:SS" form MySQL returns for TIME columns.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Clock{}, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	if len(parts[1]) != 2 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// ClockOf returns t's time of day in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
