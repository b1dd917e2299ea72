package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidSettings wraps every validation failure of a settings update.
var ErrInvalidSettings = errors.New("invalid settings")

var timePattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// Defaults for users who never saved settings.
var (
	DefaultDeliveryTime = "08:00"
	DefaultWeekdays     = Weekdays{1, 2, 3, 4, 5}
	DefaultTimezone     = "UTC"
)

// SettingsStore is the part of Store the settings service needs.
type SettingsStore interface {
	GetSchedule(ctx context.Context, userID string) (*Record, error)
	UpsertSchedule(ctx context.Context, rec *Record) error
}

// Service handles user-facing delivery settings.
type Service struct {
	store SettingsStore
}

// NewService creates a new Service.
func NewService(store SettingsStore) *Service {
	return &Service{store: store}
}

// Settings is the API shape of a user's delivery settings. Weekdays are expressed in
// the user's own timezone here; the stored set is in UTC.
type Settings struct {
	DeliveryTime         string `json:"delivery_time"`
	DeliveryTimeUTC      string `json:"delivery_time_utc,omitempty"`
	Weekdays             []int  `json:"weekdays"`
	DeliveryEmail        string `json:"delivery_email"`
	Timezone             string `json:"timezone"`
	LastBriefingSentDate string `json:"last_briefing_sent_date,omitempty"`
}

// GetSettings returns saved settings, or defaults when the user has none.
func (s *Service) GetSettings(ctx context.Context, userID string, now time.Time) (*Settings, error) {
	rec, err := s.store.GetSchedule(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Settings{
			DeliveryTime: DefaultDeliveryTime,
			Weekdays:     []int(DefaultWeekdays),
			Timezone:     DefaultTimezone,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &Settings{
		DeliveryTime:         rec.DeliveryTime,
		DeliveryTimeUTC:      rec.UTCTime(),
		Weekdays:             []int(rec.Weekdays),
		DeliveryEmail:        rec.DeliveryEmail,
		Timezone:             rec.Timezone,
		LastBriefingSentDate: rec.SentDate(),
	}
	if out.Timezone == "" {
		out.Timezone = DefaultTimezone
	}
	// Show weekdays in the user's zone again, using the day shift that was in force
	// when the pair of times was saved.
	if local, err := ParseClock(rec.DeliveryTime); err == nil {
		if utc, err := ParseClock(rec.UTCTime()); err == nil {
			if loc, err := time.LoadLocation(out.Timezone); err == nil {
				_, zone := now.In(loc).Zone()
				out.Weekdays = []int(rec.Weekdays.Shift(-SavedDayOffset(local, utc, zone/60)))
			}
		}
	}
	if out.Weekdays == nil {
		out.Weekdays = []int{}
	}
	return out, nil
}

// UpdateSettings validates req, derives the UTC delivery time and UTC weekday set for
// the current date, and saves the record.
func (s *Service) UpdateSettings(ctx context.Context, userID string, req Settings, now time.Time) (*Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidSettings)
	}
	if !timePattern.MatchString(req.DeliveryTime) {
		return nil, fmt.Errorf("%w: invalid delivery_time format, use HH:MM", ErrInvalidSettings)
	}
	if req.DeliveryTimeUTC != "" && !timePattern.MatchString(req.DeliveryTimeUTC) {
		return nil, fmt.Errorf("%w: invalid delivery_time_utc format, use HH:MM", ErrInvalidSettings)
	}
	if req.Weekdays == nil {
		return nil, fmt.Errorf("%w: weekdays are required", ErrInvalidSettings)
	}
	for _, d := range req.Weekdays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("%w: invalid weekday values, use 0-6", ErrInvalidSettings)
		}
	}
	email := strings.TrimSpace(req.DeliveryEmail)
	if email != "" {
		if _, err := mail.ParseAddressList(email); err != nil {
			return nil, fmt.Errorf("%w: invalid delivery_email: %v", ErrInvalidSettings, err)
		}
	}
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}

	local, err := ParseClock(req.DeliveryTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	utc, offset, err := LocalToUTC(local, tz, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if req.DeliveryTimeUTC != "" && req.DeliveryTimeUTC != utc.String() {
		log.WithFields(log.Fields{"user_id": userID, "client": req.DeliveryTimeUTC, "server": utc.String()}).
			Warn("client UTC delivery time differs, using server conversion")
	}

	rec := &Record{
		UserID:           userID,
		Weekdays:         Weekdays(req.Weekdays).Shift(offset),
		DeliveryTime:     local.String(),
		DeliveryTimeUTC:  sql.NullString{String: utc.String(), Valid: true},
		Timezone:         tz,
		DeliveryEmail:    email,
		InboundEmailHash: sql.NullString{String: newInboundHash(), Valid: true},
	}
	if err := s.store.UpsertSchedule(ctx, rec); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": userID, "utc": utc.String(), "weekdays": rec.Weekdays}).
		Info("email schedule settings updated")
	return rec, nil
}

// LocalToUTC converts a wall-clock time in tz on the date of now (as seen in tz) to
// UTC. offset is the UTC date minus the local date in days (-1, 0 or 1).
func LocalToUTC(local Clock, tz string, now time.Time) (Clock, int, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Clock{}, 0, fmt.Errorf("unknown timezone %q", tz)
	}
	day := now.In(loc)
	lt := time.Date(day.Year(), day.Month(), day.Day(), local.Hour, local.Minute, 0, 0, loc)
	ut := lt.UTC()

	localDate := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
	utcDate := time.Date(ut.Year(), ut.Month(), ut.Day(), 0, 0, 0, 0, time.UTC)
	offset := int(utcDate.Sub(localDate).Hours() / 24)
	return ClockOf(ut), offset, nil
}

// SavedDayOffset recovers the UTC-minus-local day offset of a saved local/UTC pair.
// The pair fixes the zone offset up to whole days; zoneMinutes, the zone's current
// offset, picks the nearest candidate, so a DST change since saving does not move the
// day.
func SavedDayOffset(local, utc Clock, zoneMinutes int) int {
	d := utc.Minutes() - local.Minutes()
	best, bestDist := 0, -1
	for k := -1; k <= 1; k++ {
		implied := -d - 1440*k
		dist := implied - zoneMinutes
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = k, dist
		}
	}
	return best
}

func newInboundHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:21]
}
