package calendar

import (
	"context"
	"errors"
	"fmt"

	"dailybrief/internal/briefing"

	log "github.com/sirupsen/logrus"
)

// SettingsStore is the persistence the service needs.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*Settings, error)
	SaveSettings(ctx context.Context, cs *Settings) error
}

// Service manages which calendars feed a user's briefing and how far ahead it looks.
type Service struct {
	store     SettingsStore
	available []Calendar
}

// NewService creates a Service offering the given calendars.
func NewService(store SettingsStore, available []Calendar) *Service {
	return &Service{store: store, available: available}
}

// GetSettings returns the saved settings, or an empty selection with the default
// lookahead.
func (s *Service) GetSettings(ctx context.Context, userID string) (*SettingsView, error) {
	cs, err := s.store.GetSettings(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		cs = &Settings{UserID: userID}
	} else if err != nil {
		return nil, err
	}
	if cs.DaysInAdvance <= 0 {
		cs.DaysInAdvance = briefing.DefaultDaysInAdvance
	}
	if cs.SelectedCalendars == nil {
		cs.SelectedCalendars = briefing.StringList{}
	}
	if cs.SelectedCalendarNames == nil {
		cs.SelectedCalendarNames = briefing.StringList{}
	}
	return &SettingsView{Settings: *cs, Available: s.available}, nil
}

// UpdateSettings validates the selection against the offered calendars and saves it
// with the matching calendar names.
func (s *Service) UpdateSettings(ctx context.Context, userID string, req SettingsRequest) (*Settings, error) {
	if req.DaysInAdvance < 1 || req.DaysInAdvance > MaxDaysInAdvance {
		return nil, fmt.Errorf("%w: days_in_advance must be between 1 and %d", ErrInvalidSettings, MaxDaysInAdvance)
	}
	byID := make(map[string]Calendar, len(s.available))
	for _, c := range s.available {
		byID[c.ID] = c
	}

	cs := &Settings{
		UserID:                userID,
		SelectedCalendars:     briefing.StringList{},
		SelectedCalendarNames: briefing.StringList{},
		DaysInAdvance:         req.DaysInAdvance,
	}
	seen := map[string]bool{}
	for _, id := range req.SelectedCalendars {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown calendar %q", ErrInvalidSettings, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		cs.SelectedCalendars = append(cs.SelectedCalendars, c.ID)
		cs.SelectedCalendarNames = append(cs.SelectedCalendarNames, c.Summary)
	}

	if err := s.store.SaveSettings(ctx, cs); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": userID, "calendars": cs.SelectedCalendars, "days": cs.DaysInAdvance}).
		Info("calendar settings updated")
	return cs, nil
}
