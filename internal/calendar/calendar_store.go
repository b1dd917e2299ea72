package calendar

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when the user never saved calendar settings.
var ErrNotFound = errors.New("calendar settings not found")

// Store persists calendar settings.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// GetSettings returns the saved settings, or ErrNotFound.
func (s *Store) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	var cs Settings
	query := `
		SELECT user_id, selected_calendars, selected_calendar_names, days_in_advance
		FROM user_calendar_settings
		WHERE user_id = ?
	`
	err := s.db.GetContext(ctx, &cs, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Errorf("GetSettings DB error (user: %s): %v", userID, err)
		return nil, err
	}
	return &cs, nil
}

// SaveSettings inserts or replaces the user's settings.
func (s *Store) SaveSettings(ctx context.Context, cs *Settings) error {
	query := `
		INSERT INTO user_calendar_settings (user_id, selected_calendars, selected_calendar_names, days_in_advance)
		VALUES (:user_id, :selected_calendars, :selected_calendar_names, :days_in_advance)
		ON DUPLICATE KEY UPDATE
			selected_calendars = VALUES(selected_calendars),
			selected_calendar_names = VALUES(selected_calendar_names),
			days_in_advance = VALUES(days_in_advance)
	`
	if _, err := s.db.NamedExecContext(ctx, query, cs); err != nil {
		log.Errorf("SaveSettings DB error (user: %s): %v", cs.UserID, err)
		return err
	}
	return nil
}
