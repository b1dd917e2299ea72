package briefing

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const (
	errMySQLDuplicateEntry = 1062
	maxHashAttempts        = 3
)

// Store reads briefing inputs: calendar settings, notes and forwarded emails.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// GetCalendarSettings returns the user's calendar selection, or an empty selection with
// the default lookahead when none is saved.
func (s *Store) GetCalendarSettings(ctx context.Context, userID string) (*CalendarSettings, error) {
	var cs CalendarSettings
	query := `
		SELECT user_id, selected_calendars, days_in_advance
		FROM user_calendar_settings
		WHERE user_id = ?
	`
	err := s.db.GetContext(ctx, &cs, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &CalendarSettings{UserID: userID, DaysInAdvance: DefaultDaysInAdvance}, nil
	}
	if err != nil {
		log.Errorf("GetCalendarSettings DB error (user: %s): %v", userID, err)
		return nil, err
	}
	if cs.DaysInAdvance <= 0 {
		cs.DaysInAdvance = DefaultDaysInAdvance
	}
	return &cs, nil
}

// GetActiveNotes returns the user's active context snippets.
func (s *Store) GetActiveNotes(ctx context.Context, userID string) ([]string, error) {
	var notes []string
	query := `
		SELECT content
		FROM user_context_snippets
		WHERE user_id = ? AND active = 1
		ORDER BY created_at
	`
	if err := s.db.SelectContext(ctx, &notes, query, userID); err != nil {
		log.Errorf("GetActiveNotes DB error (user: %s): %v", userID, err)
		return nil, err
	}
	return notes, nil
}

// GetRecentEmails returns the user's latest forwarded emails, newest first.
func (s *Store) GetRecentEmails(ctx context.Context, userID string, limit int) ([]Email, error) {
	var rows []emailRow
	query := `
		SELECT from_email, subject, text_body, stripped_text_reply, created_at
		FROM emails
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		log.Errorf("GetRecentEmails DB error (user: %s): %v", userID, err)
		return nil, err
	}
	return normalizeEmails(rows), nil
}

// EnsureInboundHash returns the user's inbound address hash, creating one if missing.
func (s *Store) EnsureInboundHash(ctx context.Context, userID string) (string, error) {
	var hash sql.NullString
	err := s.db.GetContext(ctx, &hash, "SELECT inbound_email_hash FROM user_settings WHERE user_id = ?", userID)
	if err != nil {
		return "", err
	}
	if hash.Valid && hash.String != "" {
		return hash.String, nil
	}

	query := `
		UPDATE user_settings SET inbound_email_hash = ?
		WHERE user_id = ? AND inbound_email_hash IS NULL
	`
	for attempt := 1; ; attempt++ {
		generated := strings.ReplaceAll(uuid.NewString(), "-", "")[:21]
		_, err := s.db.ExecContext(ctx, query, generated, userID)
		if err == nil {
			break
		}
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errMySQLDuplicateEntry && attempt < maxHashAttempts {
			log.Warnf("inbound hash collision for user %s, regenerating", userID)
			continue
		}
		return "", err
	}
	// Re-read so a concurrent writer's hash wins consistently.
	if err := s.db.GetContext(ctx, &hash, "SELECT inbound_email_hash FROM user_settings WHERE user_id = ?", userID); err != nil {
		return "", err
	}
	return hash.String, nil
}

func normalizeEmails(rows []emailRow) []Email {
	out := make([]Email, 0, len(rows))
	for _, r := range rows {
		e := Email{
			From:    r.FromEmail.String,
			Subject: r.Subject.String,
			Date:    r.CreatedAt,
		}
		if e.Subject == "" {
			e.Subject = "No subject"
		}
		switch {
		case r.StrippedTextReply.String != "":
			e.Content = r.StrippedTextReply.String
		case r.TextBody.String != "":
			e.Content = r.TextBody.String
		default:
			e.Content = "No content"
		}
		out = append(out, e)
	}
	return out
}
