package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a user has no settings row.
var ErrNotFound = errors.New("schedule not found")

// Store manages the 'user_settings' table.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const selectRecord = `
	SELECT
		user_id, weekdays, delivery_email, timezone,
		TIME_FORMAT(delivery_time, '%H:%i') AS delivery_time,
		TIME_FORMAT(delivery_time_utc, '%H:%i') AS delivery_time_utc,
		DATE_FORMAT(last_briefing_sent_date, '%Y-%m-%d') AS last_briefing_sent_date,
		inbound_email_hash
	FROM user_settings
`

// GetEnabledSchedules returns every record with a non-empty weekday set.
func (s *Store) GetEnabledSchedules(ctx context.Context) ([]Record, error) {
	var records []Record
	query := selectRecord + `
	WHERE
		weekdays IS NOT NULL
	AND
		JSON_LENGTH(weekdays) > 0
	ORDER BY user_id
	`
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		log.Errorf("[Scheduler] GetEnabledSchedules DB error: %v", err)
		return nil, err
	}
	return records, nil
}

// GetSchedule returns one user's record.
func (s *Store) GetSchedule(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, selectRecord+" WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Errorf("GetSchedule DB error (user: %s): %v", userID, err)
		return nil, err
	}
	return &rec, nil
}

// UpsertSchedule saves delivery settings. The last-sent marker, claim columns and
// inbound hash are left untouched on update.
func (s *Store) UpsertSchedule(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO user_settings (
			user_id, weekdays, delivery_time, delivery_time_utc,
			delivery_email, timezone, inbound_email_hash
		) VALUES (
			:user_id, :weekdays, :delivery_time, :delivery_time_utc,
			:delivery_email, :timezone, :inbound_email_hash
		)
		ON DUPLICATE KEY UPDATE
			weekdays = VALUES(weekdays),
			delivery_time = VALUES(delivery_time),
			delivery_time_utc = VALUES(delivery_time_utc),
			delivery_email = VALUES(delivery_email),
			timezone = VALUES(timezone),
			inbound_email_hash = COALESCE(inbound_email_hash, VALUES(inbound_email_hash))
	`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		log.Errorf("UpsertSchedule DB error (user: %s): %v", rec.UserID, err)
		return err
	}
	return nil
}

// ClaimDelivery takes the per-user delivery claim for day. It succeeds only when the
// user has not been sent on day and no unexpired claim is held by another run.
func (s *Store) ClaimDelivery(ctx context.Context, userID, day, token string, now, until time.Time) (bool, error) {
	query := `
		UPDATE user_settings SET claim_token = ?, claim_expires_at = ?
		WHERE
			user_id = ?
		AND
			(last_briefing_sent_date IS NULL OR last_briefing_sent_date <> ?)
		AND
			(claim_token IS NULL OR claim_expires_at IS NULL OR claim_expires_at < ?)
	`
	res, err := s.db.ExecContext(ctx, query, token, until.UTC(), userID, day, now.UTC())
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return n == 1, nil
}

// ExtendClaim moves the expiry of a claim still owned by token to until. It reports
// false when the claim was lost to another run.
func (s *Store) ExtendClaim(ctx context.Context, userID, token string, until time.Time) (bool, error) {
	query := `
		UPDATE user_settings SET claim_expires_at = ?
		WHERE user_id = ? AND claim_token = ?
	`
	res, err := s.db.ExecContext(ctx, query, until.UTC(), userID, token)
	if err != nil {
		return false, fmt.Errorf("extend claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("extend claim: %w", err)
	}
	return n == 1, nil
}

// MarkSent records day as the last successful send and clears the claim.
func (s *Store) MarkSent(ctx context.Context, userID, day string) error {
	query := `
		UPDATE user_settings SET last_briefing_sent_date = ?, claim_token = NULL, claim_expires_at = NULL
		WHERE user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, day, userID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// ReleaseClaim drops a claim still owned by token.
func (s *Store) ReleaseClaim(ctx context.Context, userID, token string) error {
	query := `
		UPDATE user_settings SET claim_token = NULL, claim_expires_at = NULL
		WHERE user_id = ? AND claim_token = ?
	`
	if _, err := s.db.ExecContext(ctx, query, userID, token); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// CountEnabled returns the number of users with scheduling enabled.
func (s *Store) CountEnabled(ctx context.Context) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM user_settings WHERE weekdays IS NOT NULL AND JSON_LENGTH(weekdays) > 0"
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		log.Errorf("CountEnabled DB error: %v", err)
		return 0, err
	}
	return count, nil
}

// CountSentOn returns the number of users whose last briefing went out on day.
func (s *Store) CountSentOn(ctx context.Context, day string) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM user_settings WHERE last_briefing_sent_date = ?"
	if err := s.db.GetContext(ctx, &count, query, day); err != nil {
		log.Errorf("CountSentOn DB error: %v", err)
		return 0, err
	}
	return count, nil
}
