package note

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// Store persists notes in MySQL.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const selectNote = `
	SELECT id, user_id, content, active, created_at
	FROM user_context_snippets
`

// ListNotes returns every note of the user, oldest first.
func (s *Store) ListNotes(ctx context.Context, userID string) ([]Note, error) {
	var notes []Note
	if err := s.db.SelectContext(ctx, &notes, selectNote+" WHERE user_id = ? ORDER BY created_at, id", userID); err != nil {
		log.Errorf("ListNotes DB error (user: %s): %v", userID, err)
		return nil, err
	}
	return notes, nil
}

// GetNote returns one note, or ErrNotFound.
func (s *Store) GetNote(ctx context.Context, userID string, id int64) (*Note, error) {
	var n Note
	err := s.db.GetContext(ctx, &n, selectNote+" WHERE user_id = ? AND id = ?", userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Errorf("GetNote DB error (user: %s, id: %d): %v", userID, id, err)
		return nil, err
	}
	return &n, nil
}

// CreateNote inserts an active note and returns its id.
func (s *Store) CreateNote(ctx context.Context, userID, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO user_context_snippets (user_id, content, active) VALUES (?, ?, 1)", userID, content)
	if err != nil {
		log.Errorf("CreateNote DB error (user: %s): %v", userID, err)
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateNote saves content and active flag of n.
func (s *Store) UpdateNote(ctx context.Context, n *Note) error {
	query := `
		UPDATE user_context_snippets SET content = :content, active = :active
		WHERE id = :id AND user_id = :user_id
	`
	if _, err := s.db.NamedExecContext(ctx, query, n); err != nil {
		log.Errorf("UpdateNote DB error (user: %s, id: %d): %v", n.UserID, n.ID, err)
		return err
	}
	return nil
}

// DeleteNote removes a note. A missing note is ErrNotFound.
func (s *Store) DeleteNote(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM user_context_snippets WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		log.Errorf("DeleteNote DB error (user: %s, id: %d): %v", userID, id, err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
