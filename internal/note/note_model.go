package note

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a note does not exist for the user.
	ErrNotFound = errors.New("note not found")
	// ErrInvalidNote wraps validation failures.
	ErrInvalidNote = errors.New("invalid note")
)

// MaxContentLength bounds a single note.
const MaxContentLength = 2000

// Note is the 'user_context_snippets' row: a piece of standing context the briefing
// should take into account.
type Note struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CreateRequest is the body of a new note.
type CreateRequest struct {
	Content string `json:"content"`
}

// UpdateRequest changes content, the active flag, or both.
type UpdateRequest struct {
	Content *string `json:"content"`
	Active  *bool   `json:"active"`
}
