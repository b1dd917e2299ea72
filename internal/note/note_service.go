package note

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// NoteStore is the persistence the service needs.
type NoteStore interface {
	ListNotes(ctx context.Context, userID string) ([]Note, error)
	GetNote(ctx context.Context, userID string, id int64) (*Note, error)
	CreateNote(ctx context.Context, userID, content string) (int64, error)
	UpdateNote(ctx context.Context, n *Note) error
	DeleteNote(ctx context.Context, userID string, id int64) error
}

// Service manages a user's briefing notes.
type Service struct {
	store NoteStore
}

// NewService creates a new Service.
func NewService(store NoteStore) *Service {
	return &Service{store: store}
}

// List returns all notes of the user. Inactive notes are included.
func (s *Service) List(ctx context.Context, userID string) ([]Note, error) {
	notes, err := s.store.ListNotes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}

// Create validates and stores a new active note.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Note, error) {
	content, err := cleanContent(req.Content)
	if err != nil {
		return nil, err
	}
	id, err := s.store.CreateNote(ctx, userID, content)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": userID, "note_id": id}).Info("note created")
	return s.store.GetNote(ctx, userID, id)
}

// Update applies the fields present in req.
func (s *Service) Update(ctx context.Context, userID string, id int64, req UpdateRequest) (*Note, error) {
	if req.Content == nil && req.Active == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidNote)
	}
	n, err := s.store.GetNote(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Content != nil {
		content, err := cleanContent(*req.Content)
		if err != nil {
			return nil, err
		}
		n.Content = content
	}
	if req.Active != nil {
		n.Active = *req.Active
	}
	if err := s.store.UpdateNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Delete removes a note.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	return s.store.DeleteNote(ctx, userID, id)
}

func cleanContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidNote)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrInvalidNote, MaxContentLength)
	}
	return content, nil
}
