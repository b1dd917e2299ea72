package note

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type memoryNoteStore struct {
	notes  map[int64]*Note
	nextID int64
}

func newMemoryNoteStore() *memoryNoteStore {
	return &memoryNoteStore{notes: map[int64]*Note{}}
}

func (m *memoryNoteStore) ListNotes(_ context.Context, userID string) ([]Note, error) {
	var out []Note
	for id := int64(1); id <= m.nextID; id++ {
		if n, ok := m.notes[id]; ok && n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memoryNoteStore) GetNote(_ context.Context, userID string, id int64) (*Note, error) {
	n, ok := m.notes[id]
	if !ok || n.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memoryNoteStore) CreateNote(_ context.Context, userID, content string) (int64, error) {
	m.nextID++
	m.notes[m.nextID] = &Note{ID: m.nextID, UserID: userID, Content: content, Active: true,
		CreatedAt: time.Date(2026, time.October, 19, 9, 0, int(m.nextID), 0, time.UTC)}
	return m.nextID, nil
}

func (m *memoryNoteStore) UpdateNote(_ context.Context, n *Note) error {
	if _, ok := m.notes[n.ID]; !ok {
		return ErrNotFound
	}
	cp := *n
	m.notes[n.ID] = &cp
	return nil
}

func (m *memoryNoteStore) DeleteNote(_ context.Context, userID string, id int64) error {
	n, ok := m.notes[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	delete(m.notes, id)
	return nil
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryNoteStore())

	n, err := svc.Create(ctx, "u1", CreateRequest{Content: "  Training for a half marathon in November  "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Content != "Training for a half marathon in November" || !n.Active {
		t.Fatalf("unexpected note %+v", n)
	}

	inactive := false
	n, err = svc.Update(ctx, "u1", n.ID, UpdateRequest{Active: &inactive})
	if err != nil || n.Active || n.Content == "" {
		t.Fatalf("want deactivated note with content kept, got %+v (%v)", n, err)
	}

	if _, err := svc.Update(ctx, "u2", n.ID, UpdateRequest{Active: &inactive}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other users must not see the note, got %v", err)
	}

	if err := svc.Delete(ctx, "u1", n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	notes, err := svc.List(ctx, "u1")
	if err != nil || notes == nil || len(notes) != 0 {
		t.Fatalf("want empty non-nil list, got %v (%v)", notes, err)
	}
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryNoteStore())
	tooLong := strings.Repeat("x", MaxContentLength+1)
	blank := "   "

	if _, err := svc.Create(ctx, "u1", CreateRequest{Content: blank}); !errors.Is(err, ErrInvalidNote) {
		t.Fatalf("blank content: want ErrInvalidNote, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", CreateRequest{Content: tooLong}); !errors.Is(err, ErrInvalidNote) {
		t.Fatalf("long content: want ErrInvalidNote, got %v", err)
	}

	n, _ := svc.Create(ctx, "u1", CreateRequest{Content: "ok"})
	if _, err := svc.Update(ctx, "u1", n.ID, UpdateRequest{}); !errors.Is(err, ErrInvalidNote) {
		t.Fatalf("empty update: want ErrInvalidNote, got %v", err)
	}
	if _, err := svc.Update(ctx, "u1", n.ID, UpdateRequest{Content: &blank}); !errors.Is(err, ErrInvalidNote) {
		t.Fatalf("blank update: want ErrInvalidNote, got %v", err)
	}
}
