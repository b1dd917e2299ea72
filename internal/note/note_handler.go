package note

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// NoteHandler serves the notes API.
type NoteHandler struct {
	service *Service
}

// NewNoteHandler creates a new handler.
func NewNoteHandler(service *Service) *NoteHandler {
	return &NoteHandler{service: service}
}

// HandleListNotes handles 'GET /api/users/:userID/notes'.
func (h *NoteHandler) HandleListNotes(c *fiber.Ctx) error {
	userID := c.Params("userID")
	notes, err := h.service.List(c.UserContext(), userID)
	if err != nil {
		log.Errorf("Error fetching notes (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch notes"})
	}
	return c.JSON(notes)
}

// HandleCreateNote handles 'POST /api/users/:userID/notes'.
func (h *NoteHandler) HandleCreateNote(c *fiber.Ctx) error {
	userID := c.Params("userID")
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid note format"})
	}
	n, err := h.service.Create(c.UserContext(), userID, req)
	if err != nil {
		return h.fail(c, userID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

// HandleUpdateNote handles 'PATCH /api/users/:userID/notes/:noteID'.
func (h *NoteHandler) HandleUpdateNote(c *fiber.Ctx) error {
	userID := c.Params("userID")
	id, err := strconv.ParseInt(c.Params("noteID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid note id"})
	}
	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid note format"})
	}
	n, err := h.service.Update(c.UserContext(), userID, id, req)
	if err != nil {
		return h.fail(c, userID, err)
	}
	return c.JSON(n)
}

// HandleDeleteNote handles 'DELETE /api/users/:userID/notes/:noteID'.
func (h *NoteHandler) HandleDeleteNote(c *fiber.Ctx) error {
	userID := c.Params("userID")
	id, err := strconv.ParseInt(c.Params("noteID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid note id"})
	}
	if err := h.service.Delete(c.UserContext(), userID, id); err != nil {
		return h.fail(c, userID, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *NoteHandler) fail(c *fiber.Ctx, userID string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidNote):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Note not found"})
	}
	log.Errorf("Note request failed (user: %s): %v", userID, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save note"})
}
