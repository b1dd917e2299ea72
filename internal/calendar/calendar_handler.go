package calendar

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// CalendarHandler serves the calendar settings API.
type CalendarHandler struct {
	service *Service
}

// NewCalendarHandler creates a new handler.
func NewCalendarHandler(service *Service) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// HandleGetSettings handles 'GET /api/users/:userID/calendar/settings'.
func (h *CalendarHandler) HandleGetSettings(c *fiber.Ctx) error {
	userID := c.Params("userID")
	view, err := h.service.GetSettings(c.UserContext(), userID)
	if err != nil {
		log.Errorf("Error fetching calendar settings (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch calendar settings"})
	}
	return c.JSON(view)
}

// HandleUpdateSettings handles 'PUT /api/users/:userID/calendar/settings'.
func (h *CalendarHandler) HandleUpdateSettings(c *fiber.Ctx) error {
	userID := c.Params("userID")
	var req SettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid settings format"})
	}
	if _, err := h.service.UpdateSettings(c.UserContext(), userID, req); err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Errorf("Failed to save calendar settings (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save settings"})
	}
	return c.JSON(fiber.Map{"success": true})
}
