package schedule

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// ScheduleHandler serves the delivery settings API.
type ScheduleHandler struct {
	service *Service
	now     func() time.Time
}

// NewScheduleHandler creates a new handler.
func NewScheduleHandler(service *Service) *ScheduleHandler {
	return &ScheduleHandler{service: service, now: time.Now}
}

// HandleGetSchedule handles 'GET /api/users/:userID/schedule'.
func (h *ScheduleHandler) HandleGetSchedule(c *fiber.Ctx) error {
	userID := c.Params("userID")
	settings, err := h.service.GetSettings(c.UserContext(), userID, h.now())
	if err != nil {
		log.Errorf("Error fetching email schedule settings (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch email schedule settings"})
	}
	return c.JSON(settings)
}

// HandleUpdateSchedule handles 'PUT /api/users/:userID/schedule'.
func (h *ScheduleHandler) HandleUpdateSchedule(c *fiber.Ctx) error {
	userID := c.Params("userID")

	var req Settings
	if err := c.BodyParser(&req); err != nil {
		log.Warnf("email schedule body parse failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid settings format"})
	}

	if _, err := h.service.UpdateSettings(c.UserContext(), userID, req, h.now()); err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Errorf("Failed to update email schedule settings (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update email schedule settings"})
	}
	return c.JSON(fiber.Map{"message": "Settings updated successfully"})
}
