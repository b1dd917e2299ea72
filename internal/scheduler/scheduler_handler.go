package scheduler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// SchedulerHandler exposes the delivery pass over HTTP.
type SchedulerHandler struct {
	runner *Runner
}

// NewSchedulerHandler creates a new handler.
func NewSchedulerHandler(runner *Runner) *SchedulerHandler {
	return &SchedulerHandler{runner: runner}
}

// HandleSendBriefings handles 'GET|POST /api/cron/send-briefings'.
// Authentication is done by middleware.TriggerAuthMiddleware.
func (h *SchedulerHandler) HandleSendBriefings(c *fiber.Ctx) error {
	report, err := h.runner.Run(c.UserContext())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Run already in progress"})
		}
		log.Errorf("send-briefings failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	}
	return c.JSON(report)
}

// HandleLastRun handles 'GET /api/cron/last-run'.
func (h *SchedulerHandler) HandleLastRun(c *fiber.Ctx) error {
	report := h.runner.LastReport()
	if report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No run recorded yet"})
	}
	return c.JSON(report)
}
