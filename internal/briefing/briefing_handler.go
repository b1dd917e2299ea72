package briefing

import (
	"context"
	"errors"
	"time"

	"dailybrief/internal/mailer"
	"dailybrief/internal/schedule"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// RecordSource loads a user's schedule record.
type RecordSource interface {
	GetSchedule(ctx context.Context, userID string) (*schedule.Record, error)
}

// BriefingHandler serves on-demand test briefings.
type BriefingHandler struct {
	service *Service
	records RecordSource
	sender  mailer.Sender
	now     func() time.Time
}

// NewBriefingHandler creates a new handler.
func NewBriefingHandler(service *Service, records RecordSource, sender mailer.Sender) *BriefingHandler {
	return &BriefingHandler{service: service, records: records, sender: sender, now: time.Now}
}

// HandleTestBriefing handles 'POST /api/users/:userID/briefing/test'.
// The last-sent marker is never touched.
func (h *BriefingHandler) HandleTestBriefing(c *fiber.Ctx) error {
	userID := c.Params("userID")
	ctx := c.UserContext()

	rec, err := h.records.GetSchedule(ctx, userID)
	if errors.Is(err, schedule.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No delivery settings found"})
	}
	if err != nil {
		log.Errorf("test briefing: load settings failed (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load delivery settings"})
	}
	recipients := rec.Recipients()
	if len(recipients) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No delivery email configured"})
	}

	b, err := h.service.Compose(ctx, *rec, h.now())
	if err != nil {
		log.Errorf("test briefing: compose failed (user: %s): %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate briefing"})
	}

	err = h.sender.Send(ctx, mailer.Message{
		To:       recipients,
		ReplyTo:  b.ReplyTo,
		Subject:  b.Subject,
		Markdown: b.Content,
		IsTest:   true,
	})
	if err != nil {
		log.Errorf("test briefing: send failed (user: %s): %v", userID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to send test email"})
	}

	log.Infof("[TestSend] test briefing sent (user: %s)", userID)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Test briefing sent successfully",
		"sentTo":  rec.DeliveryEmail,
	})
}
