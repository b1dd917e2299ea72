package dashboard

import (
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// DashboardHandler serves the operator status endpoint.
type DashboardHandler struct {
	service *Service
	now     func() time.Time
}

// NewDashboardHandler creates a new handler.
func NewDashboardHandler(service *Service) *DashboardHandler {
	return &DashboardHandler{service: service, now: time.Now}
}

// HandleShowDashboard handles 'GET /api/dashboard'.
func (h *DashboardHandler) HandleShowDashboard(c *fiber.Ctx) error {
	data, err := h.service.GetDashboardData(c.UserContext(), h.now())
	if err != nil {
		log.Errorf("dashboard data query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}
	return c.JSON(data)
}
