package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// TriggerAuthMiddleware admits the scheduled trigger: either a bearer token equal to
// secret, or a User-Agent containing one of trustedAgents. Everything else gets 401
// before any data is touched.
func TriggerAuthMiddleware(secret string, trustedAgents []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ua := c.Get(fiber.HeaderUserAgent)
		for _, agent := range trustedAgents {
			if agent != "" && strings.Contains(ua, agent) {
				return c.Next()
			}
		}

		if secret != "" && bearerMatches(c.Get(fiber.HeaderAuthorization), secret) {
			return c.Next()
		}

		log.Warnf("[WARN] [Trigger] unauthorized request (Path: %s, IP: %s)", c.Path(), c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
}

// AdminTokenMiddleware guards operator endpoints with a static bearer token.
// An empty token disables the endpoints entirely.
func AdminTokenMiddleware(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" || !bearerMatches(c.Get(fiber.HeaderAuthorization), token) {
			log.Warnf("[WARN] [Admin] unauthorized access (Path: %s)", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		return c.Next()
	}
}

func bearerMatches(header, secret string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got := strings.TrimPrefix(header, prefix)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
