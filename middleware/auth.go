package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

// AdminAuthMiddleware guards tournament administration. The key is
// compared in constant time; a missing or wrong key is rejected before
// any handler runs.
func AdminAuthMiddleware(adminKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get("X-Admin-Key")
		if provided == "" {
			log.Printf("❌ [ADMIN] Missing X-Admin-Key on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Admin-Key header",
			})
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
			log.Printf("❌ [ADMIN] Invalid admin key on %s", c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "invalid admin key",
			})
		}
		return c.Next()
	}
}
