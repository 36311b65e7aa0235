package middleware

import (
	"strings"

	"garage-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Auth validates the bearer token and stores the resolved identity in Locals
// under "user_id", "display_name" and "role". The role is resolved here once;
// handlers never re-derive it.
func Auth(identity *service.IdentityService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(401).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		ident, err := identity.Resolve(tokenString)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		if ident.UserID == "" {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token: missing subject"})
		}

		c.Locals("user_id", ident.UserID)
		c.Locals("display_name", ident.DisplayName)
		c.Locals("role", ident.Role)
		return c.Next()
	}
}
