package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalsKey holds the authenticated user id in fiber locals.
const LocalsKey = "user_id"

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(hdr string) string {
	const pref = "Bearer "
	if len(hdr) <= len(pref) || !strings.EqualFold(hdr[:len(pref)], pref) {
		return ""
	}
	return strings.TrimSpace(hdr[len(pref):])
}

// Middleware rejects requests without a valid bearer token and stores the
// caller id in the request locals. When allowQuery is set the token may
// also come from ?token=, which browsers need for websocket upgrades.
func Middleware(v Validator, allowQuery bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth"})
		}
		sub, err := v.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(LocalsKey, sub)
		return c.Next()
	}
}

// UserID returns the authenticated caller stored by Middleware.
func UserID(c *fiber.Ctx) string {
	s, _ := c.Locals(LocalsKey).(string)
	return s
}
