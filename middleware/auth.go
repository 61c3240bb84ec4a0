package middleware

import (
	"strconv"
	"strings"

	"lane-battle/logging"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const userIDKey = "user_id"

// UserContextMiddleware extracts the caller identity set by the gateway.
// Battle routes require a numeric X-User-ID.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get("X-User-ID"))
		userID, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || userID <= 0 {
			logging.Warn("missing or invalid X-User-ID", zap.String("path", c.Path()), zap.String("value", raw))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "UNAUTHORIZED",
				"message": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware, or 0.
func UserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(userIDKey).(int64)
	return id
}
