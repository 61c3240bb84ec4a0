package middleware

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// SSEHeaders prepares a response for server-sent events.
func SSEHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")
		return c.Next()
	}
}

// RequireWebSocket rejects plain HTTP requests on websocket routes.
func RequireWebSocket() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"error":   "UPGRADE_REQUIRED",
				"message": "websocket upgrade required",
			})
		}
		return c.Next()
	}
}
