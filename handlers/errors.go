package handlers

import (
	"strconv"

	"lane-battle/logging"
	"lane-battle/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindConflict, services.KindCapacity:
		return fiber.StatusConflict
	case services.KindForbidden:
		return fiber.StatusForbidden
	case services.KindRateLimited:
		return fiber.StatusTooManyRequests
	case services.KindInvalid:
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// writeError renders err as {"error": CODE, "message": text}. Internal
// failures are logged and never leak their cause to the client.
func writeError(c *fiber.Ctx, err error) error {
	be := services.AsBattleError(err)
	status := statusFor(be.Kind)
	msg := be.Message
	if status == fiber.StatusInternalServerError {
		logging.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = services.ErrInternal.Message
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   be.Code,
		"message": msg,
	})
}

func invalid(c *fiber.Ctx, format string, args ...any) error {
	return writeError(c, services.ErrInvalidArgument.WithMessage(format, args...))
}

func paramID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	return id, err == nil && id > 0
}

// parseBody decodes an optional JSON body. An empty body leaves v untouched.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return services.ErrInvalidArgument.WithMessage("malformed request body")
	}
	return nil
}
