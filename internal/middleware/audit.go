package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one structured line per API request, tagged with the request id
// and, after SessionAuth, the caller's identity key.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if id, _ := c.Locals(requestIDHeader).(string); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if key, _ := c.Locals(LocalIdentityKey).(string); key != "" {
			attrs = append(attrs, slog.String("identity_key", key))
		}

		switch {
		case err != nil:
			logger.Warn("api request failed", append(attrs, slog.Any("error", err))...)
		default:
			logger.Info("api request", attrs...)
		}
		return err
	}
}
