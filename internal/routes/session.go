package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/authsocket/internal/auth"
)

// RegisterSessionRoutes wires session token endpoints.
func RegisterSessionRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/session/refresh", h.Refresh)
}
