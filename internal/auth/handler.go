package auth

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes session endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Refresh extends a valid bearer session token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
	}
	token, exp, err := h.svc.Refresh(strings.TrimSpace(authz[len("Bearer "):]))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"session_token": token,
		"expires_at":    exp.UTC(),
	})
}
