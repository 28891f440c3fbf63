package routes

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/authsocket/internal/middleware"
)

type broadcastRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RegisterMessageRoutes wires the history listing and the server broadcast.
// idem, when non-nil, makes the broadcast idempotent.
func RegisterMessageRoutes(r fiber.Router, d Deps, idem fiber.Handler) {
	r.Get("/messages", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		if limit <= 0 || limit > d.Cfg.HistoryLimit {
			limit = d.Cfg.HistoryLimit
		}
		entries, err := d.History.Recent(c.UserContext(), limit)
		if err != nil {
			d.Logger.Error("history lookup failed", slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "history lookup failed")
		}
		out := make([]fiber.Map, 0, len(entries))
		for _, e := range entries {
			out = append(out, fiber.Map{
				"id":         e.ID,
				"event":      e.Event,
				"sender":     e.Sender,
				"data":       e.Data,
				"created_at": e.CreatedAt,
			})
		}
		return c.JSON(fiber.Map{"messages": out})
	})

	handlers := []fiber.Handler{}
	if idem != nil {
		handlers = append(handlers, idem)
	}
	handlers = append(handlers, func(c *fiber.Ctx) error {
		var req broadcastRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
		req.Event = strings.TrimSpace(req.Event)
		if req.Event == "" {
			return fiber.NewError(http.StatusBadRequest, "event is required")
		}
		var data any
		if len(req.Data) > 0 {
			data = req.Data
		}
		if err := d.Socket.Emit(c.UserContext(), req.Event, data); err != nil {
			return fiber.NewError(http.StatusInternalServerError, "broadcast failed")
		}
		key, _ := c.Locals(middleware.LocalIdentityKey).(string)
		d.Logger.Info("broadcast requested", slog.String("event", req.Event), slog.String("identity_key", key))
		return c.Status(http.StatusAccepted).JSON(fiber.Map{
			"event":      req.Event,
			"recipients": len(d.Socket.Peers()),
		})
	})
	r.Post("/broadcast", handlers...)
}
