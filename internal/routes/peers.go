package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/middleware"
)

// RegisterPeerRoutes wires the caller profile and the peer listing.
func RegisterPeerRoutes(r fiber.Router, d Deps) {
	r.Get("/me", func(c *fiber.Ctx) error {
		key, _ := c.Locals(middleware.LocalIdentityKey).(string)
		sid, _ := c.Locals(middleware.LocalSessionID).(string)
		if key == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		resp := fiber.Map{
			"identity_key": key,
			"session_id":   sid,
			"connected":    isConnected(d, sid),
		}
		peer, err := d.Peers.Get(c.UserContext(), key)
		switch {
		case err == nil:
			resp["connections"] = peer.Connections
			resp["first_seen"] = peer.FirstSeen
			resp["last_seen"] = peer.LastSeen
		case !errors.Is(err, identity.ErrPeerNotFound):
			return fiber.NewError(http.StatusInternalServerError, "peer lookup failed")
		}
		return c.JSON(resp)
	})

	r.Get("/peers", func(c *fiber.Ctx) error {
		known, err := d.Peers.List(c.UserContext(), c.QueryInt("limit", 50))
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "peer listing failed")
		}
		out := make([]fiber.Map, 0, len(known))
		for _, p := range known {
			out = append(out, fiber.Map{
				"identity_key": p.IdentityKey,
				"connections":  p.Connections,
				"first_seen":   p.FirstSeen,
				"last_seen":    p.LastSeen,
			})
		}
		return c.JSON(fiber.Map{
			"connected": d.Socket.Peers(),
			"known":     out,
		})
	})
}

func isConnected(d Deps, sessionID string) bool {
	for _, p := range d.Socket.Peers() {
		if p.SessionID == sessionID {
			return true
		}
	}
	return false
}
