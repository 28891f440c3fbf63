package routes

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/authsocket/internal/authsocket"
	"github.com/congo-pay/authsocket/internal/transport"
)

// RegisterSocketRoutes mounts the authsocket endpoint on /ws, and on / for
// clients that upgrade the root path.
func RegisterSocketRoutes(app *fiber.App, d Deps, limiter fiber.Handler) {
	serve := websocket.New(func(conn *websocket.Conn) {
		t := transport.NewWebSocket(conn, d.Cfg.MaxMessageSize)
		if err := d.Socket.Serve(context.Background(), t); err != nil && !errors.Is(err, authsocket.ErrServerClosed) {
			d.Logger.Warn("socket session ended", slog.String("remote", conn.RemoteAddr().String()), slog.Any("error", err))
		}
	})

	app.Get("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, limiter, serve)

	app.Get("/", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.JSON(fiber.Map{
				"service":      d.Cfg.AppName,
				"identity_key": d.Socket.IdentityKey(),
				"websocket":    "/ws",
			})
		}
		return c.Next()
	}, limiter, serve)
}
