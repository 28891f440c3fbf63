package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/authsocket/internal/auth"
	"github.com/congo-pay/authsocket/internal/authsocket"
	"github.com/congo-pay/authsocket/internal/config"
	"github.com/congo-pay/authsocket/internal/history"
	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Socket   *authsocket.Server
	Sessions *auth.Service
	Peers    *identity.Service
	History  history.Repository
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Socket == nil || d.Sessions == nil || d.Peers == nil || d.History == nil {
		return fmt.Errorf("routes: socket server, session, peer and history services are required")
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	// Health
	RegisterHealthRoutes(app, d)

	// Websocket endpoint
	RegisterSocketRoutes(app, d, middleware.ConnectRateLimit(d.Cache, d.Cfg.ConnectRateLimit))

	// API routes
	api := app.Group("/api/v1", middleware.Audit(d.Logger))
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	api.Get("/server", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"identity_key": d.Socket.IdentityKey(),
			"peers":        len(d.Socket.Peers()),
		})
	})

	// Protected routes
	protected := api.Group("", middleware.SessionAuth(d.Sessions))
	RegisterSessionRoutes(protected, auth.NewHandler(d.Sessions))
	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterPeerRoutes(protected, d)
	RegisterMessageRoutes(protected, d, idem)

	return nil
}
