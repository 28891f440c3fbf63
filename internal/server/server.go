package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/authsocket/internal/authsocket"
	"github.com/congo-pay/authsocket/internal/config"
	"github.com/congo-pay/authsocket/internal/routes"
)

// Server wraps the Fiber application, the authsocket server and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	db     *pgxpool.Pool
	cache  *redis.Client
	socket *authsocket.Server
	stop   context.CancelFunc
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	deps, err := buildDeps(cfg, db, cache, logger)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
	})

	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())
	if err := deps.Socket.Start(ctx); err != nil {
		stop()
		return nil, fmt.Errorf("start relay: %w", err)
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, socket: deps.Socket, stop: stop}, nil
}

// IdentityKey is the key clients see in the handshake.
func (s *Server) IdentityKey() string {
	return s.socket.IdentityKey()
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Listener serves on an existing listener, e.g. 127.0.0.1:0 in tests.
func (s *Server) Listener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown disconnects socket sessions and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.socket.Close()
	s.stop()
	return s.app.ShutdownWithContext(ctx)
}
