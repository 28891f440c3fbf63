package server

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/authsocket/internal/auth"
	"github.com/congo-pay/authsocket/internal/authsocket"
	"github.com/congo-pay/authsocket/internal/config"
	"github.com/congo-pay/authsocket/internal/history"
	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/nonce"
	"github.com/congo-pay/authsocket/internal/notification"
	"github.com/congo-pay/authsocket/internal/relay"
	"github.com/congo-pay/authsocket/internal/routes"
)

// buildDeps picks Postgres/Redis backed implementations when the clients are
// available and in-memory ones otherwise.
func buildDeps(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (routes.Deps, error) {
	key, err := serverKey(cfg, logger)
	if err != nil {
		return routes.Deps{}, err
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		if secret, err = auth.DeriveSecret(key.Priv.Serialize()); err != nil {
			return routes.Deps{}, err
		}
	}
	sessions := auth.NewService(secret, cfg.SessionTTL)

	var (
		nonces   nonce.Store
		peerRepo identity.Repository
		store    history.Repository
		fanout   relay.Relay = relay.Noop{}
	)
	if db != nil {
		peerRepo = identity.NewPostgresRepository(db)
		store = history.NewPostgresRepository(db)
	} else {
		peerRepo = identity.NewMemoryRepository()
		store = history.NewMemoryRepository(cfg.HistoryLimit)
	}
	if cache != nil {
		nonces = nonce.NewRedisStore(cache)
		fanout = relay.NewRedisRelay(cache, relay.DefaultChannel, logger)
	} else {
		nonces = nonce.NewMemoryStore()
	}
	peers := identity.NewService(peerRepo)

	socket := authsocket.NewServer(key, authsocket.ServerOptions{
		Nonces:           nonces,
		NonceTTL:         cfg.NonceTTL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Tokens:           sessions,
		Peers:            peers,
		History:          store,
		Relay:            fanout,
		Notifier:         notification.NewLoggerNotifier(logger),
		EchoToSender:     cfg.EchoToSender,
		Welcome:          cfg.WelcomeMessage,
		Logger:           logger,
	})

	return routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Socket:   socket,
		Sessions: sessions,
		Peers:    peers,
		History:  store,
	}, nil
}

func serverKey(cfg config.Config, logger *slog.Logger) (*identity.KeyPair, error) {
	if cfg.ServerPrivateKey != "" {
		key, err := identity.NewKeyPairFromHex(cfg.ServerPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PRIVATE_KEY: %w", err)
		}
		return key, nil
	}
	if !cfg.IsDev() {
		return nil, fmt.Errorf("SERVER_PRIVATE_KEY is required when APP_ENV=%s", cfg.AppEnv)
	}
	key, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	logger.Warn("using ephemeral server key", slog.String("identity_key", key.PubHex()))
	return key, nil
}
