package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "authsocket"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultHandshakeTimeout = 10 * time.Second
	defaultNonceTTL         = time.Minute
	defaultSessionTTL       = time.Hour
	defaultConnectRateLimit = 30
	defaultHistoryLimit     = 500
	defaultMaxMessageSize   = 1 << 20
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// ServerPrivateKey is the hex secp256k1 key the server proves in the handshake.
	ServerPrivateKey string
	SessionSecret    string
	SessionTTL       time.Duration
	HandshakeTimeout time.Duration
	NonceTTL         time.Duration
	// ConnectRateLimit caps websocket upgrades per client IP per minute.
	ConnectRateLimit int
	EchoToSender     bool
	WelcomeMessage   string
	HistoryLimit     int
	MaxMessageSize   int64
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ServerPrivateKey: os.Getenv("SERVER_PRIVATE_KEY"),
		SessionSecret:    os.Getenv("SESSION_SECRET"),
		WelcomeMessage:   os.Getenv("WELCOME_MESSAGE"),
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.HandshakeTimeout, err = getDuration("HANDSHAKE_TIMEOUT", defaultHandshakeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.NonceTTL, err = getDuration("NONCE_TTL", defaultNonceTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ConnectRateLimit, err = getInt("CONNECT_RATE_LIMIT", defaultConnectRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", defaultHistoryLimit); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", cfg.HistoryLimit)
	}
	maxSize, err := getInt("MAX_MESSAGE_SIZE", defaultMaxMessageSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageSize = int64(maxSize)
	if v := os.Getenv("ECHO_TO_SENDER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ECHO_TO_SENDER: %w", err)
		}
		cfg.EchoToSender = b
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.ServerPrivateKey == "" {
			return Config{}, fmt.Errorf("SERVER_PRIVATE_KEY must be set")
		}
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a local development environment,
// where Postgres and Redis are optional and the server key may be ephemeral.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration accepts KEY_SECONDS as an integer or KEY as a Go duration.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
