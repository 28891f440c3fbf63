package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Smoke configures the two-client smoke run against a live server. The
// defaults reproduce the fixed Alice/Bob identities; Bob's key is 31 bytes.
type Smoke struct {
	URL         string        `env:"SMOKE_URL" env-default:"ws://localhost:8080/ws"`
	AliceKey    string        `env:"SMOKE_ALICE_KEY" env-default:"0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"`
	BobKey      string        `env:"SMOKE_BOB_KEY" env-default:"02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f21"`
	ServerKey   string        `env:"SMOKE_SERVER_KEY" env-description:"pin the server identity key"`
	ConnectWait time.Duration `env:"SMOKE_CONNECT_WAIT" env-default:"1s"`
	SettleWait  time.Duration `env:"SMOKE_SETTLE_WAIT" env-default:"2s"`
	LogLevel    string        `env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string        `env:"LOG_FORMAT" env-default:"text"`
}

// LoadSmoke reads SMOKE_* variables.
func LoadSmoke() (Smoke, error) {
	var cfg Smoke
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Smoke{}, fmt.Errorf("read smoke env: %w", err)
	}
	return cfg, nil
}
