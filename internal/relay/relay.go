package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel shared by every server instance.
const DefaultChannel = "authsocket:events:v1"

// Envelope is a signed general message forwarded between server instances.
type Envelope struct {
	Origin      string `json:"origin"`
	IdentityKey string `json:"identity_key"`
	Payload     []byte `json:"payload"`
	Signature   string `json:"signature"`
}

// Relay fans events out to other server instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, fn func(Envelope)) error
}

// Noop is used when the server runs as a single instance.
type Noop struct{}

func (Noop) Publish(context.Context, Envelope) error          { return nil }
func (Noop) Subscribe(context.Context, func(Envelope)) error { return nil }

// RedisRelay publishes envelopes on a Redis pub/sub channel and ignores the
// ones it published itself.
type RedisRelay struct {
	cache      *redis.Client
	channel    string
	instanceID string
	logger     *slog.Logger
}

// NewRedisRelay builds a relay with a fresh instance identifier.
func NewRedisRelay(cache *redis.Client, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{cache: cache, channel: channel, instanceID: uuid.NewString(), logger: logger}
}

// InstanceID identifies this process on the channel.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	env.Origin = r.instanceID
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.cache.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription and then delivers envelopes from other
// instances to fn until ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Envelope)) error {
	pubsub := r.cache.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("relay envelope decode failed", slog.Any("error", err))
					continue
				}
				if env.Origin == r.instanceID {
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}
