package nonce

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "authsocket:nonce:v1:"

// RedisStore shares issued nonces between server instances.
type RedisStore struct {
	cache *redis.Client
}

// NewRedisStore builds a Redis-backed nonce store.
func NewRedisStore(cache *redis.Client) *RedisStore {
	return &RedisStore{cache: cache}
}

// Issue reserves the nonce with SETNX so that a collision is detected.
func (s *RedisStore) Issue(ctx context.Context, nonce []byte, ttl time.Duration) error {
	ok, err := s.cache.SetNX(ctx, redisPrefix+hex.EncodeToString(nonce), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("issue nonce: %w", err)
	}
	if !ok {
		return ErrDuplicateNonce
	}
	return nil
}

// Consume deletes the nonce; only the caller that removes the key succeeds.
func (s *RedisStore) Consume(ctx context.Context, nonce []byte) error {
	n, err := s.cache.Del(ctx, redisPrefix+hex.EncodeToString(nonce)).Result()
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if n == 0 {
		return ErrUnknownNonce
	}
	return nil
}
