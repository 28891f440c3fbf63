package nonce

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUnknownNonce is returned when a nonce was never issued, has expired or was already consumed.
	ErrUnknownNonce = errors.New("unknown or expired nonce")
	// ErrDuplicateNonce is returned when a nonce is issued twice.
	ErrDuplicateNonce = errors.New("nonce already issued")
)

// Store tracks server nonces handed out during handshakes. Each issued nonce
// may be consumed exactly once before its TTL elapses.
type Store interface {
	Issue(ctx context.Context, nonce []byte, ttl time.Duration) error
	Consume(ctx context.Context, nonce []byte) error
}

type memoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// NewMemoryStore returns a process-local store. Expired entries are swept on Issue.
func NewMemoryStore() Store {
	return &memoryStore{now: time.Now, entries: make(map[string]time.Time)}
}

func (s *memoryStore) Issue(_ context.Context, nonce []byte, ttl time.Duration) error {
	key := hex.EncodeToString(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
		}
	}
	if _, exists := s.entries[key]; exists {
		return ErrDuplicateNonce
	}
	s.entries[key] = now.Add(ttl)
	return nil
}

func (s *memoryStore) Consume(_ context.Context, nonce []byte) error {
	key := hex.EncodeToString(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.entries[key]
	if !ok {
		return ErrUnknownNonce
	}
	delete(s.entries, key)
	if !s.now().Before(exp) {
		return ErrUnknownNonce
	}
	return nil
}
