package identity

import (
	"context"
	"time"
)

const defaultListLimit = 100

// Service tracks the peers that authenticate against this server.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// RecordConnection validates the identity key and records a successful handshake.
func (s *Service) RecordConnection(ctx context.Context, identityKey string) (Peer, error) {
	if _, err := ParseIdentityKey(identityKey); err != nil {
		return Peer{}, err
	}
	return s.repo.Upsert(ctx, identityKey, s.now())
}

// Get returns the stored peer for an identity key.
func (s *Service) Get(ctx context.Context, identityKey string) (Peer, error) {
	return s.repo.FindByKey(ctx, identityKey)
}

// List returns known peers, most recently seen first.
func (s *Service) List(ctx context.Context, limit int) ([]Peer, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.repo.List(ctx, limit)
}
