package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// NewMemoryRepository builds an in-memory peer store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{peers: make(map[string]Peer)}
}

func (r *memoryRepository) Upsert(_ context.Context, identityKey string, seenAt time.Time) (Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[identityKey]
	if !ok {
		peer = Peer{ID: uuid.NewString(), IdentityKey: identityKey, FirstSeen: seenAt.UTC()}
	}
	peer.Connections++
	peer.LastSeen = seenAt.UTC()
	r.peers[identityKey] = peer
	return peer, nil
}

func (r *memoryRepository) FindByKey(_ context.Context, identityKey string) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[identityKey]
	if !ok {
		return Peer{}, ErrPeerNotFound
	}
	return peer, nil
}

func (r *memoryRepository) List(_ context.Context, limit int) ([]Peer, error) {
	r.mu.RLock()
	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].LastSeen.After(peers[j].LastSeen) })
	if limit > 0 && len(peers) > limit {
		peers = peers[:limit]
	}
	return peers, nil
}
