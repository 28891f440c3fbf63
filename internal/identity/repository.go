package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPeerNotFound is returned when no peer is stored for an identity key.
var ErrPeerNotFound = errors.New("peer not found")

// Repository persists peers.
type Repository interface {
	Upsert(ctx context.Context, identityKey string, seenAt time.Time) (Peer, error)
	FindByKey(ctx context.Context, identityKey string) (Peer, error)
	List(ctx context.Context, limit int) ([]Peer, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed peer repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts a peer on first contact and bumps its counters afterwards.
func (r *PostgresRepository) Upsert(ctx context.Context, identityKey string, seenAt time.Time) (Peer, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO peers (id, identity_key, connections, first_seen, last_seen)
        VALUES ($1, $2, 1, $3, $3)
        ON CONFLICT (identity_key) DO UPDATE
        SET connections = peers.connections + 1, last_seen = EXCLUDED.last_seen
        RETURNING id, identity_key, connections, first_seen, last_seen`, uuid.New(), identityKey, seenAt.UTC())
	return scanPeer(row)
}

// FindByKey fetches a peer by identity key.
func (r *PostgresRepository) FindByKey(ctx context.Context, identityKey string) (Peer, error) {
	row := r.db.QueryRow(ctx, `SELECT id, identity_key, connections, first_seen, last_seen
        FROM peers WHERE identity_key = $1`, identityKey)
	return scanPeer(row)
}

// List returns the most recently seen peers first.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Peer, error) {
	rows, err := r.db.Query(ctx, `SELECT id, identity_key, connections, first_seen, last_seen
        FROM peers ORDER BY last_seen DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

func scanPeer(row pgx.Row) (Peer, error) {
	var (
		id        uuid.UUID
		firstSeen time.Time
		lastSeen  time.Time
		peer      Peer
	)
	if err := row.Scan(&id, &peer.IdentityKey, &peer.Connections, &firstSeen, &lastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Peer{}, ErrPeerNotFound
		}
		return Peer{}, err
	}
	peer.ID = id.String()
	peer.FirstSeen = firstSeen.UTC()
	peer.LastSeen = lastSeen.UTC()
	return peer, nil
}
