package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS peers (
        id UUID PRIMARY KEY,
        identity_key TEXT NOT NULL UNIQUE,
        connections BIGINT NOT NULL DEFAULT 0,
        first_seen TIMESTAMPTZ NOT NULL,
        last_seen TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS peers_last_seen_idx ON peers (last_seen DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
        id UUID PRIMARY KEY,
        event TEXT NOT NULL,
        sender TEXT NOT NULL,
        data JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS messages_created_at_idx ON messages (created_at DESC)`,
}

// EnsureSchema creates the peers and messages tables when they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
