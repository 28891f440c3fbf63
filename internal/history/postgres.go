package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists history in the messages table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts an entry.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) error {
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return err
	}
	data := entry.Data
	if len(data) == 0 {
		data = []byte("null")
	}
	_, err = r.db.Exec(ctx, `INSERT INTO messages (id, event, sender, data, created_at)
        VALUES ($1, $2, $3, $4, $5)`, id, entry.Event, entry.Sender, []byte(data), entry.CreatedAt.UTC())
	return err
}

// Recent returns newest first.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, event, sender, data, created_at
        FROM messages ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id        uuid.UUID
			data      []byte
			createdAt time.Time
			e         Entry
		)
		if err := rows.Scan(&id, &e.Event, &e.Sender, &data, &createdAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.Data = data
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
