package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Entry is one event that the server fanned out.
type Entry struct {
	ID        string
	Event     string
	Sender    string
	Data      json.RawMessage
	CreatedAt time.Time
}

// Repository stores fanned-out events.
type Repository interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

type memoryRepository struct {
	mu  sync.Mutex
	buf *circularbuffer.Queue
}

// NewMemoryRepository keeps the last capacity entries; older ones are overwritten.
func NewMemoryRepository(capacity int) Repository {
	if capacity <= 0 {
		capacity = 100
	}
	return &memoryRepository{buf: circularbuffer.New(capacity)}
}

func (r *memoryRepository) Append(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Enqueue(entry)
	return nil
}

// Recent returns newest first.
func (r *memoryRepository) Recent(_ context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	values := r.buf.Values()
	r.mu.Unlock()

	if limit <= 0 || limit > len(values) {
		limit = len(values)
	}
	out := make([]Entry, 0, limit)
	for i := len(values) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, values[i].(Entry))
	}
	return out, nil
}
