package authsocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/authsocket/internal/transport"
)

const defaultSendQueue = 256

// session is one authenticated connection held by the Server.
type session struct {
	id          string
	identityKey string
	connectedAt time.Time
	transport   transport.Transport
	send        chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id, identityKey string, t transport.Transport, queue int) *session {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &session{
		id:          id,
		identityKey: identityKey,
		connectedAt: time.Now().UTC(),
		transport:   t,
		send:        make(chan []byte, queue),
		done:        make(chan struct{}),
	}
}

// enqueue never blocks. It reports false when the session is closed or its
// queue is full.
func (s *session) enqueue(raw []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- raw:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue onto the transport until the session closes.
func (s *session) writeLoop(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case raw := <-s.send:
			if err := s.transport.Send(ctx, raw); err != nil {
				logger.Warn("session write failed", slog.String("session_id", s.id), slog.Any("error", err))
				s.close()
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.transport.Close()
	})
}
