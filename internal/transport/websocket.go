package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer when the context has no deadline.
	writeWait = 10 * time.Second

	dialHandshakeTimeout = 5 * time.Second
)

// Conn is the subset of a websocket connection used by WebSocket. Both
// gorilla/websocket and the fasthttp fork behind Fiber's websocket adapter
// satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type readLimiter interface {
	SetReadLimit(limit int64)
}

// WebSocket implements Transport over a websocket connection. One reader and
// one writer may run concurrently.
type WebSocket struct {
	conn      Conn
	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established connection. A positive maxMessageSize is
// applied as the read limit when the connection supports it.
func NewWebSocket(conn Conn, maxMessageSize int64) *WebSocket {
	if rl, ok := conn.(readLimiter); ok && maxMessageSize > 0 {
		rl.SetReadLimit(maxMessageSize)
	}
	return &WebSocket{conn: conn}
}

// Dial opens a client websocket connection to url.
func Dial(ctx context.Context, url string, header http.Header) (*WebSocket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: dialHandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	return NewWebSocket(conn, 0), nil
}

func (w *WebSocket) Send(ctx context.Context, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	_ = w.conn.SetWriteDeadline(deadline)

	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return w.mapErr(ctx, err)
	}
	return nil
}

// Receive blocks for the next message. Cancelling ctx unblocks the read.
func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = w.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, message, err := w.conn.ReadMessage()
	if err != nil {
		return nil, w.mapErr(ctx, err)
	}
	return message, nil
}

func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func (w *WebSocket) mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
