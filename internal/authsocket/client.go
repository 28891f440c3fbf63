package authsocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/logging"
	"github.com/congo-pay/authsocket/internal/transport"
	"github.com/congo-pay/authsocket/internal/wire"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	ClientHandshakeOptions
	Logger *slog.Logger
}

// Client is one authenticated connection to an authsocket server. Handlers
// registered with On run on the listener goroutine, in registration order.
type Client struct {
	transport transport.Transport
	key       *identity.KeyPair
	opts      ClientOptions
	logger    *slog.Logger
	handlers  handlers

	mu        sync.Mutex
	connected bool
	serverKey string
	token     string
	cancel    context.CancelFunc

	closing  atomic.Bool
	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// NewClient wraps a transport. Call Connect before Emit.
func NewClient(t transport.Transport, key *identity.KeyPair, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		transport: t,
		key:       key,
		opts:      opts,
		logger:    logger.With(slog.String("identity_key", key.PubHex())),
		done:      make(chan struct{}),
	}
}

// Dial opens a websocket to url and completes the handshake.
func Dial(ctx context.Context, url string, key *identity.KeyPair, opts ClientOptions) (*Client, error) {
	ws, err := transport.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := NewClient(ws, key, opts)
	if err := c.Connect(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

// Connect performs the handshake and starts listening. Calling it again after
// success is a no-op. ctx bounds the handshake only.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if c.closing.Load() {
		return transport.ErrClosed
	}

	res, err := RunClientHandshake(ctx, c.transport, c.key, c.opts.ClientHandshakeOptions)
	if err != nil {
		return err
	}
	c.connected = true
	c.serverKey = res.ServerIdentityKey
	c.token = res.SessionToken

	listenCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.listen(listenCtx)

	c.logger.Debug("authsocket connected", slog.String("server_key", res.ServerIdentityKey))
	return nil
}

// On registers a handler for an event name.
func (c *Client) On(event string, handler HandlerFunc) {
	c.handlers.add(event, handler)
}

// Emit signs and sends an event to the server.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	msg, _, err := signedGeneral(c.key, event, data)
	if err != nil {
		return err
	}
	if err := writeMessage(ctx, c.transport, msg); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// ServerIdentityKey is the key the server proved during the handshake.
func (c *Client) ServerIdentityKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverKey
}

// SessionToken is the bearer token for the server's HTTP API.
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// IdentityKey is this client's own identity key.
func (c *Client) IdentityKey() string {
	return c.key.PubHex()
}

// Done is closed when the listener stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the listener stopped. It is nil after Close.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close stops the listener and closes the transport.
func (c *Client) Close() error {
	c.closing.Store(true)
	c.mu.Lock()
	cancel := c.cancel
	connected := c.connected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.transport.Close()
	if !connected {
		c.finish(nil)
	}
	<-c.done
	return err
}

func (c *Client) finish(err error) {
	c.doneOnce.Do(func() {
		if c.closing.Load() {
			err = nil
		}
		c.err = err
		close(c.done)
	})
}

func (c *Client) listen(ctx context.Context) {
	for {
		raw, err := c.transport.Receive(ctx)
		if err != nil {
			if !c.closing.Load() && !errors.Is(err, context.Canceled) {
				c.logger.Warn("authsocket listener stopped", slog.Any("error", err))
			}
			c.finish(err)
			return
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			c.logger.Warn("dropping undecodable message", slog.Any("error", err))
			continue
		}

		switch msg.Type {
		case wire.TypeGeneral:
			c.handleGeneral(msg)
		case wire.TypeError:
			c.logger.Warn("server reported error", slog.String("error", msg.Error))
		default:
			c.logger.Debug("ignoring message", slog.String("type", msg.Type))
		}
	}
}

func (c *Client) handleGeneral(msg wire.AuthMessage) {
	payload, err := msg.PayloadBytes()
	if err != nil {
		c.logger.Warn("dropping general message", slog.Any("error", err))
		return
	}
	sender := msg.IdentityKey
	if sender == "" {
		sender = c.ServerIdentityKey()
	}
	if err := identity.VerifySignature(sender, payload, msg.Signature); err != nil {
		c.logger.Warn("dropping unsigned or forged message", slog.String("sender", sender), slog.Any("error", err))
		return
	}
	ev, err := wire.DecodeEvent(payload)
	if err != nil {
		c.logger.Warn("dropping general message", slog.Any("error", err))
		return
	}
	c.handlers.dispatch(c.logger, Event{Name: ev.Name, Data: ev.Data, Sender: sender})
}
