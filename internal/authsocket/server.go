package authsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/authsocket/internal/history"
	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/logging"
	"github.com/congo-pay/authsocket/internal/nonce"
	"github.com/congo-pay/authsocket/internal/notification"
	"github.com/congo-pay/authsocket/internal/relay"
	"github.com/congo-pay/authsocket/internal/transport"
	"github.com/congo-pay/authsocket/internal/wire"
)

const (
	defaultHandshakeTimeout = 10 * time.Second

	// PresenceEvent is broadcast to other sessions when a peer joins or leaves.
	PresenceEvent = "presence"
	// WelcomeEvent is the event name used for the greeting sent to a new session.
	WelcomeEvent = "message"
)

// ServerOptions wires the server's collaborators. Only Nonces is required to
// be non-nil for a useful server; NewServer fills the rest with defaults.
type ServerOptions struct {
	Nonces           nonce.Store
	NonceTTL         time.Duration
	HandshakeTimeout time.Duration
	Tokens           TokenIssuer
	Peers            *identity.Service
	History          history.Repository
	Relay            relay.Relay
	Notifier         notification.Notifier
	// EchoToSender also delivers a client's event back to the client that sent it.
	EchoToSender bool
	// Welcome, when set, is sent to each new session as {"from":"Server","text":Welcome}.
	Welcome   string
	SendQueue int
	Logger    *slog.Logger
}

// PeerInfo describes a connected session.
type PeerInfo struct {
	SessionID   string    `json:"session_id"`
	IdentityKey string    `json:"identity_key"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Server authenticates clients and fans their events out to each other.
type Server struct {
	key        *identity.KeyPair
	opts       ServerOptions
	logger     *slog.Logger
	handshaker *ServerHandshaker
	handlers   handlers

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewServer builds a server identified by key.
func NewServer(key *identity.KeyPair, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Nonces == nil {
		opts.Nonces = nonce.NewMemoryStore()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Relay == nil {
		opts.Relay = relay.Noop{}
	}
	return &Server{
		key:    key,
		opts:   opts,
		logger: opts.Logger,
		handshaker: &ServerHandshaker{
			Key:      key,
			Nonces:   opts.Nonces,
			NonceTTL: opts.NonceTTL,
			Tokens:   opts.Tokens,
			Logger:   opts.Logger,
		},
		sessions: make(map[string]*session),
	}
}

// IdentityKey is the server's public identity key.
func (s *Server) IdentityKey() string {
	return s.key.PubHex()
}

// Start subscribes to the relay so events from other instances reach local
// sessions. It returns once the subscription is active.
func (s *Server) Start(ctx context.Context) error {
	return s.opts.Relay.Subscribe(ctx, s.deliverRelayed)
}

// On registers a server-side handler for events sent by clients.
func (s *Server) On(event string, handler HandlerFunc) {
	s.handlers.add(event, handler)
}

// Serve authenticates the peer on t and then services it until the transport
// fails or ctx is cancelled. It always closes t.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		_ = t.Close()
		return ErrServerClosed
	}

	sessionID := uuid.NewString()
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	res, err := s.handshaker.Run(hctx, t, sessionID)
	cancel()
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	sess := newSession(sessionID, res.IdentityKey, t, s.opts.SendQueue)
	if err := s.register(sess); err != nil {
		sess.close()
		return err
	}
	logger := s.logger.With(slog.String("session_id", sess.id), slog.String("identity_key", sess.identityKey))
	logger.Info("peer authenticated")

	sessCtx, stop := context.WithCancel(ctx)
	defer stop()
	go sess.writeLoop(sessCtx, logger)

	s.onJoin(sessCtx, sess)
	defer s.onLeave(sess)

	if s.opts.Welcome != "" {
		if msg, _, err := signedGeneral(s.key, WelcomeEvent, map[string]string{"from": "Server", "text": s.opts.Welcome}); err == nil {
			if raw, err := json.Marshal(msg); err == nil {
				sess.enqueue(raw)
			}
		}
	}

	for {
		raw, err := t.Receive(sessCtx)
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && !errors.Is(err, context.Canceled) {
				logger.Debug("session read ended", slog.Any("error", err))
			}
			return nil
		}
		s.handleInbound(sessCtx, logger, sess, raw)
	}
}

// Emit signs an event with the server key and broadcasts it to every session.
func (s *Server) Emit(ctx context.Context, event string, data any) error {
	msg, ev, err := signedGeneral(s.key, event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.fanout(raw, "")
	s.record(ctx, ev, s.IdentityKey())
	return nil
}

// EmitTo sends an event to every session authenticated as identityKey.
func (s *Server) EmitTo(ctx context.Context, identityKey, event string, data any) error {
	msg, _, err := signedGeneral(s.key, event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	delivered := 0
	for _, sess := range s.snapshot() {
		if sess.identityKey != identityKey {
			continue
		}
		if s.deliver(sess, raw) {
			delivered++
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, identityKey)
	}
	return nil
}

// Peers lists connected sessions, oldest first.
func (s *Server) Peers() []PeerInfo {
	sessions := s.snapshot()
	peers := make([]PeerInfo, 0, len(sessions))
	for _, sess := range sessions {
		peers = append(peers, PeerInfo{SessionID: sess.id, IdentityKey: sess.identityKey, ConnectedAt: sess.connectedAt})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ConnectedAt.Before(peers[j].ConnectedAt) })
	return peers
}

// Close refuses new sessions and disconnects the existing ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Server) register(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.sessions[sess.id] = sess
	return nil
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.close()
}

func (s *Server) snapshot() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// deliver enqueues raw for sess and drops the session when its queue is full.
func (s *Server) deliver(sess *session, raw []byte) bool {
	if sess.enqueue(raw) {
		return true
	}
	if sess.closed() {
		return false
	}
	s.logger.Warn("session queue full, disconnecting", slog.String("session_id", sess.id))
	sess.close()
	return false
}

func (s *Server) fanout(raw []byte, exclude string) {
	for _, sess := range s.snapshot() {
		if sess.id == exclude {
			continue
		}
		s.deliver(sess, raw)
	}
}

func (s *Server) handleInbound(ctx context.Context, logger *slog.Logger, sess *session, raw []byte) {
	msg, err := decodeMessage(raw)
	if err != nil {
		logger.Warn("dropping undecodable message", slog.Any("error", err))
		return
	}
	if msg.Type != wire.TypeGeneral {
		logger.Warn("dropping unexpected message", slog.String("type", msg.Type))
		return
	}
	if msg.IdentityKey != "" && msg.IdentityKey != sess.identityKey {
		logger.Warn("dropping message claiming another identity", slog.String("claimed", msg.IdentityKey))
		return
	}
	payload, err := msg.PayloadBytes()
	if err != nil {
		logger.Warn("dropping general message", slog.Any("error", err))
		return
	}
	if err := identity.VerifySignature(sess.identityKey, payload, msg.Signature); err != nil {
		logger.Warn("dropping unsigned or forged message", slog.Any("error", err))
		return
	}
	ev, err := wire.DecodeEvent(payload)
	if err != nil {
		logger.Warn("dropping general message", slog.Any("error", err))
		return
	}

	s.handlers.dispatch(logger, Event{Name: ev.Name, Data: ev.Data, Sender: sess.identityKey, SessionID: sess.id})

	out := wire.NewMessage(wire.TypeGeneral)
	out.IdentityKey = sess.identityKey
	out.Payload = msg.Payload
	out.Signature = msg.Signature
	forward, err := json.Marshal(out)
	if err != nil {
		logger.Error("encode forwarded message", slog.Any("error", err))
		return
	}
	exclude := sess.id
	if s.opts.EchoToSender {
		exclude = ""
	}
	s.fanout(forward, exclude)
	s.record(ctx, ev, sess.identityKey)

	if err := s.opts.Relay.Publish(ctx, relay.Envelope{IdentityKey: sess.identityKey, Payload: payload, Signature: msg.Signature}); err != nil {
		logger.Warn("relay publish failed", slog.Any("error", err))
	}
}

// deliverRelayed forwards an event that a peer on another instance sent.
func (s *Server) deliverRelayed(env relay.Envelope) {
	if err := identity.VerifySignature(env.IdentityKey, env.Payload, env.Signature); err != nil {
		s.logger.Warn("dropping relayed message", slog.String("origin", env.Origin), slog.Any("error", err))
		return
	}
	msg := wire.NewMessage(wire.TypeGeneral)
	msg.IdentityKey = env.IdentityKey
	msg.Payload = wire.IntsFromBytes(env.Payload)
	msg.Signature = env.Signature
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.fanout(raw, "")
}

func (s *Server) record(ctx context.Context, ev wire.Event, sender string) {
	if s.opts.History == nil {
		return
	}
	entry := history.Entry{
		ID:        uuid.NewString(),
		Event:     ev.Name,
		Sender:    sender,
		Data:      ev.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.opts.History.Append(ctx, entry); err != nil {
		s.logger.Warn("history append failed", slog.String("event", ev.Name), slog.Any("error", err))
	}
}

func (s *Server) onJoin(ctx context.Context, sess *session) {
	if s.opts.Peers != nil {
		if _, err := s.opts.Peers.RecordConnection(ctx, sess.identityKey); err != nil {
			s.logger.Warn("record peer failed", slog.String("identity_key", sess.identityKey), slog.Any("error", err))
		}
	}
	s.announce(ctx, sess, notification.StatusJoined)
}

func (s *Server) onLeave(sess *session) {
	s.unregister(sess)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.announce(ctx, sess, notification.StatusLeft)
	s.logger.Debug("peer disconnected", slog.String("session_id", sess.id), slog.String("identity_key", sess.identityKey))
}

// announce notifies downstream systems and tells the other sessions that
// sess joined or left.
func (s *Server) announce(ctx context.Context, sess *session, status notification.Status) {
	p := notification.Presence{
		Status:      status,
		IdentityKey: sess.identityKey,
		SessionID:   sess.id,
		At:          time.Now().UTC(),
		Online:      len(s.snapshot()),
	}
	if status == notification.StatusLeft {
		p.Connected = p.At.Sub(sess.connectedAt)
	}
	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.Notify(ctx, p); err != nil {
			s.logger.Warn("presence notification failed", slog.String("status", string(status)), slog.Any("error", err))
		}
	}

	msg, _, err := signedGeneral(s.key, PresenceEvent, p)
	if err != nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.fanout(raw, sess.id)
}
