package authsocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/nonce"
	"github.com/congo-pay/authsocket/internal/transport"
	"github.com/congo-pay/authsocket/internal/wire"
)

const (
	defaultNonceTTL = time.Minute
	rejectTimeout   = time.Second
)

// ClientHandshakeOptions tunes the client side of the handshake.
type ClientHandshakeOptions struct {
	// ExpectedServerKey pins the server identity key when set.
	ExpectedServerKey string
}

// ClientHandshakeResult is what the client learns from a successful handshake.
type ClientHandshakeResult struct {
	ServerIdentityKey string
	SessionToken      string
}

// RunClientHandshake drives the client side of the handshake over t:
// hello -> nonce -> auth -> ok. The server proves its identity by signing the
// client nonce; the client proves its identity by signing the server nonce.
func RunClientHandshake(ctx context.Context, t transport.Transport, key *identity.KeyPair, opts ClientHandshakeOptions) (ClientHandshakeResult, error) {
	clientNonce := wire.MakeNonce()

	hello := wire.NewMessage(wire.TypeHello)
	hello.IdentityKey = key.PubHex()
	hello.Nonce = wire.IntsFromBytes(clientNonce)
	if err := writeMessage(ctx, t, hello); err != nil {
		return ClientHandshakeResult{}, fmt.Errorf("send hello: %w", err)
	}

	nonceMsg, err := readMessage(ctx, t)
	if err != nil {
		return ClientHandshakeResult{}, fmt.Errorf("receive nonce: %w", err)
	}
	if err := expectType(nonceMsg, wire.TypeNonce); err != nil {
		return ClientHandshakeResult{}, err
	}

	serverKey := nonceMsg.IdentityKey
	if opts.ExpectedServerKey != "" && serverKey != opts.ExpectedServerKey {
		return ClientHandshakeResult{}, fmt.Errorf("%w: got %s", ErrServerKeyMismatch, serverKey)
	}
	echoed, err := nonceMsg.NonceBytes()
	if err != nil || !bytes.Equal(echoed, clientNonce) {
		return ClientHandshakeResult{}, fmt.Errorf("%w: server did not echo client nonce", ErrInvalidHandshake)
	}
	if err := identity.VerifySignature(serverKey, clientNonce, nonceMsg.Signature); err != nil {
		return ClientHandshakeResult{}, fmt.Errorf("%w: server signature: %v", ErrInvalidHandshake, err)
	}

	serverNonce, err := nonceMsg.PayloadBytes()
	if err != nil || len(serverNonce) != wire.NonceSize {
		return ClientHandshakeResult{}, fmt.Errorf("%w: malformed server nonce", ErrInvalidHandshake)
	}
	sig, err := key.SignHex(serverNonce)
	if err != nil {
		return ClientHandshakeResult{}, fmt.Errorf("sign nonce: %w", err)
	}

	auth := wire.NewMessage(wire.TypeAuth)
	auth.IdentityKey = key.PubHex()
	auth.Payload = nonceMsg.Payload
	auth.Signature = sig
	if err := writeMessage(ctx, t, auth); err != nil {
		return ClientHandshakeResult{}, fmt.Errorf("send auth: %w", err)
	}

	okMsg, err := readMessage(ctx, t)
	if err != nil {
		return ClientHandshakeResult{}, fmt.Errorf("receive ok: %w", err)
	}
	if err := expectType(okMsg, wire.TypeOK); err != nil {
		return ClientHandshakeResult{}, err
	}
	if okMsg.IdentityKey != "" && okMsg.IdentityKey != serverKey {
		return ClientHandshakeResult{}, fmt.Errorf("%w: identity changed mid-handshake", ErrServerKeyMismatch)
	}

	return ClientHandshakeResult{ServerIdentityKey: serverKey, SessionToken: okMsg.SessionToken}, nil
}

func expectType(msg wire.AuthMessage, want string) error {
	if msg.Type == wire.TypeError {
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, msg.Error)
	}
	if msg.Type != want {
		return fmt.Errorf("%w: expected type=%s, got %s", ErrInvalidHandshake, want, msg.Type)
	}
	return nil
}

// TokenIssuer mints the session token returned in the ok message.
type TokenIssuer interface {
	Issue(identityKey, sessionID string) (string, time.Time, error)
}

// ServerHandshaker drives the server side of the handshake.
type ServerHandshaker struct {
	Key      *identity.KeyPair
	Nonces   nonce.Store
	NonceTTL time.Duration
	Tokens   TokenIssuer
	Logger   *slog.Logger
}

// HandshakeResult identifies an authenticated peer.
type HandshakeResult struct {
	IdentityKey  string
	SessionID    string
	SessionToken string
}

// Run waits for hello, sends a signed nonce, waits for auth and answers ok.
// sessionID is bound into the issued session token. Failures after hello are
// reported to the peer with an error message.
func (h *ServerHandshaker) Run(ctx context.Context, t transport.Transport, sessionID string) (HandshakeResult, error) {
	hello, err := readMessage(ctx, t)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("receive hello: %w", err)
	}
	if hello.Type != wire.TypeHello {
		return HandshakeResult{}, h.reject(ctx, t, fmt.Sprintf("expected type=hello, got %s", hello.Type))
	}
	if _, err := identity.ParseIdentityKey(hello.IdentityKey); err != nil {
		return HandshakeResult{}, h.reject(ctx, t, err.Error())
	}
	clientNonce, err := hello.NonceBytes()
	if err != nil {
		return HandshakeResult{}, h.reject(ctx, t, err.Error())
	}
	if len(clientNonce) != wire.NonceSize {
		return HandshakeResult{}, h.reject(ctx, t, fmt.Sprintf("client nonce must be %d bytes, got %d", wire.NonceSize, len(clientNonce)))
	}

	serverNonce := wire.MakeNonce()
	ttl := h.NonceTTL
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if err := h.Nonces.Issue(ctx, serverNonce, ttl); err != nil {
		return HandshakeResult{}, fmt.Errorf("issue nonce: %w", err)
	}

	reply := wire.NewMessage(wire.TypeNonce)
	reply.IdentityKey = h.Key.PubHex()
	reply.Payload = wire.IntsFromBytes(serverNonce)
	reply.Nonce = hello.Nonce
	if reply.Signature, err = h.Key.SignHex(clientNonce); err != nil {
		return HandshakeResult{}, fmt.Errorf("sign client nonce: %w", err)
	}
	if err := writeMessage(ctx, t, reply); err != nil {
		return HandshakeResult{}, fmt.Errorf("send nonce: %w", err)
	}

	auth, err := readMessage(ctx, t)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("receive auth: %w", err)
	}
	if auth.Type != wire.TypeAuth {
		return HandshakeResult{}, h.reject(ctx, t, fmt.Sprintf("expected type=auth, got %s", auth.Type))
	}
	if auth.IdentityKey != hello.IdentityKey {
		return HandshakeResult{}, h.reject(ctx, t, "identity key changed between hello and auth")
	}
	signed, err := auth.PayloadBytes()
	if err != nil || !bytes.Equal(signed, serverNonce) {
		return HandshakeResult{}, h.reject(ctx, t, "auth payload does not match issued nonce")
	}
	if err := h.Nonces.Consume(ctx, serverNonce); err != nil {
		if errors.Is(err, nonce.ErrUnknownNonce) {
			return HandshakeResult{}, h.reject(ctx, t, err.Error())
		}
		return HandshakeResult{}, fmt.Errorf("consume nonce: %w", err)
	}
	if err := identity.VerifySignature(auth.IdentityKey, serverNonce, auth.Signature); err != nil {
		return HandshakeResult{}, h.reject(ctx, t, err.Error())
	}

	res := HandshakeResult{IdentityKey: auth.IdentityKey, SessionID: sessionID}
	if h.Tokens != nil {
		token, _, err := h.Tokens.Issue(res.IdentityKey, sessionID)
		if err != nil {
			return HandshakeResult{}, fmt.Errorf("issue session token: %w", err)
		}
		res.SessionToken = token
	}

	ok := wire.NewMessage(wire.TypeOK)
	ok.IdentityKey = h.Key.PubHex()
	ok.SessionToken = res.SessionToken
	if err := writeMessage(ctx, t, ok); err != nil {
		return HandshakeResult{}, fmt.Errorf("send ok: %w", err)
	}
	return res, nil
}

// reject tells the peer why the handshake failed and returns ErrInvalidHandshake.
func (h *ServerHandshaker) reject(ctx context.Context, t transport.Transport, reason string) error {
	msg := wire.NewMessage(wire.TypeError)
	msg.Error = reason

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rejectTimeout)
	defer cancel()
	if err := writeMessage(sendCtx, t, msg); err != nil && h.Logger != nil {
		h.Logger.Debug("handshake rejection not delivered", slog.Any("error", err))
	}
	return fmt.Errorf("%w: %s", ErrInvalidHandshake, reason)
}
