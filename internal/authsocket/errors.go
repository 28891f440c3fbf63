package authsocket

import "errors"

var (
	// ErrNotConnected is returned by Client.Emit before a successful Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidHandshake is returned by the server when a peer fails authentication.
	ErrInvalidHandshake = errors.New("invalid handshake")
	// ErrHandshakeRejected is returned by the client when the server answers with an error message.
	ErrHandshakeRejected = errors.New("handshake rejected by server")
	// ErrServerKeyMismatch is returned when the server identity differs from the pinned key.
	ErrServerKeyMismatch = errors.New("server identity key mismatch")
	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("server closed")
	// ErrPeerNotConnected is returned by EmitTo when no session holds the identity key.
	ErrPeerNotConnected = errors.New("peer not connected")
)
