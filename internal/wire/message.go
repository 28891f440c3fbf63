package wire

import (
	"errors"
	"fmt"
)

// ProtocolVersion is the only version currently spoken on the wire.
const ProtocolVersion = "1"

// Message types exchanged over an authsocket transport.
const (
	TypeHello   = "hello"
	TypeNonce   = "nonce"
	TypeAuth    = "auth"
	TypeOK      = "ok"
	TypeGeneral = "general"
	TypeError   = "error"
)

// ErrPayloadRange is returned when an int payload holds a value that is not a byte.
var ErrPayloadRange = errors.New("payload value out of byte range")

// AuthMessage is the JSON envelope shared with the TypeScript authsocket client.
// Binary fields travel as int arrays.
type AuthMessage struct {
	Version      string `json:"version"`
	Type         string `json:"type"`
	IdentityKey  string `json:"identityKey,omitempty"`
	Nonce        []int  `json:"nonce,omitempty"`
	Payload      []int  `json:"payload,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Certificates any    `json:"certificates,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	Error        string `json:"error,omitempty"`
}

// NewMessage returns an envelope of the given type stamped with the protocol version.
func NewMessage(msgType string) AuthMessage {
	return AuthMessage{Version: ProtocolVersion, Type: msgType}
}

// Validate checks the envelope header.
func (m AuthMessage) Validate() error {
	if m.Version != ProtocolVersion {
		return fmt.Errorf("unsupported version %q", m.Version)
	}
	switch m.Type {
	case TypeHello, TypeNonce, TypeAuth, TypeOK, TypeGeneral, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

// PayloadBytes decodes Payload back into bytes.
func (m AuthMessage) PayloadBytes() ([]byte, error) {
	return BytesFromInts(m.Payload)
}

// NonceBytes decodes Nonce back into bytes.
func (m AuthMessage) NonceBytes() ([]byte, error) {
	return BytesFromInts(m.Nonce)
}

// IntsFromBytes widens b into the int array representation used on the wire.
func IntsFromBytes(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// BytesFromInts narrows a wire int array into bytes.
func BytesFromInts(a []int) ([]byte, error) {
	b := make([]byte, len(a))
	for i, v := range a {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: index %d value %d", ErrPayloadRange, i, v)
		}
		b[i] = byte(v)
	}
	return b, nil
}
