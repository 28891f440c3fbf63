package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

// NonceSize is the length in bytes of every handshake nonce.
const NonceSize = sha256.Size

// ErrEmptyEvent is returned when an event envelope carries no name.
var ErrEmptyEvent = errors.New("event name is required")

// Event is the application envelope carried in the payload of a general message.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an event envelope.
func NewEvent(name string, data any) (Event, error) {
	if name == "" {
		return Event{}, ErrEmptyEvent
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode event data: %w", err)
	}
	return Event{Name: name, Data: raw}, nil
}

// Encode returns the JSON bytes that go into AuthMessage.Payload.
func (e Event) Encode() ([]byte, error) {
	if e.Name == "" {
		return nil, ErrEmptyEvent
	}
	return json.Marshal(e)
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// DecodeEvent parses a general message payload.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Name == "" {
		return Event{}, ErrEmptyEvent
	}
	return ev, nil
}

// MakeNonce returns 32 bytes derived from the system RNG.
func MakeNonce() []byte {
	b := make([]byte, NonceSize)
	_, _ = rand.Read(b)
	sum := sha256.Sum256(b)
	return sum[:]
}

// MakeNonceIntArray is MakeNonce in wire representation.
func MakeNonceIntArray() []int {
	return IntsFromBytes(MakeNonce())
}
