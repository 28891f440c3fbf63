package authsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/transport"
	"github.com/congo-pay/authsocket/internal/wire"
)

// Event is an application event delivered to a handler.
type Event struct {
	Name string
	Data json.RawMessage
	// Sender is the identity key that signed the event.
	Sender string
	// SessionID is set on the server side only.
	SessionID string
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// HandlerFunc receives events registered with On.
type HandlerFunc func(Event)

// handlers is a registry of HandlerFuncs keyed by event name.
type handlers struct {
	mu  sync.RWMutex
	fns map[string][]HandlerFunc
}

func (h *handlers) add(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[string][]HandlerFunc)
	}
	h.fns[event] = append(h.fns[event], fn)
}

// dispatch runs the handlers for ev in registration order. A panicking
// handler is logged and does not stop the others.
func (h *handlers) dispatch(logger *slog.Logger, ev Event) {
	h.mu.RLock()
	fns := h.fns[ev.Name]
	h.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event handler panicked", slog.String("event", ev.Name), slog.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}
}

// signedGeneral builds a general message carrying ev, signed by key.
func signedGeneral(key *identity.KeyPair, name string, data any) (wire.AuthMessage, wire.Event, error) {
	ev, err := wire.NewEvent(name, data)
	if err != nil {
		return wire.AuthMessage{}, wire.Event{}, err
	}
	payload, err := ev.Encode()
	if err != nil {
		return wire.AuthMessage{}, wire.Event{}, err
	}
	sig, err := key.SignHex(payload)
	if err != nil {
		return wire.AuthMessage{}, wire.Event{}, fmt.Errorf("sign event: %w", err)
	}
	msg := wire.NewMessage(wire.TypeGeneral)
	msg.IdentityKey = key.PubHex()
	msg.Payload = wire.IntsFromBytes(payload)
	msg.Signature = sig
	return msg, ev, nil
}

func writeMessage(ctx context.Context, t transport.Transport, msg wire.AuthMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return t.Send(ctx, raw)
}

func decodeMessage(raw []byte) (wire.AuthMessage, error) {
	var msg wire.AuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.AuthMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return wire.AuthMessage{}, err
	}
	return msg, nil
}

func readMessage(ctx context.Context, t transport.Transport) (wire.AuthMessage, error) {
	raw, err := t.Receive(ctx)
	if err != nil {
		return wire.AuthMessage{}, err
	}
	return decodeMessage(raw)
}
