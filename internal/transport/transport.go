package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Receive once a transport has been closed.
var ErrClosed = errors.New("transport closed")

// Transport moves whole messages between two authsocket peers.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

const inMemoryBuffer = 16

type inMemoryPipe struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

// InMemoryPair returns two connected transports. Closing either end closes both.
func InMemoryPair() (Transport, Transport) {
	c2s := make(chan []byte, inMemoryBuffer)
	s2c := make(chan []byte, inMemoryBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	client := &inMemoryPipe{in: s2c, out: c2s, closed: closed, once: once}
	server := &inMemoryPipe{in: c2s, out: s2c, closed: closed, once: once}
	return client, server
}

func (p *inMemoryPipe) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *inMemoryPipe) Receive(ctx context.Context) ([]byte, error) {
	select {
	case v := <-p.in:
		return v, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *inMemoryPipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
