package transport

import (
	"context"
	"sync"

	"github.com/embedpdf/pdfdispatch/wire"
)

// pipeBuffer bounds how many envelopes may be in flight in one direction.
const pipeBuffer = 64

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

func (s *pipeShared) close() {
	s.once.Do(func() { close(s.done) })
}

type pipeConn struct {
	in     <-chan *wire.Envelope
	out    chan<- *wire.Envelope
	shared *pipeShared
}

// Pipe returns two connected in-process Conns. Envelopes are passed by
// reference: bodies are never encoded and buffers are never copied.
// Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan *wire.Envelope, pipeBuffer)
	ba := make(chan *wire.Envelope, pipeBuffer)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeConn{in: ba, out: ab, shared: shared},
		&pipeConn{in: ab, out: ba, shared: shared}
}

func (p *pipeConn) Send(ctx context.Context, env *wire.Envelope) error {
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.shared.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Recv(ctx context.Context) (*wire.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.shared.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.shared.close()
	return nil
}
