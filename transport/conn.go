// Package transport moves executor calls across a goroutine or process
// boundary. A [Client] implements embedpdf.Executor by sending wire
// envelopes over a [Conn]; a [Host] serves a real Executor on the other
// end. Conns come from [Pipe] (in-process, zero-copy) or from [Dial] and
// [Upgrade] (WebSocket).
package transport

import (
	"context"
	"errors"

	"github.com/embedpdf/pdfdispatch/wire"
)

// ErrClosed is returned by a Conn once it has been closed from either side.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional envelope stream. Send may be called from many
// goroutines; Recv from one. Close unblocks pending Send and Recv calls.
type Conn interface {
	Send(ctx context.Context, env *wire.Envelope) error
	Recv(ctx context.Context) (*wire.Envelope, error)
	Close() error
}
