package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/embedpdf/pdfdispatch/backoff"
	"github.com/embedpdf/pdfdispatch/wire"
)

// FormatParam is the query parameter that selects the wire codec.
const FormatParam = "format"

// wsConn carries one envelope per binary WebSocket message.
type wsConn struct {
	conn  net.Conn
	src   io.Reader
	state ws.State
	codec wire.Codec

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(conn net.Conn, br *bufio.Reader, state ws.State, codec wire.Codec) *wsConn {
	var src io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		// The handshake reader may already hold the first frames.
		src = io.MultiReader(br, conn)
	}
	return &wsConn{conn: conn, src: src, state: state, codec: codec, closed: make(chan struct{})}
}

func (c *wsConn) Send(_ context.Context, env *wire.Envelope) error {
	data, err := c.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encode %s envelope: %w", env.Kind, err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, data); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Recv ignores ctx; Close unblocks it. Control frames are answered
// inline through the write lock.
func (c *wsConn) Recv(_ context.Context) (*wire.Envelope, error) {
	control := wsutil.ControlFrameHandler(lockedWriter{c}, c.state)
	rd := &wsutil.Reader{
		Source:         c.src,
		State:          c.state,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, c.mapErr(err)
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, c.mapErr(err)
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, c.mapErr(err)
			}
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return nil, c.mapErr(err)
		}
		env, err := c.codec.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("transport: decode envelope: %w", err)
		}
		return env, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) mapErr(err error) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	var closedErr wsutil.ClosedError
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &closedErr) {
		return ErrClosed
	}
	return err
}

// lockedWriter serializes control-frame replies with Send.
type lockedWriter struct{ c *wsConn }

func (l lockedWriter) Write(p []byte) (int, error) {
	l.c.wmu.Lock()
	defer l.c.wmu.Unlock()
	return l.c.conn.Write(p)
}

// Dial opens a client-side WebSocket Conn to a worker. format selects the
// codec ("json" or "msgpack") and is sent as the format query parameter.
func Dial(ctx context.Context, rawURL, format string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	codec := wire.GetCodec(format)
	q := u.Query()
	q.Set(FormatParam, codec.Name())
	u.RawQuery = q.Encode()

	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	return newWSConn(conn, br, ws.StateClientSide, codec), nil
}

// DialWithBackoff retries Dial using s until it succeeds, ctx ends, or
// maxAttempts dials have failed (zero means unlimited). A nil s uses
// backoff.DefaultStrategy.
func DialWithBackoff(ctx context.Context, rawURL, format string, s backoff.Strategy, maxAttempts int) (Conn, error) {
	if s == nil {
		s = backoff.DefaultStrategy()
	}
	var conn Conn
	err := backoff.Retry(ctx, s, maxAttempts, func(ctx context.Context) error {
		c, err := Dial(ctx, rawURL, format)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Upgrade completes a server-side WebSocket handshake and returns a Conn
// using the codec named by the request's format parameter.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	codec := wire.GetCodec(r.URL.Query().Get(FormatParam))
	conn, brw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	var br *bufio.Reader
	if brw != nil {
		br = brw.Reader
	}
	return newWSConn(conn, br, ws.StateServerSide, codec), nil
}
