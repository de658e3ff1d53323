package transport

import (
	"context"
	"log/slog"

	"github.com/embedpdf/pdfdispatch"
)

// InProcess serves exec on its own goroutine and returns a Client bound to
// it through a Pipe. This is worker-goroutine mode: the same Task contract
// as a remote worker, with zero-copy bodies. Closing the Client stops the
// Host.
func InProcess(exec embedpdf.Executor, opts ...Option) *Client {
	clientEnd, hostEnd := Pipe()
	host := NewHost(exec, hostEnd, opts...)
	logger := buildOptions(opts).logger
	go func() {
		if err := host.Serve(context.Background()); err != nil {
			logger.Warn("transport: in-process host stopped", slog.String("error", err.Error()))
		}
	}()
	return NewClient(clientEnd, opts...)
}
