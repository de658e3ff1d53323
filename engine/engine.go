// Package engine wires the engine's subsystems together: the native
// executor with its middleware stack, the optional worker-goroutine
// transport, the dispatcher and the observability extension.
//
// The engine package exists to keep the lower packages free of each
// other: dispatcher knows only embedpdf.Executor, native knows only its
// Module, and transport knows only Conns. Engine sits above all of them
// and below the application layer.
//
// # Building an Engine
//
//	mod, err := native.LoadWazero(ctx, wasm, native.WithFonts(fonts))
//	eng, err := engine.Build(mod,
//	    engine.WithLogger(logger),
//	    engine.WithWorkerGoroutine(),
//	    engine.WithExtension(myExtension),
//	)
//	defer eng.Stop(ctx)
//
//	doc, err := eng.Dispatcher().OpenDocumentBuffer(opts).Await(ctx)
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/dispatcher"
	"github.com/embedpdf/pdfdispatch/ext"
	mw "github.com/embedpdf/pdfdispatch/middleware"
	"github.com/embedpdf/pdfdispatch/native"
	"github.com/embedpdf/pdfdispatch/observability"
	"github.com/embedpdf/pdfdispatch/queue"
	"github.com/embedpdf/pdfdispatch/stream"
	"github.com/embedpdf/pdfdispatch/transport"
)

// scopeName is the instrumentation scope for the engine's tracer and meter.
const scopeName = "github.com/embedpdf/pdfdispatch"

// Engine owns a dispatcher and the executor behind it.
type Engine struct {
	dispatcher *dispatcher.Dispatcher
	native     *native.Executor
	client     *transport.Client
	logger     *slog.Logger

	config       embedpdf.Config
	extensions   []ext.Extension
	mws          []mw.Middleware
	queueConfigs []queue.Config
	httpClient   *http.Client
	worker       bool

	events     *stream.Broker
	streamOpts []stream.BrokerOption
	streaming  bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithConfig sets the dispatcher configuration.
func WithConfig(cfg embedpdf.Config) Option {
	return func(eng *Engine) {
		eng.config = cfg
	}
}

// WithExtension registers an extension with the dispatcher.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions = append(eng.extensions, e)
	}
}

// WithMiddleware adds middleware around every native call, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig overrides per-class admission limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithHTTPClient sets the client used to fetch documents by URL.
func WithHTTPClient(c *http.Client) Option {
	return func(eng *Engine) {
		eng.httpClient = c
	}
}

// WithWorkerGoroutine puts the native executor behind an in-process
// transport, so the dispatcher talks to it exactly as it would to a remote
// worker.
func WithWorkerGoroutine() Option {
	return func(eng *Engine) {
		eng.worker = true
	}
}

// WithEventStream registers a stream.Broker that publishes dispatcher
// lifecycle events. Subscribe through Engine.Events.
func WithEventStream(opts ...stream.BrokerOption) Option {
	return func(eng *Engine) {
		eng.streaming = true
		eng.streamOpts = append(eng.streamOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for native call
// spans. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the native call
// metrics middleware and the observability extension use it. If not set,
// the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

func newEngine(opts []Option) *Engine {
	eng := &Engine{
		config: embedpdf.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Build creates an Engine around mod. The Engine owns mod from now on.
func Build(mod native.Module, opts ...Option) (*Engine, error) {
	eng := newEngine(opts)
	eng.native = eng.newNative(mod)

	var exec embedpdf.Executor = eng.native
	if eng.worker {
		eng.client = transport.InProcess(eng.native, transport.WithLogger(eng.logger))
		exec = eng.client
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(scopeName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}

	dopts := []dispatcher.Option{
		dispatcher.WithLogger(eng.logger),
		dispatcher.WithConfig(eng.config),
		dispatcher.WithExtension(obsExt),
		dispatcher.WithQueueConfig(eng.queueConfigs...),
	}
	if eng.streaming {
		eng.events = stream.NewBroker(eng.logger, eng.streamOpts...)
		dopts = append(dopts, dispatcher.WithExtension(eng.events))
	}
	for _, e := range eng.extensions {
		dopts = append(dopts, dispatcher.WithExtension(e))
	}

	d, err := dispatcher.New(exec, dopts...)
	if err != nil {
		eng.native.Destroy()
		if eng.client != nil {
			_ = eng.client.Close()
		}
		return nil, fmt.Errorf("engine: build dispatcher: %w", err)
	}
	eng.dispatcher = d

	eng.logger.Info("engine: ready",
		slog.Bool("worker_goroutine", eng.worker),
		slog.Int("max_in_flight", eng.config.MaxInFlight),
	)
	return eng, nil
}

// NewNative creates a native executor with the engine's middleware stack
// and no dispatcher. The worker process serves it over a transport Host.
// Only the logger, middleware, HTTP client and OTel provider options
// apply.
func NewNative(mod native.Module, opts ...Option) *native.Executor {
	return newEngine(opts).newNative(mod)
}

func (eng *Engine) newNative(mod native.Module) *native.Executor {
	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(scopeName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(scopeName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: tracing -> metrics -> logging -> user middleware.
	// The executor adds panic recovery innermost.
	opts := []native.Option{
		native.WithLogger(eng.logger),
		native.WithMiddleware(tracingMw, metricsMw, mw.Logging(eng.logger)),
		native.WithMiddleware(eng.mws...),
	}
	if eng.httpClient != nil {
		opts = append(opts, native.WithHTTPClient(eng.httpClient))
	}
	return native.New(mod, opts...)
}

// Dispatcher returns the engine's dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.dispatcher }

// Events returns the event broker, or nil without WithEventStream.
func (eng *Engine) Events() *stream.Broker { return eng.events }

// Native returns the native executor.
func (eng *Engine) Native() *native.Executor { return eng.native }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Stop closes the dispatcher, which closes every document and destroys
// the executor, then tears down the transport if there is one.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.dispatcher.Close(ctx)

	select {
	case <-eng.native.Done():
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("engine: wait for native executor: %w", ctx.Err())
		}
	}
	if eng.client != nil {
		if cerr := eng.client.Close(); cerr != nil {
			eng.logger.Warn("engine: close transport", slog.String("error", cerr.Error()))
		}
	}
	return err
}
