package dispatcher

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/ext"
	"github.com/embedpdf/pdfdispatch/queue"
	"github.com/embedpdf/pdfdispatch/task"
)

// State is the lifecycle state of a document handle.
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// handle is the dispatcher's record of one document.
type handle struct {
	id    string
	seq   uint64
	state State
	doc   *embedpdf.Document
	// ops holds every queued or running operation addressed to the document.
	ops map[*op]struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if l != nil {
			d.logger = l
		}
		return nil
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg embedpdf.Config) Option {
	return func(d *Dispatcher) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		d.config = cfg
		return nil
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(d *Dispatcher) error {
		d.pendingExt = append(d.pendingExt, e)
		return nil
	}
}

// WithQueueConfig overrides per-class admission limits derived from the
// configuration. Classes not listed keep their derived limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(d *Dispatcher) error {
		for _, c := range configs {
			if !c.Class.Valid() {
				return fmt.Errorf("dispatcher: invalid queue class %d", int(c.Class))
			}
		}
		d.queueConfigs = append(d.queueConfigs, configs...)
		return nil
	}
}

// Dispatcher schedules document operations onto an Executor. It is safe
// for concurrent use.
type Dispatcher struct {
	exec       embedpdf.Executor
	config     embedpdf.Config
	logger     *slog.Logger
	extensions *ext.Registry
	admission  *queue.Manager

	pendingExt   []ext.Extension
	queueConfigs []queue.Config

	// ctx is handed to extension hooks.
	ctx context.Context

	mu       sync.Mutex
	seq      uint64
	handles  map[string]*handle
	lanes    *queue.Lanes[*op]
	running  map[*op]struct{}
	dedup    map[string]*op
	inflight int
	retry    *time.Timer
	closed   bool
	closing  chan struct{}
}

// New creates a Dispatcher in front of exec.
func New(exec embedpdf.Executor, opts ...Option) (*Dispatcher, error) {
	if exec == nil {
		return nil, fmt.Errorf("dispatcher: nil executor")
	}
	d := &Dispatcher{
		exec:    exec,
		config:  embedpdf.DefaultConfig(),
		logger:  slog.Default(),
		ctx:     context.Background(),
		handles: make(map[string]*handle),
		running: make(map[*op]struct{}),
		dedup:   make(map[string]*op),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	d.extensions = ext.NewRegistry(d.logger)
	for _, e := range d.pendingExt {
		d.extensions.Register(e)
	}
	d.pendingExt = nil

	d.admission = queue.NewManager(d.classConfigs()...)
	d.lanes = queue.NewLanes(func(o *op) bool { return o.done })
	return d, nil
}

// classConfigs derives admission limits from the configuration and
// applies WithQueueConfig overrides on top.
func (d *Dispatcher) classConfigs() []queue.Config {
	byClass := map[queue.Class]queue.Config{}
	if d.config.PrefetchRateLimit > 0 {
		byClass[queue.Prefetch] = queue.Config{
			Class:     queue.Prefetch,
			RateLimit: d.config.PrefetchRateLimit,
			RateBurst: d.config.PrefetchBurst,
		}
	}
	if d.config.BulkMaxConcurrency > 0 {
		byClass[queue.Bulk] = queue.Config{
			Class:          queue.Bulk,
			MaxConcurrency: d.config.BulkMaxConcurrency,
		}
	}
	for _, c := range d.queueConfigs {
		byClass[c.Class] = c
	}

	out := make([]queue.Config, 0, len(byClass))
	for _, c := range queue.Classes {
		if cfg, ok := byClass[c]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() embedpdf.Config { return d.config }

// Extensions returns the extension registry.
func (d *Dispatcher) Extensions() *ext.Registry { return d.extensions }

// Documents returns the open documents in the order they were opened.
func (d *Dispatcher) Documents() []embedpdf.Document {
	d.mu.Lock()
	hs := make([]*handle, 0, len(d.handles))
	for _, h := range d.handles {
		if h.state == Open {
			hs = append(hs, h)
		}
	}
	d.mu.Unlock()

	slices.SortFunc(hs, func(a, b *handle) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]embedpdf.Document, len(hs))
	for i, h := range hs {
		out[i] = cloneDocument(h.doc)
	}
	return out
}

// cloneDocument copies doc so callers never share the handle table's
// page slice.
func cloneDocument(doc *embedpdf.Document) embedpdf.Document {
	c := *doc
	c.Pages = slices.Clone(doc.Pages)
	return c
}

// State reports the state of a document handle. Unknown IDs report Closed.
func (d *Dispatcher) State(docID string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.handles[docID]; ok {
		return h.state
	}
	return Closed
}

// Pending returns the number of queued operations and the number
// currently dispatched to the executor.
func (d *Dispatcher) Pending() (queued, inflight int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lanes.Len(), d.inflight
}

// SetQueueConfig replaces the admission limits of one class at runtime.
// Operations already admitted keep counting against the new limits; queued
// operations the new limits admit are dispatched at once.
func (d *Dispatcher) SetQueueConfig(cfg queue.Config) error {
	if !cfg.Class.Valid() {
		return fmt.Errorf("dispatcher: invalid queue class %d", int(cfg.Class))
	}
	d.admission.SetClassConfig(cfg)
	d.logger.Info("dispatcher: queue limits changed",
		slog.String("class", cfg.Class.String()),
		slog.Int("max_concurrency", cfg.MaxConcurrency),
		slog.Float64("rate_limit", cfg.RateLimit),
	)
	d.pump()
	return nil
}

// lookupLocked validates that docID names an Open document and that page,
// unless negative, is one of its pages.
func (d *Dispatcher) lookupLocked(docID string, page int) (*handle, error) {
	if d.closed {
		return nil, embedpdf.NewReason(embedpdf.CodeNotReady, "dispatcher closed")
	}
	h, ok := d.handles[docID]
	if !ok {
		return nil, embedpdf.NewReason(embedpdf.CodeNotFound, "document %q not found", docID)
	}
	if h.state != Open {
		return nil, embedpdf.NewReason(embedpdf.CodeDocNotOpen, "document %q is %s", docID, h.state)
	}
	if page >= 0 && page >= h.doc.PageCount {
		return nil, embedpdf.NewReason(embedpdf.CodeValidation, "page %d out of range [0, %d)", page, h.doc.PageCount)
	}
	return h, nil
}

// document returns a copy of the Open document named by docID.
func (d *Dispatcher) document(docID string) (embedpdf.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.lookupLocked(docID, -1)
	if err != nil {
		return embedpdf.Document{}, err
	}
	return cloneDocument(h.doc), nil
}

// Close aborts every outstanding operation, closes every open document
// through the executor and destroys the executor. Waiting is bounded by
// ctx, or by Config.ShutdownTimeout when ctx has no deadline. Operations
// submitted afterwards reject with embedpdf.CodeNotReady.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.closing
		return nil
	}
	d.closed = true
	defer close(d.closing)
	if d.retry != nil {
		d.retry.Stop()
		d.retry = nil
	}

	var ids []string
	for _, h := range d.handles {
		if h.state == Open || h.state == Closing {
			ids = append(ids, h.id)
		}
	}
	slices.Sort(ids)

	reason := embedpdf.NewReason(embedpdf.CodeCancelled, "dispatcher closed")
	var acts actions
	outstanding := d.lanes.Drain()
	for o := range d.running {
		outstanding = append(outstanding, o)
	}
	for _, o := range outstanding {
		acts.add(d.dropLocked(o, reason, false))
	}
	d.mu.Unlock()
	acts.run()

	if _, ok := ctx.Deadline(); !ok && d.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ShutdownTimeout)
		defer cancel()
	}

	d.logger.Info("dispatcher: closing",
		slog.Int("documents", len(ids)),
		slog.Int("aborted", len(outstanding)),
	)

	closes := make([]task.Settler, 0, len(ids))
	for _, id := range ids {
		closes = append(closes, d.exec.CloseDocument(id))
	}
	var err error
	if _, werr := task.AllSettled(closes...).Await(ctx); werr != nil {
		err = fmt.Errorf("dispatcher: close documents: %w", werr)
	}

	d.mu.Lock()
	clear(d.handles)
	d.mu.Unlock()
	for _, id := range ids {
		d.extensions.EmitDocumentClosed(d.ctx, id)
	}

	if _, derr := d.exec.Destroy().Await(ctx); derr != nil && err == nil {
		err = fmt.Errorf("dispatcher: destroy executor: %w", derr)
	}
	d.extensions.EmitShutdown(ctx)

	if err != nil {
		d.logger.Warn("dispatcher: close incomplete", slog.String("error", err.Error()))
	}
	return err
}
