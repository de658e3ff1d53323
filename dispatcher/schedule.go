package dispatcher

import (
	"log/slog"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/ext"
	"github.com/embedpdf/pdfdispatch/queue"
	"github.com/embedpdf/pdfdispatch/task"
)

// op is one accepted operation. Every field below the embedded Operation
// is guarded by Dispatcher.mu.
type op struct {
	ext.Operation

	handle     *handle
	accepted   time.Time
	dispatched time.Time

	// running is set once the operation holds an admission slot.
	running bool
	// done is set exactly once, by whichever path ends the operation.
	done bool
	// detached operations ignore caller aborts of their task.
	detached bool

	start      func(embedpdf.Executor) func(error)
	abortOuter func(error)
	abortInner func(error)
	// settle runs under the lock when the operation ends and may return
	// an action to run after unlocking.
	settle func(err error) func()

	cancelReason error
}

// request describes an operation before it is accepted.
type request struct {
	method string
	docID  string
	// page is validated against the document unless negative.
	page  int
	class queue.Class
	key   string
}

// actions collects work that must run after Dispatcher.mu is released:
// task transitions re-enter the dispatcher through their listeners.
type actions []func()

func (a *actions) add(fn func()) {
	if fn != nil {
		*a = append(*a, fn)
	}
}

func (a actions) run() {
	for _, fn := range a {
		fn()
	}
}

// submit validates req against the handle table and queues the operation.
// call runs when the operation is dispatched.
func submit[T, P any](d *Dispatcher, req request, call func(embedpdf.Executor) *task.Task[T, P]) *task.Task[T, P] {
	d.mu.Lock()
	h, err := d.lookupLocked(req.docID, req.page)
	if err != nil {
		d.mu.Unlock()
		d.logger.Debug("dispatcher: operation rejected",
			slog.String("method", req.method),
			slog.String("doc_id", req.docID),
			slog.String("error", err.Error()),
		)
		return task.RejectedTask[T, P](err)
	}
	outer, o := newOp(d, req, h, call, nil)
	acts := d.enqueueLocked(o)
	d.mu.Unlock()

	acts.run()
	d.pump()
	return outer
}

// newOp builds an operation and the task returned to the caller. settled,
// if set, runs under the lock when the operation ends, with the executor's
// value on success and the failure reason otherwise.
func newOp[T, P any](d *Dispatcher, req request, h *handle, call func(embedpdf.Executor) *task.Task[T, P], settled func(v T, err error) func()) (*task.Task[T, P], *op) {
	d.seq++
	o := &op{
		Operation: ext.Operation{
			Seq:      d.seq,
			Method:   req.method,
			DocID:    req.docID,
			Class:    req.class,
			DedupKey: req.key,
		},
		handle:   h,
		accepted: time.Now(),
	}
	outer := task.New[T, P]()
	o.abortOuter = outer.Abort
	o.settle = func(err error) func() {
		if settled == nil {
			return nil
		}
		var zero T
		return settled(zero, err)
	}

	o.start = func(exec embedpdf.Executor) func(error) {
		inner := call(exec)
		inner.OnProgress(outer.Progress)
		inner.Wait(func(v T) {
			if d.complete(o, func() func() {
				if settled == nil {
					return nil
				}
				return settled(v, nil)
			}, nil) {
				outer.Resolve(v)
			}
			d.pump()
		}, func(f task.Failure) {
			if d.complete(o, func() func() { return o.settle(f.Reason) }, &f) {
				if f.Aborted() {
					outer.Abort(f.Reason)
				} else {
					outer.Reject(f.Reason)
				}
			}
			d.pump()
		})
		return inner.Abort
	}

	outer.Wait(nil, func(f task.Failure) {
		if f.Aborted() {
			d.cancel(o, f.Reason)
		}
	})
	return outer, o
}

// enqueueLocked pushes o into its lane, superseding any operation with the
// same dedup key.
func (d *Dispatcher) enqueueLocked(o *op) actions {
	var acts actions
	if o.DedupKey != "" {
		if old, ok := d.dedup[o.DedupKey]; ok {
			acts.add(d.dropLocked(old, embedpdf.NewReason(embedpdf.CodeCancelled, "superseded by a newer request"), true))
		}
		d.dedup[o.DedupKey] = o
	}
	if o.handle != nil {
		o.handle.ops[o] = struct{}{}
	}
	d.lanes.Push(o.Class, o)

	d.logger.Debug("dispatcher: operation queued",
		slog.Uint64("seq", o.Seq),
		slog.String("method", o.Method),
		slog.String("doc_id", o.DocID),
		slog.String("class", o.Class.String()),
	)
	snapshot := o.Operation
	acts.add(func() { d.extensions.EmitOperationQueued(d.ctx, snapshot) })
	return acts
}

// removeLocked detaches o from every index and returns its admission slot.
func (d *Dispatcher) removeLocked(o *op) {
	o.done = true
	if o.DedupKey != "" && d.dedup[o.DedupKey] == o {
		delete(d.dedup, o.DedupKey)
	}
	if o.handle != nil {
		delete(o.handle.ops, o)
	}
	if o.running {
		delete(d.running, o)
		d.inflight--
		d.admission.Release(o.Class)
	}
}

// dropLocked ends o with reason before the executor has answered. A queued
// operation never reaches the executor; a running one has its executor
// task aborted and any late outcome is ignored.
func (d *Dispatcher) dropLocked(o *op, reason error, superseded bool) func() {
	if o.done {
		return nil
	}
	wasRunning := o.running
	d.removeLocked(o)
	o.cancelReason = reason
	inner := o.abortInner
	after := o.settle(reason)

	d.logger.Debug("dispatcher: operation dropped",
		slog.Uint64("seq", o.Seq),
		slog.String("method", o.Method),
		slog.String("doc_id", o.DocID),
		slog.Bool("dispatched", wasRunning),
		slog.Bool("superseded", superseded),
	)
	snapshot := o.Operation
	return func() {
		o.abortOuter(reason)
		if inner != nil {
			inner(reason)
		}
		if after != nil {
			after()
		}
		if superseded {
			d.extensions.EmitOperationSuperseded(d.ctx, snapshot, wasRunning)
		} else {
			d.extensions.EmitOperationAborted(d.ctx, snapshot, reason)
		}
	}
}

// cancel handles a caller abort of the operation's task.
func (d *Dispatcher) cancel(o *op, reason error) {
	d.mu.Lock()
	if o.detached {
		d.mu.Unlock()
		return
	}
	fn := d.dropLocked(o, reason, false)
	d.mu.Unlock()
	if fn == nil {
		return
	}
	fn()
	d.pump()
}

// complete records the executor's outcome for o. It reports false when the
// outcome arrives after o was dropped and must be ignored.
func (d *Dispatcher) complete(o *op, settle func() func(), f *task.Failure) bool {
	d.mu.Lock()
	if o.done {
		d.mu.Unlock()
		return false
	}
	d.removeLocked(o)
	after := settle()
	elapsed := time.Since(o.dispatched)
	d.mu.Unlock()

	if after != nil {
		after()
	}
	switch {
	case f == nil:
		d.extensions.EmitOperationCompleted(d.ctx, o.Operation, elapsed)
	case f.Aborted():
		d.extensions.EmitOperationAborted(d.ctx, o.Operation, f.Reason)
	default:
		d.logger.Debug("dispatcher: operation failed",
			slog.Uint64("seq", o.Seq),
			slog.String("method", o.Method),
			slog.String("doc_id", o.DocID),
			slog.String("error", f.Reason.Error()),
		)
		d.extensions.EmitOperationFailed(d.ctx, o.Operation, f.Reason)
	}
	return true
}

// pump dispatches queued operations while admission allows.
func (d *Dispatcher) pump() {
	d.mu.Lock()
	var launch []*op
	for !d.closed && d.inflight < d.config.MaxInFlight {
		o := d.nextLocked()
		if o == nil {
			break
		}
		o.running = true
		o.dispatched = time.Now()
		d.running[o] = struct{}{}
		d.inflight++
		launch = append(launch, o)
	}
	d.mu.Unlock()

	for _, o := range launch {
		d.launch(o)
	}
}

// nextLocked pops the oldest admissible operation of the highest class. A
// class held back by its rate limit does not block lower classes; a retry
// is scheduled for when its next token is due.
func (d *Dispatcher) nextLocked() *op {
	var wait time.Duration
	for _, c := range queue.Classes {
		o, ok := d.lanes.Front(c)
		if !ok {
			continue
		}
		admitted, retryAfter := d.admission.Acquire(c)
		if !admitted {
			if retryAfter > 0 && (wait == 0 || retryAfter < wait) {
				wait = retryAfter
			}
			continue
		}
		d.lanes.PopFront(c)
		return o
	}
	if wait > 0 && d.retry == nil {
		d.retry = time.AfterFunc(wait, func() {
			d.mu.Lock()
			d.retry = nil
			d.mu.Unlock()
			d.pump()
		})
	}
	return nil
}

// launch hands o to the executor.
func (d *Dispatcher) launch(o *op) {
	d.mu.Lock()
	if o.done {
		d.mu.Unlock()
		return
	}
	waited := o.dispatched.Sub(o.accepted)
	d.mu.Unlock()

	d.extensions.EmitOperationDispatched(d.ctx, o.Operation, waited)
	abort := o.start(d.exec)

	d.mu.Lock()
	o.abortInner = abort
	reason := o.cancelReason
	d.mu.Unlock()
	if reason != nil {
		abort(reason)
	}
}
