// Package task provides Task, a terminal-once, listener-based asynchronous
// result container with a progress channel. Every engine operation returns
// a Task.
//
// A Task starts Pending and transitions exactly once to Resolved, Rejected
// or Aborted:
//
//	Pending → Resolved   (Resolve)
//	Pending → Rejected   (Reject)
//	Pending → Aborted    (Abort)
//
// Only the creator of a Task resolves, rejects or reports progress.
// Consumers register listeners with Wait and OnProgress, bridge to a
// blocking call with Await, and may call Abort on teardown.
//
// Listeners registered after the terminal transition are invoked at once
// with the stored outcome, so late subscribers never miss a result.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Stage is the lifecycle stage of a Task.
type Stage int

const (
	// Pending means no outcome has been recorded yet.
	Pending Stage = iota
	// Resolved means the task succeeded with a value.
	Resolved
	// Rejected means the task failed for a domain reason.
	Rejected
	// Aborted means the task was cancelled before it produced an outcome.
	Aborted
)

func (s Stage) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Terminal reports whether s is Resolved, Rejected or Aborted.
func (s Stage) Terminal() bool { return s != Pending }

// FailureKind distinguishes a rejection from an abort.
type FailureKind string

const (
	KindReject FailureKind = "reject"
	KindAbort  FailureKind = "abort"
)

// Failure is the outcome handed to failure listeners.
type Failure struct {
	Kind   FailureKind
	Reason error
}

// Aborted reports whether the failure came from Abort.
func (f Failure) Aborted() bool { return f.Kind == KindAbort }

// ErrAborted is matched by every error that represents an aborted task.
var ErrAborted = errors.New("task: aborted")

// ErrRejected is the reason recorded when Reject is called with nil.
var ErrRejected = errors.New("task: rejected")

// AbortedError is returned by Await when the task was aborted.
type AbortedError struct {
	Reason error
}

func (e *AbortedError) Error() string {
	if e.Reason == nil {
		return ErrAborted.Error()
	}
	return "task: aborted: " + e.Reason.Error()
}

// Is makes errors.Is(err, ErrAborted) succeed.
func (e *AbortedError) Is(target error) bool { return target == ErrAborted }

func (e *AbortedError) Unwrap() error { return e.Reason }

type listener[T any] struct {
	onSuccess func(T)
	onFailure func(Failure)
}

// Task is a terminal-once asynchronous result with success value T and
// progress payload P. The zero value is not usable; create tasks with New.
// Task is safe for concurrent use.
type Task[T, P any] struct {
	mu        sync.Mutex
	stage     Stage
	result    T
	failure   Failure
	listeners []listener[T]
	progress  []func(P)
	done      chan struct{}

	// interceptors run inside Abort before the transition is recorded.
	interceptors []func(reason error)
}

// New creates a pending task.
func New[T, P any]() *Task[T, P] {
	return &Task[T, P]{done: make(chan struct{})}
}

// ResolvedTask returns a task that is already resolved with v.
func ResolvedTask[T, P any](v T) *Task[T, P] {
	t := New[T, P]()
	t.Resolve(v)
	return t
}

// RejectedTask returns a task that is already rejected with reason.
func RejectedTask[T, P any](reason error) *Task[T, P] {
	t := New[T, P]()
	t.Reject(reason)
	return t
}

// Resolve records a successful outcome. No-op if the task is terminal.
func (t *Task[T, P]) Resolve(v T) {
	t.mu.Lock()
	if t.stage != Pending {
		t.mu.Unlock()
		return
	}
	t.stage = Resolved
	t.result = v
	ls := t.settleLocked()
	t.mu.Unlock()

	for _, l := range ls {
		if l.onSuccess != nil {
			l.onSuccess(v)
		}
	}
}

// Reject records a failure. A nil reason is recorded as ErrRejected.
// No-op if the task is terminal.
func (t *Task[T, P]) Reject(reason error) {
	if reason == nil {
		reason = ErrRejected
	}
	t.fail(Failure{Kind: KindReject, Reason: reason}, Rejected)
}

// Abort cancels the task. Interceptors installed by a Sequence run first,
// then the Aborted outcome is recorded. No-op if the task is terminal.
func (t *Task[T, P]) Abort(reason error) {
	t.mu.Lock()
	if t.stage != Pending {
		t.mu.Unlock()
		return
	}
	hooks := t.interceptors
	t.interceptors = nil
	t.mu.Unlock()

	for _, h := range hooks {
		h(reason)
	}
	t.fail(Failure{Kind: KindAbort, Reason: reason}, Aborted)
}

func (t *Task[T, P]) fail(f Failure, stage Stage) {
	t.mu.Lock()
	if t.stage != Pending {
		t.mu.Unlock()
		return
	}
	t.stage = stage
	t.failure = f
	ls := t.settleLocked()
	t.mu.Unlock()

	for _, l := range ls {
		if l.onFailure != nil {
			l.onFailure(f)
		}
	}
}

// settleLocked clears listener state after a terminal transition and
// returns the listeners to notify.
func (t *Task[T, P]) settleLocked() []listener[T] {
	ls := t.listeners
	t.listeners = nil
	t.progress = nil
	t.interceptors = nil
	close(t.done)
	return ls
}

// Progress reports p to every progress listener while the task is pending.
func (t *Task[T, P]) Progress(p P) {
	t.mu.Lock()
	if t.stage != Pending {
		t.mu.Unlock()
		return
	}
	cbs := make([]func(P), len(t.progress))
	copy(cbs, t.progress)
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(p)
	}
}

// OnProgress registers a progress listener. No effect once terminal.
func (t *Task[T, P]) OnProgress(cb func(P)) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage == Pending {
		t.progress = append(t.progress, cb)
	}
}

// Wait registers a success/failure listener pair. If the task is already
// terminal the matching callback runs immediately with the stored outcome.
// Either callback may be nil.
func (t *Task[T, P]) Wait(onSuccess func(T), onFailure func(Failure)) {
	t.mu.Lock()
	if t.stage == Pending {
		t.listeners = append(t.listeners, listener[T]{onSuccess: onSuccess, onFailure: onFailure})
		t.mu.Unlock()
		return
	}
	stage, result, failure := t.stage, t.result, t.failure
	t.mu.Unlock()

	if stage == Resolved {
		if onSuccess != nil {
			onSuccess(result)
		}
		return
	}
	if onFailure != nil {
		onFailure(failure)
	}
}

// OnSettled runs fn once the task reaches any terminal stage.
func (t *Task[T, P]) OnSettled(fn func()) {
	t.Wait(func(T) { fn() }, func(Failure) { fn() })
}

// Stage returns the current stage.
func (t *Task[T, P]) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Done returns a channel closed on the terminal transition.
func (t *Task[T, P]) Done() <-chan struct{} { return t.done }

// Outcome returns the stored outcome. The values are meaningful only when
// the returned stage is terminal.
func (t *Task[T, P]) Outcome() (T, Failure, Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.failure, t.stage
}

// Await blocks until the task is terminal or ctx is done. A rejection is
// returned as its reason; an abort as *AbortedError. Context cancellation
// does not abort the task.
func (t *Task[T, P]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	result, failure, stage := t.Outcome()
	switch stage {
	case Resolved:
		return result, nil
	case Aborted:
		var zero T
		return zero, &AbortedError{Reason: failure.Reason}
	default:
		var zero T
		return zero, failure.Reason
	}
}

// interceptAbort installs fn to run inside Abort before the task records
// its Aborted outcome. Returns false if the task is already terminal.
func (t *Task[T, P]) interceptAbort(fn func(reason error)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage != Pending {
		return false
	}
	t.interceptors = append(t.interceptors, fn)
	return true
}
