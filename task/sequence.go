package task

import (
	"errors"
	"fmt"
	"sync"
)

// ChildRejectedError is returned by Run when the child task was rejected.
// Execute forwards Reason to the parent unchanged.
type ChildRejectedError struct {
	Reason error
}

func (e *ChildRejectedError) Error() string {
	return fmt.Sprintf("task: child rejected: %v", e.Reason)
}

func (e *ChildRejectedError) Unwrap() error { return e.Reason }

// abortable is the part of a child task a Sequence needs to hold on to.
type abortable interface {
	Abort(reason error)
}

// Sequence runs child tasks one after another on behalf of a parent task.
// Aborting the parent aborts the active child, so at most one child is
// ever left running when the parent goes away.
type Sequence[T, P any] struct {
	parent *Task[T, P]

	mu       sync.Mutex
	disposed bool
	active   abortable
}

// NewSequence wraps parent. The parent's Abort now marks the sequence
// disposed and aborts the active child before recording the abort.
func NewSequence[T, P any](parent *Task[T, P]) *Sequence[T, P] {
	s := &Sequence[T, P]{parent: parent}
	if !parent.interceptAbort(s.dispose) {
		s.disposed = true
	}
	return s
}

// Disposed reports whether the parent has been aborted.
func (s *Sequence[T, P]) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Sequence[T, P]) dispose(reason error) {
	s.mu.Lock()
	s.disposed = true
	child := s.active
	s.active = nil
	s.mu.Unlock()

	if child != nil {
		child.Abort(reason)
	}
}

// track records child as the active task. Returns false if the sequence
// can no longer start children.
func (s *Sequence[T, P]) track(child abortable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.parent.Stage() != Pending {
		return false
	}
	s.active = child
	return true
}

func (s *Sequence[T, P]) untrack(child abortable) {
	s.mu.Lock()
	if s.active == child {
		s.active = nil
	}
	s.mu.Unlock()
}

func (s *Sequence[T, P]) usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed && s.parent.Stage() == Pending
}

// Run starts the child produced by factory and blocks until it is
// terminal. It returns the child's value, ErrAborted when the child (or the
// sequence) was aborted, or *ChildRejectedError when the child failed.
func Run[C, CP, T, P any](s *Sequence[T, P], factory func() *Task[C, CP]) (C, error) {
	return RunWithProgress[C, CP](s, factory, nil)
}

// RunWithProgress is Run that also forwards the child's progress, mapped
// through mapProgress, into the parent's progress channel.
func RunWithProgress[C, CP, T, P any](s *Sequence[T, P], factory func() *Task[C, CP], mapProgress func(CP) P) (C, error) {
	var zero C
	if !s.usable() {
		return zero, ErrAborted
	}

	child := factory()
	if !s.track(child) {
		child.Abort(ErrAborted)
		return zero, ErrAborted
	}
	defer s.untrack(child)

	if mapProgress != nil {
		child.OnProgress(func(p CP) {
			s.parent.Progress(mapProgress(p))
		})
	}

	<-child.Done()
	result, failure, stage := child.Outcome()
	switch stage {
	case Resolved:
		return result, nil
	case Aborted:
		return zero, ErrAborted
	default:
		return zero, &ChildRejectedError{Reason: failure.Reason}
	}
}

// Execute runs body on its own goroutine and routes its outcome to the
// parent:
//   - *ChildRejectedError: the child's original reason rejects the parent.
//   - ErrAborted: nothing, the parent was already aborted.
//   - any other error or panic: mapError(err) rejects the parent.
//
// On success body must resolve the parent itself.
func (s *Sequence[T, P]) Execute(body func() error, mapError func(error) error) {
	go func() {
		err := s.runBody(body)
		if err == nil {
			return
		}

		var rejected *ChildRejectedError
		switch {
		case errors.As(err, &rejected):
			s.parent.Reject(rejected.Reason)
		case errors.Is(err, ErrAborted):
		default:
			if mapError != nil {
				err = mapError(err)
			}
			s.parent.Reject(err)
		}
	}()
}

func (s *Sequence[T, P]) runBody(body func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task: sequence body panicked: %v", r)
		}
	}()
	return body()
}
