package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is on.
//
// Delivery is credit-based: each delivered event consumes one credit and
// the broker skips a subscriber with none left. A full buffer also drops
// the event, so a slow subscriber never stalls the dispatcher.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64

	mu     sync.RWMutex
	filter func(*Event) bool
	closed bool
}

// NewSubscriber creates a subscriber with the given buffer size
// and initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{id: id, ch: make(chan *Event, bufferSize)}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// or the dispatcher shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// SetFilter sets an optional predicate; only matching events are delivered.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

// send delivers evt without blocking. It reports false when the event was
// dropped: closed, filtered, out of credits or buffer full.
func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || (s.filter != nil && !s.filter(evt)) {
		return false
	}
	if !s.takeCredit() {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		return false
	}
}

func (s *Subscriber) takeCredit() bool {
	for {
		n := s.credits.Load()
		if n <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Close closes the event channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
