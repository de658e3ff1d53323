package queue

// Lanes is a FIFO per class. It is not safe for concurrent use; the
// dispatcher guards it with its own lock.
//
// Removal is lazy: callers mark entries dead and Front skips them, so
// cancelling a queued entry never shifts the slice.
type Lanes[T any] struct {
	lanes [numClasses][]T
	dead  func(T) bool
}

// NewLanes creates empty lanes. dead reports entries to skip and drop.
func NewLanes[T any](dead func(T) bool) *Lanes[T] {
	return &Lanes[T]{dead: dead}
}

// Push appends v to the lane for class c.
func (l *Lanes[T]) Push(c Class, v T) {
	l.lanes[c] = append(l.lanes[c], v)
}

// Front returns the oldest live entry of class c, dropping dead entries
// in front of it.
func (l *Lanes[T]) Front(c Class) (T, bool) {
	lane := l.lanes[c]
	for len(lane) > 0 && l.dead(lane[0]) {
		var zero T
		lane[0] = zero
		lane = lane[1:]
	}
	l.lanes[c] = lane
	if len(lane) == 0 {
		var zero T
		return zero, false
	}
	return lane[0], true
}

// PopFront removes the oldest entry of class c. Call after Front.
func (l *Lanes[T]) PopFront(c Class) {
	lane := l.lanes[c]
	if len(lane) == 0 {
		return
	}
	var zero T
	lane[0] = zero
	l.lanes[c] = lane[1:]
}

// Len counts live entries across all classes.
func (l *Lanes[T]) Len() int {
	n := 0
	for _, lane := range l.lanes {
		for _, v := range lane {
			if !l.dead(v) {
				n++
			}
		}
	}
	return n
}

// Drain removes and returns every live entry, highest class first.
func (l *Lanes[T]) Drain() []T {
	var out []T
	for c := range l.lanes {
		for _, v := range l.lanes[c] {
			if !l.dead(v) {
				out = append(out, v)
			}
		}
		l.lanes[c] = nil
	}
	return out
}
