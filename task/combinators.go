package task

import "sync"

// Settler is anything that can report reaching a terminal stage.
// Every *Task satisfies it.
type Settler interface {
	OnSettled(fn func())
}

// AllSettled returns a task that resolves exactly once, after every input
// has reached a terminal stage. Individual outcomes do not matter: a
// rejection or abort counts as settled. An empty input resolves at once.
func AllSettled(tasks ...Settler) *Task[struct{}, struct{}] {
	out := New[struct{}, struct{}]()
	if len(tasks) == 0 {
		out.Resolve(struct{}{})
		return out
	}

	var (
		mu        sync.Mutex
		remaining = len(tasks)
	)
	for _, t := range tasks {
		t.OnSettled(func() {
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				out.Resolve(struct{}{})
			}
		})
	}
	return out
}
