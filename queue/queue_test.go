package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release should always succeed.
	if ok, _ := m.Acquire(Bulk); !ok {
		t.Fatal("expected Acquire to succeed for unconfigured class")
	}
	m.Release(Bulk)
}

func TestClass_String(t *testing.T) {
	tests := []struct {
		c    Class
		want string
	}{
		{Interactive, "interactive"},
		{Prefetch, "prefetch"},
		{Bulk, "bulk"},
		{Class(9), "class(9)"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Class(%d).String() = %q, want %q", int(tt.c), got, tt.want)
		}
	}
	if Class(9).Valid() {
		t.Error("Class(9) should not be valid")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{Class: Bulk, MaxConcurrency: 2})

	for i := range 2 {
		if ok, _ := m.Acquire(Bulk); !ok {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	// Third should be blocked.
	ok, retry := m.Acquire(Bulk)
	if ok {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}
	if retry != 0 {
		t.Errorf("retryAfter = %v, want 0 for a concurrency block", retry)
	}

	m.Release(Bulk)
	if ok, _ := m.Acquire(Bulk); !ok {
		t.Fatal("Acquire should succeed after Release")
	}
	if got := m.ActiveCount(Bulk); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{Class: Prefetch, RateLimit: 1, RateBurst: 1})

	if ok, _ := m.Acquire(Prefetch); !ok {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release(Prefetch)

	ok, retry := m.Acquire(Prefetch)
	if ok {
		t.Fatal("second Acquire should fail (rate limited)")
	}
	if retry <= 0 || retry > time.Second {
		t.Fatalf("retryAfter = %v, want (0, 1s]", retry)
	}

	time.Sleep(retry + 50*time.Millisecond)
	if ok, _ := m.Acquire(Prefetch); !ok {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release(Prefetch)
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{Class: Prefetch, RateLimit: 10, RateBurst: 3})

	for i := range 3 {
		if ok, _ := m.Acquire(Prefetch); !ok {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		m.Release(Prefetch)
	}
}

func TestManager_RateLimitDoesNotAffectOtherClasses(t *testing.T) {
	m := NewManager(Config{Class: Prefetch, RateLimit: 1, RateBurst: 1})
	m.Acquire(Prefetch)

	for range 5 {
		if ok, _ := m.Acquire(Interactive); !ok {
			t.Fatal("interactive work must not be throttled by the prefetch limiter")
		}
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestManager_SetClassConfig(t *testing.T) {
	m := NewManager(Config{Class: Bulk, MaxConcurrency: 1})

	m.Acquire(Bulk)
	if ok, _ := m.Acquire(Bulk); ok {
		t.Fatal("should be blocked at concurrency 1")
	}

	m.SetClassConfig(Config{Class: Bulk, MaxConcurrency: 3})

	if ok, _ := m.Acquire(Bulk); !ok {
		t.Fatal("should succeed after raising concurrency")
	}
	if got := m.ActiveCount(Bulk); got != 2 {
		t.Fatalf("active count carried over as %d, want 2", got)
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{Class: Interactive, MaxConcurrency: 50})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Acquire(Interactive); ok {
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				m.Release(Interactive)
			}
		}()
	}
	wg.Wait()

	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}
	if m.ActiveCount(Interactive) != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount(Interactive))
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(Config{Class: Bulk, MaxConcurrency: 5})
	m.Release(Bulk)
	if m.ActiveCount(Bulk) != 0 {
		t.Fatal("active count should not go below 0")
	}
}

// ---------------------------------------------------------------------------
// Lanes
// ---------------------------------------------------------------------------

type entry struct {
	name string
	dead bool
}

func newTestLanes() *Lanes[*entry] {
	return NewLanes(func(e *entry) bool { return e.dead })
}

func TestLanes_FIFOWithinClass(t *testing.T) {
	l := newTestLanes()
	l.Push(Bulk, &entry{name: "a"})
	l.Push(Bulk, &entry{name: "b"})

	var got []string
	for {
		e, ok := l.Front(Bulk)
		if !ok {
			break
		}
		got = append(got, e.name)
		l.PopFront(Bulk)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("order = %v, want [a b]", got)
	}
}

func TestLanes_SkipsDeadEntries(t *testing.T) {
	l := newTestLanes()
	a := &entry{name: "a"}
	l.Push(Interactive, a)
	l.Push(Interactive, &entry{name: "b"})
	a.dead = true

	e, ok := l.Front(Interactive)
	if !ok || e.name != "b" {
		t.Fatalf("Front = %v, %v, want b", e, ok)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestLanes_Drain(t *testing.T) {
	l := newTestLanes()
	l.Push(Bulk, &entry{name: "bulk"})
	l.Push(Interactive, &entry{name: "inter"})
	l.Push(Prefetch, &entry{name: "gone", dead: true})

	out := l.Drain()
	if len(out) != 2 || out[0].name != "inter" || out[1].name != "bulk" {
		t.Fatalf("Drain = %v, want [inter bulk]", out)
	}
	if l.Len() != 0 {
		t.Fatal("lanes should be empty after Drain")
	}
}
