package queue

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class is a priority class. Lower values are served first.
type Class int

const (
	// Interactive covers work a user is waiting on: open, close, visible renders.
	Interactive Class = iota
	// Prefetch covers speculative renders such as thumbnails.
	Prefetch
	// Bulk covers metadata reads and whole-document exports.
	Bulk

	numClasses = 3
)

// Classes lists every class in service order.
var Classes = [numClasses]Class{Interactive, Prefetch, Bulk}

func (c Class) String() string {
	switch c {
	case Interactive:
		return "interactive"
	case Prefetch:
		return "prefetch"
	case Bulk:
		return "bulk"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool { return c >= Interactive && c < numClasses }

// Config defines per-class admission limits.
type Config struct {
	// Class is the priority class this config applies to.
	Class Class

	// MaxConcurrency limits how many operations of this class may be
	// dispatched at once. Zero means no class-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained dispatches per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// classState tracks runtime state for a single class.
type classState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-class concurrency and rate limits at dispatch time.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	classes map[Class]*classState
}

// NewManager creates a Manager with the given class configurations.
// Classes not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{classes: make(map[Class]*classState, len(configs))}
	for _, cfg := range configs {
		m.classes[cfg.Class] = newClassState(cfg)
	}
	return m
}

func newClassState(cfg Config) *classState {
	cs := &classState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks the class's concurrency and rate limits. If the operation
// may proceed it increments the active count and returns true; the caller
// MUST call Release when the operation settles. When the rate limiter is
// the obstacle, retryAfter tells the caller when a token will be available.
func (m *Manager) Acquire(c Class) (ok bool, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.classes[c]
	if cs == nil {
		return true, 0
	}
	if cs.config.MaxConcurrency > 0 && cs.active >= cs.config.MaxConcurrency {
		return false, 0
	}
	if cs.limiter != nil {
		r := cs.limiter.Reserve()
		if !r.OK() {
			return false, 0
		}
		if d := r.Delay(); d > 0 {
			r.Cancel()
			return false, d
		}
	}
	cs.active++
	return true, 0
}

// Release decrements the active count for the class.
func (m *Manager) Release(c Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.classes[c]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetClassConfig dynamically updates (or creates) a class configuration.
func (m *Manager) SetClassConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.classes[cfg.Class]
	cs := newClassState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		cs.active = existing.active
	}
	m.classes[cfg.Class] = cs
}

// ActiveCount returns the number of admitted, unreleased operations of a
// class. Classes without a config always report zero.
func (m *Manager) ActiveCount(c Class) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.classes[c]; cs != nil {
		return cs.active
	}
	return 0
}
