// Package queue defines the dispatcher's priority classes, per-class FIFO
// lanes, and per-class admission limits.
//
// Operations fall into three classes served in order:
//
//	Interactive > Prefetch > Bulk
//
// Within a class, [Lanes] keeps submission order. Across classes the
// dispatcher always looks at Interactive first.
//
// # Per-Class Configuration
//
// Use [Config] to set concurrency caps and rate limits:
//
//	queue.Config{
//	    Class:     queue.Prefetch,
//	    RateLimit: 30, // max 30 thumbnail renders/s
//	    RateBurst: 8,
//	}
//
// # Manager
//
// [Manager] enforces the limits at dispatch time. It uses a token-bucket
// rate limiter (golang.org/x/time/rate) and an active-count gate for
// concurrency limits.
//
//	m := queue.NewManager(configs...)
//	if ok, retryAfter := m.Acquire(queue.Prefetch); ok {
//	    defer m.Release(queue.Prefetch)
//	    // dispatch the operation
//	}
//
// Classes without a [Config] have no limits beyond the dispatcher's
// in-flight cap.
package queue
