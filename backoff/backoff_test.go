package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.Constant{Interval: 50 * time.Millisecond}
	for attempt := 1; attempt <= 4; attempt++ {
		if got := c.Delay(attempt); got != 50*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 50ms", attempt, got)
		}
	}
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := backoff.Exponential{Initial: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_JitterWithinBounds(t *testing.T) {
	e := backoff.Exponential{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: true}
	seen := make(map[time.Duration]bool)
	for range 50 {
		d := e.Delay(3)
		if d < 0 || d > 400*time.Millisecond {
			t.Fatalf("Delay(3) = %v, want within [0, 400ms]", d)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Error("jittered delays never varied")
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := backoff.Retry(context.Background(), backoff.Constant{Interval: time.Millisecond}, 0, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Retry = %v after %d calls, want nil after 3", err, calls)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	refused := errors.New("refused")
	calls := 0
	err := backoff.Retry(context.Background(), backoff.Constant{}, 2, func(context.Context) error {
		calls++
		return refused
	})
	if !errors.Is(err, refused) || calls != 2 {
		t.Fatalf("Retry = %v after %d calls, want refused after 2", err, calls)
	}
}

func TestRetry_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := backoff.Retry(ctx, backoff.Constant{Interval: time.Hour}, 0, func(context.Context) error {
		return errors.New("refused")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Retry = %v, want DeadlineExceeded", err)
	}
}
