package task_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch/task"
)

var errBoom = errors.New("boom")

func TestTask_ResolveOnce(t *testing.T) {
	tk := task.New[int, int]()

	var calls int
	tk.Wait(func(v int) {
		calls++
		if v != 7 {
			t.Errorf("onSuccess(%d), want 7", v)
		}
	}, func(task.Failure) {
		t.Error("onFailure should not be called")
	})

	tk.Resolve(7)
	tk.Resolve(8)
	tk.Reject(errBoom)
	tk.Abort(errBoom)

	if calls != 1 {
		t.Fatalf("onSuccess called %d times, want 1", calls)
	}
	v, _, stage := tk.Outcome()
	if stage != task.Resolved || v != 7 {
		t.Fatalf("Outcome = (%d, %v), want (7, resolved)", v, stage)
	}
}

func TestTask_TerminalOnce(t *testing.T) {
	tests := []struct {
		name  string
		first func(*task.Task[string, struct{}])
		want  task.Stage
	}{
		{"resolve", func(tk *task.Task[string, struct{}]) { tk.Resolve("ok") }, task.Resolved},
		{"reject", func(tk *task.Task[string, struct{}]) { tk.Reject(errBoom) }, task.Rejected},
		{"abort", func(tk *task.Task[string, struct{}]) { tk.Abort(errBoom) }, task.Aborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := task.New[string, struct{}]()
			tt.first(tk)

			tk.Resolve("late")
			tk.Reject(errors.New("late"))
			tk.Abort(errors.New("late"))

			result, failure, stage := tk.Outcome()
			if stage != tt.want {
				t.Fatalf("stage = %v, want %v", stage, tt.want)
			}
			if stage == task.Resolved && result != "ok" {
				t.Errorf("result = %q, want %q", result, "ok")
			}
			if stage != task.Resolved && !errors.Is(failure.Reason, errBoom) {
				t.Errorf("failure reason = %v, want %v", failure.Reason, errBoom)
			}
		})
	}
}

func TestTask_LateSubscribe(t *testing.T) {
	resolved := task.ResolvedTask[int, struct{}](42)
	var got int
	resolved.Wait(func(v int) { got = v }, nil)
	if got != 42 {
		t.Errorf("late onSuccess got %d, want 42", got)
	}

	rejected := task.RejectedTask[int, struct{}](errBoom)
	var failure task.Failure
	rejected.Wait(nil, func(f task.Failure) { failure = f })
	if failure.Kind != task.KindReject || !errors.Is(failure.Reason, errBoom) {
		t.Errorf("late onFailure got %+v, want reject(%v)", failure, errBoom)
	}

	aborted := task.New[int, struct{}]()
	aborted.Abort(errBoom)
	aborted.Wait(nil, func(f task.Failure) { failure = f })
	if !failure.Aborted() {
		t.Errorf("late onFailure kind = %q, want %q", failure.Kind, task.KindAbort)
	}
}

func TestTask_ListenersInRegistrationOrder(t *testing.T) {
	tk := task.New[int, struct{}]()
	var order []int
	for i := range 3 {
		tk.Wait(func(int) { order = append(order, i) }, nil)
	}
	tk.Resolve(1)

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v, want [0 1 2]", order)
	}
}

func TestTask_ProgressOnlyWhilePending(t *testing.T) {
	tk := task.New[int, int]()
	var seen []int
	tk.OnProgress(func(p int) { seen = append(seen, p) })

	tk.Progress(1)
	tk.Progress(2)
	tk.Resolve(0)
	tk.Progress(3)

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("progress = %v, want [1 2]", seen)
	}

	// Registering after the terminal transition has no effect.
	tk.OnProgress(func(int) { t.Error("progress listener registered after resolve was invoked") })
	tk.Progress(4)
}

func TestTask_Await(t *testing.T) {
	ctx := context.Background()

	ok := task.New[string, struct{}]()
	go ok.Resolve("done")
	if v, err := ok.Await(ctx); err != nil || v != "done" {
		t.Errorf("Await = (%q, %v), want (done, nil)", v, err)
	}

	rej := task.RejectedTask[string, struct{}](errBoom)
	if _, err := rej.Await(ctx); !errors.Is(err, errBoom) {
		t.Errorf("Await err = %v, want %v", err, errBoom)
	}
	if _, err := rej.Await(ctx); errors.Is(err, task.ErrAborted) {
		t.Error("a rejection must not look like an abort")
	}

	ab := task.New[string, struct{}]()
	ab.Abort(errBoom)
	_, err := ab.Await(ctx)
	if !errors.Is(err, task.ErrAborted) {
		t.Errorf("Await err = %v, want ErrAborted", err)
	}
	var aborted *task.AbortedError
	if !errors.As(err, &aborted) || !errors.Is(aborted.Reason, errBoom) {
		t.Errorf("AbortedError reason = %v, want %v", err, errBoom)
	}
}

func TestTask_RejectWithoutReason(t *testing.T) {
	tk := task.New[string, struct{}]()
	var got task.Failure
	tk.Wait(nil, func(f task.Failure) { got = f })
	tk.Reject(nil)

	if !errors.Is(got.Reason, task.ErrRejected) {
		t.Errorf("listener reason = %v, want ErrRejected", got.Reason)
	}
	if _, err := tk.Await(context.Background()); !errors.Is(err, task.ErrRejected) {
		t.Errorf("Await err = %v, want ErrRejected", err)
	}
	if tk.Stage() != task.Rejected {
		t.Errorf("stage = %v, want rejected", tk.Stage())
	}
}

func TestTask_AwaitContextCancelLeavesTaskPending(t *testing.T) {
	tk := task.New[int, struct{}]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := tk.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await err = %v, want DeadlineExceeded", err)
	}
	if tk.Stage() != task.Pending {
		t.Fatalf("stage = %v, want pending", tk.Stage())
	}
}

func TestTask_ConcurrentTerminalCalls(t *testing.T) {
	tk := task.New[int, struct{}]()
	var calls int
	done := make(chan struct{})
	tk.Wait(func(int) { calls++; close(done) }, func(task.Failure) { calls++; close(done) })

	for i := range 16 {
		go func() {
			switch i % 3 {
			case 0:
				tk.Resolve(i)
			case 1:
				tk.Reject(errBoom)
			default:
				tk.Abort(errBoom)
			}
		}()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never settled")
	}
	<-tk.Done()
	if calls != 1 {
		t.Fatalf("listener calls = %d, want 1", calls)
	}
}

func TestAllSettled(t *testing.T) {
	a := task.New[int, struct{}]()
	b := task.New[string, int]()
	c := task.New[bool, struct{}]()

	all := task.AllSettled(a, b, c)

	a.Resolve(1)
	b.Reject(errBoom)
	if all.Stage() != task.Pending {
		t.Fatal("AllSettled resolved before every input settled")
	}

	c.Abort(errBoom)
	if all.Stage() != task.Resolved {
		t.Fatalf("stage = %v, want resolved", all.Stage())
	}
}

func TestAllSettled_Empty(t *testing.T) {
	if got := task.AllSettled().Stage(); got != task.Resolved {
		t.Fatalf("stage = %v, want resolved", got)
	}
}

func TestAllSettled_AlreadyTerminalInputs(t *testing.T) {
	all := task.AllSettled(
		task.ResolvedTask[int, struct{}](1),
		task.RejectedTask[int, struct{}](errBoom),
	)
	if all.Stage() != task.Resolved {
		t.Fatalf("stage = %v, want resolved", all.Stage())
	}
}
