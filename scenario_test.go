package ringrt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoTaskSum spawns two child tasks on its first poll and awaits both
// handles, cooperative-scheduling style: the root suspends while the
// children run, then is woken by each completion.
type twoTaskSum struct {
	a, b *JoinHandle[int]
}

func (f *twoTaskSum) Poll(ctx *Context) (int, bool) {
	if f.a == nil {
		var err error
		f.a, err = Spawn(ctx.Executor(), Ready(1))
		if err != nil {
			panic(err)
		}
		f.b, err = Spawn(ctx.Executor(), Ready(2))
		if err != nil {
			panic(err)
		}
	}
	ra, readyA := f.a.Poll(ctx)
	if !readyA {
		return 0, false
	}
	rb, readyB := f.b.Poll(ctx)
	if !readyB {
		return 0, false
	}
	return ra.Value + rb.Value, true
}

func TestRun_CooperativeTwoTaskSum(t *testing.T) {
	ex := newTestExecutor(t)

	got, err := Run(ex, &twoTaskSum{})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

// countingSelfWaker self-wakes until it has been polled n times, then
// reports how many polls it took.
type countingSelfWaker struct {
	n     int
	polls int
}

func (f *countingSelfWaker) Poll(ctx *Context) (int, bool) {
	f.polls++
	if f.polls < f.n {
		ctx.Waker().WakeByRef()
		return 0, false
	}
	return f.polls, true
}

func TestRun_SelfWakeIsRepolledUntilReady(t *testing.T) {
	ex := newTestExecutor(t)

	got, err := Run(ex, &countingSelfWaker{n: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

// foreverFuture self-wakes on every poll and never completes; only
// cancellation tears it down.
type foreverFuture struct{ polls int }

func (f *foreverFuture) Poll(ctx *Context) (int, bool) {
	f.polls++
	ctx.Waker().WakeByRef()
	return 0, false
}

// cancelLooper spawns a never-ending task, cancels it, and awaits the
// handle's teardown before finishing.
type cancelLooper struct {
	h *JoinHandle[int]
}

func (f *cancelLooper) Poll(ctx *Context) (string, bool) {
	if f.h == nil {
		var err error
		f.h, err = Spawn(ctx.Executor(), &foreverFuture{})
		if err != nil {
			panic(err)
		}
		f.h.Cancel()
	}
	res, ready := f.h.Poll(ctx)
	if !ready {
		return "", false
	}
	var je *JoinError
	if errors.As(res.Err, &je) && je.Cancelled {
		return "cancelled", true
	}
	return "unexpected", true
}

func TestRun_CancelledLoopingTaskTearsDownAndRunReturns(t *testing.T) {
	ex := newTestExecutor(t)

	got, err := Run(ex, &cancelLooper{})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", got)
}

func TestJoinHandle_DroppedBeforeCompletionTaskStillRunsAndOutputIsDiscarded(t *testing.T) {
	_, q := newTestQueue()
	ran := false
	task := newTask(nil, q, &futureBox[int]{f: FutureFunc[int](func(*Context) (int, bool) {
		ran = true
		return 7, true
	})})
	h := newJoinHandle[int](task)
	task.schedule()

	h.Drop() // detach before the task has run

	popped, ok := q.pop()
	require.True(t, ok)
	popped.run()

	assert.True(t, ran, "a dropped handle must not stop the task from running")
	assert.Nil(t, task.output, "output is discarded immediately when no handle remains")
	assert.True(t, task.state.load().has(stateClosed))
	assert.True(t, task.destroyed.Load(), "with no handle and no references left, the task is destroyed")
}

func TestWaker_RepeatedWakesCoalesceIntoOneRun(t *testing.T) {
	_, q := newTestQueue()
	polls := 0
	task := newTask(nil, q, &futureBox[int]{f: FutureFunc[int](func(*Context) (int, bool) {
		polls++
		return 0, false
	})})
	_ = newJoinHandle[int](task)
	task.schedule()
	q.pop()
	task.run() // park

	w := Waker{task: task}
	w.WakeByRef()
	w.WakeByRef()
	w.WakeByRef()

	popped, ok := q.pop()
	require.True(t, ok)
	_, ok = q.pop()
	assert.False(t, ok, "N wakes before the next poll must schedule at most once")
	popped.run()
	assert.Equal(t, 2, polls)
}
