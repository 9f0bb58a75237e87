package ringrt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() (*QueueManager, *TaskQueue) {
	mgr := newQueueManager()
	return mgr, mgr.createQueue()
}

func TestTaskLifecycle_ReadyImmediately(t *testing.T) {
	_, q := newTestQueue()
	task := newTask(nil, q, &futureBox[int]{f: Ready(5)})
	h := newJoinHandle[int](task)
	task.schedule()

	popped, ok := q.pop()
	require.True(t, ok)
	require.Same(t, task, popped)

	more := popped.run()
	assert.False(t, more)

	res, ready := h.Poll(&Context{})
	require.True(t, ready)
	assert.Equal(t, 5, res.Value)
	assert.NoError(t, res.Err)
}

// selfWakeFuture wakes itself once from inside Poll before reporting Ready,
// exercising the rule that a Task self-waking during its own run is
// re-enqueued at the tail of its queue.
type selfWakeFuture struct{ polls int }

func (f *selfWakeFuture) Poll(ctx *Context) (int, bool) {
	f.polls++
	if f.polls < 2 {
		ctx.Waker().WakeByRef()
		return 0, false
	}
	return 9, true
}

func TestTask_SelfWakeReschedulesOnSameQueue(t *testing.T) {
	_, q := newTestQueue()
	task := newTask(nil, q, &futureBox[int]{f: &selfWakeFuture{}})
	h := newJoinHandle[int](task)
	task.schedule()

	popped, ok := q.pop()
	require.True(t, ok)
	more := popped.run()
	assert.True(t, more, "self-wake during run should reschedule onto the same queue")

	popped2, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, task, popped2)

	more2 := popped2.run()
	assert.False(t, more2)

	res, ready := h.Poll(&Context{})
	require.True(t, ready)
	assert.Equal(t, 9, res.Value)
}

// pendingFuture returns Pending forever without ever registering a waker,
// modeling a Task suspended on an external event this test drives by hand.
type pendingFuture struct{}

func (pendingFuture) Poll(*Context) (int, bool) { return 0, false }

func TestTask_WakeFromForeignWakerReschedules(t *testing.T) {
	_, q := newTestQueue()
	task := newTask(nil, q, &futureBox[int]{f: pendingFuture{}})
	_ = newJoinHandle[int](task)
	task.schedule()

	popped, ok := q.pop()
	require.True(t, ok)
	more := popped.run()
	assert.False(t, more, "a Task with no self-wake suspends without rescheduling")
	assert.True(t, q.empty())

	// Simulate a foreign-thread Waker (e.g. a reactor completion) waking it
	// after the run already returned.
	Waker{task: task}.WakeByRef()

	popped2, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, task, popped2)
}

type panicFuture struct{}

func (panicFuture) Poll(*Context) (int, bool) { panic("boom") }

func TestTask_PanicBecomesClosedWithJoinError(t *testing.T) {
	_, q := newTestQueue()
	task := newTask(nil, q, &futureBox[int]{f: panicFuture{}})
	h := newJoinHandle[int](task)
	task.schedule()

	popped, ok := q.pop()
	require.True(t, ok)
	more := popped.run()
	assert.False(t, more)

	res, ready := h.Poll(&Context{})
	require.True(t, ready)
	require.Error(t, res.Err)

	var je *JoinError
	require.True(t, errors.As(res.Err, &je))
	assert.Equal(t, "boom", je.Panicked)
	assert.False(t, je.Cancelled)
}

func TestTask_CancelBeforeRunTearsDownWithoutPolling(t *testing.T) {
	_, q := newTestQueue()
	polled := false
	fut := FutureFunc[int](func(*Context) (int, bool) {
		polled = true
		return 1, true
	})
	task := newTask(nil, q, &futureBox[int]{f: fut})
	h := newJoinHandle[int](task)
	task.schedule()

	h.Cancel()

	popped, ok := q.pop()
	require.True(t, ok)
	more := popped.run()
	assert.False(t, more)
	assert.False(t, polled, "CLOSED before run must drop the future without polling it")

	res, ready := h.Poll(&Context{})
	require.True(t, ready)
	require.Error(t, res.Err)

	var je *JoinError
	require.True(t, errors.As(res.Err, &je))
	assert.True(t, je.Cancelled)
}

func TestTask_CancelDuringPollWithSelfWakeClearsScheduled(t *testing.T) {
	_, q := newTestQueue()
	var h *JoinHandle[int]
	// The future self-wakes (SCHEDULED is set while RUNNING is held) and is
	// then cancelled before the poll returns, the same interleaving a
	// foreign-thread Cancel racing a busy self-waker produces.
	fut := FutureFunc[int](func(ctx *Context) (int, bool) {
		ctx.Waker().WakeByRef()
		h.Cancel()
		return 0, false
	})
	task := newTask(nil, q, &futureBox[int]{f: fut})
	h = newJoinHandle[int](task)
	task.schedule()

	popped, ok := q.pop()
	require.True(t, ok)
	more := popped.run()
	assert.False(t, more, "a task closed mid-poll must not reschedule itself")

	st := task.state.load()
	assert.False(t, st.has(stateScheduled), "SCHEDULED must not dangle on a closed task")
	assert.False(t, st.has(stateRunning))
	assert.True(t, st.has(stateClosed))
	assert.True(t, q.empty())

	res, ready := h.Poll(&Context{})
	require.True(t, ready, "the handle must resolve rather than wait on a task that will never run")

	var je *JoinError
	require.True(t, errors.As(res.Err, &je))
	assert.True(t, je.Cancelled)
}

func TestTask_CancelAfterCompletionIsNoOp(t *testing.T) {
	_, q := newTestQueue()
	task := newTask(nil, q, &futureBox[int]{f: Ready(3)})
	h := newJoinHandle[int](task)
	task.schedule()

	popped, ok := q.pop()
	require.True(t, ok)
	popped.run()

	h.Cancel() // Task already COMPLETED; output must stay intact.

	res, ready := h.Poll(&Context{})
	require.True(t, ready)
	assert.Equal(t, 3, res.Value)
	assert.NoError(t, res.Err)
}
