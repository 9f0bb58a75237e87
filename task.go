package ringrt

import (
	"sync/atomic"
)

// JoinError reports why a JoinHandle could not produce the Task's output.
type JoinError struct {
	// Panicked holds the recovered panic value if the Task's Future panicked
	// during Poll, nil otherwise.
	Panicked any
	// Cancelled is true if JoinHandle.Cancel was called before the Task ran
	// to completion.
	Cancelled bool
}

func (e *JoinError) Error() string {
	switch {
	case e.Panicked != nil:
		return "ringrt: task panicked"
	case e.Cancelled:
		return "ringrt: task was cancelled"
	default:
		return "ringrt: task did not complete"
	}
}

// Task is the heap-allocated, reference-counted unit of scheduling. It owns
// a Future until that Future reports Ready, at which point the Future is
// dropped and the output is held (if a JoinHandle still wants it) until
// observed.
//
// Invariants:
//
//   - A Task is polled only by the executor thread that owns its TaskQueue,
//     and only while RUNNING is set and SCHEDULED is clear.
//   - references reaches zero with HANDLE clear at most once; destroy fires
//     exactly then (see destroyed below).
//   - future is non-nil iff the Task has never observed Ready and is not
//     CLOSED; it is nilled out the instant either happens.
//   - output is non-nil only between COMPLETED being set and either the
//     JoinHandle consuming it or the Task being destroyed.
//   - SCHEDULED is the only bit a foreign-thread Waker may set; RUNNING,
//     COMPLETED, CLOSED are owned by the executor thread (CLOSED may also be
//     set by JoinHandle.Cancel from a foreign thread, hence the CAS loop).
//   - notify() fires at most once per completion/closure transition, because
//     state.update is a single atomic step shared with the state change
//     itself.
type Task struct {
	state      atomicTaskState
	references atomic.Int64
	destroyed  atomic.Bool

	// executor identifies the owning LocalExecutor; it also lets Task.run
	// hand the current executor to Context, so Spawn can be called from
	// inside a poll without a separate process-wide lookup.
	executor *LocalExecutor
	queue    *TaskQueue

	future erasedFuture
	output any
	panic  any

	awaiter atomic.Pointer[Waker]
}

// newTask allocates a Task in its initial state: SCHEDULED|HANDLE with
// references 0. The reference backing SCHEDULED is added by the first
// schedule() call, performed by whatever enqueues it (Spawn/SpawnInto).
func newTask(ex *LocalExecutor, queue *TaskQueue, future erasedFuture) *Task {
	t := &Task{
		executor: ex,
		queue:    queue,
		future:   future,
	}
	t.state.store(initialTaskState)
	return t
}

func (t *Task) addRef() {
	t.references.Add(1)
}

// release drops one reference, destroying the Task if this was the last one
// and no JoinHandle remains.
func (t *Task) release() {
	if t.references.Add(-1) == 0 {
		t.maybeDestroy()
	}
}

// clearHandle drops the HANDLE bit, called when a JoinHandle is explicitly
// dropped (JoinHandle.Drop).
func (t *Task) clearHandle() {
	t.state.update(func(s taskState) taskState { return s &^ stateHandle })
	t.maybeDestroy()
}

// maybeDestroy re-checks both halves of the destroy condition (references
// == 0 and HANDLE clear) and destroys exactly once via the destroyed CAS
// guard. Two independent call sites (release and clearHandle) may both
// observe the condition satisfied; the guard is what keeps destroy()
// single-fire regardless of which one wins the race.
func (t *Task) maybeDestroy() {
	if t.state.load().has(stateHandle) {
		return
	}
	if t.references.Load() != 0 {
		return
	}
	if t.destroyed.CompareAndSwap(false, true) {
		t.destroy()
	}
}

func (t *Task) destroy() {
	t.future = nil
	t.output = nil
	if w := t.awaiter.Swap(nil); w != nil {
		w.Drop()
	}
}

// schedule adds the reference that backs SCHEDULED and hands the Task to
// its TaskQueue.
func (t *Task) schedule() {
	t.addRef()
	t.queue.push(t)
}

// run executes one poll step. It returns true if the Task rescheduled itself
// (still owns a reference and will run again), false if this call released
// the run reference (the Task is either suspended awaiting a Waker it handed
// out elsewhere, completed, or closed).
func (t *Task) run() bool {
	_, cur := t.state.update(func(s taskState) taskState {
		if s.has(stateClosed) {
			return s &^ stateScheduled
		}
		return (s &^ stateScheduled) | stateRunning
	})
	if !cur.has(stateRunning) {
		// CLOSED: the Future is dropped without ever being polled again.
		t.future = nil
		t.notify(t)
		t.release()
		return false
	}

	out, ready, panicked := t.pollFuture()

	if panicked {
		// A panic is equivalent to CLOSED. The future is dropped, no output
		// is ever produced, and the JoinHandle resolves via JoinError
		// instead of a value.
		t.state.update(func(s taskState) taskState {
			return (s &^ (stateRunning | stateScheduled)) | stateCompleted | stateClosed
		})
		t.future = nil
		t.panic = out
		t.notify(t)
		t.release()
		return false
	}

	if ready {
		_, new := t.state.update(func(s taskState) taskState {
			s = (s &^ (stateRunning | stateScheduled)) | stateCompleted
			if !s.has(stateHandle) {
				s |= stateClosed
			}
			return s
		})
		t.future = nil // dropped the instant Ready is observed
		if new.has(stateHandle) && !new.has(stateClosed) {
			t.output = out
		}
		t.notify(t)
		t.release()
		return false
	}

	_, new := t.state.update(func(s taskState) taskState {
		if s.has(stateClosed) {
			// Cancelled mid-poll: a self-wake may have set SCHEDULED while
			// RUNNING was held, but the Task will never be queued again, so
			// strip it in the same step or it would dangle set forever.
			return s &^ (stateRunning | stateScheduled)
		}
		return s &^ stateRunning
	})
	switch {
	case new.has(stateClosed):
		t.future = nil
		t.notify(t)
		t.release()
		return false
	case new.has(stateScheduled):
		t.queue.push(t)
		return true
	default:
		t.release()
		return false
	}
}

// pollFuture polls the Future, recovering a panic rather than letting it
// cross into the executor's own stack.
func (t *Task) pollFuture() (out any, ready, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ready, panicked = r, false, true
		}
	}()
	ctx := &Context{waker: Waker{task: t}, executor: t.executor}
	v, ready := t.future.poll(ctx)
	return v, ready, false
}

// notify atomically takes the awaiter (if any) and wakes it unless it
// belongs to current. Dropping current's own would-be wake prevents a Task
// from uselessly re-scheduling itself through its own completion path.
func (t *Task) notify(current *Task) {
	w := t.awaiter.Swap(nil)
	if w == nil {
		return
	}
	if w.task != current {
		w.WakeByRef()
	}
	w.Drop()
}

// setAwaiter installs w (already owned/cloned by the caller) as the Task's
// awaiter, dropping whatever waker was previously registered there. Used by
// JoinHandle.Poll.
func (t *Task) setAwaiter(w Waker) {
	old := t.awaiter.Swap(&w)
	if old != nil {
		old.Drop()
	}
}

// cancel marks the Task CLOSED, the other state transition (besides
// SCHEDULED) a foreign thread may perform. If the Task is not currently
// RUNNING the future is dropped immediately; the next run (if SCHEDULED)
// observes CLOSED and tears down. A COMPLETED Task cancels into a no-op:
// its output remains available until consumed.
func (t *Task) cancel() {
	_, new := t.state.update(func(s taskState) taskState {
		if s.has(stateCompleted) {
			return s
		}
		return s | stateClosed
	})
	if !new.has(stateRunning) {
		t.future = nil
	}
}
