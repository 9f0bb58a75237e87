package ringrt

import (
	"sync/atomic"
)

// taskState is the per-Task lifecycle bitset: SCHEDULED, RUNNING, COMPLETED,
// CLOSED and HANDLE, stored as one small unsigned integer and mutated with
// atomic read-modify-write operations, because the SCHEDULED bit may be
// flipped from a Waker invoked on a foreign thread (e.g. a reactor completion
// or a timer goroutine) while the executor thread concurrently reads or
// mutates the others.
//
//	SCHEDULED ⇒ the Task is in (or about to be placed in) its TaskQueue.
//	RUNNING and COMPLETED are mutually exclusive.
//	COMPLETED ⇒ the output slot is initialized and the future is dropped.
//	CLOSED ⇒ the future will never be polled again.
//	HANDLE ⇒ a JoinHandle still references the Task.
type taskState uint32

const (
	stateScheduled taskState = 1 << iota
	stateRunning
	stateCompleted
	stateClosed
	stateHandle
)

// initialTaskState is the state a freshly created Task starts in: scheduled
// onto its queue and observed by a live JoinHandle.
const initialTaskState = stateScheduled | stateHandle

func (s taskState) has(bits taskState) bool { return s&bits != 0 }

func (s taskState) String() string {
	if s == 0 {
		return "none"
	}
	var out string
	add := func(bit taskState, name string) {
		if s.has(bit) {
			if out != "" {
				out += "|"
			}
			out += name
		}
	}
	add(stateScheduled, "SCHEDULED")
	add(stateRunning, "RUNNING")
	add(stateCompleted, "COMPLETED")
	add(stateClosed, "CLOSED")
	add(stateHandle, "HANDLE")
	return out
}

// atomicTaskState is a thin wrapper over atomic.Uint32 giving taskState-typed
// Load/Store/CAS.
type atomicTaskState struct {
	v atomic.Uint32
}

func (a *atomicTaskState) load() taskState {
	return taskState(a.v.Load())
}

func (a *atomicTaskState) store(s taskState) {
	a.v.Store(uint32(s))
}

func (a *atomicTaskState) compareAndSwap(from, to taskState) bool {
	return a.v.CompareAndSwap(uint32(from), uint32(to))
}

// update atomically applies fn to the current state via a CAS loop and
// returns both the state it replaced and the state that was committed. fn must be pure (no side effects
// beyond computing the next state), since it may be retried.
func (a *atomicTaskState) update(fn func(taskState) taskState) (old, new taskState) {
	for {
		old = a.load()
		new = fn(old)
		if a.compareAndSwap(old, new) {
			return old, new
		}
	}
}
