package ringrt

// Waker is the sole mechanism by which a suspended Task is put back onto its
// TaskQueue. A Waker is a thin handle onto a *Task; it carries
// no owned reference by construction (see [Context.Waker]). Calling [Waker.Clone]
// takes out an owned reference suitable for storing past the current poll
// call (e.g. in a [Source]'s waiter list or a timer); the clone must
// eventually be consumed by exactly one of [Waker.Wake] or [Waker.Drop].
//
// The zero Waker is a valid no-op: Clone, Drop, Wake and WakeByRef on it do
// nothing. This is the waker Run uses when it polls the root task's
// JoinHandle itself, since nothing external wakes that handle.
type Waker struct {
	task *Task
}

// Clone takes out a new owned reference to the underlying Task.
func (w Waker) Clone() Waker {
	if w.task != nil {
		w.task.addRef()
	}
	return w
}

// Drop releases the reference this Waker value owns; when the count hits
// zero with no JoinHandle remaining, the Task is destroyed. Drop must be
// called exactly once per owned Waker (i.e. once per value returned by
// Clone, or once for a waker that is never woken).
func (w Waker) Drop() {
	if w.task != nil {
		w.task.release()
	}
}

// WakeByRef schedules the underlying Task without consuming this Waker's
// reference. If the task is already COMPLETED or CLOSED, this is a no-op.
// If the task is already SCHEDULED, this is a no-op (it's already going to
// run). Otherwise SCHEDULED is set and, if the task is not currently
// RUNNING, it is pushed onto its TaskQueue.
func (w Waker) WakeByRef() {
	if w.task != nil {
		w.task.wakeByRef()
	}
}

// Wake is WakeByRef followed by Drop. Call this on an owned Waker you will
// not use again.
func (w Waker) Wake() {
	w.WakeByRef()
	w.Drop()
}

// wakeByRef implements the wake state transition.
func (t *Task) wakeByRef() {
	old, new := t.state.update(func(s taskState) taskState {
		if s.has(stateCompleted) || s.has(stateClosed) || s.has(stateScheduled) {
			return s
		}
		return s | stateScheduled
	})
	if old.has(stateScheduled) || !new.has(stateScheduled) {
		// Was already scheduled, or is completed/closed: nothing to do.
		return
	}
	if new.has(stateRunning) {
		// The executor thread will notice SCHEDULED itself when it clears
		// RUNNING at the end of this poll (see Task.run); it reuses the
		// reference already held by the in-flight run rather than us
		// pushing a second one.
		return
	}
	t.schedule()
}
