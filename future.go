package ringrt

// Context is handed to Future.Poll. It carries the Waker the computation
// must register with whatever external event (I/O readiness, another
// Task's completion, a timer) will make it ready again before returning
// Pending, plus a reference back to the owning executor so Spawn can be
// called from inside a poll without a separate global lookup.
type Context struct {
	waker    Waker
	executor *LocalExecutor
}

// Waker returns the waker for this poll call. The returned value borrows
// the Task's current run reference: if the computation wants to retain it
// beyond this call (e.g. stash it in a [Source]'s waiter list), it must
// call [Waker.Clone] first.
func (c *Context) Waker() Waker {
	return c.waker
}

// Executor returns the LocalExecutor driving this poll.
func (c *Context) Executor() *LocalExecutor {
	return c.executor
}

// Future is anything with a poll operation that, when it returns false
// (Pending), has registered ctx.Waker() with whatever will unblock it: an
// explicit state machine driven one step at a time by Poll, which is how a
// language without first-class coroutines models a suspendable computation.
//
// Poll must not be called again after it has returned (v, true); the Task
// that owns a Future drops it immediately upon seeing Ready.
type Future[T any] interface {
	// Poll drives the computation one step. A true second return value
	// means Ready(v); false means Pending, and ctx.Waker() has been
	// registered with whatever will make the next Poll productive.
	Poll(ctx *Context) (v T, ready bool)
}

// FutureFunc adapts a plain poll function to the Future interface, mirroring
// http.HandlerFunc.
type FutureFunc[T any] func(ctx *Context) (T, bool)

// Poll implements Future.
func (f FutureFunc[T]) Poll(ctx *Context) (T, bool) { return f(ctx) }

// Ready returns a Future that is immediately ready with v, never returning
// Pending. Useful for constants and synchronous results spawned purely to
// exercise the Task machinery.
func Ready[T any](v T) Future[T] {
	return readyFuture[T]{v: v}
}

type readyFuture[T any] struct{ v T }

func (r readyFuture[T]) Poll(*Context) (T, bool) { return r.v, true }

// erasedFuture erases a Future's output type so Task can hold and poll any
// computation through one field. Dropping the future and extracting the
// output need no vtable entries of their own: Go's GC plus the explicit
// nil-out of Task.future/Task.output cover both.
type erasedFuture interface {
	poll(ctx *Context) (out any, ready bool)
}

type futureBox[T any] struct {
	f Future[T]
}

func (b *futureBox[T]) poll(ctx *Context) (any, bool) {
	v, ready := b.f.Poll(ctx)
	if !ready {
		return nil, false
	}
	return v, true
}
